//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package summary

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-checkpoint/conversation"
	"trpc.group/trpc-go/trpc-agent-checkpoint/conversation/inmemory"
	"trpc.group/trpc-go/trpc-agent-checkpoint/model"
)

// recordingFunc returns a FuncSource that records every prompt it sees.
func recordingFunc(reply string, calls *[][]model.Message) FuncSource {
	return func(ctx context.Context, messages []model.Message) (string, error) {
		*calls = append(*calls, messages)
		return reply, nil
	}
}

func addTurn(t *testing.T, conv conversation.Store, sessionID string, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, conversation.EnsureContext(ctx, conv, sessionID))
	_, err := conv.AddMessage(ctx, sessionID, conversation.Message{Role: model.RoleUser, Content: fmt.Sprintf("q%d", n)})
	require.NoError(t, err)
	_, err = conv.AddMessage(ctx, sessionID, conversation.Message{Role: model.RoleAssistant, Content: fmt.Sprintf("a%d", n)})
	require.NoError(t, err)
}

func TestShouldCompact(t *testing.T) {
	tests := []struct {
		rounds, interval int
		want             bool
	}{
		{0, 20, false},
		{19, 20, false},
		{20, 20, true},
		{21, 20, false},
		{40, 20, true},
		{1, 1, true},
		{3, 0, true},
		{-2, 2, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldCompact(tt.rounds, tt.interval), "rounds=%d interval=%d", tt.rounds, tt.interval)
	}
}

func TestCompactor_FiresOnBoundaryOnly(t *testing.T) {
	ctx := context.Background()
	conv := inmemory.NewStore()
	rounds := NewInMemoryRoundStore()
	var calls [][]model.Message
	c, err := NewCompactor(conv, rounds, WithInterval(2), WithSummaryFunc(recordingFunc("round summary", &calls)))
	require.NoError(t, err)

	addTurn(t, conv, "s1", 1)
	fired, err := c.MaybeCompact(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Empty(t, calls)

	addTurn(t, conv, "s1", 2)
	fired, err = c.MaybeCompact(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, fired)
	require.Len(t, calls, 1)

	latest, err := rounds.LatestRound(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.RoundNumber)
	assert.Equal(t, "round summary", latest.Content)

	stats, err := conv.GetContextStats(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SystemMessages)
	assert.Equal(t, 2, stats.AssistantMessages)

	// The appended summary is a system message and leaves the assistant
	// count at 2, so turn 3 is off the boundary.
	addTurn(t, conv, "s1", 3)
	fired, err = c.MaybeCompact(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestCompactor_WindowAndPreviousSummary(t *testing.T) {
	ctx := context.Background()
	conv := inmemory.NewStore()
	rounds := NewInMemoryRoundStore()
	require.NoError(t, rounds.InsertRound(ctx, &RoundSummary{SessionID: "s1", RoundNumber: 3, Content: "earlier facts"}))

	var calls [][]model.Message
	c, err := NewCompactor(conv, rounds, WithInterval(3), WithInstruction("compress"),
		WithSummaryFunc(recordingFunc("next", &calls)))
	require.NoError(t, err)

	for i := 1; i <= 6; i++ {
		addTurn(t, conv, "s1", i)
		_, err := c.MaybeCompact(ctx, "s1")
		require.NoError(t, err)
	}
	require.Len(t, calls, 2)

	prompt := calls[1]
	require.Len(t, prompt, 4)
	assert.Equal(t, model.NewSystemMessage("compress"), prompt[0])
	assert.Equal(t, model.RoleSystem, prompt[1].Role)
	assert.Contains(t, prompt[1].Content, "next")
	assert.Contains(t, prompt[1].Content, "round 3")
	// Window is the last interval-1 non-system messages.
	assert.Equal(t, model.Message{Role: model.RoleUser, Content: "q6"}, prompt[2])
	assert.Equal(t, model.Message{Role: model.RoleAssistant, Content: "a6"}, prompt[3])

	first := calls[0]
	assert.Contains(t, first[1].Content, "earlier facts")
}

func TestCompactor_IntervalOneHasEmptyWindow(t *testing.T) {
	ctx := context.Background()
	conv := inmemory.NewStore()
	var calls [][]model.Message
	c, err := NewCompactor(conv, nil, WithInterval(0), WithSummaryFunc(recordingFunc("s", &calls)))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Interval())

	addTurn(t, conv, "s1", 1)
	fired, err := c.MaybeCompact(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, fired)
	require.Len(t, calls, 1)
	assert.Len(t, calls[0], 1)
}

func TestCompactor_NoSystemInsert(t *testing.T) {
	ctx := context.Background()
	conv := inmemory.NewStore()
	var calls [][]model.Message
	c, err := NewCompactor(conv, nil, WithInterval(1), WithInsertAsSystemMessage(false),
		WithSummaryFunc(recordingFunc("s", &calls)))
	require.NoError(t, err)

	addTurn(t, conv, "s1", 1)
	fired, err := c.MaybeCompact(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, fired)
	stats, err := conv.GetContextStats(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.SystemMessages)
}

func TestCompactor_SummaryMessageMetadata(t *testing.T) {
	ctx := context.Background()
	conv := inmemory.NewStore()
	var calls [][]model.Message
	c, err := NewCompactor(conv, nil, WithInterval(1), WithSummaryFunc(recordingFunc(" condensed ", &calls)))
	require.NoError(t, err)

	addTurn(t, conv, "s1", 1)
	_, err = c.MaybeCompact(ctx, "s1")
	require.NoError(t, err)

	msgs, err := conv.GetRoundWindowMessages(ctx, "s1", 1, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.Equal(t, "condensed", msgs[0].Content)
	assert.Equal(t, kindRoundSummary, msgs[0].Metadata[MetadataKind])
	assert.Equal(t, 1, msgs[0].Metadata[MetadataRound])
}

func TestCompactor_Disabled(t *testing.T) {
	conv := inmemory.NewStore()
	c, err := NewCompactor(conv, nil, WithEnabled(false))
	require.NoError(t, err)
	assert.False(t, c.Enabled())
	assert.Equal(t, "", c.SourceName())

	addTurn(t, conv, "s1", 1)
	fired, err := c.MaybeCompact(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestNewCompactor_Errors(t *testing.T) {
	_, err := NewCompactor(nil, nil)
	require.Error(t, err)

	_, err = NewCompactor(inmemory.NewStore(), nil)
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestCompactor_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty summary", func(t *testing.T) {
		conv := inmemory.NewStore()
		var calls [][]model.Message
		c, err := NewCompactor(conv, nil, WithInterval(1), WithSummaryFunc(recordingFunc("  ", &calls)))
		require.NoError(t, err)
		addTurn(t, conv, "s1", 1)
		_, err = c.MaybeCompact(ctx, "s1")
		assert.ErrorIs(t, err, ErrEmptySummary)
	})

	t.Run("source error", func(t *testing.T) {
		conv := inmemory.NewStore()
		boom := errors.New("model down")
		c, err := NewCompactor(conv, nil, WithInterval(1),
			WithSummaryFunc(func(ctx context.Context, _ []model.Message) (string, error) { return "", boom }))
		require.NoError(t, err)
		addTurn(t, conv, "s1", 1)
		fired, err := c.MaybeCompact(ctx, "s1")
		assert.ErrorIs(t, err, boom)
		assert.False(t, fired)
	})

	t.Run("no enabled model", func(t *testing.T) {
		conv := inmemory.NewStore()
		c, err := NewCompactor(conv, nil, WithInterval(1), WithModelRegistry(model.NewRegistry()))
		require.NoError(t, err)
		addTurn(t, conv, "s1", 1)
		_, err = c.MaybeCompact(ctx, "s1")
		assert.ErrorIs(t, err, ErrNoEnabledModel)
	})
}

// fakeModel answers every request with a fixed reply and records requests.
type fakeModel struct {
	name  string
	reply string
	reqs  []*model.Request
}

func (m *fakeModel) GenerateContent(ctx context.Context, req *model.Request) (<-chan *model.Response, error) {
	m.reqs = append(m.reqs, req)
	ch := make(chan *model.Response, 1)
	ch <- &model.Response{Done: true, Choices: []model.Choice{{Message: model.NewAssistantMessage(m.reply)}}}
	close(ch)
	return ch, nil
}

func (m *fakeModel) Info() model.Info { return model.Info{Name: m.name} }

func TestCompactor_SourcePriority(t *testing.T) {
	fromModel := &fakeModel{name: "handle", reply: "from handle"}
	fromRegistry := &fakeModel{name: "default", reply: "from registry"}
	registry := model.NewRegistry()
	registry.Register(fromRegistry)
	var calls [][]model.Message
	fn := recordingFunc("from func", &calls)

	tests := []struct {
		name       string
		opts       []Option
		wantSource string
		wantText   string
	}{
		{
			name:       "func wins",
			opts:       []Option{WithModelRegistry(registry), WithSummaryModel(fromModel), WithSummaryFunc(fn)},
			wantSource: SourceFunc,
			wantText:   "from func",
		},
		{
			name:       "model over registry",
			opts:       []Option{WithModelRegistry(registry), WithSummaryModel(fromModel)},
			wantSource: SourceModel,
			wantText:   "from handle",
		},
		{
			name:       "registry default",
			opts:       []Option{WithModelRegistry(registry)},
			wantSource: SourceRegistry,
			wantText:   "from registry",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			conv := inmemory.NewStore()
			rounds := NewInMemoryRoundStore()
			c, err := NewCompactor(conv, rounds, append(tt.opts, WithInterval(1))...)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSource, c.SourceName())

			addTurn(t, conv, "s1", 1)
			fired, err := c.MaybeCompact(ctx, "s1")
			require.NoError(t, err)
			require.True(t, fired)
			latest, err := rounds.LatestRound(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, latest.Content)
		})
	}
}

func TestRegistrySource_Defaults(t *testing.T) {
	ctx := context.Background()
	m := &fakeModel{name: "default", reply: "ok"}
	registry := model.NewRegistry()
	registry.Register(m)

	conv := inmemory.NewStore()
	c, err := NewCompactor(conv, nil, WithInterval(1), WithModelRegistry(registry))
	require.NoError(t, err)
	addTurn(t, conv, "s1", 1)
	_, err = c.MaybeCompact(ctx, "s1")
	require.NoError(t, err)

	require.Len(t, m.reqs, 1)
	req := m.reqs[0]
	require.NotNil(t, req.Temperature)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 0.2, *req.Temperature)
	assert.Equal(t, 1024, *req.MaxTokens)
	assert.False(t, req.Stream)

	m2 := &fakeModel{name: "tuned", reply: "ok"}
	c2, err := NewCompactor(conv, nil, WithInterval(1), WithSummaryModel(m2),
		WithTemperature(0.7), WithMaxTokens(64))
	require.NoError(t, err)
	_, err = c2.MaybeCompact(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, m2.reqs, 1)
	assert.Equal(t, 0.7, *m2.reqs[0].Temperature)
	assert.Equal(t, 64, *m2.reqs[0].MaxTokens)
}

func TestInMemoryRoundStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryRoundStore()
	latest, err := s.LatestRound(ctx, "none")
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, s.InsertRound(ctx, &RoundSummary{SessionID: "s", RoundNumber: 40, Content: "b"}))
	require.NoError(t, s.InsertRound(ctx, &RoundSummary{SessionID: "s", RoundNumber: 20, Content: "a"}))
	latest, err = s.LatestRound(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 40, latest.RoundNumber)
	assert.Error(t, s.InsertRound(ctx, nil))
}
