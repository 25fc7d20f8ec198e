//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2025 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel replays a fixed list of responses.
type scriptedModel struct {
	name      string
	responses []*Response
	err       error
	lastReq   *Request
}

func (m *scriptedModel) GenerateContent(ctx context.Context, req *Request) (<-chan *Response, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan *Response, len(m.responses))
	for _, r := range m.responses {
		ch <- r
	}
	close(ch)
	return ch, nil
}

func (m *scriptedModel) Info() Info { return Info{Name: m.name} }

func final(content string) *Response {
	return &Response{Choices: []Choice{{Message: Message{Role: RoleAssistant, Content: content}}}, Done: true}
}

func TestCollect(t *testing.T) {
	t.Run("final message", func(t *testing.T) {
		m := &scriptedModel{responses: []*Response{final("  summary text \n")}}
		text, _, err := Collect(context.Background(), m, &Request{})
		require.NoError(t, err)
		assert.Equal(t, "summary text", text)
	})

	t.Run("streaming deltas", func(t *testing.T) {
		m := &scriptedModel{responses: []*Response{
			{IsPartial: true, Choices: []Choice{{Delta: Message{Content: "hel"}}}},
			{IsPartial: true, Choices: []Choice{{Delta: Message{Content: "lo"}}}},
			{Done: true, Usage: &Usage{TotalTokens: 7}},
		}}
		text, usage, err := Collect(context.Background(), m, &Request{})
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
		require.NotNil(t, usage)
		assert.Equal(t, 7, usage.TotalTokens)
	})

	t.Run("api error", func(t *testing.T) {
		m := &scriptedModel{responses: []*Response{{Error: &ResponseError{Message: "rate limited"}}}}
		_, _, err := Collect(context.Background(), m, &Request{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limited")
	})

	t.Run("system error", func(t *testing.T) {
		m := &scriptedModel{err: errors.New("dial failed")}
		_, _, err := Collect(context.Background(), m, &Request{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dial failed")
	})

	t.Run("empty", func(t *testing.T) {
		m := &scriptedModel{responses: []*Response{final("   ")}}
		_, _, err := Collect(context.Background(), m, &Request{})
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})
}

func TestStaticRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	a := &scriptedModel{name: "a", responses: []*Response{final("from a")}}
	b := &scriptedModel{name: "b", responses: []*Response{final("from b")}}
	r.Register(a)
	r.Register(b)

	models, err := r.EnabledModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Info{{Name: "a"}, {Name: "b"}}, models)

	require.True(t, r.SetEnabled("a", false))
	assert.False(t, r.SetEnabled("zzz", false))
	models, err = r.EnabledModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Info{{Name: "b"}}, models)

	temp := 0.2
	rsp, err := r.Chat(ctx, ChatRequest{
		ModelID:  "b",
		Messages: []Message{NewUserMessage("hi")},
		Params:   GenerationConfig{Temperature: &temp, Stream: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "from b", rsp.Content)
	require.NotNil(t, b.lastReq)
	assert.False(t, b.lastReq.Stream)
	assert.Equal(t, &temp, b.lastReq.Temperature)

	_, err = r.Chat(ctx, ChatRequest{ModelID: "missing"})
	assert.ErrorIs(t, err, ErrModelNotFound)
}
