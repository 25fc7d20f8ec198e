//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package conversationtest holds the behavioral tests every conversation
// store implementation must pass.
package conversationtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-checkpoint/conversation"
	"trpc.group/trpc-go/trpc-agent-checkpoint/model"
)

// Run exercises store against the conversation.Store contract. newStore
// must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) conversation.Store) {
	t.Run("context lifecycle", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		c, err := s.GetContext(ctx, "s1")
		require.NoError(t, err)
		assert.Nil(t, c)

		c, err = s.CreateContext(ctx, "s1")
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, "s1", c.SessionID)

		again, err := s.CreateContext(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, c.CreatedAt.Unix(), again.CreatedAt.Unix())

		c, err = s.GetContext(ctx, "s1")
		require.NoError(t, err)
		require.NotNil(t, c)
	})

	t.Run("session id required", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.GetContext(ctx, "")
		assert.ErrorIs(t, err, conversation.ErrSessionIDRequired)
		_, err = s.AddMessage(ctx, "", conversation.Message{})
		assert.ErrorIs(t, err, conversation.ErrSessionIDRequired)
	})

	t.Run("add requires context", func(t *testing.T) {
		s := newStore(t)
		_, err := s.AddMessage(context.Background(), "missing",
			conversation.Message{Role: model.RoleUser, Content: "hi"})
		assert.ErrorIs(t, err, conversation.ErrContextNotFound)
	})

	t.Run("append stats and window", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.CreateContext(ctx, "s2")
		require.NoError(t, err)

		input := []conversation.Message{
			{Role: model.RoleUser, Content: "q1"},
			{Role: model.RoleAssistant, Content: "a1", Metadata: map[string]any{conversation.MetadataChannel: "tool_end"}},
			{Role: model.RoleSystem, Content: "summary"},
			{Role: model.RoleUser, Content: "q2"},
			{Role: model.RoleAssistant, Content: "a2"},
		}
		for _, m := range input {
			stored, err := s.AddMessage(ctx, "s2", m)
			require.NoError(t, err)
			assert.NotEmpty(t, stored.ID)
			assert.False(t, stored.CreatedAt.IsZero())
		}

		stats, err := s.GetContextStats(ctx, "s2")
		require.NoError(t, err)
		assert.Equal(t, conversation.Stats{
			TotalMessages: 5, UserMessages: 2, AssistantMessages: 2, SystemMessages: 1,
		}, *stats)

		window, err := s.GetRoundWindowMessages(ctx, "s2", 3, true)
		require.NoError(t, err)
		require.Len(t, window, 3)
		assert.Equal(t, "a1", window[0].Content)
		assert.Equal(t, "tool_end", window[0].Metadata[conversation.MetadataChannel])
		assert.Equal(t, "q2", window[1].Content)
		assert.Equal(t, "a2", window[2].Content)
		assert.Equal(t, model.RoleAssistant, window[2].Role)

		window, err = s.GetRoundWindowMessages(ctx, "s2", 2, false)
		require.NoError(t, err)
		require.Len(t, window, 2)
		assert.Equal(t, "q2", window[0].Content)

		window, err = s.GetRoundWindowMessages(ctx, "s2", 0, true)
		require.NoError(t, err)
		assert.Empty(t, window)
	})

	t.Run("unknown session reads empty", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		stats, err := s.GetContextStats(ctx, "nobody")
		require.NoError(t, err)
		assert.Equal(t, 0, stats.AssistantMessages)
		window, err := s.GetRoundWindowMessages(ctx, "nobody", 5, true)
		require.NoError(t, err)
		assert.Empty(t, window)
	})
}
