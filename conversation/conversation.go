//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package conversation defines the conversation log that checkpoint writes
// are translated into, and the store contract backing it.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-checkpoint/model"
)

var (
	// ErrSessionIDRequired is the error for session id required.
	ErrSessionIDRequired = errors.New("sessionID is required")
	// ErrContextNotFound is returned when a message is appended to a session
	// that has not been created.
	ErrContextNotFound = errors.New("conversation context not found")
)

// MetadataChannel is the metadata key holding the originating channel name.
const MetadataChannel = "channel"

// Message is one entry of a conversation log.
type Message struct {
	ID        string         `json:"id"`
	Role      model.Role     `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Context describes a conversation.
type Context struct {
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Stats holds per-role message counts for a conversation.
type Stats struct {
	TotalMessages     int `json:"totalMessages"`
	UserMessages      int `json:"userMessages"`
	AssistantMessages int `json:"assistantMessages"`
	SystemMessages    int `json:"systemMessages"`
}

// Count adds one message of the given role.
func (s *Stats) Count(role model.Role) {
	s.TotalMessages++
	switch role {
	case model.RoleUser:
		s.UserMessages++
	case model.RoleAssistant:
		s.AssistantMessages++
	case model.RoleSystem:
		s.SystemMessages++
	}
}

// Store is the conversation store used by the checkpoint pipeline and the
// summary compactor. Messages are append-only.
type Store interface {
	// GetContext returns the conversation, or nil when it does not exist.
	GetContext(ctx context.Context, sessionID string) (*Context, error)
	// CreateContext creates the conversation. Creating an existing one is a no-op.
	CreateContext(ctx context.Context, sessionID string) (*Context, error)
	// AddMessage appends msg and returns the stored copy with ID and
	// CreatedAt filled in.
	AddMessage(ctx context.Context, sessionID string, msg Message) (*Message, error)
	// GetContextStats returns the per-role counts.
	GetContextStats(ctx context.Context, sessionID string) (*Stats, error)
	// GetRoundWindowMessages returns the last count messages, oldest first,
	// skipping system messages when excludeSystem is set.
	GetRoundWindowMessages(ctx context.Context, sessionID string, count int, excludeSystem bool) ([]Message, error)
}

// EnsureContext creates the conversation if it does not exist yet.
func EnsureContext(ctx context.Context, store Store, sessionID string) error {
	if sessionID == "" {
		return ErrSessionIDRequired
	}
	c, err := store.GetContext(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("get conversation %s: %w", sessionID, err)
	}
	if c != nil {
		return nil
	}
	if _, err := store.CreateContext(ctx, sessionID); err != nil {
		return fmt.Errorf("create conversation %s: %w", sessionID, err)
	}
	return nil
}

// Prepare fills the ID and CreatedAt of msg when they are empty and returns
// a copy whose metadata map is not shared with the caller.
func Prepare(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Metadata != nil {
		md := make(map[string]any, len(msg.Metadata))
		for k, v := range msg.Metadata {
			md[k] = v
		}
		msg.Metadata = md
	}
	return msg
}

// Window selects the last count messages of msgs, oldest first, optionally
// skipping system messages. msgs must be in append order.
func Window(msgs []Message, count int, excludeSystem bool) []Message {
	if count <= 0 {
		return []Message{}
	}
	out := make([]Message, 0, count)
	for i := len(msgs) - 1; i >= 0 && len(out) < count; i-- {
		if excludeSystem && msgs[i].Role == model.RoleSystem {
			continue
		}
		out = append(out, msgs[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
