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

// Package inmemory provides an in-memory conversation store.
package inmemory

import (
	"context"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-agent-checkpoint/conversation"
)

var _ conversation.Store = (*Store)(nil)

type session struct {
	info     conversation.Context
	messages []conversation.Message
	stats    conversation.Stats
}

// Store keeps conversations in process memory.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewStore creates a new in-memory conversation store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*session)}
}

// GetContext implements conversation.Store.
func (s *Store) GetContext(ctx context.Context, sessionID string) (*conversation.Context, error) {
	if sessionID == "" {
		return nil, conversation.ErrSessionIDRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	info := sess.info
	return &info, nil
}

// CreateContext implements conversation.Store.
func (s *Store) CreateContext(ctx context.Context, sessionID string) (*conversation.Context, error) {
	if sessionID == "" {
		return nil, conversation.ErrSessionIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		now := time.Now()
		sess = &session{info: conversation.Context{SessionID: sessionID, CreatedAt: now, UpdatedAt: now}}
		s.sessions[sessionID] = sess
	}
	info := sess.info
	return &info, nil
}

// AddMessage implements conversation.Store.
func (s *Store) AddMessage(
	ctx context.Context,
	sessionID string,
	msg conversation.Message,
) (*conversation.Message, error) {
	if sessionID == "" {
		return nil, conversation.ErrSessionIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, conversation.ErrContextNotFound
	}
	msg = conversation.Prepare(msg)
	sess.messages = append(sess.messages, msg)
	sess.stats.Count(msg.Role)
	sess.info.UpdatedAt = msg.CreatedAt
	return &msg, nil
}

// GetContextStats implements conversation.Store.
func (s *Store) GetContextStats(ctx context.Context, sessionID string) (*conversation.Stats, error) {
	if sessionID == "" {
		return nil, conversation.ErrSessionIDRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return &conversation.Stats{}, nil
	}
	stats := sess.stats
	return &stats, nil
}

// GetRoundWindowMessages implements conversation.Store.
func (s *Store) GetRoundWindowMessages(
	ctx context.Context,
	sessionID string,
	count int,
	excludeSystem bool,
) ([]conversation.Message, error) {
	if sessionID == "" {
		return nil, conversation.ErrSessionIDRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return []conversation.Message{}, nil
	}
	return conversation.Window(sess.messages, count, excludeSystem), nil
}
