//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package summary compacts a conversation into round summaries every N
// assistant turns.
package summary

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNoEnabledModel is returned by the registry source when the
	// registry lists no enabled model.
	ErrNoEnabledModel = errors.New("summary: no enabled model")
	// ErrNoSource is returned by NewCompactor when compaction is enabled
	// but no summary function, model or registry is configured.
	ErrNoSource = errors.New("summary: no summary source configured")
	// ErrEmptySummary is returned when the source produced blank text.
	ErrEmptySummary = errors.New("summary: empty summary")
)

// RoundSummary is the stored result of one compaction.
type RoundSummary struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	RoundNumber int       `json:"roundNumber"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RoundStore persists round summaries.
type RoundStore interface {
	// LatestRound returns the summary with the highest round number, or
	// nil when the session has none.
	LatestRound(ctx context.Context, sessionID string) (*RoundSummary, error)
	// InsertRound stores a new summary.
	InsertRound(ctx context.Context, round *RoundSummary) error
}

type inMemoryRoundStore struct {
	mu     sync.RWMutex
	rounds map[string][]RoundSummary
}

// NewInMemoryRoundStore creates a RoundStore kept in process memory.
func NewInMemoryRoundStore() RoundStore {
	return &inMemoryRoundStore{rounds: make(map[string][]RoundSummary)}
}

func (s *inMemoryRoundStore) LatestRound(ctx context.Context, sessionID string) (*RoundSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *RoundSummary
	for i := range s.rounds[sessionID] {
		r := &s.rounds[sessionID][i]
		// Later inserts win ties.
		if latest == nil || r.RoundNumber >= latest.RoundNumber {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (s *inMemoryRoundStore) InsertRound(ctx context.Context, round *RoundSummary) error {
	if round == nil {
		return errors.New("summary: nil round")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds[round.SessionID] = append(s.rounds[round.SessionID], *round)
	return nil
}
