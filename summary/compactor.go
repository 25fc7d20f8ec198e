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
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"trpc.group/trpc-go/trpc-agent-checkpoint/conversation"
	itelemetry "trpc.group/trpc-go/trpc-agent-checkpoint/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-checkpoint/log"
	"trpc.group/trpc-go/trpc-agent-checkpoint/model"
	"trpc.group/trpc-go/trpc-agent-checkpoint/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-checkpoint/telemetry/trace"
)

// Metadata keys set on summary messages appended to the conversation.
const (
	MetadataKind  = "kind"
	MetadataRound = "round"

	kindRoundSummary = "round_summary"
)

// ShouldCompact reports whether a session with rounds assistant turns is on
// a compaction boundary.
func ShouldCompact(rounds, interval int) bool {
	if interval < 1 {
		interval = 1
	}
	return rounds > 0 && rounds%interval == 0
}

// Compactor summarizes a conversation every interval assistant turns.
type Compactor struct {
	conv   conversation.Store
	rounds RoundStore
	source Source
	opts   options
}

// NewCompactor creates a Compactor over a conversation store. rounds may be
// nil, in which case summaries are kept in memory.
func NewCompactor(conv conversation.Store, rounds RoundStore, opts ...Option) (*Compactor, error) {
	if conv == nil {
		return nil, errors.New("summary: conversation store is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if rounds == nil {
		rounds = NewInMemoryRoundStore()
	}
	c := &Compactor{conv: conv, rounds: rounds, source: o.source(), opts: o}
	if o.enabled && c.source == nil {
		return nil, ErrNoSource
	}
	return c, nil
}

// Enabled reports whether the compactor runs at all.
func (c *Compactor) Enabled() bool { return c.opts.enabled }

// Interval returns the configured round length.
func (c *Compactor) Interval() int { return c.opts.interval }

// SourceName returns the name of the selected source, or "" when none.
func (c *Compactor) SourceName() string {
	if c.source == nil {
		return ""
	}
	return c.source.Name()
}

// MaybeCompact summarizes the session when its assistant turn count sits on
// a round boundary. It reports whether a summary was written.
func (c *Compactor) MaybeCompact(ctx context.Context, sessionID string) (bool, error) {
	if !c.opts.enabled {
		return false, nil
	}
	stats, err := c.conv.GetContextStats(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("get stats of %s: %w", sessionID, err)
	}
	rounds := stats.AssistantMessages
	if !ShouldCompact(rounds, c.opts.interval) {
		return false, nil
	}

	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameCompact)
	defer span.End()
	if err := c.compact(ctx, sessionID, rounds); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		itelemetry.TraceCompaction(span, sessionID, rounds, c.source.Name(), false)
		return false, err
	}
	itelemetry.TraceCompaction(span, sessionID, rounds, c.source.Name(), true)
	metric.Add(ctx, itelemetry.MetricCompactions, 1, attribute.String(itelemetry.KeySource, c.source.Name()))
	return true, nil
}

func (c *Compactor) compact(ctx context.Context, sessionID string, rounds int) error {
	prev, err := c.rounds.LatestRound(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load previous round of %s: %w", sessionID, err)
	}
	window, err := c.conv.GetRoundWindowMessages(ctx, sessionID, c.opts.interval-1, true)
	if err != nil {
		return fmt.Errorf("load round window of %s: %w", sessionID, err)
	}
	windowMsgs := make([]model.Message, 0, len(window))
	for _, m := range window {
		windowMsgs = append(windowMsgs, model.Message{Role: m.Role, Content: m.Content})
	}

	text, err := c.source.Summarize(ctx, Request{
		SessionID: sessionID,
		Messages:  buildPrompt(c.opts.instruction, prev, windowMsgs),
	})
	if err != nil {
		return fmt.Errorf("summarize round %d of %s: %w", rounds, sessionID, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptySummary
	}

	now := time.Now()
	round := &RoundSummary{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		RoundNumber: rounds,
		Content:     text,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.rounds.InsertRound(ctx, round); err != nil {
		return fmt.Errorf("store round %d of %s: %w", rounds, sessionID, err)
	}
	log.Infof("summary: compacted session %s at round %d with %d messages via %s",
		sessionID, rounds, len(window), c.source.Name())

	if !c.opts.insertAsSystem {
		return nil
	}
	if err := conversation.EnsureContext(ctx, c.conv, sessionID); err != nil {
		return err
	}
	if _, err := c.conv.AddMessage(ctx, sessionID, conversation.Message{
		Role:    model.RoleSystem,
		Content: text,
		Metadata: map[string]any{
			MetadataKind:  kindRoundSummary,
			MetadataRound: rounds,
		},
	}); err != nil {
		return fmt.Errorf("append summary of round %d to %s: %w", rounds, sessionID, err)
	}
	return nil
}
