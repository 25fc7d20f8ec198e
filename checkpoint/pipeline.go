//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package checkpoint

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-agent-checkpoint/conversation"
	itelemetry "trpc.group/trpc-go/trpc-agent-checkpoint/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-checkpoint/log"
	"trpc.group/trpc-go/trpc-agent-checkpoint/model"
	"trpc.group/trpc-go/trpc-agent-checkpoint/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-checkpoint/translate"
)

// Stage is a step of the write pipeline.
type Stage string

// Pipeline stages in execution order.
const (
	StagePersist   Stage = "persist"
	StageTranslate Stage = "translate"
	StageAppend    Stage = "append"
	StageCompact   Stage = "compact"
)

// StageError reports the stage and the write a PutWrites failure happened in.
type StageError struct {
	Stage   Stage
	Index   int
	Channel string
	Err     error
}

// Error implements error.
func (e *StageError) Error() string {
	return fmt.Sprintf("checkpoint: write %d (%s) failed at %s: %v", e.Index, e.Channel, e.Stage, e.Err)
}

// Unwrap returns the cause.
func (e *StageError) Unwrap() error {
	return e.Err
}

// pipeline carries one PutWrites call through persist, translate, append and
// compact for each write.
type pipeline struct {
	saver     *Saver
	cfg       Config
	taskID    string
	sessionID string
}

func (p *pipeline) run(ctx context.Context, idx int, w Write) error {
	fail := func(stage Stage, err error) error {
		return &StageError{Stage: stage, Index: idx, Channel: w.Channel, Err: err}
	}

	if err := p.persist(ctx, idx, w); err != nil {
		return fail(StagePersist, err)
	}
	log.Debugf("checkpoint: write %d (%s) persisted", idx, w.Channel)
	if p.saver.opts.conv == nil {
		return nil
	}

	msg, err := p.translate(w)
	if err != nil {
		return fail(StageTranslate, err)
	}
	if msg == nil {
		return nil
	}

	if err := p.append(ctx, msg); err != nil {
		return fail(StageAppend, err)
	}
	log.Debugf("checkpoint: write %d (%s) appended as %s message", idx, w.Channel, msg.Role)

	if msg.Role != model.RoleAssistant || p.saver.opts.compactor == nil {
		return nil
	}
	if _, err := p.saver.opts.compactor.MaybeCompact(ctx, p.sessionID); err != nil {
		return fail(StageCompact, err)
	}
	return nil
}

func (p *pipeline) persist(ctx context.Context, idx int, w Write) error {
	v, err := p.saver.opts.codec.Encode(w.Value)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return p.saver.repo.InsertWrite(ctx, &WriteRow{
		ThreadID:     p.cfg.ThreadID,
		Namespace:    p.cfg.Namespace,
		CheckpointID: p.cfg.CheckpointID,
		TaskID:       p.taskID,
		Idx:          idx,
		Channel:      w.Channel,
		Value:        v,
		CreatedAt:    time.Now().UTC(),
	})
}

// translate classifies the in-memory value. Classifier panics are returned
// as errors.
func (p *pipeline) translate(w Write) (msg *conversation.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classify panic: %v", r)
		}
	}()
	c := p.saver.opts.classifier.Classify(w.Channel, w.Value)
	if c.Kind == translate.Unclassified || c.Message == nil {
		return nil, nil
	}
	return c.Message, nil
}

func (p *pipeline) append(ctx context.Context, msg *conversation.Message) error {
	store := p.saver.opts.conv
	if err := conversation.EnsureContext(ctx, store, p.sessionID); err != nil {
		return err
	}
	if _, err := store.AddMessage(ctx, p.sessionID, *msg); err != nil {
		return err
	}
	metric.Add(ctx, itelemetry.MetricMessages, 1,
		attribute.String(itelemetry.KeyRole, string(msg.Role)))
	return nil
}
