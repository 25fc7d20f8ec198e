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

	"trpc.group/trpc-go/trpc-agent-checkpoint/codec"
	"trpc.group/trpc-go/trpc-agent-checkpoint/conversation"
	"trpc.group/trpc-go/trpc-agent-checkpoint/translate"
)

// Compactor is asked to compact a session after every assistant message.
type Compactor interface {
	MaybeCompact(ctx context.Context, sessionID string) (bool, error)
}

// SessionResolver maps a thread id to a conversation session id.
type SessionResolver func(threadID string) string

type options struct {
	codec          *codec.Codec
	conv           conversation.Store
	classifier     translate.Classifier
	compactor      Compactor
	resolveSession SessionResolver
}

// Option configures a Saver.
type Option func(*options)

// WithCodec sets the codec used for channel values. JSON is the default.
func WithCodec(c *codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithConversationStore enables translation of writes into conversation
// messages appended to store.
func WithConversationStore(store conversation.Store) Option {
	return func(o *options) {
		o.conv = store
	}
}

// WithClassifier replaces the heuristic write classifier.
func WithClassifier(c translate.Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classifier = c
		}
	}
}

// WithCompactor runs c after every assistant message appended.
func WithCompactor(c Compactor) Option {
	return func(o *options) {
		o.compactor = c
	}
}

// WithSessionResolver maps thread ids to session ids. Identity by default.
func WithSessionResolver(fn SessionResolver) Option {
	return func(o *options) {
		if fn != nil {
			o.resolveSession = fn
		}
	}
}

func defaultOptions() options {
	return options{
		codec:          codec.New(),
		classifier:     translate.Heuristic,
		resolveSession: func(threadID string) string { return threadID },
	}
}
