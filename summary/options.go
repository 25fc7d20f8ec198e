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
	"trpc.group/trpc-go/trpc-agent-checkpoint/model"
)

const (
	defaultInterval    = 20
	defaultTemperature = 0.2
	defaultMaxTokens   = 1024
)

type options struct {
	enabled        bool
	interval       int
	insertAsSystem bool
	instruction    string
	temperature    float64
	maxTokens      int
	fn             FuncSource
	model          model.Model
	registry       model.Registry
}

func defaultOptions() options {
	return options{
		enabled:        true,
		interval:       defaultInterval,
		insertAsSystem: true,
		instruction:    defaultInstruction,
		temperature:    defaultTemperature,
		maxTokens:      defaultMaxTokens,
	}
}

// Option configures a Compactor.
type Option func(*options)

// WithEnabled turns compaction on or off. It is on by default.
func WithEnabled(enabled bool) Option {
	return func(o *options) {
		o.enabled = enabled
	}
}

// WithInterval sets how many assistant turns make a round. Values below 1
// are raised to 1.
func WithInterval(interval int) Option {
	return func(o *options) {
		if interval < 1 {
			interval = 1
		}
		o.interval = interval
	}
}

// WithInsertAsSystemMessage controls whether each summary is appended to
// the conversation as a system message. It is on by default.
func WithInsertAsSystemMessage(insert bool) Option {
	return func(o *options) {
		o.insertAsSystem = insert
	}
}

// WithInstruction replaces the summarization instruction.
func WithInstruction(instruction string) Option {
	return func(o *options) {
		if instruction != "" {
			o.instruction = instruction
		}
	}
}

// WithTemperature sets the temperature of model and registry calls.
func WithTemperature(t float64) Option {
	return func(o *options) {
		o.temperature = t
	}
}

// WithMaxTokens sets the completion budget of model and registry calls.
func WithMaxTokens(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithSummaryFunc summarizes with fn. It takes precedence over every
// other source.
func WithSummaryFunc(fn FuncSource) Option {
	return func(o *options) {
		o.fn = fn
	}
}

// WithSummaryModel summarizes with m unless a function is configured.
func WithSummaryModel(m model.Model) Option {
	return func(o *options) {
		o.model = m
	}
}

// WithModelRegistry summarizes with the first enabled model of r when
// neither a function nor a model is configured.
func WithModelRegistry(r model.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// source picks the configured source in priority order.
func (o *options) source() Source {
	temperature := o.temperature
	maxTokens := o.maxTokens
	cfg := model.GenerationConfig{Temperature: &temperature, MaxTokens: &maxTokens}
	switch {
	case o.fn != nil:
		return o.fn
	case o.model != nil:
		return ModelSource{Model: o.model, Config: cfg}
	case o.registry != nil:
		return RegistrySource{Registry: o.registry, Config: cfg}
	default:
		return nil
	}
}
