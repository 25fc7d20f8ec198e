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
	"fmt"
	"sync"
)

// ErrModelNotFound is returned by Chat when no registered model has the
// requested id.
var ErrModelNotFound = errors.New("model: model not found")

// ChatRequest is a single non-streaming chat call routed through a Registry.
type ChatRequest struct {
	// ModelID selects the registered model.
	ModelID string
	// Messages is the prompt.
	Messages []Message
	// SessionID identifies the conversation the call is made for.
	SessionID string
	// Params are the generation parameters.
	Params GenerationConfig
}

// ChatResponse is the collected result of a ChatRequest.
type ChatResponse struct {
	Content string
	Usage   *Usage
}

// Registry lists the models available to the process and routes chat calls
// to them.
type Registry interface {
	// EnabledModels returns enabled models in registration order.
	EnabledModels(ctx context.Context) ([]Info, error)
	// Chat sends req to the model named by req.ModelID.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// StaticRegistry is an in-process Registry over Model values.
type StaticRegistry struct {
	mu      sync.RWMutex
	entries []*registryEntry
}

type registryEntry struct {
	model   Model
	enabled bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *StaticRegistry {
	return &StaticRegistry{}
}

// Register adds m as enabled, replacing any model with the same name while
// keeping its position.
func (r *StaticRegistry) Register(m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := m.Info().Name
	for _, e := range r.entries {
		if e.model.Info().Name == name {
			e.model = m
			e.enabled = true
			return
		}
	}
	r.entries = append(r.entries, &registryEntry{model: m, enabled: true})
}

// SetEnabled toggles a registered model. It reports whether name was found.
func (r *StaticRegistry) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.model.Info().Name == name {
			e.enabled = enabled
			return true
		}
	}
	return false
}

// EnabledModels implements Registry.
func (r *StaticRegistry) EnabledModels(ctx context.Context) ([]Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Info
	for _, e := range r.entries {
		if e.enabled {
			out = append(out, e.model.Info())
		}
	}
	return out, nil
}

// Chat implements Registry. Disabled models can still be addressed directly.
func (r *StaticRegistry) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m := r.lookup(req.ModelID)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, req.ModelID)
	}
	params := req.Params
	params.Stream = false
	text, usage, err := Collect(ctx, m, &Request{Messages: req.Messages, GenerationConfig: params})
	if err != nil {
		return nil, fmt.Errorf("chat with %s: %w", req.ModelID, err)
	}
	return &ChatResponse{Content: text, Usage: usage}, nil
}

func (r *StaticRegistry) lookup(name string) Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.model.Info().Name == name {
			return e.model
		}
	}
	return nil
}
