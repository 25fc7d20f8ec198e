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
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-checkpoint/model"
)

// Source names reported in telemetry and logs.
const (
	SourceFunc     = "func"
	SourceModel    = "model"
	SourceRegistry = "registry"
)

// Request is what a Source summarizes.
type Request struct {
	SessionID string
	// Messages is the full prompt: instruction, previous summary, window.
	Messages []model.Message
}

// Source produces summary text. The set of sources is closed: FuncSource,
// ModelSource and RegistrySource.
type Source interface {
	Name() string
	Summarize(ctx context.Context, req Request) (string, error)
}

// FuncSource summarizes with a caller supplied function.
type FuncSource func(ctx context.Context, messages []model.Message) (string, error)

// Name implements Source.
func (f FuncSource) Name() string { return SourceFunc }

// Summarize implements Source.
func (f FuncSource) Summarize(ctx context.Context, req Request) (string, error) {
	return f(ctx, req.Messages)
}

// ModelSource summarizes with a specific model.
type ModelSource struct {
	Model  model.Model
	Config model.GenerationConfig
}

// Name implements Source.
func (s ModelSource) Name() string { return SourceModel }

// Summarize implements Source.
func (s ModelSource) Summarize(ctx context.Context, req Request) (string, error) {
	cfg := s.Config
	cfg.Stream = false
	text, _, err := model.Collect(ctx, s.Model, &model.Request{Messages: req.Messages, GenerationConfig: cfg})
	if err != nil {
		return "", fmt.Errorf("summarize with %s: %w", s.Model.Info().Name, err)
	}
	return text, nil
}

// RegistrySource summarizes with the first enabled model of a registry.
type RegistrySource struct {
	Registry model.Registry
	Config   model.GenerationConfig
}

// Name implements Source.
func (s RegistrySource) Name() string { return SourceRegistry }

// Summarize implements Source.
func (s RegistrySource) Summarize(ctx context.Context, req Request) (string, error) {
	models, err := s.Registry.EnabledModels(ctx)
	if err != nil {
		return "", fmt.Errorf("list enabled models: %w", err)
	}
	if len(models) == 0 {
		return "", ErrNoEnabledModel
	}
	rsp, err := s.Registry.Chat(ctx, model.ChatRequest{
		ModelID:   models[0].Name,
		Messages:  req.Messages,
		SessionID: req.SessionID,
		Params:    s.Config,
	})
	if err != nil {
		return "", err
	}
	return rsp.Content, nil
}

const defaultInstruction = "You are compacting a conversation. Summarize the previous round below. " +
	"Preserve facts, user intent and conclusions that later turns may rely on. " +
	"Be concise and do not invent anything."

// buildPrompt assembles the instruction, the previous summary and the
// window into one message list.
func buildPrompt(instruction string, prev *RoundSummary, window []model.Message) []model.Message {
	msgs := make([]model.Message, 0, len(window)+2)
	msgs = append(msgs, model.NewSystemMessage(instruction))
	if prev != nil && strings.TrimSpace(prev.Content) != "" {
		msgs = append(msgs, model.NewSystemMessage(
			fmt.Sprintf("Summary of the conversation up to round %d:\n%s", prev.RoundNumber, prev.Content)))
	}
	return append(msgs, window...)
}
