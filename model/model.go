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

// Package model provides interfaces for working with LLMs.
package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Model is the interface for all language models.
//
// Errors come back on two layers. GenerateContent returns an error when the
// request cannot be sent at all (nil request, bad parameters, transport
// failure). Once the stream is open, API level failures such as rate limits
// arrive as Response.Error on the channel.
//
//	responseChan, err := m.GenerateContent(ctx, request)
//	if err != nil {
//	    return fmt.Errorf("failed to generate content: %w", err)
//	}
//	for response := range responseChan {
//	    if response.Error != nil {
//	        return fmt.Errorf("API error: %s", response.Error.Message)
//	    }
//	}
type Model interface {
	// GenerateContent generates content from the given request.
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// Info contains basic information about a Model.
type Info struct {
	Name string `json:"name"`
}

// ErrEmptyResponse is returned by Collect when the stream produced no text.
var ErrEmptyResponse = errors.New("model: empty response")

// Collect drains the response stream of m for req and returns the
// concatenated assistant text with surrounding whitespace removed.
// Streaming deltas and final messages are both accepted.
func Collect(ctx context.Context, m Model, req *Request) (string, *Usage, error) {
	if m == nil {
		return "", nil, errors.New("model: nil model")
	}
	responseChan, err := m.GenerateContent(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("generate content: %w", err)
	}

	var (
		b     strings.Builder
		usage *Usage
	)
	for response := range responseChan {
		if response == nil {
			continue
		}
		if response.Error != nil {
			return "", nil, fmt.Errorf("model error: %s", response.Error.Message)
		}
		if response.Usage != nil {
			usage = response.Usage
		}
		if len(response.Choices) > 0 {
			choice := response.Choices[0]
			if response.IsPartial {
				b.WriteString(choice.Delta.Content)
			} else if choice.Message.Content != "" {
				// A final non-partial response carries the full text and
				// supersedes any accumulated deltas.
				b.Reset()
				b.WriteString(choice.Message.Content)
			}
		}
		if response.Done {
			break
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", usage, ErrEmptyResponse
	}
	return text, usage, nil
}
