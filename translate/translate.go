//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package translate turns checkpoint channel writes into conversation
// messages.
package translate

import (
	"encoding/json"
	"strings"

	"trpc.group/trpc-go/trpc-agent-checkpoint/conversation"
	"trpc.group/trpc-go/trpc-agent-checkpoint/model"
)

// Kind is the shape a channel write was recognized as.
type Kind int

// Kinds of classified writes.
const (
	// Unclassified writes produce no message.
	Unclassified Kind = iota
	// ToolStart covers tool channels other than the terminal result.
	ToolStart
	// ToolEnd is a terminal tool result.
	ToolEnd
	// StructuredTurn is an object carrying a role and content.
	StructuredTurn
	// PlainString is a bare string whose role comes from the channel name.
	PlainString
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case ToolStart:
		return "tool_start"
	case ToolEnd:
		return "tool_end"
	case StructuredTurn:
		return "structured_turn"
	case PlainString:
		return "plain_string"
	default:
		return "unclassified"
	}
}

// Classification is the result of classifying one write. Message is nil
// when the write is not a visible conversation turn.
type Classification struct {
	Kind    Kind
	Message *conversation.Message
}

// Classifier decides whether a channel write is a conversation turn.
type Classifier interface {
	Classify(channel string, value any) Classification
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(channel string, value any) Classification

// Classify implements Classifier.
func (f ClassifierFunc) Classify(channel string, value any) Classification {
	return f(channel, value)
}

// Heuristic classifies writes by channel name and value shape.
//
// Rules, first match wins:
//  1. Tool channels ("tool", "tools", "tool_*", or containing "function").
//     Those also containing "end" or "result" yield an assistant message
//     from the value's output or result field. Other tool channels yield
//     nothing.
//  2. Objects with a role (or type: human, ai, system) and content (or
//     text, message).
//  3. Plain strings. The role is user when the channel mentions user or
//     input, system when it mentions system, else assistant.
//
// Matching is substring based, so a channel such as "tool_append" counts as
// a terminal tool result.
var Heuristic Classifier = ClassifierFunc(classify)

func classify(channel string, value any) Classification {
	name := strings.ToLower(channel)
	if isToolChannel(name) {
		if !isToolEnd(name) {
			return Classification{Kind: ToolStart}
		}
		out := toolOutput(value)
		if out == "" {
			return Classification{Kind: ToolEnd}
		}
		return Classification{Kind: ToolEnd, Message: newMessage(channel, model.RoleAssistant, out)}
	}

	switch v := value.(type) {
	case string:
		return Classification{Kind: PlainString, Message: newMessage(channel, roleFromChannel(name), v)}
	case nil:
		return Classification{}
	}

	obj, ok := asObject(value)
	if !ok {
		return Classification{}
	}
	role, ok := structuredRole(obj)
	if !ok {
		return Classification{}
	}
	content, ok := structuredContent(obj)
	if !ok {
		return Classification{}
	}
	return Classification{Kind: StructuredTurn, Message: newMessage(channel, role, content)}
}

func isToolChannel(name string) bool {
	return name == "tool" || name == "tools" ||
		strings.HasPrefix(name, "tool_") || strings.Contains(name, "function")
}

func isToolEnd(name string) bool {
	return strings.Contains(name, "end") || strings.Contains(name, "result")
}

func toolOutput(value any) string {
	obj, ok := asObject(value)
	if !ok {
		return ""
	}
	raw, ok := obj["output"]
	if !ok || raw == nil {
		raw = obj["result"]
	}
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}
}

var typeRoles = map[string]model.Role{
	"human":  model.RoleUser,
	"ai":     model.RoleAssistant,
	"system": model.RoleSystem,
}

func structuredRole(obj map[string]any) (model.Role, bool) {
	if r, ok := obj["role"].(string); ok && r != "" {
		return model.Role(strings.ToLower(r)), true
	}
	if t, ok := obj["type"].(string); ok {
		if r, ok := typeRoles[strings.ToLower(t)]; ok {
			return r, true
		}
	}
	return "", false
}

func structuredContent(obj map[string]any) (string, bool) {
	for _, key := range []string{"content", "text", "message"} {
		if s, ok := obj[key].(string); ok {
			return s, true
		}
	}
	return "", false
}

func roleFromChannel(name string) model.Role {
	switch {
	case strings.Contains(name, "user") || strings.Contains(name, "input"):
		return model.RoleUser
	case strings.Contains(name, "system"):
		return model.RoleSystem
	default:
		return model.RoleAssistant
	}
}

// asObject returns value as a string keyed map. Structs and other
// non-map values go through a JSON round trip first.
func asObject(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case nil, string:
		return nil, false
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, false
	}
	return obj, obj != nil
}

func newMessage(channel string, role model.Role, content string) *conversation.Message {
	return &conversation.Message{
		Role:     role,
		Content:  content,
		Metadata: map[string]any{conversation.MetadataChannel: channel},
	}
}
