//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds the names and attribute helpers shared by the
// checkpoint and summary instrumentation.
package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// telemetry service constants.
const (
	ServiceName      = "checkpoint"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-go-agent"
	InstrumentName   = "trpc.agent.go.checkpoint"

	SpanNamePut        = "checkpoint.put"
	SpanNamePutWrites  = "checkpoint.put_writes"
	SpanNameCompact    = "summary.compact"
	MetricWrites       = "checkpoint.writes"
	MetricMessages     = "checkpoint.messages"
	MetricCompactions  = "summary.compactions"
	MetricDecodeErrors = "checkpoint.decode_errors"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// telemetry attributes constants.
const (
	KeyThreadID     = "trpc.go.agent.thread_id"
	KeyNamespace    = "trpc.go.agent.checkpoint_ns"
	KeyCheckpointID = "trpc.go.agent.checkpoint_id"
	KeyTaskID       = "trpc.go.agent.task_id"
	KeySessionID    = "trpc.go.agent.session_id"
	KeyRound        = "trpc.go.agent.round"
	KeyStage        = "trpc.go.agent.stage"
	KeyRole         = "trpc.go.agent.role"
	KeySource       = "trpc.go.agent.summary_source"
)

// CheckpointAttributes returns the attributes identifying a checkpoint.
func CheckpointAttributes(threadID, namespace, checkpointID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(KeyThreadID, threadID),
		attribute.String(KeyNamespace, namespace),
		attribute.String(KeyCheckpointID, checkpointID),
	}
}

// TraceCompaction records the outcome of a compaction attempt on span.
func TraceCompaction(span trace.Span, sessionID string, round int, source string, fired bool) {
	span.SetAttributes(
		attribute.String(KeySessionID, sessionID),
		attribute.Int(KeyRound, round),
		attribute.String(KeySource, source),
		attribute.Bool("trpc.go.agent.compacted", fired),
	)
}

// NewGRPCConn creates a new gRPC connection to the OpenTelemetry Collector.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	// Note the use of insecure transport here. TLS is recommended in production.
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
