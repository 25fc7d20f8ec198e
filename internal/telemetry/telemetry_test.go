//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestCheckpointAttributes(t *testing.T) {
	attrs := CheckpointAttributes("t1", "default", "c1")
	assert.Equal(t, []attribute.KeyValue{
		attribute.String(KeyThreadID, "t1"),
		attribute.String(KeyNamespace, "default"),
		attribute.String(KeyCheckpointID, "c1"),
	}, attrs)
}

func TestTraceCompaction(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	_, span := tp.Tracer("test").Start(t.Context(), SpanNameCompact)
	TraceCompaction(span, "s1", 40, "registry", true)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	got := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		got[kv.Key] = kv.Value
	}
	assert.Equal(t, "s1", got[KeySessionID].AsString())
	assert.Equal(t, int64(40), got[KeyRound].AsInt64())
	assert.Equal(t, "registry", got[KeySource].AsString())
}

func TestNewGRPCConn(t *testing.T) {
	conn, err := NewGRPCConn("localhost:4317")
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}
