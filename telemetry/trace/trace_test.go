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

package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	itelemetry "trpc.group/trpc-go/trpc-agent-checkpoint/internal/telemetry"
)

func TestTracesEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "custom-trace:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "generic-endpoint:4317")
	assert.Equal(t, "custom-trace:4317", tracesEndpoint(itelemetry.ProtocolGRPC))

	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")
	assert.Equal(t, "generic-endpoint:4317", tracesEndpoint(itelemetry.ProtocolGRPC))

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	assert.Equal(t, "localhost:4317", tracesEndpoint(itelemetry.ProtocolGRPC))
	assert.Equal(t, "localhost:4318", tracesEndpoint(itelemetry.ProtocolHTTP))
}

func TestParseEndpointURL(t *testing.T) {
	tests := []struct {
		in       string
		endpoint string
		path     string
		wantErr  bool
	}{
		{in: "http://localhost:3000/api/public/otel", endpoint: "localhost:3000", path: "/api/public/otel"},
		{in: "collector:4318", endpoint: "collector:4318", path: "/"},
		{in: "https://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			endpoint, path, err := parseEndpointURL(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.endpoint, endpoint)
			assert.Equal(t, tt.path, path)
		})
	}
}

func TestSetTracerProvider(t *testing.T) {
	old := Tracer
	defer func() { Tracer = old }()

	recorder := tracetest.NewSpanRecorder()
	SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	_, span := Tracer.Start(context.Background(), itelemetry.SpanNamePut)
	span.End()
	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, itelemetry.SpanNamePut, recorder.Ended()[0].Name())
}

func TestStartAndClean(t *testing.T) {
	old := Tracer
	defer func() { Tracer = old }()

	for _, protocol := range []string{itelemetry.ProtocolGRPC, itelemetry.ProtocolHTTP} {
		clean, err := Start(context.Background(),
			WithProtocol(protocol),
			WithEndpoint("localhost:4317"),
			WithEndpointURL("http://localhost:4318/v1/traces"),
			WithServiceName("checkpoint-test"),
		)
		require.NoError(t, err)
		require.NotNil(t, clean)
		_ = clean() // No collector is running in tests.
	}
}
