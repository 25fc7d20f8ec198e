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

package log_test

import (
	"testing"

	"trpc.group/trpc-go/trpc-agent-checkpoint/log"
)

func TestLog(t *testing.T) {
	old := log.Default
	defer func() { log.Default = old }()

	rec := &recordingLogger{}
	log.Default = rec
	log.Debug("test")
	log.Debugf("test")
	log.Info("test")
	log.Infof("test")
	log.Warn("test")
	log.Warnf("test")
	log.Error("test")
	log.Errorf("test")
	if rec.calls != 8 {
		t.Fatalf("expected 8 calls, got %d", rec.calls)
	}
}

type recordingLogger struct{ calls int }

func (r *recordingLogger) Debug(args ...any)                 { r.calls++ }
func (r *recordingLogger) Debugf(format string, args ...any) { r.calls++ }
func (r *recordingLogger) Info(args ...any)                  { r.calls++ }
func (r *recordingLogger) Infof(format string, args ...any)  { r.calls++ }
func (r *recordingLogger) Warn(args ...any)                  { r.calls++ }
func (r *recordingLogger) Warnf(format string, args ...any)  { r.calls++ }
func (r *recordingLogger) Error(args ...any)                 { r.calls++ }
func (r *recordingLogger) Errorf(format string, args ...any) { r.calls++ }
