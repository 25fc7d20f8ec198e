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
	"time"

	"trpc.group/trpc-go/trpc-agent-checkpoint/codec"
)

// CheckpointRow is a checkpoint as a repository stores it. State holds the
// checkpoint with every channel value already codec encoded.
type CheckpointRow struct {
	ThreadID           string
	Namespace          string
	CheckpointID       string
	ParentCheckpointID string
	State              []byte
	Metadata           []byte
	CreatedAt          time.Time
}

// WriteRow is one entry of the write log.
type WriteRow struct {
	ThreadID     string
	Namespace    string
	CheckpointID string
	TaskID       string
	Idx          int
	Channel      string
	Value        codec.Value
	CreatedAt    time.Time
}

// Repository is the storage boundary of the Saver. Rows are only ever
// inserted or soft deleted, and every read sees live rows only.
type Repository interface {
	// InsertCheckpoint adds a checkpoint. A live row with the same thread,
	// namespace and checkpoint id is a conflict.
	InsertCheckpoint(ctx context.Context, row *CheckpointRow) error
	// GetCheckpoint returns the addressed checkpoint, or the most recently
	// inserted one when checkpointID is empty. It returns nil when absent.
	GetCheckpoint(ctx context.Context, threadID, namespace, checkpointID string) (*CheckpointRow, error)
	// ListCheckpoints returns checkpoints newest first, skipping beforeID.
	// A limit of zero or less means no limit.
	ListCheckpoints(ctx context.Context, threadID, namespace string, limit int, beforeID string) ([]*CheckpointRow, error)
	// CheckpointExists reports whether the checkpoint is live.
	CheckpointExists(ctx context.Context, threadID, namespace, checkpointID string) (bool, error)
	// InsertWrite appends to the write log.
	InsertWrite(ctx context.Context, row *WriteRow) error
	// ListWrites returns the writes of a checkpoint by idx, then insertion order.
	ListWrites(ctx context.Context, threadID, namespace, checkpointID string) ([]*WriteRow, error)
	// SoftDeleteThread retires every checkpoint and write of the thread in
	// all namespaces.
	SoftDeleteThread(ctx context.Context, threadID string) error
	// Close releases the repository.
	Close() error
}

// storedCheckpoint is the encoded form kept in CheckpointRow.State.
type storedCheckpoint struct {
	Version         int                         `json:"v"`
	ID              string                      `json:"id"`
	Timestamp       time.Time                   `json:"ts"`
	ChannelValues   map[string]codec.Value      `json:"channel_values"`
	ChannelVersions map[string]int64            `json:"channel_versions,omitempty"`
	VersionsSeen    map[string]map[string]int64 `json:"versions_seen,omitempty"`
	ParentLinks     map[string]string           `json:"parent_links,omitempty"`
}
