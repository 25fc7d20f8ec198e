//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides a checkpoint.Repository kept in process memory.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"trpc.group/trpc-go/trpc-agent-checkpoint/checkpoint"
)

var _ checkpoint.Repository = (*Repository)(nil)

type checkpointEntry struct {
	row     checkpoint.CheckpointRow
	seq     int64
	deleted bool
}

type writeEntry struct {
	row     checkpoint.WriteRow
	seq     int64
	deleted bool
}

// Repository stores rows in slices guarded by a mutex. Soft deleted rows are
// kept but never returned.
type Repository struct {
	mu          sync.RWMutex
	seq         int64
	checkpoints []*checkpointEntry
	writes      []*writeEntry
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) nextSeq() int64 {
	r.seq++
	return r.seq
}

func (r *Repository) findLocked(threadID, namespace, checkpointID string) *checkpointEntry {
	for _, e := range r.checkpoints {
		if e.deleted {
			continue
		}
		if e.row.ThreadID == threadID && e.row.Namespace == namespace && e.row.CheckpointID == checkpointID {
			return e
		}
	}
	return nil
}

// InsertCheckpoint implements checkpoint.Repository.
func (r *Repository) InsertCheckpoint(_ context.Context, row *checkpoint.CheckpointRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findLocked(row.ThreadID, row.Namespace, row.CheckpointID) != nil {
		return fmt.Errorf("%w: %s/%s/%s", checkpoint.ErrDuplicateCheckpoint,
			row.ThreadID, row.Namespace, row.CheckpointID)
	}
	r.checkpoints = append(r.checkpoints, &checkpointEntry{row: cloneCheckpoint(*row), seq: r.nextSeq()})
	return nil
}

// GetCheckpoint implements checkpoint.Repository.
func (r *Repository) GetCheckpoint(
	_ context.Context, threadID, namespace, checkpointID string,
) (*checkpoint.CheckpointRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if checkpointID != "" {
		e := r.findLocked(threadID, namespace, checkpointID)
		if e == nil {
			return nil, nil
		}
		row := cloneCheckpoint(e.row)
		return &row, nil
	}
	var latest *checkpointEntry
	for _, e := range r.checkpoints {
		if e.deleted || e.row.ThreadID != threadID || e.row.Namespace != namespace {
			continue
		}
		if latest == nil || newer(e, latest) {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	row := cloneCheckpoint(latest.row)
	return &row, nil
}

// ListCheckpoints implements checkpoint.Repository.
func (r *Repository) ListCheckpoints(
	_ context.Context, threadID, namespace string, limit int, beforeID string,
) ([]*checkpoint.CheckpointRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var live []*checkpointEntry
	for _, e := range r.checkpoints {
		if e.deleted || e.row.ThreadID != threadID || e.row.Namespace != namespace {
			continue
		}
		if beforeID != "" && e.row.CheckpointID == beforeID {
			continue
		}
		live = append(live, e)
	}
	sort.SliceStable(live, func(i, j int) bool { return newer(live[i], live[j]) })
	if limit > 0 && len(live) > limit {
		live = live[:limit]
	}
	out := make([]*checkpoint.CheckpointRow, 0, len(live))
	for _, e := range live {
		row := cloneCheckpoint(e.row)
		out = append(out, &row)
	}
	return out, nil
}

// CheckpointExists implements checkpoint.Repository.
func (r *Repository) CheckpointExists(_ context.Context, threadID, namespace, checkpointID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked(threadID, namespace, checkpointID) != nil, nil
}

// InsertWrite implements checkpoint.Repository.
func (r *Repository) InsertWrite(_ context.Context, row *checkpoint.WriteRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, &writeEntry{row: *row, seq: r.nextSeq()})
	return nil
}

// ListWrites implements checkpoint.Repository.
func (r *Repository) ListWrites(
	_ context.Context, threadID, namespace, checkpointID string,
) ([]*checkpoint.WriteRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var live []*writeEntry
	for _, e := range r.writes {
		if e.deleted || e.row.ThreadID != threadID || e.row.Namespace != namespace ||
			e.row.CheckpointID != checkpointID {
			continue
		}
		live = append(live, e)
	}
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].row.Idx != live[j].row.Idx {
			return live[i].row.Idx < live[j].row.Idx
		}
		return live[i].seq < live[j].seq
	})
	out := make([]*checkpoint.WriteRow, 0, len(live))
	for _, e := range live {
		row := e.row
		out = append(out, &row)
	}
	return out, nil
}

// SoftDeleteThread implements checkpoint.Repository.
func (r *Repository) SoftDeleteThread(_ context.Context, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.checkpoints {
		if e.row.ThreadID == threadID {
			e.deleted = true
		}
	}
	for _, e := range r.writes {
		if e.row.ThreadID == threadID {
			e.deleted = true
		}
	}
	return nil
}

// Close implements checkpoint.Repository.
func (r *Repository) Close() error {
	return nil
}

// newer orders by insertion.
func newer(a, b *checkpointEntry) bool {
	return a.seq > b.seq
}

func cloneCheckpoint(row checkpoint.CheckpointRow) checkpoint.CheckpointRow {
	row.State = append([]byte(nil), row.State...)
	row.Metadata = append([]byte(nil), row.Metadata...)
	return row
}
