//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package checkpoint persists graph checkpoints and the pending writes made
// against them, and feeds those writes into a conversation log.
package checkpoint

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	// Version is the current version of the checkpoint format.
	Version = 1
	// DefaultNamespace is used when a config leaves the namespace empty.
	DefaultNamespace = "default"
	// DefaultListLimit caps List when no limit is given.
	DefaultListLimit = 50

	// SourceInput indicates the checkpoint was created from input.
	SourceInput = "input"
	// SourceLoop indicates the checkpoint was created from inside the loop.
	SourceLoop = "loop"
	// SourceUpdate indicates the checkpoint was created from a manual update.
	SourceUpdate = "update"
	// SourceFork indicates the checkpoint was created as a copy.
	SourceFork = "fork"
)

var (
	// ErrThreadIDRequired is returned when a config has no thread id.
	ErrThreadIDRequired = errors.New("checkpoint: thread id is required")
	// ErrCheckpointIDRequired is returned by PutWrites without a checkpoint id.
	ErrCheckpointIDRequired = errors.New("checkpoint: checkpoint id is required")
	// ErrCheckpointNotFound is returned by PutWrites when the checkpoint
	// does not exist.
	ErrCheckpointNotFound = errors.New("checkpoint: checkpoint not found")
	// ErrCheckpointRequired is returned by Put without a checkpoint.
	ErrCheckpointRequired = errors.New("checkpoint: checkpoint is required")
	// ErrTaskIDRequired is returned by PutWrites without a task id.
	ErrTaskIDRequired = errors.New("checkpoint: task id is required")
	// ErrDuplicateCheckpoint is returned by repositories when a live
	// checkpoint with the same id already exists.
	ErrDuplicateCheckpoint = errors.New("checkpoint: duplicate checkpoint")
)

// Checkpoint is a snapshot of graph state at a step boundary.
type Checkpoint struct {
	// Version is the version of the checkpoint format.
	Version int `json:"v"`
	// ID is the unique identifier for this checkpoint.
	ID string `json:"id"`
	// Timestamp is when the checkpoint was created.
	Timestamp time.Time `json:"ts"`
	// ChannelValues contains the values of channels at checkpoint time.
	ChannelValues map[string]any `json:"channel_values"`
	// ChannelVersions contains the versions of channels at checkpoint time.
	ChannelVersions map[string]int64 `json:"channel_versions"`
	// VersionsSeen tracks which versions each node has seen.
	VersionsSeen map[string]map[string]int64 `json:"versions_seen"`
	// ParentLinks maps channels to the checkpoint they were carried over from.
	ParentLinks map[string]string `json:"parent_links,omitempty"`
}

// NewCheckpoint creates a checkpoint with a fresh id.
func NewCheckpoint(
	channelValues map[string]any,
	channelVersions map[string]int64,
	versionsSeen map[string]map[string]int64,
) *Checkpoint {
	if channelValues == nil {
		channelValues = make(map[string]any)
	}
	if channelVersions == nil {
		channelVersions = make(map[string]int64)
	}
	if versionsSeen == nil {
		versionsSeen = make(map[string]map[string]int64)
	}
	return &Checkpoint{
		Version:         Version,
		ID:              uuid.New().String(),
		Timestamp:       time.Now().UTC(),
		ChannelValues:   channelValues,
		ChannelVersions: channelVersions,
		VersionsSeen:    versionsSeen,
	}
}

// Metadata describes how a checkpoint was produced. It is stored verbatim.
type Metadata struct {
	// Source indicates how the checkpoint was created.
	Source string `json:"source"`
	// Step is the step number (-1 for input, 0+ for loop steps).
	Step int `json:"step"`
	// Parents maps namespaces to parent checkpoint ids.
	Parents map[string]string `json:"parents,omitempty"`
	// Extra holds caller defined fields.
	Extra map[string]any `json:"extra,omitempty"`
}

// Config addresses a thread, a namespace within it and optionally one
// checkpoint.
type Config struct {
	ThreadID     string `json:"thread_id"`
	Namespace    string `json:"checkpoint_ns"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// NewConfig creates a config for the default namespace of threadID.
func NewConfig(threadID string) Config {
	return Config{ThreadID: threadID, Namespace: DefaultNamespace}
}

// WithNamespace returns a copy of c with the namespace set.
func (c Config) WithNamespace(namespace string) Config {
	c.Namespace = namespace
	return c
}

// WithCheckpointID returns a copy of c addressing checkpointID.
func (c Config) WithCheckpointID(checkpointID string) Config {
	c.CheckpointID = checkpointID
	return c
}

// normalized fills the default namespace.
func (c Config) normalized() Config {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	return c
}

// Tuple is a checkpoint with its address, metadata and pending writes.
type Tuple struct {
	Config        Config         `json:"config"`
	Checkpoint    *Checkpoint    `json:"checkpoint"`
	Metadata      *Metadata      `json:"metadata"`
	ParentConfig  *Config        `json:"parent_config,omitempty"`
	PendingWrites []PendingWrite `json:"pending_writes,omitempty"`
}

// PendingWrite is a write read back from the write log.
type PendingWrite struct {
	TaskID  string `json:"task_id"`
	Channel string `json:"channel"`
	Value   any    `json:"value"`
}

// Write is one channel value emitted by a task.
type Write struct {
	Channel string
	Value   any
}

// PutRequest contains all data needed to store a checkpoint.
type PutRequest struct {
	Config     Config
	Checkpoint *Checkpoint
	Metadata   *Metadata
	// FallbackID is used when Checkpoint.ID is empty.
	FallbackID string
}

// PutWritesRequest contains the writes one task made against a checkpoint.
type PutWritesRequest struct {
	// Config must carry the checkpoint id.
	Config Config
	TaskID string
	Writes []Write
}
