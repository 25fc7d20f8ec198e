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
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"trpc.group/trpc-go/trpc-agent-checkpoint/codec"
	itelemetry "trpc.group/trpc-go/trpc-agent-checkpoint/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-checkpoint/log"
	"trpc.group/trpc-go/trpc-agent-checkpoint/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-checkpoint/telemetry/trace"
)

// Saver stores checkpoints and write logs in a Repository. With a
// conversation store configured, PutWrites also derives conversation
// messages from the writes and drives compaction.
type Saver struct {
	repo Repository
	opts options
}

// NewSaver creates a saver over repo.
func NewSaver(repo Repository, opts ...Option) (*Saver, error) {
	if repo == nil {
		return nil, errors.New("checkpoint: repository is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Saver{repo: repo, opts: o}, nil
}

// GetTuple returns the addressed checkpoint with its pending writes, or the
// latest checkpoint of the namespace when cfg has no checkpoint id. It
// returns nil, nil when there is none.
func (s *Saver) GetTuple(ctx context.Context, cfg Config) (*Tuple, error) {
	if cfg.ThreadID == "" {
		return nil, ErrThreadIDRequired
	}
	cfg = cfg.normalized()
	row, err := s.repo.GetCheckpoint(ctx, cfg.ThreadID, cfg.Namespace, cfg.CheckpointID)
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	tuple, err := s.buildTuple(ctx, row)
	if err != nil {
		return nil, err
	}
	writes, err := s.repo.ListWrites(ctx, row.ThreadID, row.Namespace, row.CheckpointID)
	if err != nil {
		return nil, fmt.Errorf("list writes: %w", err)
	}
	tuple.PendingWrites = make([]PendingWrite, 0, len(writes))
	for _, w := range writes {
		tuple.PendingWrites = append(tuple.PendingWrites, PendingWrite{
			TaskID:  w.TaskID,
			Channel: w.Channel,
			Value:   s.decode(ctx, w.Value),
		})
	}
	return tuple, nil
}

// ListOption configures List.
type ListOption func(*listOptions)

type listOptions struct {
	limit    int
	before   string
	metadata map[string]any
}

// WithLimit caps the number of checkpoints returned. Values below 1 use
// DefaultListLimit.
func WithLimit(limit int) ListOption {
	return func(o *listOptions) {
		if limit > 0 {
			o.limit = limit
		}
	}
}

// WithBefore skips the checkpoint with this id. It does not restrict the
// result to older checkpoints.
func WithBefore(checkpointID string) ListOption {
	return func(o *listOptions) {
		o.before = checkpointID
	}
}

// WithMetadataFilter keeps checkpoints whose Metadata.Extra has key set to
// value.
func WithMetadataFilter(key string, value any) ListOption {
	return func(o *listOptions) {
		if o.metadata == nil {
			o.metadata = make(map[string]any)
		}
		o.metadata[key] = value
	}
}

// List yields the checkpoints of a namespace newest first, without pending
// writes. Every iteration of the returned sequence queries the repository
// again. An error ends the sequence.
func (s *Saver) List(ctx context.Context, cfg Config, opts ...ListOption) iter.Seq2[*Tuple, error] {
	lo := listOptions{limit: DefaultListLimit}
	for _, opt := range opts {
		opt(&lo)
	}
	return func(yield func(*Tuple, error) bool) {
		if cfg.ThreadID == "" {
			yield(nil, ErrThreadIDRequired)
			return
		}
		cfg := cfg.normalized()
		queryLimit := lo.limit
		if len(lo.metadata) > 0 {
			// Filtering happens after the query, so the limit applies later.
			queryLimit = 0
		}
		rows, err := s.repo.ListCheckpoints(ctx, cfg.ThreadID, cfg.Namespace, queryLimit, lo.before)
		if err != nil {
			yield(nil, fmt.Errorf("list checkpoints: %w", err))
			return
		}
		n := 0
		for _, row := range rows {
			if n >= lo.limit {
				return
			}
			tuple, err := s.buildTuple(ctx, row)
			if err != nil {
				yield(nil, err)
				return
			}
			if !matchesMetadata(tuple.Metadata, lo.metadata) {
				continue
			}
			n++
			if !yield(tuple, nil) {
				return
			}
		}
	}
}

// Put encodes and inserts a new checkpoint and returns its address.
// Existing checkpoints are never updated.
func (s *Saver) Put(ctx context.Context, req PutRequest) (Config, error) {
	if req.Config.ThreadID == "" {
		return Config{}, ErrThreadIDRequired
	}
	if req.Checkpoint == nil {
		return Config{}, ErrCheckpointRequired
	}
	cfg := req.Config.normalized()
	id := req.Checkpoint.ID
	if id == "" {
		id = req.FallbackID
	}
	if id == "" {
		id = uuid.New().String()
	}
	cfg.CheckpointID = id

	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNamePut)
	defer span.End()
	span.SetAttributes(itelemetry.CheckpointAttributes(cfg.ThreadID, cfg.Namespace, id)...)

	row, err := s.encodeCheckpoint(cfg, req.Checkpoint, req.Metadata)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Config{}, err
	}
	if err := s.repo.InsertCheckpoint(ctx, row); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Config{}, fmt.Errorf("insert checkpoint %s: %w", id, err)
	}
	log.Debugf("checkpoint: put %s/%s/%s", cfg.ThreadID, cfg.Namespace, id)
	return cfg, nil
}

// PutWrites appends the writes of one task to the write log of an existing
// checkpoint. Each write runs through the pipeline in order, and the first
// failure stops the call with a *StageError. Writes that completed before
// the failure stay committed.
func (s *Saver) PutWrites(ctx context.Context, req PutWritesRequest) error {
	cfg := req.Config.normalized()
	switch {
	case cfg.ThreadID == "":
		return ErrThreadIDRequired
	case cfg.CheckpointID == "":
		return ErrCheckpointIDRequired
	case req.TaskID == "":
		return ErrTaskIDRequired
	}
	ok, err := s.repo.CheckpointExists(ctx, cfg.ThreadID, cfg.Namespace, cfg.CheckpointID)
	if err != nil {
		return fmt.Errorf("check checkpoint: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s/%s", ErrCheckpointNotFound, cfg.ThreadID, cfg.Namespace, cfg.CheckpointID)
	}

	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNamePutWrites)
	defer span.End()
	span.SetAttributes(itelemetry.CheckpointAttributes(cfg.ThreadID, cfg.Namespace, cfg.CheckpointID)...)
	span.SetAttributes(attribute.String(itelemetry.KeyTaskID, req.TaskID))

	p := &pipeline{saver: s, cfg: cfg, taskID: req.TaskID, sessionID: s.opts.resolveSession(cfg.ThreadID)}
	for idx, w := range req.Writes {
		if err := p.run(ctx, idx, w); err != nil {
			var stageErr *StageError
			if errors.As(err, &stageErr) {
				span.SetAttributes(attribute.String(itelemetry.KeyStage, string(stageErr.Stage)))
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	metric.Add(ctx, itelemetry.MetricWrites, int64(len(req.Writes)),
		attribute.String(itelemetry.KeyNamespace, cfg.Namespace))
	return nil
}

// DeleteThread soft deletes every checkpoint and write of the thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return ErrThreadIDRequired
	}
	if err := s.repo.SoftDeleteThread(ctx, threadID); err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, err)
	}
	log.Infof("checkpoint: deleted thread %s", threadID)
	return nil
}

// Close closes the repository.
func (s *Saver) Close() error {
	return s.repo.Close()
}

func (s *Saver) encodeCheckpoint(cfg Config, ckpt *Checkpoint, md *Metadata) (*CheckpointRow, error) {
	stored := storedCheckpoint{
		Version:         ckpt.Version,
		ID:              cfg.CheckpointID,
		Timestamp:       ckpt.Timestamp,
		ChannelValues:   make(map[string]codec.Value, len(ckpt.ChannelValues)),
		ChannelVersions: ckpt.ChannelVersions,
		VersionsSeen:    ckpt.VersionsSeen,
		ParentLinks:     ckpt.ParentLinks,
	}
	if stored.Version == 0 {
		stored.Version = Version
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}
	for ch, v := range ckpt.ChannelValues {
		ev, err := s.opts.codec.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("encode channel %s: %w", ch, err)
		}
		stored.ChannelValues[ch] = ev
	}
	state, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	if md == nil {
		md = &Metadata{Source: SourceUpdate}
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return &CheckpointRow{
		ThreadID:           cfg.ThreadID,
		Namespace:          cfg.Namespace,
		CheckpointID:       cfg.CheckpointID,
		ParentCheckpointID: md.Parents[cfg.Namespace],
		State:              state,
		Metadata:           mdJSON,
		CreatedAt:          time.Now().UTC(),
	}, nil
}

func (s *Saver) buildTuple(ctx context.Context, row *CheckpointRow) (*Tuple, error) {
	var stored storedCheckpoint
	if err := json.Unmarshal(row.State, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint %s: %w", row.CheckpointID, err)
	}
	md := &Metadata{}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, md); err != nil {
			return nil, fmt.Errorf("unmarshal metadata %s: %w", row.CheckpointID, err)
		}
	}
	ckpt := &Checkpoint{
		Version:         stored.Version,
		ID:              row.CheckpointID,
		Timestamp:       stored.Timestamp,
		ChannelValues:   make(map[string]any, len(stored.ChannelValues)),
		ChannelVersions: stored.ChannelVersions,
		VersionsSeen:    stored.VersionsSeen,
		ParentLinks:     stored.ParentLinks,
	}
	for ch, v := range stored.ChannelValues {
		ckpt.ChannelValues[ch] = s.decode(ctx, v)
	}
	tuple := &Tuple{
		Config:     Config{ThreadID: row.ThreadID, Namespace: row.Namespace, CheckpointID: row.CheckpointID},
		Checkpoint: ckpt,
		Metadata:   md,
	}
	if row.ParentCheckpointID != "" {
		tuple.ParentConfig = &Config{
			ThreadID:     row.ThreadID,
			Namespace:    row.Namespace,
			CheckpointID: row.ParentCheckpointID,
		}
	}
	return tuple, nil
}

// decode never fails: a value that cannot be decoded is returned as its
// raw payload text.
func (s *Saver) decode(ctx context.Context, v codec.Value) any {
	out, err := s.opts.codec.Decode(v)
	if err != nil {
		log.Warnf("checkpoint: decode %s value: %v", v.Kind, err)
		metric.Add(ctx, itelemetry.MetricDecodeErrors, 1)
		return v.Payload
	}
	return out
}

func matchesMetadata(md *Metadata, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	if md == nil || md.Extra == nil {
		return false
	}
	for k, want := range filter {
		got, ok := md.Extra[k]
		if !ok || !equalJSON(got, want) {
			return false
		}
	}
	return true
}

// equalJSON compares values after a JSON round trip, so 1 matches 1.0.
func equalJSON(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
