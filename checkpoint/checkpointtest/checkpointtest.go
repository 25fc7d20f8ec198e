//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package checkpointtest holds the behavioral tests every
// checkpoint.Repository must pass when driven through a checkpoint.Saver.
package checkpointtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-checkpoint/checkpoint"
	"trpc.group/trpc-go/trpc-agent-checkpoint/codec"
)

// Run executes the suite. newRepo must return an empty repository.
func Run(t *testing.T, newRepo func(t *testing.T) checkpoint.Repository) {
	t.Helper()
	newSaver := func(t *testing.T, opts ...checkpoint.Option) *checkpoint.Saver {
		s, err := checkpoint.NewSaver(newRepo(t), opts...)
		require.NoError(t, err)
		return s
	}

	t.Run("put and get", func(t *testing.T) { testPutAndGet(t, newSaver(t)) })
	t.Run("latest", func(t *testing.T) { testLatest(t, newSaver(t)) })
	t.Run("checkpoint id derivation", func(t *testing.T) { testIDDerivation(t, newSaver(t)) })
	t.Run("duplicate put", func(t *testing.T) { testDuplicatePut(t, newSaver(t)) })
	t.Run("parent config", func(t *testing.T) { testParentConfig(t, newSaver(t)) })
	t.Run("list", func(t *testing.T) { testList(t, newSaver(t)) })
	t.Run("list requeries", func(t *testing.T) { testListRequeries(t, newSaver(t)) })
	t.Run("list metadata filter", func(t *testing.T) { testListMetadataFilter(t, newSaver(t)) })
	t.Run("put writes", func(t *testing.T) { testPutWrites(t, newSaver(t)) })
	t.Run("put writes missing checkpoint", func(t *testing.T) { testPutWritesMissing(t, newSaver(t)) })
	t.Run("delete thread", func(t *testing.T) { testDeleteThread(t, newSaver(t)) })
	t.Run("msgpack values", func(t *testing.T) {
		testMsgpack(t, newSaver(t, checkpoint.WithCodec(codec.New(codec.WithKind(codec.KindMsgpack)))))
	})
}

func put(t *testing.T, s *checkpoint.Saver, cfg checkpoint.Config, id string, values map[string]any) checkpoint.Config {
	t.Helper()
	ckpt := checkpoint.NewCheckpoint(values, nil, nil)
	ckpt.ID = id
	out, err := s.Put(context.Background(), checkpoint.PutRequest{
		Config:     cfg,
		Checkpoint: ckpt,
		Metadata:   &checkpoint.Metadata{Source: checkpoint.SourceLoop},
	})
	require.NoError(t, err)
	return out
}

func ids(t *testing.T, s *checkpoint.Saver, cfg checkpoint.Config, opts ...checkpoint.ListOption) []string {
	t.Helper()
	var out []string
	for tuple, err := range s.List(context.Background(), cfg, opts...) {
		require.NoError(t, err)
		out = append(out, tuple.Config.CheckpointID)
	}
	return out
}

func testPutAndGet(t *testing.T, s *checkpoint.Saver) {
	ctx := context.Background()
	cfg := put(t, s, checkpoint.Config{ThreadID: "t1"}, "c1", map[string]any{
		"messages": []any{"hi"},
		"counter":  int64(1),
	})
	assert.Equal(t, checkpoint.Config{ThreadID: "t1", Namespace: "default", CheckpointID: "c1"}, cfg)

	got, err := s.GetTuple(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cfg, got.Config)
	assert.Equal(t, "c1", got.Checkpoint.ID)
	assert.Equal(t, []any{"hi"}, got.Checkpoint.ChannelValues["messages"])
	assert.Equal(t, int64(1), got.Checkpoint.ChannelValues["counter"])
	assert.Equal(t, checkpoint.SourceLoop, got.Metadata.Source)
	assert.Nil(t, got.ParentConfig)
	assert.Empty(t, got.PendingWrites)

	missing, err := s.GetTuple(ctx, cfg.WithCheckpointID("nope"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	other, err := s.GetTuple(ctx, checkpoint.NewConfig("t1").WithNamespace("other"))
	require.NoError(t, err)
	assert.Nil(t, other)

	_, err = s.GetTuple(ctx, checkpoint.Config{})
	assert.ErrorIs(t, err, checkpoint.ErrThreadIDRequired)
}

func testLatest(t *testing.T, s *checkpoint.Saver) {
	ctx := context.Background()
	cfg := checkpoint.NewConfig("t1")
	for _, id := range []string{"c1", "c2", "c3"} {
		put(t, s, cfg, id, nil)
	}
	got, err := s.GetTuple(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "c3", got.Config.CheckpointID)

	empty, err := s.GetTuple(ctx, checkpoint.NewConfig("t2"))
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func testIDDerivation(t *testing.T, s *checkpoint.Saver) {
	ctx := context.Background()
	cfg := checkpoint.NewConfig("t1")

	ckpt := checkpoint.NewCheckpoint(nil, nil, nil)
	ckpt.ID = ""
	out, err := s.Put(ctx, checkpoint.PutRequest{Config: cfg, Checkpoint: ckpt, FallbackID: "fallback"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out.CheckpointID)

	ckpt = checkpoint.NewCheckpoint(nil, nil, nil)
	ckpt.ID = ""
	out, err = s.Put(ctx, checkpoint.PutRequest{Config: cfg, Checkpoint: ckpt})
	require.NoError(t, err)
	assert.Len(t, out.CheckpointID, 36)

	ckpt = checkpoint.NewCheckpoint(nil, nil, nil)
	ckpt.ID = "own"
	out, err = s.Put(ctx, checkpoint.PutRequest{Config: cfg, Checkpoint: ckpt, FallbackID: "fallback"})
	require.NoError(t, err)
	assert.Equal(t, "own", out.CheckpointID)

	_, err = s.Put(ctx, checkpoint.PutRequest{Config: checkpoint.Config{}, Checkpoint: ckpt})
	assert.ErrorIs(t, err, checkpoint.ErrThreadIDRequired)
	_, err = s.Put(ctx, checkpoint.PutRequest{Config: cfg})
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointRequired)
}

func testDuplicatePut(t *testing.T, s *checkpoint.Saver) {
	cfg := checkpoint.NewConfig("t1")
	put(t, s, cfg, "c1", map[string]any{"v": "first"})

	ckpt := checkpoint.NewCheckpoint(map[string]any{"v": "second"}, nil, nil)
	ckpt.ID = "c1"
	_, err := s.Put(context.Background(), checkpoint.PutRequest{Config: cfg, Checkpoint: ckpt})
	require.Error(t, err)
	assert.True(t, errors.Is(err, checkpoint.ErrDuplicateCheckpoint), err.Error())

	got, err := s.GetTuple(context.Background(), cfg.WithCheckpointID("c1"))
	require.NoError(t, err)
	assert.Equal(t, "first", got.Checkpoint.ChannelValues["v"])

	// Same id in another namespace is a different checkpoint.
	put(t, s, cfg.WithNamespace("sub"), "c1", nil)
}

func testParentConfig(t *testing.T, s *checkpoint.Saver) {
	ctx := context.Background()
	cfg := checkpoint.NewConfig("t1")
	put(t, s, cfg, "c1", nil)

	ckpt := checkpoint.NewCheckpoint(nil, nil, nil)
	ckpt.ID = "c2"
	_, err := s.Put(ctx, checkpoint.PutRequest{
		Config:     cfg,
		Checkpoint: ckpt,
		Metadata: &checkpoint.Metadata{
			Source:  checkpoint.SourceLoop,
			Step:    1,
			Parents: map[string]string{"default": "c1"},
		},
	})
	require.NoError(t, err)

	got, err := s.GetTuple(ctx, cfg.WithCheckpointID("c2"))
	require.NoError(t, err)
	require.NotNil(t, got.ParentConfig)
	assert.Equal(t, checkpoint.Config{ThreadID: "t1", Namespace: "default", CheckpointID: "c1"}, *got.ParentConfig)
	assert.Equal(t, 1, got.Metadata.Step)
}

func testList(t *testing.T, s *checkpoint.Saver) {
	cfg := checkpoint.NewConfig("t1")
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		put(t, s, cfg, id, nil)
	}
	put(t, s, cfg.WithNamespace("other"), "x1", nil)

	assert.Equal(t, []string{"c4", "c3", "c2", "c1"}, ids(t, s, cfg))
	assert.Equal(t, []string{"c4", "c3"}, ids(t, s, cfg, checkpoint.WithLimit(2)))
	// before skips exactly one checkpoint, newer ones included.
	assert.Equal(t, []string{"c4", "c2", "c1"}, ids(t, s, cfg, checkpoint.WithBefore("c3")))
	assert.Equal(t, []string{"c4", "c2"}, ids(t, s, cfg, checkpoint.WithBefore("c3"), checkpoint.WithLimit(2)))
	assert.Equal(t, []string{"x1"}, ids(t, s, checkpoint.Config{ThreadID: "t1", Namespace: "other"}))
	assert.Empty(t, ids(t, s, checkpoint.NewConfig("t2")))

	for tuple, err := range s.List(context.Background(), cfg) {
		require.NoError(t, err)
		assert.Empty(t, tuple.PendingWrites)
	}

	var gotErr error
	for _, err := range s.List(context.Background(), checkpoint.Config{}) {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, checkpoint.ErrThreadIDRequired)
}

func testListRequeries(t *testing.T, s *checkpoint.Saver) {
	cfg := checkpoint.NewConfig("t1")
	put(t, s, cfg, "c1", nil)
	seq := s.List(context.Background(), cfg)

	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}
	assert.Equal(t, 1, count())
	put(t, s, cfg, "c2", nil)
	assert.Equal(t, 2, count())
}

func testListMetadataFilter(t *testing.T, s *checkpoint.Saver) {
	ctx := context.Background()
	cfg := checkpoint.NewConfig("t1")
	nodes := []string{"a", "b", "a"}
	for i, id := range []string{"c1", "c2", "c3"} {
		ckpt := checkpoint.NewCheckpoint(nil, nil, nil)
		ckpt.ID = id
		_, err := s.Put(ctx, checkpoint.PutRequest{
			Config:     cfg,
			Checkpoint: ckpt,
			Metadata: &checkpoint.Metadata{
				Source: checkpoint.SourceLoop,
				Step:   i,
				Extra:  map[string]any{"node": nodes[i], "step": i},
			},
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"c3", "c1"}, ids(t, s, cfg, checkpoint.WithMetadataFilter("node", "a")))
	assert.Equal(t, []string{"c3"}, ids(t, s, cfg, checkpoint.WithMetadataFilter("node", "a"), checkpoint.WithLimit(1)))
	assert.Equal(t, []string{"c2"}, ids(t, s, cfg, checkpoint.WithMetadataFilter("step", 1)))
	assert.Empty(t, ids(t, s, cfg, checkpoint.WithMetadataFilter("missing", "x")))
}

func testPutWrites(t *testing.T, s *checkpoint.Saver) {
	ctx := context.Background()
	cfg := put(t, s, checkpoint.NewConfig("t1"), "c1", nil)

	require.NoError(t, s.PutWrites(ctx, checkpoint.PutWritesRequest{
		Config: cfg,
		TaskID: "task-1",
		Writes: []checkpoint.Write{
			{Channel: "a", Value: "first"},
			{Channel: "b", Value: map[string]any{"k": int64(2)}},
		},
	}))
	require.NoError(t, s.PutWrites(ctx, checkpoint.PutWritesRequest{
		Config: cfg,
		TaskID: "task-2",
		Writes: []checkpoint.Write{{Channel: "c", Value: true}},
	}))

	got, err := s.GetTuple(ctx, cfg)
	require.NoError(t, err)
	require.Len(t, got.PendingWrites, 3)
	assert.Equal(t, checkpoint.PendingWrite{TaskID: "task-1", Channel: "a", Value: "first"}, got.PendingWrites[0])
	assert.Equal(t, checkpoint.PendingWrite{TaskID: "task-2", Channel: "c", Value: true}, got.PendingWrites[1])
	assert.Equal(t, checkpoint.PendingWrite{
		TaskID: "task-1", Channel: "b", Value: map[string]any{"k": int64(2)},
	}, got.PendingWrites[2])

	err = s.PutWrites(ctx, checkpoint.PutWritesRequest{Config: cfg})
	assert.ErrorIs(t, err, checkpoint.ErrTaskIDRequired)
	err = s.PutWrites(ctx, checkpoint.PutWritesRequest{Config: checkpoint.NewConfig("t1"), TaskID: "x"})
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointIDRequired)
	err = s.PutWrites(ctx, checkpoint.PutWritesRequest{TaskID: "x"})
	assert.ErrorIs(t, err, checkpoint.ErrThreadIDRequired)
}

func testPutWritesMissing(t *testing.T, s *checkpoint.Saver) {
	ctx := context.Background()
	cfg := checkpoint.NewConfig("t1").WithCheckpointID("ghost")
	err := s.PutWrites(ctx, checkpoint.PutWritesRequest{
		Config: cfg,
		TaskID: "task",
		Writes: []checkpoint.Write{{Channel: "a", Value: 1}},
	})
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound)

	// A checkpoint created later with that id starts with no writes.
	put(t, s, cfg, "ghost", nil)
	got, err := s.GetTuple(ctx, cfg)
	require.NoError(t, err)
	assert.Empty(t, got.PendingWrites)
}

func testDeleteThread(t *testing.T, s *checkpoint.Saver) {
	ctx := context.Background()
	cfg := put(t, s, checkpoint.NewConfig("t1"), "c1", map[string]any{"v": "old"})
	put(t, s, checkpoint.NewConfig("t1").WithNamespace("sub"), "s1", nil)
	keep := put(t, s, checkpoint.NewConfig("t2"), "k1", nil)
	require.NoError(t, s.PutWrites(ctx, checkpoint.PutWritesRequest{
		Config: cfg, TaskID: "task", Writes: []checkpoint.Write{{Channel: "a", Value: "x"}},
	}))

	require.NoError(t, s.DeleteThread(ctx, "t1"))
	assert.ErrorIs(t, s.DeleteThread(ctx, ""), checkpoint.ErrThreadIDRequired)

	got, err := s.GetTuple(ctx, checkpoint.NewConfig("t1"))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, ids(t, s, checkpoint.NewConfig("t1")))
	assert.Empty(t, ids(t, s, checkpoint.NewConfig("t1").WithNamespace("sub")))

	err = s.PutWrites(ctx, checkpoint.PutWritesRequest{
		Config: cfg, TaskID: "task", Writes: []checkpoint.Write{{Channel: "a", Value: "y"}},
	})
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound)

	kept, err := s.GetTuple(ctx, keep)
	require.NoError(t, err)
	assert.NotNil(t, kept)

	// The thread can be reused, and the retired writes stay hidden.
	put(t, s, checkpoint.NewConfig("t1"), "c1", map[string]any{"v": "new"})
	got, err = s.GetTuple(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.Checkpoint.ChannelValues["v"])
	assert.Empty(t, got.PendingWrites)
}

func testMsgpack(t *testing.T, s *checkpoint.Saver) {
	ctx := context.Background()
	cfg := put(t, s, checkpoint.NewConfig("t1"), "c1", map[string]any{
		"payload": map[string]any{"n": 3, "tags": []string{"a", "b"}},
	})
	require.NoError(t, s.PutWrites(ctx, checkpoint.PutWritesRequest{
		Config: cfg, TaskID: "task", Writes: []checkpoint.Write{{Channel: "bin", Value: "text"}},
	}))

	got, err := s.GetTuple(ctx, cfg)
	require.NoError(t, err)
	payload, ok := got.Checkpoint.ChannelValues["payload"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, payload["n"])
	assert.Equal(t, []any{"a", "b"}, payload["tags"])
	require.Len(t, got.PendingWrites, 1)
	assert.Equal(t, "text", got.PendingWrites[0].Value)
}
