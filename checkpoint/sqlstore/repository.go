//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-agent-checkpoint/checkpoint"
	"trpc.group/trpc-go/trpc-agent-checkpoint/codec"
	"trpc.group/trpc-go/trpc-agent-checkpoint/storage/sqldb"
)

const (
	checkpointColumns = "thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, " +
		"checkpoint_json, metadata_json, ts"
	writeColumns = "thread_id, checkpoint_ns, checkpoint_id, task_id, idx, channel, " +
		"value_kind, value_payload, ts"

	whereNamespace  = "thread_id = ? AND checkpoint_ns = ?"
	whereCheckpoint = whereNamespace + " AND checkpoint_id = ?"
)

var _ checkpoint.Repository = (*Repository)(nil)

// Option configures a Repository.
type Option func(*options)

type options struct {
	skipMigrate bool
}

// WithSkipMigrate disables schema creation in New.
func WithSkipMigrate(skip bool) Option {
	return func(o *options) {
		o.skipMigrate = skip
	}
}

// Repository implements checkpoint.Repository and summary.RoundStore.
type Repository struct {
	client sqldb.Client
}

// New creates a repository over client and migrates the schema unless
// WithSkipMigrate is set.
func New(ctx context.Context, client sqldb.Client, opts ...Option) (*Repository, error) {
	if client == nil {
		return nil, errors.New("sqlstore: client is nil")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.skipMigrate {
		if err := Migrate(ctx, client); err != nil {
			return nil, err
		}
	}
	return &Repository{client: client}, nil
}

func (r *Repository) rebind(q string) string {
	return r.client.Dialect().Rebind(q)
}

// InsertCheckpoint implements checkpoint.Repository.
func (r *Repository) InsertCheckpoint(ctx context.Context, row *checkpoint.CheckpointRow) error {
	exists := r.rebind(selectLive("1", tableCheckpoints, whereCheckpoint))
	insert := r.rebind("INSERT INTO " + tableCheckpoints + " (" + checkpointColumns +
		") VALUES (?, ?, ?, ?, ?, ?, ?)")
	return r.client.Transaction(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, exists, row.ThreadID, row.Namespace, row.CheckpointID).Scan(&one)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s/%s/%s", checkpoint.ErrDuplicateCheckpoint,
				row.ThreadID, row.Namespace, row.CheckpointID)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check checkpoint: %w", err)
		}
		_, err = tx.ExecContext(ctx, insert,
			row.ThreadID, row.Namespace, row.CheckpointID, row.ParentCheckpointID,
			string(row.State), string(row.Metadata), unixNano(row.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert checkpoint: %w", err)
		}
		return nil
	})
}

// GetCheckpoint implements checkpoint.Repository.
func (r *Repository) GetCheckpoint(
	ctx context.Context, threadID, namespace, checkpointID string,
) (*checkpoint.CheckpointRow, error) {
	var q string
	args := []any{threadID, namespace}
	if checkpointID != "" {
		q = selectLive(checkpointColumns, tableCheckpoints, whereCheckpoint)
		args = append(args, checkpointID)
	} else {
		q = selectLive(checkpointColumns, tableCheckpoints, whereNamespace) + " ORDER BY seq DESC LIMIT 1"
	}
	rows, err := r.queryCheckpoints(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// ListCheckpoints implements checkpoint.Repository.
func (r *Repository) ListCheckpoints(
	ctx context.Context, threadID, namespace string, limit int, beforeID string,
) ([]*checkpoint.CheckpointRow, error) {
	q := selectLive(checkpointColumns, tableCheckpoints, whereNamespace)
	args := []any{threadID, namespace}
	if beforeID != "" {
		q += " AND checkpoint_id <> ?"
		args = append(args, beforeID)
	}
	q += " ORDER BY seq DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	return r.queryCheckpoints(ctx, q, args...)
}

func (r *Repository) queryCheckpoints(ctx context.Context, q string, args ...any) ([]*checkpoint.CheckpointRow, error) {
	var out []*checkpoint.CheckpointRow
	err := r.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				row             checkpoint.CheckpointRow
				state, metadata string
				ts              int64
			)
			if err := rows.Scan(&row.ThreadID, &row.Namespace, &row.CheckpointID,
				&row.ParentCheckpointID, &state, &metadata, &ts); err != nil {
				return fmt.Errorf("scan checkpoint: %w", err)
			}
			row.State = []byte(state)
			row.Metadata = []byte(metadata)
			row.CreatedAt = time.Unix(0, ts).UTC()
			out = append(out, &row)
		}
		return nil
	}, r.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("select checkpoints: %w", err)
	}
	return out, nil
}

// CheckpointExists implements checkpoint.Repository.
func (r *Repository) CheckpointExists(ctx context.Context, threadID, namespace, checkpointID string) (bool, error) {
	q := selectLive("COUNT(*)", tableCheckpoints, whereCheckpoint)
	var n int
	err := r.client.Query(ctx, func(rows *sql.Rows) error {
		if rows.Next() {
			return rows.Scan(&n)
		}
		return nil
	}, r.rebind(q), threadID, namespace, checkpointID)
	if err != nil {
		return false, fmt.Errorf("count checkpoints: %w", err)
	}
	return n > 0, nil
}

// InsertWrite implements checkpoint.Repository.
func (r *Repository) InsertWrite(ctx context.Context, row *checkpoint.WriteRow) error {
	q := "INSERT INTO " + tableWrites + " (" + writeColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := r.client.ExecContext(ctx, r.rebind(q),
		row.ThreadID, row.Namespace, row.CheckpointID, row.TaskID, row.Idx, row.Channel,
		string(row.Value.Kind), row.Value.Payload, unixNano(row.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert write: %w", err)
	}
	return nil
}

// ListWrites implements checkpoint.Repository.
func (r *Repository) ListWrites(
	ctx context.Context, threadID, namespace, checkpointID string,
) ([]*checkpoint.WriteRow, error) {
	q := selectLive(writeColumns, tableWrites, whereCheckpoint) + " ORDER BY idx ASC, seq ASC"
	var out []*checkpoint.WriteRow
	err := r.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var (
				row  checkpoint.WriteRow
				kind string
				ts   int64
			)
			if err := rows.Scan(&row.ThreadID, &row.Namespace, &row.CheckpointID, &row.TaskID,
				&row.Idx, &row.Channel, &kind, &row.Value.Payload, &ts); err != nil {
				return fmt.Errorf("scan write: %w", err)
			}
			row.Value.Kind = codec.Kind(kind)
			row.CreatedAt = time.Unix(0, ts).UTC()
			out = append(out, &row)
		}
		return nil
	}, r.rebind(q), threadID, namespace, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("select writes: %w", err)
	}
	return out, nil
}

// SoftDeleteThread implements checkpoint.Repository.
func (r *Repository) SoftDeleteThread(ctx context.Context, threadID string) error {
	now := time.Now().UTC().UnixNano()
	return r.client.Transaction(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{tableCheckpoints, tableWrites} {
			q := r.rebind(softDelete(table, "thread_id = ?"))
			if _, err := tx.ExecContext(ctx, q, now, threadID); err != nil {
				return fmt.Errorf("soft delete %s: %w", table, err)
			}
		}
		return nil
	})
}

// Close closes the underlying client.
func (r *Repository) Close() error {
	return r.client.Close()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UTC().UnixNano()
	}
	return t.UnixNano()
}
