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
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-checkpoint/checkpoint"
	"trpc.group/trpc-go/trpc-agent-checkpoint/checkpoint/checkpointtest"
	"trpc.group/trpc-go/trpc-agent-checkpoint/storage/sqldb"
	"trpc.group/trpc-go/trpc-agent-checkpoint/summary"
)

func newSQLiteClient(t *testing.T) sqldb.Client {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	client := sqldb.NewClient(db, sqldb.DialectSQLite)
	t.Cleanup(func() { client.Close() })
	return client
}

func newSQLiteRepository(t *testing.T) *Repository {
	t.Helper()
	r, err := New(context.Background(), newSQLiteClient(t))
	require.NoError(t, err)
	return r
}

func TestRepository_SQLite(t *testing.T) {
	checkpointtest.Run(t, func(t *testing.T) checkpoint.Repository {
		return newSQLiteRepository(t)
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	client := newSQLiteClient(t)
	require.NoError(t, Migrate(context.Background(), client))
	require.NoError(t, Migrate(context.Background(), client))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), nil)
	require.Error(t, err)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	client := sqldb.NewClient(db, sqldb.Dialect("oracle"))
	defer client.Close()
	_, err = New(context.Background(), client)
	require.EqualError(t, err, `sqlstore: unsupported dialect "oracle"`)

	r, err := New(context.Background(), client, WithSkipMigrate(true))
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestSoftDelete_KeepsRows(t *testing.T) {
	ctx := context.Background()
	client := newSQLiteClient(t)
	r, err := New(ctx, client)
	require.NoError(t, err)

	require.NoError(t, r.InsertCheckpoint(ctx, &checkpoint.CheckpointRow{
		ThreadID: "t1", Namespace: "default", CheckpointID: "c1",
		State: []byte("{}"), Metadata: []byte("{}"), CreatedAt: time.Now(),
	}))
	require.NoError(t, r.SoftDeleteThread(ctx, "t1"))

	var total, deleted int
	err = client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			if err := rows.Scan(&total, &deleted); err != nil {
				return err
			}
		}
		return nil
	}, "SELECT COUNT(*), COUNT(deleted_at) FROM checkpoints WHERE thread_id = ?", "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, deleted)

	row, err := r.GetCheckpoint(ctx, "t1", "default", "c1")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestRoundStore_SQLite(t *testing.T) {
	ctx := context.Background()
	r := newSQLiteRepository(t)

	latest, err := r.LatestRound(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, latest)
	require.Error(t, r.InsertRound(ctx, nil))

	now := time.Now().UTC()
	for _, rs := range []summary.RoundSummary{
		{ID: "r1", SessionID: "s1", RoundNumber: 2, Content: "two", CreatedAt: now, UpdatedAt: now},
		{ID: "r2", SessionID: "s1", RoundNumber: 4, Content: "four", CreatedAt: now, UpdatedAt: now},
		{ID: "r3", SessionID: "s1", RoundNumber: 4, Content: "four again", CreatedAt: now, UpdatedAt: now},
		{ID: "r4", SessionID: "s2", RoundNumber: 9, Content: "other", CreatedAt: now, UpdatedAt: now},
	} {
		rs := rs
		require.NoError(t, r.InsertRound(ctx, &rs))
	}

	latest, err = r.LatestRound(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "r3", latest.ID)
	assert.Equal(t, 4, latest.RoundNumber)
	assert.Equal(t, "four again", latest.Content)
	assert.True(t, now.Equal(latest.CreatedAt))
}

func newPostgresMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	client := sqldb.NewClient(db, sqldb.DialectPostgres)
	t.Cleanup(func() { client.Close() })
	r, err := New(context.Background(), client, WithSkipMigrate(true))
	require.NoError(t, err)
	return r, mock
}

func TestMigrate_Postgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	client := sqldb.NewClient(db, sqldb.DialectPostgres)
	defer client.Close()

	for _, pattern := range []string{
		`CREATE TABLE IF NOT EXISTS checkpoints \(seq BIGSERIAL PRIMARY KEY, `,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_checkpoints_live .* WHERE deleted_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS checkpoint_writes \(seq BIGSERIAL PRIMARY KEY, `,
		`CREATE INDEX IF NOT EXISTS idx_checkpoint_writes_ckpt`,
		`CREATE TABLE IF NOT EXISTS round_summaries \(seq BIGSERIAL PRIMARY KEY, `,
		`CREATE INDEX IF NOT EXISTS idx_round_summaries_session`,
	} {
		mock.ExpectExec(pattern).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, Migrate(context.Background(), client))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LatestCheckpoint(t *testing.T) {
	r, mock := newPostgresMock(t)
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery("SELECT thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, " +
		"checkpoint_json, metadata_json, ts FROM checkpoints " +
		"WHERE thread_id = $1 AND checkpoint_ns = $2 AND deleted_at IS NULL ORDER BY seq DESC LIMIT 1").
		WithArgs("t1", "default").
		WillReturnRows(sqlmock.NewRows([]string{
			"thread_id", "checkpoint_ns", "checkpoint_id", "parent_checkpoint_id",
			"checkpoint_json", "metadata_json", "ts",
		}).AddRow("t1", "default", "c2", "c1", `{"id":"c2"}`, `{}`, ts.UnixNano()))

	row, err := r.GetCheckpoint(context.Background(), "t1", "default", "")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "c2", row.CheckpointID)
	assert.Equal(t, "c1", row.ParentCheckpointID)
	assert.Equal(t, `{"id":"c2"}`, string(row.State))
	assert.True(t, ts.Equal(row.CreatedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListCheckpoints(t *testing.T) {
	r, mock := newPostgresMock(t)
	mock.ExpectQuery("SELECT thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, " +
		"checkpoint_json, metadata_json, ts FROM checkpoints " +
		"WHERE thread_id = $1 AND checkpoint_ns = $2 AND deleted_at IS NULL " +
		"AND checkpoint_id <> $3 ORDER BY seq DESC LIMIT $4").
		WithArgs("t1", "default", "c3", 2).
		WillReturnRows(sqlmock.NewRows([]string{
			"thread_id", "checkpoint_ns", "checkpoint_id", "parent_checkpoint_id",
			"checkpoint_json", "metadata_json", "ts",
		}))

	rows, err := r.ListCheckpoints(context.Background(), "t1", "default", 2, "c3")
	require.NoError(t, err)
	assert.Empty(t, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SoftDeleteThread(t *testing.T) {
	r, mock := newPostgresMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE checkpoints SET deleted_at = $1 WHERE thread_id = $2 AND deleted_at IS NULL").
		WithArgs(sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE checkpoint_writes SET deleted_at = $1 WHERE thread_id = $2 AND deleted_at IS NULL").
		WithArgs(sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, r.SoftDeleteThread(context.Background(), "t1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertCheckpointConflict(t *testing.T) {
	r, mock := newPostgresMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM checkpoints " +
		"WHERE thread_id = $1 AND checkpoint_ns = $2 AND checkpoint_id = $3 AND deleted_at IS NULL").
		WithArgs("t1", "default", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	err := r.InsertCheckpoint(context.Background(), &checkpoint.CheckpointRow{
		ThreadID: "t1", Namespace: "default", CheckpointID: "c1",
	})
	assert.ErrorIs(t, err, checkpoint.ErrDuplicateCheckpoint)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRebindKeepsLiteralQuestionMarks(t *testing.T) {
	q := sqldb.DialectPostgres.Rebind(selectLive("'?'", "t", "a = ?"))
	assert.Regexp(t, regexp.MustCompile(`^SELECT '\?' FROM t WHERE a = \$1 AND deleted_at IS NULL$`), q)
}

func TestLiveQueryBuilders(t *testing.T) {
	assert.Equal(t,
		"SELECT COUNT(*) FROM checkpoints WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ? AND deleted_at IS NULL",
		selectLive("COUNT(*)", tableCheckpoints, whereCheckpoint))
	assert.Equal(t,
		"UPDATE checkpoint_writes SET deleted_at = ? WHERE thread_id = ? AND deleted_at IS NULL",
		softDelete(tableWrites, "thread_id = ?"))
}

func TestPostgres_ReadsSkipDeletedRows(t *testing.T) {
	r, mock := newPostgresMock(t)
	mock.ExpectQuery("SELECT COUNT(*) FROM checkpoints " +
		"WHERE thread_id = $1 AND checkpoint_ns = $2 AND checkpoint_id = $3 AND deleted_at IS NULL").
		WithArgs("t1", "default", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT thread_id, checkpoint_ns, checkpoint_id, task_id, idx, channel, " +
		"value_kind, value_payload, ts FROM checkpoint_writes " +
		"WHERE thread_id = $1 AND checkpoint_ns = $2 AND checkpoint_id = $3 AND deleted_at IS NULL " +
		"ORDER BY idx ASC, seq ASC").
		WithArgs("t1", "default", "c1").
		WillReturnRows(sqlmock.NewRows([]string{
			"thread_id", "checkpoint_ns", "checkpoint_id", "task_id", "idx", "channel",
			"value_kind", "value_payload", "ts",
		}))

	ok, err := r.CheckpointExists(context.Background(), "t1", "default", "c1")
	require.NoError(t, err)
	assert.False(t, ok)
	writes, err := r.ListWrites(context.Background(), "t1", "default", "c1")
	require.NoError(t, err)
	assert.Empty(t, writes)
	require.NoError(t, mock.ExpectationsWereMet())
}
