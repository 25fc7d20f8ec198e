//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlstore provides checkpoint and round summary storage on top of
// a relational database reached through sqldb.Client.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-checkpoint/storage/sqldb"
)

const (
	tableCheckpoints = "checkpoints"
	tableWrites      = "checkpoint_writes"
	tableRounds      = "round_summaries"
)

// schema lists the DDL of one dialect. %s is replaced by the auto increment
// primary key column definition.
var schema = []string{
	"CREATE TABLE IF NOT EXISTS " + tableCheckpoints + " (" +
		"seq %s, " +
		"thread_id TEXT NOT NULL, " +
		"checkpoint_ns TEXT NOT NULL, " +
		"checkpoint_id TEXT NOT NULL, " +
		"parent_checkpoint_id TEXT NOT NULL DEFAULT '', " +
		"checkpoint_json TEXT NOT NULL, " +
		"metadata_json TEXT NOT NULL, " +
		"ts BIGINT NOT NULL, " +
		"deleted_at BIGINT" +
		")",
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_checkpoints_live ON " + tableCheckpoints +
		" (thread_id, checkpoint_ns, checkpoint_id) WHERE deleted_at IS NULL",
	"CREATE TABLE IF NOT EXISTS " + tableWrites + " (" +
		"seq %s, " +
		"thread_id TEXT NOT NULL, " +
		"checkpoint_ns TEXT NOT NULL, " +
		"checkpoint_id TEXT NOT NULL, " +
		"task_id TEXT NOT NULL, " +
		"idx INTEGER NOT NULL, " +
		"channel TEXT NOT NULL, " +
		"value_kind TEXT NOT NULL, " +
		"value_payload TEXT NOT NULL, " +
		"ts BIGINT NOT NULL, " +
		"deleted_at BIGINT" +
		")",
	"CREATE INDEX IF NOT EXISTS idx_checkpoint_writes_ckpt ON " + tableWrites +
		" (thread_id, checkpoint_ns, checkpoint_id)",
	"CREATE TABLE IF NOT EXISTS " + tableRounds + " (" +
		"seq %s, " +
		"summary_id TEXT NOT NULL UNIQUE, " +
		"session_id TEXT NOT NULL, " +
		"round_number INTEGER NOT NULL, " +
		"content TEXT NOT NULL, " +
		"created_at BIGINT NOT NULL, " +
		"updated_at BIGINT NOT NULL" +
		")",
	"CREATE INDEX IF NOT EXISTS idx_round_summaries_session ON " + tableRounds +
		" (session_id, round_number)",
}

var primaryKeys = map[sqldb.Dialect]string{
	sqldb.DialectPostgres: "BIGSERIAL PRIMARY KEY",
	sqldb.DialectSQLite:   "INTEGER PRIMARY KEY AUTOINCREMENT",
}

// Migrate creates the tables and indexes if they do not exist yet.
func Migrate(ctx context.Context, client sqldb.Client) error {
	if client == nil {
		return errors.New("sqlstore: client is nil")
	}
	pk, ok := primaryKeys[client.Dialect()]
	if !ok {
		return fmt.Errorf("sqlstore: unsupported dialect %q", client.Dialect())
	}
	for _, stmt := range schema {
		if strings.Contains(stmt, "%s") {
			stmt = fmt.Sprintf(stmt, pk)
		}
		if _, err := client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}

const liveCondition = " AND deleted_at IS NULL"

// selectLive builds a SELECT over the rows of table that match where and are
// not soft deleted. Checkpoint and write reads are only built through it.
func selectLive(columns, table, where string) string {
	return "SELECT " + columns + " FROM " + table + " WHERE " + where + liveCondition
}

// softDelete builds the UPDATE marking live rows of table as deleted. The
// first placeholder is the deletion time.
func softDelete(table, where string) string {
	return "UPDATE " + table + " SET deleted_at = ? WHERE " + where + liveCondition
}
