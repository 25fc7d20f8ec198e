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

	"trpc.group/trpc-go/trpc-agent-checkpoint/summary"
)

var _ summary.RoundStore = (*Repository)(nil)

// LatestRound implements summary.RoundStore. Among summaries with the same
// round number the last inserted wins.
func (r *Repository) LatestRound(ctx context.Context, sessionID string) (*summary.RoundSummary, error) {
	q := "SELECT summary_id, session_id, round_number, content, created_at, updated_at FROM " +
		tableRounds + " WHERE session_id = ? ORDER BY round_number DESC, seq DESC LIMIT 1"
	var out *summary.RoundSummary
	err := r.client.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}
		var (
			rs               summary.RoundSummary
			created, updated int64
		)
		if err := rows.Scan(&rs.ID, &rs.SessionID, &rs.RoundNumber, &rs.Content, &created, &updated); err != nil {
			return fmt.Errorf("scan round: %w", err)
		}
		rs.CreatedAt = time.Unix(0, created).UTC()
		rs.UpdatedAt = time.Unix(0, updated).UTC()
		out = &rs
		return nil
	}, r.rebind(q), sessionID)
	if err != nil {
		return nil, fmt.Errorf("select round: %w", err)
	}
	return out, nil
}

// InsertRound implements summary.RoundStore.
func (r *Repository) InsertRound(ctx context.Context, round *summary.RoundSummary) error {
	if round == nil {
		return errors.New("sqlstore: nil round")
	}
	q := "INSERT INTO " + tableRounds +
		" (summary_id, session_id, round_number, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)"
	_, err := r.client.ExecContext(ctx, r.rebind(q), round.ID, round.SessionID, round.RoundNumber,
		round.Content, unixNano(round.CreatedAt), unixNano(round.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}
