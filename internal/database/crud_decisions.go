// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banditlabs/banditd/internal/models"
)

// InsertDecision appends one row to the ship/iterate/kill audit log.
func (db *DB) InsertDecision(ctx context.Context, d *models.DecisionRecord) error {
	if d.AnalyzedAt.IsZero() {
		d.AnalyzedAt = time.Now().UTC()
	}
	recs, err := marshalJSONColumn(d.Recommendations)
	if err != nil {
		return fmt.Errorf("encoding decision recommendations: %w", err)
	}
	err = db.conn.QueryRowContext(ctx, `
		INSERT INTO decision_log (
			experiment_id, decision, confidence, window_days, best_policy,
			uplift_vs_control, significant, reasoning, recommendations, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		d.ExperimentID, d.Decision, d.Confidence, d.WindowDays, d.BestPolicy,
		d.UpliftVsControl, d.Significant, d.Reasoning, recs, d.AnalyzedAt).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("inserting decision record: %w", err)
	}
	return nil
}

// ListDecisions returns the decision history for an experiment, newest first.
func (db *DB) ListDecisions(ctx context.Context, experimentID string, limit int) ([]*models.DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, experiment_id, decision, confidence, window_days,
		       COALESCE(best_policy, ''), COALESCE(uplift_vs_control, 0),
		       significant, COALESCE(reasoning, ''), recommendations::VARCHAR, analyzed_at
		FROM decision_log
		WHERE experiment_id = ?
		ORDER BY analyzed_at DESC LIMIT ?`, experimentID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing decisions: %w", err)
	}
	defer closeRows(rows)

	var out []*models.DecisionRecord
	for rows.Next() {
		var d models.DecisionRecord
		var recs sql.NullString
		if err := rows.Scan(&d.ID, &d.ExperimentID, &d.Decision, &d.Confidence,
			&d.WindowDays, &d.BestPolicy, &d.UpliftVsControl, &d.Significant,
			&d.Reasoning, &recs, &d.AnalyzedAt); err != nil {
			return nil, fmt.Errorf("scanning decision record: %w", err)
		}
		if err := unmarshalJSONColumn(recs, &d.Recommendations); err != nil {
			return nil, fmt.Errorf("decoding decision recommendations: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
