// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banditlabs/banditd/internal/models"
)

// GuardrailWindowMetrics aggregates the raw inputs for guardrail checks
// over one experiment's rolling window. Error rate is not computed here;
// the serve path accounts for failed serves and plumbs the rate in.
func (db *DB) GuardrailWindowMetrics(ctx context.Context, experimentID, controlPolicy string, from, to time.Time) (*models.GuardrailWindowMetrics, error) {
	m := &models.GuardrailWindowMetrics{}

	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(quantile_cont(latency_ms, 0.95), 0)
		FROM recommendation_events
		WHERE experiment_id = ? AND served_at >= ? AND served_at < ?`,
		experimentID, from, to).Scan(&m.Serves, &m.LatencyP95MS)
	if err != nil {
		return nil, fmt.Errorf("querying guardrail window: %w", err)
	}

	// Most-served arm and its share of all serves in the window.
	err = db.conn.QueryRowContext(ctx, `
		SELECT arm_id, CAST(COUNT(*) AS DOUBLE) / ?
		FROM recommendation_events
		WHERE experiment_id = ? AND arm_id IS NOT NULL
		  AND served_at >= ? AND served_at < ?
		GROUP BY arm_id ORDER BY COUNT(*) DESC LIMIT 1`,
		max64(m.Serves, 1), experimentID, from, to).Scan(&m.TopArm, &m.TopArmShare)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying arm concentration: %w", err)
	}

	// Reward means split control vs everything else.
	err = db.conn.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(CASE WHEN policy = ? THEN reward END), 0),
		       COUNT(CASE WHEN policy = ? THEN reward END),
		       COALESCE(AVG(CASE WHEN policy != ? THEN reward END), 0),
		       COUNT(CASE WHEN policy != ? THEN reward END)
		FROM recommendation_events
		WHERE experiment_id = ? AND reward IS NOT NULL
		  AND served_at >= ? AND served_at < ?`,
		controlPolicy, controlPolicy, controlPolicy, controlPolicy,
		experimentID, from, to).
		Scan(&m.ControlMeanReward, &m.ControlSamples,
			&m.ExperimentMeanReward, &m.ExperimentSamples)
	if err != nil {
		return nil, fmt.Errorf("querying reward split: %w", err)
	}

	return m, nil
}

// PolicyEventCounts counts rewarded events per policy within a window,
// used by the decision engine's sufficiency gate.
func (db *DB) PolicyEventCounts(ctx context.Context, experimentID string, from, to time.Time) (map[string]int64, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT policy, COUNT(*)
		FROM recommendation_events
		WHERE experiment_id = ? AND policy IS NOT NULL AND reward IS NOT NULL
		  AND served_at >= ? AND served_at < ?
		GROUP BY policy`, experimentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("counting policy events: %w", err)
	}
	defer closeRows(rows)

	out := make(map[string]int64)
	for rows.Next() {
		var policy string
		var n int64
		if err := rows.Scan(&policy, &n); err != nil {
			return nil, fmt.Errorf("scanning policy count: %w", err)
		}
		out[policy] = n
	}
	return out, rows.Err()
}

// PolicyRewards draws up to limit rewards for one policy in a window,
// newest first, for the decision engine's t-test.
func (db *DB) PolicyRewards(ctx context.Context, experimentID, policy string, from, to time.Time, limit int) ([]float64, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT reward FROM recommendation_events
		WHERE experiment_id = ? AND policy = ? AND reward IS NOT NULL
		  AND served_at >= ? AND served_at < ?
		ORDER BY served_at DESC LIMIT ?`,
		experimentID, policy, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching policy rewards: %w", err)
	}
	defer closeRows(rows)

	var out []float64
	for rows.Next() {
		var r float64
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("scanning reward: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
