// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/banditlabs/banditd/internal/models"
)

// armSortColumns whitelists the sortable fields of the arms surface.
var armSortColumns = map[string]string{
	"serves":       "serves",
	"reward_rate":  "reward_rate",
	"mean_latency": "mean_latency",
	"unique_users": "unique_users",
}

// ArmBreakdown aggregates per-arm performance for one experiment window,
// optionally filtered to a single policy. Regret is computed against the
// best reward rate in the result set.
func (db *DB) ArmBreakdown(ctx context.Context, experimentID, policy, sortBy string, limit int, from, to time.Time) ([]models.ArmStats, error) {
	col, ok := armSortColumns[sortBy]
	if !ok {
		if sortBy != "" {
			return nil, fmt.Errorf("sort %q: %w", sortBy, models.ErrInvalidArgument)
		}
		col = "reward_rate"
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT arm_id,
		       COUNT(*) AS serves,
		       COALESCE(AVG(reward), 0) AS reward_rate,
		       COALESCE(AVG(latency_ms), 0) AS mean_latency,
		       COUNT(DISTINCT user_id) AS unique_users
		FROM recommendation_events
		WHERE experiment_id = ? AND arm_id IS NOT NULL
		  AND served_at >= ? AND served_at < ?
		%s
		GROUP BY arm_id
		ORDER BY %s DESC
		LIMIT ?`, policyFilter(policy), col)

	args := []interface{}{experimentID, from, to}
	if policy != "" {
		args = append(args, policy)
	}
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying arm breakdown: %w", err)
	}
	defer closeRows(rows)

	var out []models.ArmStats
	best := 0.0
	for rows.Next() {
		var a models.ArmStats
		if err := rows.Scan(&a.ArmID, &a.Serves, &a.RewardRate, &a.MeanLatency, &a.UniqueUsers); err != nil {
			return nil, fmt.Errorf("scanning arm stats: %w", err)
		}
		if a.RewardRate > best {
			best = a.RewardRate
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		out[i].Regret = best - out[i].RewardRate
	}
	return out, nil
}

// policyFilter returns the optional policy predicate for event queries.
func policyFilter(policy string) string {
	if policy == "" {
		return ""
	}
	return "AND policy = ?"
}
