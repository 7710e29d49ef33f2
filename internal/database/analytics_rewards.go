// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package database

import (
	"context"
	"fmt"

	"github.com/banditlabs/banditd/internal/models"
)

// RewardStatistics aggregates the reward distribution over rewarded
// events. Empty filters widen the slice; an empty result is all zeros.
func (db *DB) RewardStatistics(ctx context.Context, experimentID, policy, armID string) (*models.RewardStatistics, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(AVG(reward), 0),
		       COALESCE(STDDEV_SAMP(reward), 0),
		       COALESCE(MIN(reward), 0),
		       COALESCE(MAX(reward), 0),
		       COALESCE(AVG(CASE WHEN reward > 0 THEN 1.0 ELSE 0.0 END), 0)
		FROM recommendation_events
		WHERE reward IS NOT NULL`
	var args []interface{}
	if experimentID != "" {
		query += " AND experiment_id = ?"
		args = append(args, experimentID)
	}
	if policy != "" {
		query += " AND policy = ?"
		args = append(args, policy)
	}
	if armID != "" {
		query += " AND arm_id = ?"
		args = append(args, armID)
	}

	var s models.RewardStatistics
	err := db.conn.QueryRowContext(ctx, query, args...).
		Scan(&s.Count, &s.Mean, &s.Std, &s.Min, &s.Max, &s.PositiveRate)
	if err != nil {
		return nil, fmt.Errorf("aggregating reward statistics: %w", err)
	}
	return &s, nil
}
