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

// ExperimentSummary computes the headline view for one experiment: traffic
// split, activity, reward means and current regret.
func (db *DB) ExperimentSummary(ctx context.Context, exp *models.Experiment, now time.Time) (*models.ExperimentSummary, error) {
	expID := exp.ID.String()
	out := &models.ExperimentSummary{
		ExperimentID: expID,
		Status:       exp.Status(now),
	}

	split, err := db.CountAssignmentsByPolicy(ctx, exp.ID)
	if err != nil {
		return nil, err
	}
	out.TrafficSplit = split

	day := now.Add(-24 * time.Hour)
	week := now.Add(-7 * 24 * time.Hour)

	err = db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT CASE WHEN served_at >= ? THEN user_id END),
		       COUNT(DISTINCT CASE WHEN served_at >= ? THEN user_id END),
		       COALESCE(AVG(CASE WHEN served_at >= ? THEN reward END), 0),
		       COALESCE(AVG(CASE WHEN served_at >= ? THEN reward END), 0)
		FROM recommendation_events WHERE experiment_id = ?`,
		day, week, day, week, expID).
		Scan(&out.TotalServes, &out.ActiveUsers24H, &out.ActiveUsers7D,
			&out.MeanReward24H, &out.MeanReward7D)
	if err != nil {
		return nil, fmt.Errorf("computing experiment summary: %w", err)
	}

	// Current regret: best per-policy 7-day mean minus the experiment-wide
	// 7-day mean. Both sides need rewarded events to be meaningful.
	var bestMean float64
	err = db.conn.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(mean_reward), 0) FROM (
			SELECT AVG(reward) AS mean_reward
			FROM recommendation_events
			WHERE experiment_id = ? AND served_at >= ? AND reward IS NOT NULL
			GROUP BY policy
		)`, expID, week).Scan(&bestMean)
	if err != nil {
		return nil, fmt.Errorf("computing best policy mean: %w", err)
	}
	if bestMean > 0 {
		out.CurrentRegret = bestMean - out.MeanReward7D
	}

	return out, nil
}
