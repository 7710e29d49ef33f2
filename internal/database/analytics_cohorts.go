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

// cohortColumns maps a breakdown name to the materialized event column
// holding it.
var cohortColumns = map[string]string{
	"user_type":   "user_type",
	"time_period": "time_period",
}

// CohortMatrix computes the policy-by-cohort reward matrix for one
// experiment. Events without the cohort field are grouped under "unknown".
func (db *DB) CohortMatrix(ctx context.Context, experimentID, breakdown string, from, to time.Time) ([]models.CohortCell, error) {
	col, ok := cohortColumns[breakdown]
	if !ok {
		return nil, fmt.Errorf("cohort breakdown %q: %w", breakdown, models.ErrInvalidArgument)
	}

	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(policy, 'unknown'),
		       COALESCE(%s, 'unknown'),
		       COUNT(*),
		       COALESCE(AVG(reward), 0)
		FROM recommendation_events
		WHERE experiment_id = ? AND served_at >= ? AND served_at < ?
		GROUP BY 1, 2
		ORDER BY 1, 2`, col), experimentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying cohort matrix: %w", err)
	}
	defer closeRows(rows)

	var out []models.CohortCell
	for rows.Next() {
		var c models.CohortCell
		if err := rows.Scan(&c.Policy, &c.Cohort, &c.Serves, &c.MeanReward); err != nil {
			return nil, fmt.Errorf("scanning cohort cell: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
