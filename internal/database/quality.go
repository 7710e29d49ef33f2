// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package database

import (
	"context"
	"fmt"
)

// QualityCheck is one named invariant over the event log with its
// violation count. Zero violations means the check passes.
type QualityCheck struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Violations  int64  `json:"violations"`
}

// qualityChecks are the range and referential invariants every
// recommendation_events row must satisfy. Each predicate counts rows
// that BREAK the invariant.
var qualityChecks = []struct {
	name        string
	description string
	predicate   string
}{
	{
		name:        "reward_range",
		description: "reward must be within [0,1] when set",
		predicate:   "reward IS NOT NULL AND (reward < 0 OR reward > 1)",
	},
	{
		name:        "p_score_range",
		description: "propensity must be within (0,1] when set",
		predicate:   "p_score IS NOT NULL AND (p_score <= 0 OR p_score > 1)",
	},
	{
		name:        "latency_nonnegative",
		description: "latency_ms must not be negative",
		predicate:   "latency_ms IS NOT NULL AND latency_ms < 0",
	},
	{
		name:        "position_nonnegative",
		description: "position must not be negative",
		predicate:   "position < 0",
	},
	{
		name:        "user_id_positive",
		description: "user_id must be positive",
		predicate:   "user_id <= 0",
	},
	{
		name:        "served_at_not_future",
		description: "served_at must not be in the future",
		predicate:   "served_at > now() + INTERVAL 5 MINUTE",
	},
	{
		name:        "rating_range",
		description: "rating_value must be within [0.5,5] when set",
		predicate:   "rating_value IS NOT NULL AND (rating_value < 0.5 OR rating_value > 5)",
	},
	{
		name:        "experiment_rows_complete",
		description: "experiment events must carry policy and arm_id",
		predicate:   "experiment_id IS NOT NULL AND (policy IS NULL OR arm_id IS NULL)",
	},
}

// DataQualityReport counts violations of each event-log invariant,
// optionally restricted to one experiment.
func (db *DB) DataQualityReport(ctx context.Context, experimentID string) ([]QualityCheck, error) {
	report := make([]QualityCheck, 0, len(qualityChecks))
	for _, check := range qualityChecks {
		query := "SELECT COUNT(*) FROM recommendation_events WHERE " + check.predicate
		args := []interface{}{}
		if experimentID != "" {
			query += " AND experiment_id = ?"
			args = append(args, experimentID)
		}

		var n int64
		if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
			return nil, fmt.Errorf("quality check %s: %w", check.name, err)
		}
		report = append(report, QualityCheck{
			Name:        check.name,
			Description: check.description,
			Violations:  n,
		})
	}
	return report, nil
}
