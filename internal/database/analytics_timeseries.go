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

// timeseriesExprs maps a metric name to its aggregate expression over one
// bucket of events. Each expression must tolerate NULL rewards/latencies.
var timeseriesExprs = map[string]string{
	"reward":      `COALESCE(AVG(reward), 0)`,
	"ctr":         `COALESCE(AVG(CASE WHEN clicked THEN 1.0 ELSE 0.0 END), 0)`,
	"latency_p95": `COALESCE(quantile_cont(latency_ms, 0.95), 0)`,
	"serves":      `CAST(COUNT(*) AS DOUBLE)`,
}

var granularities = map[string]string{
	"hour": "hour",
	"day":  "day",
}

// Timeseries buckets one metric for an experiment at hour or day
// granularity, optionally filtered to one policy. Buckets with no events
// are absent from the result; clients render gaps.
func (db *DB) Timeseries(ctx context.Context, experimentID, metric, granularity, policy string, from, to time.Time) ([]models.TimeseriesPoint, error) {
	expr, ok := timeseriesExprs[metric]
	if !ok {
		return nil, fmt.Errorf("metric %q: %w", metric, models.ErrInvalidArgument)
	}
	trunc, ok := granularities[granularity]
	if !ok {
		return nil, fmt.Errorf("granularity %q: %w", granularity, models.ErrInvalidArgument)
	}

	query := fmt.Sprintf(`
		SELECT date_trunc('%s', served_at) AS bucket, %s, COUNT(*)
		FROM recommendation_events
		WHERE experiment_id = ? AND served_at >= ? AND served_at < ?`, trunc, expr)
	args := []interface{}{experimentID, from, to}
	if policy != "" {
		query += ` AND policy = ?`
		args = append(args, policy)
	}
	query += ` GROUP BY bucket ORDER BY bucket`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s timeseries: %w", metric, err)
	}
	defer closeRows(rows)

	var out []models.TimeseriesPoint
	for rows.Next() {
		var p models.TimeseriesPoint
		if err := rows.Scan(&p.Bucket, &p.Value, &p.Count); err != nil {
			return nil, fmt.Errorf("scanning timeseries point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
