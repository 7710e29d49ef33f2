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

// ListEvents returns a page of an experiment's raw event log, newest
// first, with the total for pagination metadata.
func (db *DB) ListEvents(ctx context.Context, experimentID, policy string, limit, offset int) ([]*models.RecommendationEvent, int64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	experimentClause := `TRUE`
	if experimentID != "" {
		experimentClause = `experiment_id = ?`
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM recommendation_events WHERE %s %s`,
		experimentClause, policyFilter(policy))
	countArgs := []interface{}{}
	if experimentID != "" {
		countArgs = append(countArgs, experimentID)
	}
	if policy != "" {
		countArgs = append(countArgs, policy)
	}
	var total int64
	if err := db.conn.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting events: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM recommendation_events
		WHERE %s %s
		ORDER BY served_at DESC, id DESC
		LIMIT ? OFFSET ?`, eventColumns, experimentClause, policyFilter(policy))
	args := []interface{}{}
	if experimentID != "" {
		args = append(args, experimentID)
	}
	if policy != "" {
		args = append(args, policy)
	}
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing events: %w", err)
	}
	defer closeRows(rows)

	events, err := scanEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// StreamEvents walks an experiment's filtered event log in served_at
// order, invoking fn per row. The result set is never buffered, so export
// handlers can stream arbitrarily large logs. fn returning an error stops
// the walk.
func (db *DB) StreamEvents(ctx context.Context, experimentID, policy string, fn func(*models.RecommendationEvent) error) error {
	query := fmt.Sprintf(`
		SELECT %s FROM recommendation_events
		WHERE experiment_id = ? %s
		ORDER BY served_at ASC, id ASC`, eventColumns, policyFilter(policy))
	args := []interface{}{experimentID}
	if policy != "" {
		args = append(args, policy)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("streaming events: %w", err)
	}
	defer closeRows(rows)

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return rows.Err()
}
