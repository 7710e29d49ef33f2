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

	"github.com/google/uuid"

	"github.com/banditlabs/banditd/internal/logging"
	"github.com/banditlabs/banditd/internal/models"
)

// CreateExperiment inserts a new experiment row.
func (db *DB) CreateExperiment(ctx context.Context, exp *models.Experiment) error {
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO experiments (id, name, start_at, end_at, traffic_pct, default_policy, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.ID, exp.Name, exp.StartAt, exp.EndAt, exp.TrafficPct, exp.DefaultPolicy, exp.Notes, exp.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting experiment %s: %w", exp.ID, err)
	}
	return nil
}

// GetExperiment fetches one experiment by id.
func (db *DB) GetExperiment(ctx context.Context, id uuid.UUID) (*models.Experiment, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, name, start_at, end_at, traffic_pct, default_policy, COALESCE(notes, ''), created_at
		FROM experiments WHERE id = ?`, id)
	return scanExperiment(row)
}

// ListExperiments returns all experiments, most recently created first.
func (db *DB) ListExperiments(ctx context.Context) ([]*models.Experiment, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, start_at, end_at, traffic_pct, default_policy, COALESCE(notes, ''), created_at
		FROM experiments ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing experiments: %w", err)
	}
	defer closeRows(rows)

	var out []*models.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, rows.Err()
}

// UpdateExperiment overwrites the mutable fields of an experiment.
// Identity and created_at never change.
func (db *DB) UpdateExperiment(ctx context.Context, exp *models.Experiment) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE experiments
		SET name = ?, start_at = ?, end_at = ?, traffic_pct = ?, default_policy = ?, notes = ?
		WHERE id = ?`,
		exp.Name, exp.StartAt, exp.EndAt, exp.TrafficPct, exp.DefaultPolicy, exp.Notes, exp.ID)
	if err != nil {
		return fmt.Errorf("updating experiment %s: %w", exp.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("experiment %s: %w", exp.ID, models.ErrNotFound)
	}
	return nil
}

// EndExperiment stamps end_at on an experiment. Idempotent at this layer;
// lifecycle checks belong to the experiment manager.
func (db *DB) EndExperiment(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE experiments SET end_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("ending experiment %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("experiment %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// GetAssignment fetches a user's sticky assignment within an experiment.
func (db *DB) GetAssignment(ctx context.Context, experimentID uuid.UUID, userID int64) (*models.PolicyAssignment, error) {
	var a models.PolicyAssignment
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, experiment_id, user_id, policy, bucket, assigned_at
		FROM policy_assignments WHERE experiment_id = ? AND user_id = ?`,
		experimentID, userID).
		Scan(&a.ID, &a.ExperimentID, &a.UserID, &a.Policy, &a.Bucket, &a.AssignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching assignment: %w", err)
	}
	return &a, nil
}

// InsertAssignment writes a sticky assignment, tolerating a concurrent
// duplicate. Returns false when another writer won the race; the caller
// should read the surviving row back.
func (db *DB) InsertAssignment(ctx context.Context, a *models.PolicyAssignment) (bool, error) {
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now().UTC()
	}
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO policy_assignments (experiment_id, user_id, policy, bucket, assigned_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (experiment_id, user_id) DO NOTHING`,
		a.ExperimentID, a.UserID, a.Policy, a.Bucket, a.AssignedAt)
	if err != nil {
		return false, fmt.Errorf("inserting assignment: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListAssignments pages through an experiment's sticky assignments with
// an optional policy filter. Returns the page and the filtered total.
func (db *DB) ListAssignments(ctx context.Context, experimentID uuid.UUID, policy string, limit, offset int) ([]*models.PolicyAssignment, int64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	where := "WHERE experiment_id = ?"
	args := []interface{}{experimentID}
	if policy != "" {
		where += " AND policy = ?"
		args = append(args, policy)
	}

	var total int64
	if err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM policy_assignments "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting assignments: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, experiment_id, user_id, policy, bucket, assigned_at
		FROM policy_assignments `+where+`
		ORDER BY assigned_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing assignments: %w", err)
	}
	defer closeRows(rows)

	var out []*models.PolicyAssignment
	for rows.Next() {
		var a models.PolicyAssignment
		if err := rows.Scan(&a.ID, &a.ExperimentID, &a.UserID, &a.Policy, &a.Bucket, &a.AssignedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning assignment: %w", err)
		}
		out = append(out, &a)
	}
	return out, total, rows.Err()
}

// CountAssignmentsByPolicy returns the assignment distribution of an
// experiment, used by the stats endpoint and traffic convergence checks.
func (db *DB) CountAssignmentsByPolicy(ctx context.Context, experimentID uuid.UUID) (map[string]int64, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT policy, COUNT(*) FROM policy_assignments
		WHERE experiment_id = ? GROUP BY policy`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("counting assignments: %w", err)
	}
	defer closeRows(rows)

	out := make(map[string]int64)
	for rows.Next() {
		var policy string
		var n int64
		if err := rows.Scan(&policy, &n); err != nil {
			return nil, fmt.Errorf("scanning assignment count: %w", err)
		}
		out[policy] = n
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExperiment(row rowScanner) (*models.Experiment, error) {
	var exp models.Experiment
	err := row.Scan(&exp.ID, &exp.Name, &exp.StartAt, &exp.EndAt,
		&exp.TrafficPct, &exp.DefaultPolicy, &exp.Notes, &exp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning experiment: %w", err)
	}
	return &exp, nil
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logging.Debug().Err(err).Msg("Error closing rows")
	}
}
