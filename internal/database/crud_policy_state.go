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
	"strings"
	"time"

	"github.com/banditlabs/banditd/internal/models"
)

// GetPolicyState reads one state row. A key that has never been written
// returns the lazy default (zero counters, Beta(1,1) prior) without
// persisting anything.
func (db *DB) GetPolicyState(ctx context.Context, policy, armID, contextKey string) (*models.PolicyState, error) {
	var st models.PolicyState
	err := db.conn.QueryRowContext(ctx, `
		SELECT policy, arm_id, context_key, pull_count, sum_reward, mean_reward,
		       alpha, beta, last_selected_at, updated_at
		FROM policy_states WHERE policy = ? AND arm_id = ? AND context_key = ?`,
		policy, armID, contextKey).
		Scan(&st.Policy, &st.ArmID, &st.ContextKey, &st.Count, &st.SumReward,
			&st.MeanReward, &st.Alpha, &st.Beta, &st.LastSelectedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultPolicyState(policy, armID, contextKey), nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching policy state: %w", err)
	}
	return &st, nil
}

// GetPolicyStates batch-reads state for a set of arms under one policy and
// context. Missing rows are filled with lazy defaults so the result always
// has one entry per requested arm, in the requested order.
func (db *DB) GetPolicyStates(ctx context.Context, policy, contextKey string, armIDs []string) ([]*models.PolicyState, error) {
	if len(armIDs) == 0 {
		return nil, models.ErrNoArms
	}

	placeholders := strings.Repeat("?,", len(armIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(armIDs)+2)
	args = append(args, policy, contextKey)
	for _, id := range armIDs {
		args = append(args, id)
	}

	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT policy, arm_id, context_key, pull_count, sum_reward, mean_reward,
		       alpha, beta, last_selected_at, updated_at
		FROM policy_states
		WHERE policy = ? AND context_key = ? AND arm_id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("fetching policy states: %w", err)
	}
	defer closeRows(rows)

	byArm := make(map[string]*models.PolicyState, len(armIDs))
	for rows.Next() {
		var st models.PolicyState
		if err := rows.Scan(&st.Policy, &st.ArmID, &st.ContextKey, &st.Count,
			&st.SumReward, &st.MeanReward, &st.Alpha, &st.Beta,
			&st.LastSelectedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning policy state: %w", err)
		}
		byArm[st.ArmID] = &st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*models.PolicyState, 0, len(armIDs))
	for _, id := range armIDs {
		if st, ok := byArm[id]; ok {
			out = append(out, st)
		} else {
			out = append(out, models.DefaultPolicyState(policy, id, contextKey))
		}
	}
	return out, nil
}

// ApplyStateDelta atomically applies a commutative increment to one state
// row, creating the default row first if needed. Writers for the same key
// are serialized through an in-process lock; mean_reward is recomputed
// from the post-delta sums inside the same statement.
func (db *DB) ApplyStateDelta(ctx context.Context, policy, armID, contextKey string, delta models.StateDelta) (*models.PolicyState, error) {
	mu := db.stateLock(policy, armID, contextKey)
	mu.Lock()
	defer mu.Unlock()

	if _, err := db.conn.ExecContext(ctx, `
		INSERT INTO policy_states (policy, arm_id, context_key)
		VALUES (?, ?, ?)
		ON CONFLICT (policy, arm_id, context_key) DO NOTHING`,
		policy, armID, contextKey); err != nil {
		return nil, fmt.Errorf("seeding policy state: %w", err)
	}

	var lastSelected interface{}
	if !delta.LastSelectedAt.IsZero() {
		lastSelected = delta.LastSelectedAt
	}

	if _, err := db.conn.ExecContext(ctx, `
		UPDATE policy_states SET
			pull_count = pull_count + ?,
			sum_reward = sum_reward + ?,
			mean_reward = CASE WHEN pull_count + ? = 0 THEN 0
			              ELSE (sum_reward + ?) / (pull_count + ?) END,
			alpha = alpha + ?,
			beta = beta + ?,
			last_selected_at = COALESCE(?, last_selected_at),
			updated_at = ?
		WHERE policy = ? AND arm_id = ? AND context_key = ?`,
		delta.Count, delta.SumReward,
		delta.Count, delta.SumReward, delta.Count,
		delta.Alpha, delta.Beta,
		lastSelected, time.Now().UTC(),
		policy, armID, contextKey); err != nil {
		return nil, fmt.Errorf("applying state delta: %w", err)
	}

	return db.GetPolicyState(ctx, policy, armID, contextKey)
}

// ListPolicyStates returns all state rows for one policy, ordered by arm.
// Used by the analytics arm surface and the offline evaluator.
func (db *DB) ListPolicyStates(ctx context.Context, policy string) ([]*models.PolicyState, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT policy, arm_id, context_key, pull_count, sum_reward, mean_reward,
		       alpha, beta, last_selected_at, updated_at
		FROM policy_states WHERE policy = ? ORDER BY arm_id, context_key`, policy)
	if err != nil {
		return nil, fmt.Errorf("listing policy states: %w", err)
	}
	defer closeRows(rows)

	var out []*models.PolicyState
	for rows.Next() {
		var st models.PolicyState
		if err := rows.Scan(&st.Policy, &st.ArmID, &st.ContextKey, &st.Count,
			&st.SumReward, &st.MeanReward, &st.Alpha, &st.Beta,
			&st.LastSelectedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning policy state: %w", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}
