// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package database

import (
	"context"
	"fmt"
)

// createSchema creates sequences, tables and indexes. All statements are
// idempotent so reopening an existing database is a no-op.
func (db *DB) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE SEQUENCE IF NOT EXISTS seq_policy_assignments START 1`,
		`CREATE SEQUENCE IF NOT EXISTS seq_recommendation_events START 1`,
		`CREATE SEQUENCE IF NOT EXISTS seq_decision_log START 1`,

		// Experiment registry. Rows are never deleted; ending an
		// experiment sets end_at.
		`CREATE TABLE IF NOT EXISTS experiments (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			start_at TIMESTAMP NOT NULL,
			end_at TIMESTAMP,
			traffic_pct DOUBLE NOT NULL CHECK (traffic_pct >= 0 AND traffic_pct <= 1),
			default_policy TEXT NOT NULL,
			notes TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Sticky user-to-policy assignments. The UNIQUE constraint is the
		// stickiness guarantee: a concurrent duplicate insert conflicts and
		// the caller reads the surviving row back.
		`CREATE TABLE IF NOT EXISTS policy_assignments (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_policy_assignments'),
			experiment_id UUID NOT NULL,
			user_id BIGINT NOT NULL,
			policy TEXT NOT NULL,
			bucket INTEGER NOT NULL CHECK (bucket >= 0 AND bucket <= 99),
			assigned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (experiment_id, user_id)
		)`,

		// Arm catalog: the recommendation strategies policies choose among.
		`CREATE TABLE IF NOT EXISTS arm_catalog (
			arm_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			metadata JSON,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Per-(policy, arm, context) learning state. pull_count, alpha and
		// beta only ever grow; mean_reward = sum_reward / pull_count.
		`CREATE TABLE IF NOT EXISTS policy_states (
			policy TEXT NOT NULL,
			arm_id TEXT NOT NULL,
			context_key TEXT NOT NULL,
			pull_count BIGINT NOT NULL DEFAULT 0,
			sum_reward DOUBLE NOT NULL DEFAULT 0,
			mean_reward DOUBLE NOT NULL DEFAULT 0,
			alpha DOUBLE NOT NULL DEFAULT 1,
			beta DOUBLE NOT NULL DEFAULT 1,
			last_selected_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (policy, arm_id, context_key)
		)`,

		// Served-recommendation event log. served_at is immutable;
		// interaction flags and reward are filled in after serving.
		`CREATE TABLE IF NOT EXISTS recommendation_events (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_recommendation_events'),
			user_id BIGINT NOT NULL,
			movie_id BIGINT,
			algorithm TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			score DOUBLE NOT NULL DEFAULT 0,
			clicked BOOLEAN NOT NULL DEFAULT FALSE,
			clicked_at TIMESTAMP,
			rated BOOLEAN NOT NULL DEFAULT FALSE,
			rated_at TIMESTAMP,
			rating_value DOUBLE,
			thumbs_up BOOLEAN NOT NULL DEFAULT FALSE,
			thumbs_up_at TIMESTAMP,
			thumbs_down BOOLEAN NOT NULL DEFAULT FALSE,
			thumbs_down_at TIMESTAMP,
			added_to_watchlist BOOLEAN NOT NULL DEFAULT FALSE,
			added_to_favorites BOOLEAN NOT NULL DEFAULT FALSE,
			context JSON,
			context_key TEXT,
			user_type TEXT,
			time_period TEXT,
			experiment_id TEXT,
			policy TEXT,
			arm_id TEXT,
			p_score DOUBLE,
			latency_ms DOUBLE,
			reward DOUBLE,
			served_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Ship/iterate/kill audit log written by the decision engine.
		`CREATE TABLE IF NOT EXISTS decision_log (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_decision_log'),
			experiment_id TEXT NOT NULL,
			decision TEXT NOT NULL,
			confidence DOUBLE NOT NULL,
			window_days INTEGER NOT NULL,
			best_policy TEXT,
			uplift_vs_control DOUBLE,
			significant BOOLEAN NOT NULL DEFAULT FALSE,
			reasoning TEXT,
			recommendations JSON,
			analyzed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_assignments_experiment
			ON policy_assignments (experiment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_served_at
			ON recommendation_events (served_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user
			ON recommendation_events (user_id, served_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_experiment
			ON recommendation_events (experiment_id, served_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_reward
			ON recommendation_events (reward, served_at)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_log_experiment
			ON decision_log (experiment_id, analyzed_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %s: %w", stmt, err)
		}
	}
	return nil
}
