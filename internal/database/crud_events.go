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

const eventColumns = `id, user_id, movie_id, algorithm, position, score,
	clicked, clicked_at, rated, rated_at, rating_value,
	thumbs_up, thumbs_up_at, thumbs_down, thumbs_down_at,
	added_to_watchlist, added_to_favorites,
	context::VARCHAR AS context, experiment_id, policy, arm_id, p_score, latency_ms, reward,
	served_at, created_at`

// AppendEvent inserts a served-recommendation event and fills in its id.
func (db *DB) AppendEvent(ctx context.Context, ev *models.RecommendationEvent) error {
	if ev.ServedAt.IsZero() {
		ev.ServedAt = time.Now().UTC()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = ev.ServedAt
	}
	contextJSON, err := marshalJSONColumn(ev.Context)
	if err != nil {
		return fmt.Errorf("encoding event context: %w", err)
	}

	// Cohort fields and the context key are materialized as columns so
	// analytics never has to parse the context JSON.
	var contextKey, userType, timePeriod interface{}
	if ev.Context != nil {
		contextKey = ev.Context.Key()
		if ev.Context.UserType != "" {
			userType = ev.Context.UserType
		}
		if ev.Context.TimePeriod != "" {
			timePeriod = ev.Context.TimePeriod
		}
	}

	err = db.conn.QueryRowContext(ctx, `
		INSERT INTO recommendation_events (
			user_id, movie_id, algorithm, position, score,
			context, context_key, user_type, time_period,
			experiment_id, policy, arm_id, p_score, latency_ms,
			served_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		ev.UserID, ev.MovieID, ev.Algorithm, ev.Position, ev.Score,
		contextJSON, contextKey, userType, timePeriod,
		ev.ExperimentID, ev.Policy, ev.ArmID, ev.PScore, ev.LatencyMS,
		ev.ServedAt, ev.CreatedAt).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("appending recommendation event: %w", err)
	}
	return nil
}

// interactionUpdates maps each interaction kind to the SET clause that
// records it. Every clause is idempotent: flags only ever flip to true and
// timestamps are preserved once set.
var interactionUpdates = map[models.InteractionKind]string{
	models.InteractionClick:      `clicked = TRUE, clicked_at = COALESCE(clicked_at, ?)`,
	models.InteractionRating:     `rated = TRUE, rated_at = COALESCE(rated_at, ?), rating_value = ?`,
	models.InteractionThumbsUp:   `thumbs_up = TRUE, thumbs_up_at = COALESCE(thumbs_up_at, ?)`,
	models.InteractionThumbsDown: `thumbs_down = TRUE, thumbs_down_at = COALESCE(thumbs_down_at, ?)`,
	models.InteractionFavorite:   `added_to_favorites = TRUE`,
	models.InteractionWatchlist:  `added_to_watchlist = TRUE`,
}

// MarkInteraction attaches an interaction to the most recent event for a
// (user, movie) pair. Returns false when no matching event exists, which
// callers treat as a no-op rather than an error: interactions can arrive
// for recommendations served before the event log existed.
func (db *DB) MarkInteraction(ctx context.Context, userID, movieID int64, kind models.InteractionKind, value float64, at time.Time) (bool, error) {
	clause, ok := interactionUpdates[kind]
	if !ok {
		return false, fmt.Errorf("interaction kind %q: %w", kind, models.ErrInvalidArgument)
	}

	var eventID int64
	err := db.conn.QueryRowContext(ctx, `
		SELECT id FROM recommendation_events
		WHERE user_id = ? AND movie_id = ?
		ORDER BY served_at DESC LIMIT 1`, userID, movieID).Scan(&eventID)
	if err != nil {
		// No event to attach to.
		return false, nil //nolint:nilerr // absence is the expected miss case
	}

	args := []interface{}{}
	switch kind {
	case models.InteractionRating:
		args = append(args, at, value)
	case models.InteractionFavorite, models.InteractionWatchlist:
		// No timestamp column for these flags.
	default:
		args = append(args, at)
	}
	args = append(args, eventID)

	if _, err := db.conn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE recommendation_events SET %s WHERE id = ?`, clause), args...); err != nil {
		return false, fmt.Errorf("marking %s interaction: %w", kind, err)
	}
	return true, nil
}

// SetReward writes an event's reward if and only if it is still unset.
// Returns whether the row was mutated; repeated calls with any value
// return false, making reward assignment idempotent.
func (db *DB) SetReward(ctx context.Context, eventID int64, reward float64) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE recommendation_events SET reward = ?
		WHERE id = ? AND reward IS NULL`, reward, eventID)
	if err != nil {
		return false, fmt.Errorf("setting reward for event %d: %w", eventID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PendingRewardEvents returns bandit-served events inside the attribution
// window (served_at >= since) that still have no reward, oldest first.
func (db *DB) PendingRewardEvents(ctx context.Context, since time.Time, limit int) ([]*models.RecommendationEvent, error) {
	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM recommendation_events
		WHERE reward IS NULL AND policy IS NOT NULL AND served_at >= ?
		ORDER BY served_at ASC LIMIT ?`, eventColumns), since, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching pending reward events: %w", err)
	}
	defer closeRows(rows)
	return scanEvents(rows)
}

// RetryRewardEvents returns events older than cutoff that still have no
// reward, for the slower retry tick.
func (db *DB) RetryRewardEvents(ctx context.Context, cutoff time.Time, limit int) ([]*models.RecommendationEvent, error) {
	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM recommendation_events
		WHERE reward IS NULL AND policy IS NOT NULL AND served_at <= ?
		ORDER BY served_at ASC LIMIT ?`, eventColumns), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching retry reward events: %w", err)
	}
	defer closeRows(rows)
	return scanEvents(rows)
}

// SweepUnrewardedEvents assigns reward 0 to events older than cutoff that
// never received one. This is the terminal no-interaction outcome.
func (db *DB) SweepUnrewardedEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE recommendation_events SET reward = 0.0
		WHERE reward IS NULL AND served_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweeping unrewarded events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountUserInteractions counts a user's events that carry at least one
// interaction, used for activity-based user classification.
func (db *DB) CountUserInteractions(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM recommendation_events
		WHERE user_id = ?
		  AND (clicked OR rated OR thumbs_up OR thumbs_down
		       OR added_to_watchlist OR added_to_favorites)`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting user interactions: %w", err)
	}
	return n, nil
}

// GetEvent fetches one event by id.
func (db *DB) GetEvent(ctx context.Context, id int64) (*models.RecommendationEvent, error) {
	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM recommendation_events WHERE id = ?`, eventColumns), id)
	if err != nil {
		return nil, fmt.Errorf("fetching event %d: %w", id, err)
	}
	defer closeRows(rows)

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("event %d: %w", id, models.ErrNotFound)
	}
	return events[0], nil
}
