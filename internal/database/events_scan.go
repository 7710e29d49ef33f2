// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package database

import (
	"database/sql"
	"fmt"

	"github.com/banditlabs/banditd/internal/models"
)

// scanEvents drains a result set ordered by the eventColumns projection.
func scanEvents(rows *sql.Rows) ([]*models.RecommendationEvent, error) {
	var out []*models.RecommendationEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanEvent(row rowScanner) (*models.RecommendationEvent, error) {
	var ev models.RecommendationEvent
	var contextJSON sql.NullString
	err := row.Scan(
		&ev.ID, &ev.UserID, &ev.MovieID, &ev.Algorithm, &ev.Position, &ev.Score,
		&ev.Clicked, &ev.ClickedAt, &ev.Rated, &ev.RatedAt, &ev.RatingValue,
		&ev.ThumbsUp, &ev.ThumbsUpAt, &ev.ThumbsDown, &ev.ThumbsDownAt,
		&ev.AddedToWatchlist, &ev.AddedToFavorites,
		&contextJSON, &ev.ExperimentID, &ev.Policy, &ev.ArmID,
		&ev.PScore, &ev.LatencyMS, &ev.Reward,
		&ev.ServedAt, &ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning recommendation event: %w", err)
	}
	if contextJSON.Valid && contextJSON.String != "" {
		var bc models.BanditContext
		if err := unmarshalJSONColumn(contextJSON, &bc); err != nil {
			return nil, fmt.Errorf("decoding event context: %w", err)
		}
		ev.Context = &bc
	}
	return &ev, nil
}
