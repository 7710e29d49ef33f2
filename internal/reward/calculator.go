// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Package reward turns user interactions into bandit rewards and runs the
// delayed-attribution worker.
package reward

import (
	"context"
	"fmt"
	"time"

	"github.com/banditlabs/banditd/internal/models"
)

// Mode selects the reward definition.
type Mode string

const (
	ModeBinary Mode = "binary"
	ModeScaled Mode = "scaled"
)

const (
	// binaryWatchThreshold is the watched fraction that counts as a
	// strong positive in binary mode.
	binaryWatchThreshold = 0.5

	// positiveRatingFloor and negativeRatingCeil bound the strong rating
	// signals; ratings strictly between them contribute nothing in
	// binary mode.
	positiveRatingFloor = 4.0
	negativeRatingCeil  = 2.0
)

// InteractionSource supplies a user's interactions with an item outside
// the event's own flags (late ratings, watch telemetry). Implementations
// may return nil when no external signal store exists.
type InteractionSource interface {
	UserInteractions(ctx context.Context, userID, movieID int64, since time.Time) ([]models.Interaction, error)
}

// Calculator computes rewards. Compute is a pure function of the event
// and interaction set: identical inputs always give identical rewards.
type Calculator struct {
	Mode   Mode
	Window time.Duration
}

// NewCalculator builds a Calculator with the 24h default window.
func NewCalculator(mode Mode, window time.Duration) *Calculator {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Calculator{Mode: mode, Window: window}
}

// Compute returns the reward in [0,1] for one event given its external
// interactions. Interactions outside [served_at, served_at+Window] are
// ignored.
func (c *Calculator) Compute(ev *models.RecommendationEvent, interactions []models.Interaction) float64 {
	if c.Mode == ModeScaled {
		return c.scaled(ev, interactions)
	}
	return c.binary(ev, interactions)
}

// binary applies the strong-signal cascade: in-event positives, then
// in-event negatives, then the rating band, then the weak watchlist
// signal, then windowed external interactions. No signal means 0.
func (c *Calculator) binary(ev *models.RecommendationEvent, interactions []models.Interaction) float64 {
	if ev.Clicked || ev.ThumbsUp || ev.AddedToFavorites {
		return 1.0
	}
	if ev.ThumbsDown {
		return 0.0
	}
	if ev.Rated && ev.RatingValue != nil {
		if *ev.RatingValue >= positiveRatingFloor {
			return 1.0
		}
		if *ev.RatingValue <= negativeRatingCeil {
			return 0.0
		}
		// Neutral ratings fall through to the remaining signals.
	}
	if ev.AddedToWatchlist {
		return 0.7
	}

	for _, in := range c.windowed(ev, interactions) {
		switch in.Kind {
		case models.InteractionRating:
			if in.Value >= positiveRatingFloor {
				return 1.0
			}
			if in.Value <= negativeRatingCeil {
				return 0.0
			}
		case models.InteractionWatch:
			if in.Value >= binaryWatchThreshold {
				return 1.0
			}
		case models.InteractionFavorite:
			return 1.0
		case models.InteractionWatchlist:
			return 0.7
		}
	}
	return 0.0
}

// scaled sums signed signal weights and clamps to [0,1]. In-event ratings
// weigh more than late ones; late watch contributes proportionally to the
// watched fraction.
func (c *Calculator) scaled(ev *models.RecommendationEvent, interactions []models.Interaction) float64 {
	r := 0.0
	if ev.Clicked {
		r += 0.3
	}
	if ev.ThumbsUp {
		r += 0.4
	}
	if ev.ThumbsDown {
		r -= 0.3
	}
	if ev.AddedToFavorites {
		r += 0.5
	}
	if ev.AddedToWatchlist {
		r += 0.2
	}
	if ev.Rated && ev.RatingValue != nil {
		r += (*ev.RatingValue - 1.0) / 4.0 * 0.6
	}

	for _, in := range c.windowed(ev, interactions) {
		switch in.Kind {
		case models.InteractionRating:
			r += (in.Value - 1.0) / 4.0 * 0.4
		case models.InteractionWatch:
			r += in.Value * 0.3
		case models.InteractionFavorite:
			r += 0.3
		case models.InteractionWatchlist:
			r += 0.1
		}
	}

	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// windowed filters interactions to the event's attribution window.
func (c *Calculator) windowed(ev *models.RecommendationEvent, interactions []models.Interaction) []models.Interaction {
	if len(interactions) == 0 {
		return nil
	}
	start := ev.ServedAt
	end := start.Add(c.Window)
	out := make([]models.Interaction, 0, len(interactions))
	for _, in := range interactions {
		if in.Timestamp.Before(start) || in.Timestamp.After(end) {
			continue
		}
		out = append(out, in)
	}
	return out
}

// Batch computes rewards for many events, fetching each user's external
// interactions at most once per (user, movie) pair. Returns event id to
// reward. src may be nil when no external interaction store is wired.
func (c *Calculator) Batch(ctx context.Context, events []*models.RecommendationEvent, src InteractionSource) (map[int64]float64, error) {
	type pair struct {
		user  int64
		movie int64
	}
	fetched := make(map[pair][]models.Interaction)
	out := make(map[int64]float64, len(events))

	for _, ev := range events {
		var interactions []models.Interaction
		if src != nil && ev.MovieID != nil {
			key := pair{ev.UserID, *ev.MovieID}
			cached, ok := fetched[key]
			if !ok {
				var err error
				cached, err = src.UserInteractions(ctx, ev.UserID, *ev.MovieID, ev.ServedAt)
				if err != nil {
					return nil, fmt.Errorf("fetching interactions for user %d: %w", ev.UserID, err)
				}
				fetched[key] = cached
			}
			interactions = cached
		}
		out[ev.ID] = c.Compute(ev, interactions)
	}
	return out, nil
}
