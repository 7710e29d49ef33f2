// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package reward

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/banditlabs/banditd/internal/models"
)

func servedEvent(mutate func(*models.RecommendationEvent)) *models.RecommendationEvent {
	ev := &models.RecommendationEvent{
		ID:       1,
		UserID:   10,
		ServedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	if mutate != nil {
		mutate(ev)
	}
	return ev
}

func TestBinaryStrongSignals(t *testing.T) {
	c := NewCalculator(ModeBinary, 24*time.Hour)
	rating := func(v float64) *float64 { return &v }

	tests := []struct {
		name   string
		mutate func(*models.RecommendationEvent)
		want   float64
	}{
		{"click", func(e *models.RecommendationEvent) { e.Clicked = true }, 1.0},
		{"thumbs up", func(e *models.RecommendationEvent) { e.ThumbsUp = true }, 1.0},
		{"favorite", func(e *models.RecommendationEvent) { e.AddedToFavorites = true }, 1.0},
		{"thumbs down", func(e *models.RecommendationEvent) { e.ThumbsDown = true }, 0.0},
		{"high rating", func(e *models.RecommendationEvent) { e.Rated = true; e.RatingValue = rating(4.5) }, 1.0},
		{"low rating", func(e *models.RecommendationEvent) { e.Rated = true; e.RatingValue = rating(1.5) }, 0.0},
		{"neutral rating only", func(e *models.RecommendationEvent) { e.Rated = true; e.RatingValue = rating(3.0) }, 0.0},
		{"watchlist only", func(e *models.RecommendationEvent) { e.AddedToWatchlist = true }, 0.7},
		{"no signal", nil, 0.0},
		// Click wins over thumbs-down: in-event positives are checked first.
		{"click beats thumbs down", func(e *models.RecommendationEvent) { e.Clicked = true; e.ThumbsDown = true }, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Compute(servedEvent(tt.mutate), nil); got != tt.want {
				t.Errorf("reward = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBinaryWindowedInteractions(t *testing.T) {
	c := NewCalculator(ModeBinary, 24*time.Hour)
	ev := servedEvent(nil)

	inWindow := ev.ServedAt.Add(2 * time.Hour)
	outOfWindow := ev.ServedAt.Add(25 * time.Hour)

	got := c.Compute(ev, []models.Interaction{
		{Kind: models.InteractionWatch, Value: 0.8, Timestamp: inWindow},
	})
	if got != 1.0 {
		t.Errorf("watch >= 0.5 in window: reward = %v, want 1.0", got)
	}

	got = c.Compute(ev, []models.Interaction{
		{Kind: models.InteractionWatch, Value: 0.8, Timestamp: outOfWindow},
	})
	if got != 0.0 {
		t.Errorf("out-of-window watch must not count: reward = %v, want 0.0", got)
	}

	got = c.Compute(ev, []models.Interaction{
		{Kind: models.InteractionWatch, Value: 0.3, Timestamp: inWindow},
	})
	if got != 0.0 {
		t.Errorf("short watch: reward = %v, want 0.0", got)
	}

	got = c.Compute(ev, []models.Interaction{
		{Kind: models.InteractionWatchlist, Timestamp: inWindow},
	})
	if got != 0.7 {
		t.Errorf("late watchlist: reward = %v, want 0.7", got)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	// A click five minutes after serving with nothing else in 24h gives
	// 1.0, and recomputation with unchanged inputs gives 1.0 again.
	c := NewCalculator(ModeBinary, 24*time.Hour)
	at := time.Date(2026, 8, 1, 12, 5, 0, 0, time.UTC)
	ev := servedEvent(func(e *models.RecommendationEvent) {
		e.Clicked = true
		e.ClickedAt = &at
	})

	first := c.Compute(ev, nil)
	if first != 1.0 {
		t.Fatalf("reward = %v, want 1.0", first)
	}
	if second := c.Compute(ev, nil); second != first {
		t.Errorf("recomputation drifted: %v != %v", second, first)
	}
}

func TestScaledWeights(t *testing.T) {
	c := NewCalculator(ModeScaled, 24*time.Hour)
	rating := func(v float64) *float64 { return &v }

	// click (+0.3) + thumbs up (+0.4) = 0.7
	ev := servedEvent(func(e *models.RecommendationEvent) {
		e.Clicked = true
		e.ThumbsUp = true
	})
	if got := c.Compute(ev, nil); math.Abs(got-0.7) > 1e-9 {
		t.Errorf("click+thumbsup = %v, want 0.7", got)
	}

	// In-event rating 5.0: (5-1)/4 * 0.6 = 0.6.
	ev = servedEvent(func(e *models.RecommendationEvent) {
		e.Rated = true
		e.RatingValue = rating(5.0)
	})
	if got := c.Compute(ev, nil); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("in-event rating 5.0 = %v, want 0.6", got)
	}

	// Thumbs-down alone clamps at 0.
	ev = servedEvent(func(e *models.RecommendationEvent) { e.ThumbsDown = true })
	if got := c.Compute(ev, nil); got != 0.0 {
		t.Errorf("thumbs down = %v, want clamp to 0.0", got)
	}

	// Everything positive clamps at 1.
	ev = servedEvent(func(e *models.RecommendationEvent) {
		e.Clicked = true
		e.ThumbsUp = true
		e.AddedToFavorites = true
		e.AddedToWatchlist = true
		e.Rated = true
		e.RatingValue = rating(5.0)
	})
	if got := c.Compute(ev, nil); got != 1.0 {
		t.Errorf("stacked positives = %v, want clamp to 1.0", got)
	}

	// Late rating weighs 0.4: rating 5 at +1h → (5-1)/4 * 0.4 = 0.4.
	ev = servedEvent(nil)
	got := c.Compute(ev, []models.Interaction{
		{Kind: models.InteractionRating, Value: 5.0, Timestamp: ev.ServedAt.Add(time.Hour)},
	})
	if math.Abs(got-0.4) > 1e-9 {
		t.Errorf("late rating = %v, want 0.4", got)
	}

	// Late watch contributes watch_ratio * 0.3.
	got = c.Compute(ev, []models.Interaction{
		{Kind: models.InteractionWatch, Value: 0.5, Timestamp: ev.ServedAt.Add(time.Hour)},
	})
	if math.Abs(got-0.15) > 1e-9 {
		t.Errorf("late watch = %v, want 0.15", got)
	}
}

func TestBatchGroupsByUser(t *testing.T) {
	c := NewCalculator(ModeBinary, 24*time.Hour)
	movie := int64(7)
	events := []*models.RecommendationEvent{
		servedEvent(func(e *models.RecommendationEvent) { e.ID = 1; e.Clicked = true }),
		servedEvent(func(e *models.RecommendationEvent) { e.ID = 2; e.MovieID = &movie }),
		servedEvent(func(e *models.RecommendationEvent) { e.ID = 3; e.MovieID = &movie }),
	}

	src := &countingSource{}
	rewards, err := c.Batch(context.Background(), events, src)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if len(rewards) != 3 {
		t.Fatalf("got %d rewards, want 3", len(rewards))
	}
	if rewards[1] != 1.0 {
		t.Errorf("clicked event reward = %v, want 1.0", rewards[1])
	}
	// Events 2 and 3 share (user, movie): one fetch only.
	if src.calls != 1 {
		t.Errorf("interaction fetches = %d, want 1", src.calls)
	}
}

type countingSource struct{ calls int }

func (s *countingSource) UserInteractions(_ context.Context, _, _ int64, _ time.Time) ([]models.Interaction, error) {
	s.calls++
	return nil, nil
}
