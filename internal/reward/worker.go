// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package reward

import (
	"context"
	"sync"
	"time"

	"github.com/banditlabs/banditd/internal/database"
	"github.com/banditlabs/banditd/internal/logging"
	"github.com/banditlabs/banditd/internal/metrics"
	"github.com/banditlabs/banditd/internal/models"
	"github.com/banditlabs/banditd/internal/policy"
)

// WorkerConfig parameterizes the reward worker's three jobs.
type WorkerConfig struct {
	BatchSize  int
	Window     time.Duration
	RetryDelay time.Duration
	SweepAge   time.Duration
	PolicyCfg  policy.Config
}

// ProcessingStats is a snapshot of worker activity since start.
type ProcessingStats struct {
	LastRun      time.Time `json:"last_run"`
	Processed    int64     `json:"processed"`
	Rewarded     int64     `json:"rewarded"`
	Updated      int64     `json:"updated"`
	FailedGroups int64     `json:"failed_groups"`
	Swept        int64     `json:"swept"`
}

// Worker drives delayed reward attribution: it drains unrewarded events,
// computes rewards, writes them idempotently and feeds policy updates
// back into the state store.
type Worker struct {
	db    *database.DB
	store *policy.StateStore
	calc  *Calculator
	src   InteractionSource
	cfg   WorkerConfig

	mu    sync.Mutex
	stats ProcessingStats
}

// NewWorker builds a Worker. src may be nil when no external interaction
// store is wired; rewards then come from event flags alone.
func NewWorker(db *database.DB, store *policy.StateStore, calc *Calculator, src InteractionSource, cfg WorkerConfig) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Minute
	}
	if cfg.SweepAge <= 0 {
		cfg.SweepAge = 30 * 24 * time.Hour
	}
	return &Worker{db: db, store: store, calc: calc, src: src, cfg: cfg}
}

// ProcessPending is the 5-minute tick: compute rewards for unrewarded
// events still inside the attribution window.
func (w *Worker) ProcessPending(ctx context.Context) error {
	since := time.Now().UTC().Add(-w.cfg.Window)
	events, err := w.db.PendingRewardEvents(ctx, since, w.cfg.BatchSize)
	if err != nil {
		return err
	}
	return w.processBatch(ctx, events)
}

// ProcessRetries is the 15-minute tick: events older than the retry delay
// that still carry no reward.
func (w *Worker) ProcessRetries(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-w.cfg.RetryDelay)
	events, err := w.db.RetryRewardEvents(ctx, cutoff, w.cfg.BatchSize)
	if err != nil {
		return err
	}
	return w.processBatch(ctx, events)
}

// Sweep is the hourly tick: events past the terminal age get reward 0.0.
// Swept events produce no policy updates; silence is its own signal only
// at the attribution level.
func (w *Worker) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-w.cfg.SweepAge)
	n, err := w.db.SweepUnrewardedEvents(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.Info().Int64("events", n).Msg("Swept unrewarded events to terminal 0.0")
	}
	w.mu.Lock()
	w.stats.Swept += n
	w.stats.LastRun = time.Now().UTC()
	w.mu.Unlock()
	return nil
}

// Stats returns a snapshot of worker counters.
func (w *Worker) Stats() ProcessingStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// updateGroup accumulates commutative deltas for one (policy, arm,
// context_key) row. Summing before writing is equivalent to any serial
// replay of the individual updates.
type updateGroup struct {
	policy     string
	armID      string
	contextKey string
	delta      models.StateDelta
	events     int64
}

func (w *Worker) processBatch(ctx context.Context, events []*models.RecommendationEvent) error {
	if len(events) == 0 {
		return nil
	}

	rewards, err := w.calc.Batch(ctx, events, w.src)
	if err != nil {
		return err
	}

	var rewarded int64
	groups := make(map[string]*updateGroup)
	var order []string

	for _, ev := range events {
		r, ok := rewards[ev.ID]
		if !ok {
			continue
		}
		mutated, err := w.db.SetReward(ctx, ev.ID, r)
		if err != nil {
			logging.Error().Err(err).Int64("event_id", ev.ID).Msg("Failed to persist reward")
			continue
		}
		if !mutated {
			// Another worker got here first; its update stands.
			continue
		}
		rewarded++

		if ev.Policy == nil || ev.ArmID == nil {
			continue
		}
		canonical, err := policy.CanonicalName(*ev.Policy)
		if err != nil {
			// Control and other non-bandit policies get rewards for the
			// decision engine but no learning updates.
			continue
		}
		pol, err := policy.New(canonical, w.cfg.PolicyCfg)
		if err != nil {
			continue
		}

		key := canonical + "\x00" + *ev.ArmID + "\x00" + ev.Context.Key()
		g, ok := groups[key]
		if !ok {
			g = &updateGroup{policy: canonical, armID: *ev.ArmID, contextKey: ev.Context.Key()}
			groups[key] = g
			order = append(order, key)
		}
		d := pol.RewardDelta(r)
		g.delta.Count += d.Count
		g.delta.SumReward += d.SumReward
		g.delta.Alpha += d.Alpha
		g.delta.Beta += d.Beta
		g.events++
	}

	now := time.Now().UTC()
	var updated, failed int64
	for _, key := range order {
		g := groups[key]
		g.delta.LastSelectedAt = now
		if _, err := w.store.Update(ctx, g.policy, g.armID, g.contextKey, g.delta); err != nil {
			// One group failing must not abort the rest.
			failed++
			logging.Error().Err(err).
				Str("policy", g.policy).
				Str("arm_id", g.armID).
				Str("context_key", g.contextKey).
				Msg("Policy state update failed")
			continue
		}
		updated += g.events
	}

	metrics.RewardEventsProcessed.Add(float64(rewarded))
	metrics.RewardUpdatesTotal.Add(float64(updated))

	w.mu.Lock()
	w.stats.Processed += int64(len(events))
	w.stats.Rewarded += rewarded
	w.stats.Updated += updated
	w.stats.FailedGroups += failed
	w.stats.LastRun = now
	w.mu.Unlock()

	logging.Debug().
		Int("events", len(events)).
		Int64("rewarded", rewarded).
		Int64("updated", updated).
		Int64("failed_groups", failed).
		Msg("Reward batch processed")
	return nil
}
