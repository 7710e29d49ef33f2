// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Package decision runs the daily ship/iterate/kill analysis over active
// experiments and records its verdicts in the audit log.
package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banditlabs/banditd/internal/config"
	"github.com/banditlabs/banditd/internal/database"
	"github.com/banditlabs/banditd/internal/experiment"
	"github.com/banditlabs/banditd/internal/logging"
	"github.com/banditlabs/banditd/internal/models"
	"github.com/banditlabs/banditd/internal/policy"
)

// Decision verdicts.
const (
	Ship    = "ship"
	Iterate = "iterate"
	Kill    = "kill"
)

const controlPolicy = "control"

// Criteria holds the thresholds driving the decision rules. Updated
// atomically via UpdateCriteria.
type Criteria struct {
	MinUplift          float64 `json:"min_uplift"`
	SignificanceLevel  float64 `json:"significance_level"`
	MinWindowDays      int     `json:"min_window_days"`
	MaxExperimentDays  int     `json:"max_experiment_days"`
	MinEventsPerPolicy int64   `json:"min_events_per_policy"`
	MaxSamples         int     `json:"max_samples"`
}

// CriteriaFromConfig maps the config section onto Criteria.
func CriteriaFromConfig(cfg config.DecisionsConfig) Criteria {
	return Criteria{
		MinUplift:          cfg.MinUplift,
		SignificanceLevel:  cfg.SignificanceLevel,
		MinWindowDays:      cfg.MinWindowDays,
		MaxExperimentDays:  cfg.MaxExperimentDays,
		MinEventsPerPolicy: cfg.MinEventsPerPolicy,
		MaxSamples:         cfg.MaxSamples,
	}
}

// Result is one full analysis: the verdict plus the per-policy evidence
// behind it.
type Result struct {
	Record      *models.DecisionRecord      `json:"record"`
	Performance []*models.PolicyPerformance `json:"policy_performance"`
}

// Engine analyzes experiments against the criteria. It reads the event
// log only; acting on a verdict is the operator's call.
type Engine struct {
	db      *database.DB
	manager *experiment.Manager
	bandits []string

	mu       sync.RWMutex
	criteria Criteria
}

// NewEngine builds an Engine. bandits defaults to the three built-in
// policies when nil.
func NewEngine(db *database.DB, manager *experiment.Manager, bandits []string, criteria Criteria) *Engine {
	if len(bandits) == 0 {
		bandits = []string{policy.NameThompson, policy.NameEGreedy, policy.NameUCB}
	}
	if criteria.MinWindowDays <= 0 {
		criteria.MinWindowDays = 7
	}
	if criteria.MaxExperimentDays <= 0 {
		criteria.MaxExperimentDays = 14
	}
	if criteria.MaxSamples <= 0 {
		criteria.MaxSamples = 10000
	}
	return &Engine{db: db, manager: manager, bandits: bandits, criteria: criteria}
}

// Criteria returns the current thresholds.
func (e *Engine) Criteria() Criteria {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.criteria
}

// UpdateCriteria replaces the thresholds at runtime.
func (e *Engine) UpdateCriteria(c Criteria) {
	e.mu.Lock()
	e.criteria = c
	e.mu.Unlock()
}

// Run analyzes every active experiment once and appends a decision record
// for each. Per-experiment failures are logged and skipped.
func (e *Engine) Run(ctx context.Context) error {
	experiments, err := e.manager.List(ctx, models.StatusActive)
	if err != nil {
		return fmt.Errorf("listing active experiments: %w", err)
	}

	for _, exp := range experiments {
		res, err := e.Analyze(ctx, exp, 0)
		if err != nil {
			logging.Error().Err(err).
				Str("experiment_id", exp.ID.String()).
				Msg("Decision analysis failed")
			continue
		}
		if err := e.db.InsertDecision(ctx, res.Record); err != nil {
			logging.Error().Err(err).
				Str("experiment_id", exp.ID.String()).
				Msg("Failed to record decision")
			continue
		}
		logging.Info().
			Str("experiment_id", exp.ID.String()).
			Str("decision", res.Record.Decision).
			Float64("confidence", res.Record.Confidence).
			Float64("uplift", res.Record.UpliftVsControl).
			Msg("Experiment decision recorded")
	}
	return nil
}

// Analyze computes the verdict for one experiment. windowDays 0 means
// auto: the experiment's age in days, floored at the minimum window and
// capped at the maximum duration.
func (e *Engine) Analyze(ctx context.Context, exp *models.Experiment, windowDays int) (*Result, error) {
	cr := e.Criteria()
	now := time.Now().UTC()

	if windowDays <= 0 {
		windowDays = e.analysisWindow(exp, now, cr)
	}
	from := now.Add(-time.Duration(windowDays) * 24 * time.Hour)

	perf, err := e.policyPerformance(ctx, exp.ID.String(), from, now, cr)
	if err != nil {
		return nil, err
	}

	best := bestOf(perf)
	bestBandit := bestOf(filterPolicies(perf, e.bandits))
	control := find(perf, controlPolicy)

	uplift := 0.0
	significant := false
	if control != nil && control.Mean != 0 && bestBandit != nil {
		uplift = (bestBandit.Mean - control.Mean) / control.Mean
		if bestBandit.PValue != nil {
			significant = *bestBandit.PValue < cr.SignificanceLevel
		}
	}

	verdict, confidence, reasoning := decide(cr, windowDays, uplift, significant, bestBandit != nil && best == bestBandit)

	bestName := ""
	if best != nil {
		bestName = best.Policy
	}
	record := &models.DecisionRecord{
		ExperimentID:    exp.ID.String(),
		Decision:        verdict,
		Confidence:      confidence,
		WindowDays:      windowDays,
		BestPolicy:      bestName,
		UpliftVsControl: uplift,
		Significant:     significant,
		Reasoning:       reasoning,
		Recommendations: recommendations(verdict, bestName, uplift),
		AnalyzedAt:      now,
	}
	return &Result{Record: record, Performance: perf}, nil
}

// analysisWindow is the experiment's duration in days, floored at the
// minimum window and capped at the maximum experiment length.
func (e *Engine) analysisWindow(exp *models.Experiment, now time.Time, cr Criteria) int {
	end := now
	if exp.EndAt != nil {
		end = *exp.EndAt
	}
	days := int(end.Sub(exp.StartAt).Hours() / 24)
	if days < cr.MinWindowDays {
		days = cr.MinWindowDays
	}
	if days > cr.MaxExperimentDays {
		days = cr.MaxExperimentDays
	}
	return days
}

// policyPerformance builds PolicyPerformance for every policy clearing
// the event minimum, with a Welch t-test against control for bandits.
func (e *Engine) policyPerformance(ctx context.Context, experimentID string, from, to time.Time, cr Criteria) ([]*models.PolicyPerformance, error) {
	counts, err := e.db.PolicyEventCounts(ctx, experimentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("counting policy events: %w", err)
	}

	var controlRewards []float64
	if counts[controlPolicy] >= cr.MinEventsPerPolicy {
		controlRewards, err = e.db.PolicyRewards(ctx, experimentID, controlPolicy, from, to, cr.MaxSamples)
		if err != nil {
			return nil, fmt.Errorf("loading control rewards: %w", err)
		}
	}

	var out []*models.PolicyPerformance
	for _, name := range append(append([]string{}, e.bandits...), controlPolicy) {
		if counts[name] < cr.MinEventsPerPolicy {
			continue
		}
		rewards := controlRewards
		if name != controlPolicy {
			rewards, err = e.db.PolicyRewards(ctx, experimentID, name, from, to, cr.MaxSamples)
			if err != nil {
				return nil, fmt.Errorf("loading %s rewards: %w", name, err)
			}
		}

		mean, std := summarize(rewards)
		low, high := confidenceInterval(mean, std, int64(len(rewards)))
		p := &models.PolicyPerformance{
			Policy:    name,
			Count:     counts[name],
			SumReward: mean * float64(len(rewards)),
			Mean:      mean,
			Std:       std,
			CILow:     low,
			CIHigh:    high,
		}
		if name != controlPolicy && len(controlRewards) > 0 {
			if pv, ok := welchTTest(rewards, controlRewards); ok {
				p.PValue = &pv
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// decide applies the decision rules in order.
func decide(cr Criteria, windowDays int, uplift float64, significant, bestIsBandit bool) (verdict string, confidence float64, reasoning string) {
	if windowDays < cr.MinWindowDays {
		return Iterate, 0, "insufficient data for decision"
	}

	if windowDays >= cr.MaxExperimentDays {
		if uplift >= cr.MinUplift && significant {
			return Ship, 0.8, "maximum duration reached with positive results"
		}
		return Kill, 0.9, "maximum duration reached without significant improvement"
	}

	if uplift >= cr.MinUplift && significant && bestIsBandit {
		confidence = 0.7 + (uplift-cr.MinUplift)*10
		if confidence > 0.95 {
			confidence = 0.95
		}
		return Ship, confidence,
			fmt.Sprintf("significant uplift: %.1f%% vs control, p < %v", uplift*100, cr.SignificanceLevel)
	}

	if uplift <= -0.05 {
		return Kill, 0.8, fmt.Sprintf("significant drop: %.1f%% vs control", uplift*100)
	}

	return Iterate, 0.5, "inconclusive results, need more data"
}

func recommendations(verdict, bestPolicy string, uplift float64) []string {
	var recs []string
	switch verdict {
	case Ship:
		recs = append(recs,
			fmt.Sprintf("ship %s policy to production", bestPolicy),
			"monitor performance for 48 hours after rollout",
			"consider gradual rollout (10% -> 50% -> 100%)")
	case Kill:
		recs = append(recs,
			"end experiment and revert to control",
			"analyze failure modes and policy behavior",
			"consider policy parameter tuning")
	default:
		recs = append(recs,
			"extend experiment for additional data collection",
			"monitor guardrails for any issues",
			"consider increasing traffic allocation")
	}
	if uplift > 0 {
		recs = append(recs, "positive trend detected, continue monitoring")
	} else {
		recs = append(recs, "negative trend detected, investigate causes")
	}
	return recs
}

func bestOf(perf []*models.PolicyPerformance) *models.PolicyPerformance {
	var best *models.PolicyPerformance
	for _, p := range perf {
		if best == nil || p.Mean > best.Mean {
			best = p
		}
	}
	return best
}

func filterPolicies(perf []*models.PolicyPerformance, names []string) []*models.PolicyPerformance {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	var out []*models.PolicyPerformance
	for _, p := range perf {
		if keep[p.Policy] {
			out = append(out, p)
		}
	}
	return out
}

func find(perf []*models.PolicyPerformance, name string) *models.PolicyPerformance {
	for _, p := range perf {
		if p.Policy == name {
			return p
		}
	}
	return nil
}
