// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Package guardrails evaluates live safety checks over experiment traffic
// and drives automatic rollback when they fail.
package guardrails

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banditlabs/banditd/internal/database"
	"github.com/banditlabs/banditd/internal/models"
)

// Check names.
const (
	CheckErrorRate        = "error_rate"
	CheckLatencyP95       = "latency_p95"
	CheckArmConcentration = "arm_concentration"
	CheckRewardDrop       = "reward_drop"
)

// Thresholds holds the four check thresholds. Error rate, concentration
// and reward drop are fractions; latency is milliseconds.
type Thresholds struct {
	ErrorRate        float64 `json:"error_rate"`
	LatencyP95MS     float64 `json:"latency_p95_ms"`
	ArmConcentration float64 `json:"arm_concentration"`
	RewardDrop       float64 `json:"reward_drop"`
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrorRate:        0.01,
		LatencyP95MS:     120,
		ArmConcentration: 0.50,
		RewardDrop:       0.05,
	}
}

// ErrorRateSource supplies the share of failed serves for an experiment
// over the evaluation window. The event log records only successful
// serves, so this signal comes from serve-path accounting.
type ErrorRateSource interface {
	WindowErrorRate(experimentID string) float64
}

// ZeroErrorRate reports no serve failures; used when no accounting is wired.
type ZeroErrorRate struct{}

// WindowErrorRate always returns 0.
func (ZeroErrorRate) WindowErrorRate(string) float64 { return 0 }

// Engine evaluates the four guardrail checks for one experiment window.
type Engine struct {
	db       *database.DB
	lookback time.Duration

	mu         sync.RWMutex
	thresholds Thresholds
	critical   map[string]bool
	failCount  int
}

// NewEngine builds an Engine. critical names the checks whose single FAIL
// triggers rollback; failCount is the FAIL quorum for the rest.
func NewEngine(db *database.DB, thresholds Thresholds, critical []string, failCount int, lookback time.Duration) *Engine {
	if lookback <= 0 {
		lookback = 30 * time.Minute
	}
	if failCount <= 0 {
		failCount = 2
	}
	crit := make(map[string]bool, len(critical))
	for _, c := range critical {
		crit[c] = true
	}
	return &Engine{
		db:         db,
		lookback:   lookback,
		thresholds: thresholds,
		critical:   crit,
		failCount:  failCount,
	}
}

// UpdateThresholds replaces the thresholds at runtime.
func (e *Engine) UpdateThresholds(t Thresholds) {
	e.mu.Lock()
	e.thresholds = t
	e.mu.Unlock()
}

// Thresholds returns the current thresholds.
func (e *Engine) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholds
}

// Evaluate runs all four checks over the experiment's rolling window. A
// failed metrics read degrades to synthetic FAIL results rather than an
// error: a guardrail that cannot see is a guardrail that fails closed.
func (e *Engine) Evaluate(ctx context.Context, exp *models.Experiment, errSrc ErrorRateSource) (*models.GuardrailReport, error) {
	e.mu.RLock()
	th := e.thresholds
	critical := e.critical
	failQuorum := e.failCount
	e.mu.RUnlock()

	now := time.Now().UTC()
	report := &models.GuardrailReport{
		ExperimentID: exp.ID.String(),
		EvaluatedAt:  now,
	}

	if errSrc == nil {
		errSrc = ZeroErrorRate{}
	}
	errorRate := errSrc.WindowErrorRate(exp.ID.String())
	report.Checks = append(report.Checks, failAbove(CheckErrorRate, errorRate, th.ErrorRate, models.GuardrailFail))

	metrics, err := e.db.GuardrailWindowMetrics(ctx, exp.ID.String(), "control", now.Add(-e.lookback), now)
	if err != nil {
		note := fmt.Sprintf("metrics unavailable: %v", err)
		for _, name := range []string{CheckLatencyP95, CheckArmConcentration, CheckRewardDrop} {
			report.Checks = append(report.Checks, models.GuardrailResult{
				Check: name, Status: models.GuardrailFail, Note: note,
			})
		}
	} else {
		report.Checks = append(report.Checks,
			failAbove(CheckLatencyP95, metrics.LatencyP95MS, th.LatencyP95MS, models.GuardrailFail),
			failAbove(CheckArmConcentration, metrics.TopArmShare, th.ArmConcentration, models.GuardrailWarning),
			rewardDropCheck(metrics, th.RewardDrop),
		)
	}

	fails := 0
	criticalFail := false
	for _, c := range report.Checks {
		if c.Status != models.GuardrailFail {
			continue
		}
		fails++
		if critical[c.Check] {
			criticalFail = true
		}
	}
	report.ShouldRollback = fails >= failQuorum || criticalFail

	return report, nil
}

// failAbove grades a metric that must stay below its threshold.
func failAbove(name string, value, threshold float64, above models.GuardrailStatus) models.GuardrailResult {
	status := models.GuardrailPass
	if value > threshold {
		status = above
	}
	return models.GuardrailResult{Check: name, Status: status, Value: value, Threshold: threshold}
}

// rewardDropCheck compares experiment reward against control. Without
// control data the check passes with a note instead of guessing.
func rewardDropCheck(m *models.GuardrailWindowMetrics, threshold float64) models.GuardrailResult {
	if m.ControlSamples == 0 || m.ControlMeanReward == 0 {
		return models.GuardrailResult{
			Check:     CheckRewardDrop,
			Status:    models.GuardrailPass,
			Threshold: threshold,
			Note:      "no control data in window",
		}
	}
	drop := (m.ControlMeanReward - m.ExperimentMeanReward) / m.ControlMeanReward
	return failAbove(CheckRewardDrop, drop, threshold, models.GuardrailWarning)
}
