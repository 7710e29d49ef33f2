// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package guardrails

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banditlabs/banditd/internal/experiment"
	"github.com/banditlabs/banditd/internal/logging"
	"github.com/banditlabs/banditd/internal/metrics"
	"github.com/banditlabs/banditd/internal/models"
)

// AlertSink receives critical guardrail alerts, e.g. when the rollback
// attempt cap is exhausted. The default sink logs at error level.
type AlertSink interface {
	CriticalAlert(experimentID, message string)
}

// LogAlertSink logs critical alerts through the global logger.
type LogAlertSink struct{}

// CriticalAlert logs the alert.
func (LogAlertSink) CriticalAlert(experimentID, message string) {
	logging.Error().
		Str("experiment_id", experimentID).
		Str("alert", "critical").
		Msg(message)
}

// Monitor runs the periodic guardrail sweep over active experiments and
// performs rollbacks with per-experiment cooldown and attempt capping.
type Monitor struct {
	engine  *Engine
	manager *experiment.Manager
	errSrc  ErrorRateSource
	alerts  AlertSink

	cooldown    time.Duration
	maxAttempts int

	mu           sync.Mutex
	lastRollback map[uuid.UUID]time.Time
	attempts     map[uuid.UUID]int
}

// NewMonitor builds a Monitor. alerts may be nil for log-only alerting;
// errSrc may be nil when no serve-path accounting is wired.
func NewMonitor(engine *Engine, manager *experiment.Manager, errSrc ErrorRateSource, alerts AlertSink, cooldown time.Duration, maxAttempts int) *Monitor {
	if cooldown <= 0 {
		cooldown = time.Hour
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if alerts == nil {
		alerts = LogAlertSink{}
	}
	return &Monitor{
		engine:       engine,
		manager:      manager,
		errSrc:       errSrc,
		alerts:       alerts,
		cooldown:     cooldown,
		maxAttempts:  maxAttempts,
		lastRollback: make(map[uuid.UUID]time.Time),
		attempts:     make(map[uuid.UUID]int),
	}
}

// Tick evaluates every active experiment once. A failing experiment is
// ended unless it is inside its rollback cooldown; exhausting the attempt
// cap raises a critical alert instead of another rollback.
func (m *Monitor) Tick(ctx context.Context) error {
	experiments, err := m.manager.List(ctx, models.StatusActive)
	if err != nil {
		return err
	}

	for _, exp := range experiments {
		report, err := m.engine.Evaluate(ctx, exp, m.errSrc)
		if err != nil {
			logging.Error().Err(err).
				Str("experiment_id", exp.ID.String()).
				Msg("Guardrail evaluation failed")
			continue
		}
		if !report.ShouldRollback {
			continue
		}
		m.rollback(ctx, exp, report)
	}
	return nil
}

// Evaluate runs the checks for one experiment without acting, for the
// analytics guardrails endpoint.
func (m *Monitor) Evaluate(ctx context.Context, exp *models.Experiment) (*models.GuardrailReport, error) {
	return m.engine.Evaluate(ctx, exp, m.errSrc)
}

func (m *Monitor) rollback(ctx context.Context, exp *models.Experiment, report *models.GuardrailReport) {
	now := time.Now().UTC()

	m.mu.Lock()
	if last, ok := m.lastRollback[exp.ID]; ok && now.Sub(last) < m.cooldown {
		m.mu.Unlock()
		logging.Debug().
			Str("experiment_id", exp.ID.String()).
			Time("last_rollback", last).
			Msg("Rollback suppressed by cooldown")
		return
	}
	if m.attempts[exp.ID] >= m.maxAttempts {
		m.mu.Unlock()
		m.alerts.CriticalAlert(exp.ID.String(),
			"guardrail rollback attempt cap exhausted; manual intervention required")
		return
	}
	m.attempts[exp.ID]++
	m.lastRollback[exp.ID] = now
	m.mu.Unlock()

	failed := make([]string, 0, len(report.Checks))
	for _, c := range report.Checks {
		if c.Status == models.GuardrailFail {
			failed = append(failed, c.Check)
		}
	}

	if _, err := m.manager.End(ctx, exp.ID); err != nil {
		logging.Error().Err(err).
			Str("experiment_id", exp.ID.String()).
			Msg("Guardrail rollback failed to end experiment")
		return
	}

	metrics.RollbacksTotal.Inc()
	logging.Warn().
		Str("experiment_id", exp.ID.String()).
		Strs("failed_checks", failed).
		Msg("Experiment rolled back by guardrails")
}
