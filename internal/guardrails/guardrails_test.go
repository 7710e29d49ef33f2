// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package guardrails

import (
	"context"
	"testing"
	"time"

	"github.com/banditlabs/banditd/internal/cache"
	"github.com/banditlabs/banditd/internal/config"
	"github.com/banditlabs/banditd/internal/database"
	"github.com/banditlabs/banditd/internal/experiment"
	"github.com/banditlabs/banditd/internal/models"
)

type fixedErrorRate struct{ rate float64 }

func (f fixedErrorRate) WindowErrorRate(string) float64 { return f.rate }

type recordingAlerts struct{ alerts []string }

func (r *recordingAlerts) CriticalAlert(experimentID, message string) {
	r.alerts = append(r.alerts, experimentID+": "+message)
}

func testSetup(t *testing.T) (*database.DB, *experiment.Manager) {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", Threads: 2})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, experiment.NewManager(db, cache.NewMemory(time.Minute), time.Hour)
}

func activeExperiment(t *testing.T, m *experiment.Manager) *models.Experiment {
	t.Helper()
	exp, err := m.Create(context.Background(), experiment.CreateParams{
		Name: "guarded", TrafficPct: 1.0, DefaultPolicy: "thompson",
	})
	if err != nil {
		t.Fatal(err)
	}
	return exp
}

// seedEvents writes n events with the given policy/arm/latency/reward
// inside the guardrail window.
func seedEvents(t *testing.T, db *database.DB, expID string, n int, policyName, armID string, latencyMS, rewardVal float64) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		lat := latencyMS
		rew := rewardVal
		ev := &models.RecommendationEvent{
			UserID:       int64(i),
			Algorithm:    "bandit",
			ExperimentID: &expID,
			Policy:       &policyName,
			ArmID:        &armID,
			LatencyMS:    &lat,
			ServedAt:     time.Now().UTC().Add(-10 * time.Minute),
		}
		if err := db.AppendEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
		if _, err := db.SetReward(ctx, ev.ID, rew); err != nil {
			t.Fatal(err)
		}
	}
}

func defaultEngine(db *database.DB) *Engine {
	return NewEngine(db, DefaultThresholds(),
		[]string{CheckErrorRate, CheckLatencyP95}, 2, 30*time.Minute)
}

func checkByName(report *models.GuardrailReport, name string) *models.GuardrailResult {
	for i := range report.Checks {
		if report.Checks[i].Check == name {
			return &report.Checks[i]
		}
	}
	return nil
}

func TestHealthyExperimentPasses(t *testing.T) {
	db, m := testSetup(t)
	exp := activeExperiment(t, m)
	seedEvents(t, db, exp.ID.String(), 20, "thompson", "a", 50, 0.5)
	seedEvents(t, db, exp.ID.String(), 20, "control", "b", 50, 0.5)

	report, err := defaultEngine(db).Evaluate(context.Background(), exp, ZeroErrorRate{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.ShouldRollback {
		t.Errorf("healthy experiment flagged for rollback: %+v", report.Checks)
	}
	for _, c := range report.Checks {
		if c.Status == models.GuardrailFail {
			t.Errorf("check %s failed on healthy data: %+v", c.Check, c)
		}
	}
}

func TestLatencyAndErrorRateTriggerRollback(t *testing.T) {
	// S6 shape: p95 latency 150ms and error rate 2%, both critical.
	db, m := testSetup(t)
	exp := activeExperiment(t, m)
	seedEvents(t, db, exp.ID.String(), 30, "thompson", "a", 150, 0.5)

	report, err := defaultEngine(db).Evaluate(context.Background(), exp, fixedErrorRate{0.02})
	if err != nil {
		t.Fatal(err)
	}
	if got := checkByName(report, CheckErrorRate); got == nil || got.Status != models.GuardrailFail {
		t.Errorf("error_rate at 2%% should FAIL, got %+v", got)
	}
	if got := checkByName(report, CheckLatencyP95); got == nil || got.Status != models.GuardrailFail {
		t.Errorf("latency p95 150ms should FAIL, got %+v", got)
	}
	if !report.ShouldRollback {
		t.Error("two critical FAILs must trigger rollback")
	}
}

func TestConcentrationIsWarningOnly(t *testing.T) {
	db, m := testSetup(t)
	exp := activeExperiment(t, m)
	// One arm takes 90% of serves.
	seedEvents(t, db, exp.ID.String(), 90, "thompson", "dominant", 50, 0.5)
	seedEvents(t, db, exp.ID.String(), 10, "thompson", "other", 50, 0.5)

	report, err := defaultEngine(db).Evaluate(context.Background(), exp, ZeroErrorRate{})
	if err != nil {
		t.Fatal(err)
	}
	got := checkByName(report, CheckArmConcentration)
	if got == nil || got.Status != models.GuardrailWarning {
		t.Errorf("90%% concentration should WARN, got %+v", got)
	}
	if report.ShouldRollback {
		t.Error("a lone warning must not roll back")
	}
}

func TestRewardDropNeedsControl(t *testing.T) {
	db, m := testSetup(t)
	exp := activeExperiment(t, m)
	seedEvents(t, db, exp.ID.String(), 20, "thompson", "a", 50, 0.5)

	report, err := defaultEngine(db).Evaluate(context.Background(), exp, ZeroErrorRate{})
	if err != nil {
		t.Fatal(err)
	}
	got := checkByName(report, CheckRewardDrop)
	if got == nil || got.Status != models.GuardrailPass || got.Note == "" {
		t.Errorf("missing control should pass with note, got %+v", got)
	}

	// With a clearly better control, the drop warns.
	seedEvents(t, db, exp.ID.String(), 20, "control", "b", 50, 0.9)
	report, err = defaultEngine(db).Evaluate(context.Background(), exp, ZeroErrorRate{})
	if err != nil {
		t.Fatal(err)
	}
	got = checkByName(report, CheckRewardDrop)
	if got == nil || got.Status != models.GuardrailWarning {
		t.Errorf("large reward drop should WARN, got %+v", got)
	}
}

func TestMonitorRollbackAndCooldown(t *testing.T) {
	db, m := testSetup(t)
	exp := activeExperiment(t, m)
	seedEvents(t, db, exp.ID.String(), 30, "thompson", "a", 150, 0.5)

	monitor := NewMonitor(defaultEngine(db), m, fixedErrorRate{0.02}, nil, time.Hour, 3)
	if err := monitor.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, err := m.Get(context.Background(), exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.EndAt == nil {
		t.Fatal("failing experiment should be ended by the tick")
	}

	// The experiment is ended now, so later ticks see no active
	// experiments; the recorded rollback state must also suppress a
	// hypothetical re-evaluation inside the cooldown.
	if err := monitor.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	monitor.mu.Lock()
	attempts := monitor.attempts[exp.ID]
	monitor.mu.Unlock()
	if attempts != 1 {
		t.Errorf("attempts = %d after cooldown tick, want 1", attempts)
	}
}

func TestMonitorAttemptCapAlerts(t *testing.T) {
	db, m := testSetup(t)
	exp := activeExperiment(t, m)
	seedEvents(t, db, exp.ID.String(), 30, "thompson", "a", 150, 0.5)

	alerts := &recordingAlerts{}
	// Zero cooldown is coerced to the 1h default, so use a tiny one.
	monitor := NewMonitor(defaultEngine(db), m, fixedErrorRate{0.02}, alerts, time.Nanosecond, 1)

	// First tick consumes the single allowed attempt.
	if err := monitor.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Force another failing evaluation for the same (now ended)
	// experiment through rollback directly; the cap must alert instead.
	report, err := monitor.Evaluate(context.Background(), exp)
	if err != nil {
		t.Fatal(err)
	}
	monitor.rollback(context.Background(), exp, report)

	if len(alerts.alerts) == 0 {
		t.Error("exhausted attempt cap should raise a critical alert")
	}
}
