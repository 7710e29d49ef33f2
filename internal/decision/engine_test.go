// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package decision

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

func testEngine(t *testing.T) (*Engine, *database.DB, *experiment.Manager) {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", Threads: 2})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	m := experiment.NewManager(db, cache.NewMemory(time.Minute), time.Hour)
	criteria := CriteriaFromConfig(config.Default().Decisions)
	criteria.MinEventsPerPolicy = 10 // keep test fixtures small
	return NewEngine(db, m, nil, criteria), db, m
}

func newExperiment(t *testing.T, m *experiment.Manager) *models.Experiment {
	t.Helper()
	exp, err := m.Create(context.Background(), experiment.CreateParams{
		Name: "decide-me", TrafficPct: 1.0, DefaultPolicy: "thompson",
	})
	if err != nil {
		t.Fatal(err)
	}
	return exp
}

// seedRewarded writes n rewarded events for a policy. meanReward is hit
// exactly by alternating 1.0 and 0.0 in proportion.
func seedRewarded(t *testing.T, db *database.DB, expID, policyName string, n int, meanReward float64) {
	t.Helper()
	ctx := context.Background()
	ones := int(float64(n) * meanReward)
	arm := "a"
	for i := 0; i < n; i++ {
		ev := &models.RecommendationEvent{
			UserID:       int64(i),
			Algorithm:    "bandit",
			ExperimentID: &expID,
			Policy:       &policyName,
			ArmID:        &arm,
			ServedAt:     time.Now().UTC().Add(-time.Hour),
		}
		if err := db.AppendEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
		r := 0.0
		if i < ones {
			r = 1.0
		}
		if _, err := db.SetReward(ctx, ev.ID, r); err != nil {
			t.Fatal(err)
		}
	}
}

func TestAnalyzeShipsClearWinner(t *testing.T) {
	e, db, m := testEngine(t)
	exp := newExperiment(t, m)
	seedRewarded(t, db, exp.ID.String(), "thompson", 60, 0.8)
	seedRewarded(t, db, exp.ID.String(), "control", 60, 0.3)

	res, err := e.Analyze(context.Background(), exp, 0)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	rec := res.Record

	if rec.Decision != Ship {
		t.Fatalf("decision = %s (%s), want ship", rec.Decision, rec.Reasoning)
	}
	if rec.BestPolicy != "thompson" {
		t.Errorf("best policy = %s, want thompson", rec.BestPolicy)
	}
	if !rec.Significant {
		t.Error("a 0.8 vs 0.3 split over 60 samples each should be significant")
	}
	// Uplift (0.8-0.3)/0.3 far exceeds the cap input, so confidence pins.
	if rec.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", rec.Confidence)
	}
	if len(rec.Recommendations) == 0 {
		t.Error("ship verdict should carry recommendations")
	}
}

func TestAnalyzeKillsClearRegression(t *testing.T) {
	e, db, m := testEngine(t)
	exp := newExperiment(t, m)
	seedRewarded(t, db, exp.ID.String(), "thompson", 60, 0.3)
	seedRewarded(t, db, exp.ID.String(), "control", 60, 0.6)

	res, err := e.Analyze(context.Background(), exp, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Record.Decision != Kill {
		t.Errorf("decision = %s, want kill (uplift %v)",
			res.Record.Decision, res.Record.UpliftVsControl)
	}
	if res.Record.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", res.Record.Confidence)
	}
}

func TestAnalyzeSkipsThinPolicies(t *testing.T) {
	e, db, m := testEngine(t)
	exp := newExperiment(t, m)
	seedRewarded(t, db, exp.ID.String(), "thompson", 60, 0.8)
	// Below the 10-event minimum: must not appear in the evidence.
	seedRewarded(t, db, exp.ID.String(), "ucb", 3, 1.0)

	res, err := e.Analyze(context.Background(), exp, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range res.Performance {
		if p.Policy == "ucb" {
			t.Error("ucb has too few events to be analyzed")
		}
	}
	// No control data either: uplift is indeterminate, so iterate.
	if res.Record.Decision != Iterate {
		t.Errorf("decision without control = %s, want iterate", res.Record.Decision)
	}
}

func TestDecideRules(t *testing.T) {
	cr := CriteriaFromConfig(config.Default().Decisions)

	tests := []struct {
		name           string
		window         int
		uplift         float64
		significant    bool
		bestIsBandit   bool
		wantVerdict    string
		wantConfidence float64
	}{
		{"short window", 3, 0.5, true, true, Iterate, 0},
		{"max duration winner", 14, 0.05, true, true, Ship, 0.8},
		{"max duration loser", 14, 0.05, false, true, Kill, 0.9},
		{"significant uplift", 7, 0.04, true, true, Ship, 0.8},
		{"uplift capped", 7, 0.30, true, true, Ship, 0.95},
		{"uplift without significance", 7, 0.10, false, true, Iterate, 0.5},
		{"control is best", 7, 0.04, true, false, Iterate, 0.5},
		{"regression", 7, -0.10, false, true, Kill, 0.8},
		{"flat", 7, 0.01, false, true, Iterate, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, conf, _ := decide(cr, tt.window, tt.uplift, tt.significant, tt.bestIsBandit)
			if verdict != tt.wantVerdict {
				t.Errorf("verdict = %s, want %s", verdict, tt.wantVerdict)
			}
			if diff := conf - tt.wantConfidence; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("confidence = %v, want %v", conf, tt.wantConfidence)
			}
		})
	}
}

func TestRunRecordsDecision(t *testing.T) {
	e, db, m := testEngine(t)
	exp := newExperiment(t, m)
	seedRewarded(t, db, exp.ID.String(), "egreedy", 40, 0.7)
	seedRewarded(t, db, exp.ID.String(), "control", 40, 0.5)

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	history, err := db.ListDecisions(context.Background(), exp.ID.String(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("decision history = %d rows, want 1", len(history))
	}
	if history[0].WindowDays != 7 {
		t.Errorf("window = %d, want the 7-day floor for a fresh experiment", history[0].WindowDays)
	}
}

func TestUpdateCriteria(t *testing.T) {
	e, _, _ := testEngine(t)
	cr := e.Criteria()
	cr.MinUplift = 0.10
	e.UpdateCriteria(cr)
	if e.Criteria().MinUplift != 0.10 {
		t.Error("criteria update not visible")
	}
}
