// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/banditlabs/banditd/internal/config"
	"github.com/banditlabs/banditd/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(&config.DatabaseConfig{Path: ":memory:", Threads: 2})
	if err != nil {
		t.Fatalf("opening in-memory database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("closing database: %v", err)
		}
	})
	return db
}

func testExperiment(t *testing.T, db *DB) *models.Experiment {
	t.Helper()
	exp := &models.Experiment{
		ID:            uuid.New(),
		Name:          "homepage-ranker",
		StartAt:       time.Now().UTC().Add(-time.Hour),
		TrafficPct:    0.5,
		DefaultPolicy: "thompson",
	}
	if err := db.CreateExperiment(context.Background(), exp); err != nil {
		t.Fatalf("creating experiment: %v", err)
	}
	return exp
}

func TestExperimentLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	exp := testExperiment(t, db)

	got, err := db.GetExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("GetExperiment: %v", err)
	}
	if got.Name != exp.Name || got.TrafficPct != 0.5 {
		t.Errorf("got %+v, want name=%s traffic=0.5", got, exp.Name)
	}
	if got.Status(time.Now()) != models.StatusActive {
		t.Errorf("status = %s, want active", got.Status(time.Now()))
	}

	endAt := time.Now().UTC()
	if err := db.EndExperiment(ctx, exp.ID, endAt); err != nil {
		t.Fatalf("EndExperiment: %v", err)
	}
	got, err = db.GetExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("GetExperiment after end: %v", err)
	}
	if got.EndAt == nil {
		t.Fatal("EndAt not set after EndExperiment")
	}
	if got.Status(endAt.Add(time.Second)) != models.StatusEnded {
		t.Error("status after end_at should be ended")
	}

	if _, err := db.GetExperiment(ctx, uuid.New()); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
}

func TestAssignmentUniqueness(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	exp := testExperiment(t, db)

	a := &models.PolicyAssignment{ExperimentID: exp.ID, UserID: 42, Policy: "egreedy", Bucket: 17}
	inserted, err := db.InsertAssignment(ctx, a)
	if err != nil {
		t.Fatalf("InsertAssignment: %v", err)
	}
	if !inserted {
		t.Fatal("first insert reported conflict")
	}

	dup := &models.PolicyAssignment{ExperimentID: exp.ID, UserID: 42, Policy: "ucb", Bucket: 17}
	inserted, err = db.InsertAssignment(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate InsertAssignment: %v", err)
	}
	if inserted {
		t.Error("duplicate insert should not affect rows")
	}

	got, err := db.GetAssignment(ctx, exp.ID, 42)
	if err != nil {
		t.Fatalf("GetAssignment: %v", err)
	}
	if got.Policy != "egreedy" {
		t.Errorf("surviving policy = %s, want egreedy (first writer wins)", got.Policy)
	}
}

func TestPolicyStateDefaultsAndDelta(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	st, err := db.GetPolicyState(ctx, "thompson", "popular", "ctx1")
	if err != nil {
		t.Fatalf("GetPolicyState: %v", err)
	}
	if st.Count != 0 || st.Alpha != 1.0 || st.Beta != 1.0 {
		t.Errorf("default state = %+v, want zero counters with Beta(1,1)", st)
	}

	now := time.Now().UTC()
	st, err = db.ApplyStateDelta(ctx, "thompson", "popular", "ctx1", models.StateDelta{
		Count: 1, SumReward: 1.0, Alpha: 1.0, LastSelectedAt: now,
	})
	if err != nil {
		t.Fatalf("ApplyStateDelta: %v", err)
	}
	if st.Count != 1 || st.SumReward != 1.0 || st.Alpha != 2.0 || st.Beta != 1.0 {
		t.Errorf("after delta: %+v", st)
	}
	if st.MeanReward != 1.0 {
		t.Errorf("mean = %v, want 1.0", st.MeanReward)
	}

	st, err = db.ApplyStateDelta(ctx, "thompson", "popular", "ctx1", models.StateDelta{
		Count: 1, SumReward: 0, Beta: 1.0,
	})
	if err != nil {
		t.Fatalf("second ApplyStateDelta: %v", err)
	}
	if st.Count != 2 || st.MeanReward != 0.5 || st.Beta != 2.0 {
		t.Errorf("after second delta: count=%d mean=%v beta=%v, want 2/0.5/2", st.Count, st.MeanReward, st.Beta)
	}
}

func TestGetPolicyStatesFillsMissingArms(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.ApplyStateDelta(ctx, "ucb", "trending", "c", models.StateDelta{Count: 3, SumReward: 2}); err != nil {
		t.Fatal(err)
	}

	states, err := db.GetPolicyStates(ctx, "ucb", "c", []string{"popular", "trending"})
	if err != nil {
		t.Fatalf("GetPolicyStates: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("got %d states, want 2", len(states))
	}
	if states[0].ArmID != "popular" || states[0].Count != 0 {
		t.Errorf("missing arm should be lazy default, got %+v", states[0])
	}
	if states[1].ArmID != "trending" || states[1].Count != 3 {
		t.Errorf("existing arm state lost, got %+v", states[1])
	}
}

func TestRewardIdempotence(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	policy := "thompson"
	ev := &models.RecommendationEvent{
		UserID: 7, Algorithm: "bandit", Policy: &policy,
		ServedAt: time.Now().UTC().Add(-time.Hour),
	}
	if err := db.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	mutated, err := db.SetReward(ctx, ev.ID, 0.7)
	if err != nil {
		t.Fatalf("SetReward: %v", err)
	}
	if !mutated {
		t.Fatal("first SetReward should mutate")
	}

	mutated, err = db.SetReward(ctx, ev.ID, 0.9)
	if err != nil {
		t.Fatalf("second SetReward: %v", err)
	}
	if mutated {
		t.Error("second SetReward must be a no-op")
	}

	got, err := db.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if got.Reward == nil || *got.Reward != 0.7 {
		t.Errorf("reward = %v, want first write 0.7", got.Reward)
	}
}

func TestMarkInteractionAttachesToLatestEvent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	movie := int64(101)

	older := &models.RecommendationEvent{UserID: 1, MovieID: &movie, Algorithm: "bandit",
		ServedAt: time.Now().UTC().Add(-2 * time.Hour)}
	newer := &models.RecommendationEvent{UserID: 1, MovieID: &movie, Algorithm: "bandit",
		ServedAt: time.Now().UTC().Add(-time.Minute)}
	for _, ev := range []*models.RecommendationEvent{older, newer} {
		if err := db.AppendEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	ok, err := db.MarkInteraction(ctx, 1, movie, models.InteractionClick, 0, time.Now().UTC())
	if err != nil {
		t.Fatalf("MarkInteraction: %v", err)
	}
	if !ok {
		t.Fatal("expected interaction to attach")
	}

	got, err := db.GetEvent(ctx, newer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Clicked || got.ClickedAt == nil {
		t.Error("newest event should carry the click")
	}
	old, err := db.GetEvent(ctx, older.ID)
	if err != nil {
		t.Fatal(err)
	}
	if old.Clicked {
		t.Error("older event must not be touched")
	}

	// No event for this pair: a silent no-op.
	ok, err = db.MarkInteraction(ctx, 999, movie, models.InteractionClick, 0, time.Now().UTC())
	if err != nil {
		t.Fatalf("MarkInteraction miss: %v", err)
	}
	if ok {
		t.Error("expected miss for unknown user")
	}
}

func TestSweepUnrewardedEvents(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	stale := &models.RecommendationEvent{UserID: 5, Algorithm: "bandit",
		ServedAt: time.Now().UTC().Add(-31 * 24 * time.Hour)}
	fresh := &models.RecommendationEvent{UserID: 5, Algorithm: "bandit",
		ServedAt: time.Now().UTC().Add(-time.Hour)}
	for _, ev := range []*models.RecommendationEvent{stale, fresh} {
		if err := db.AppendEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.SweepUnrewardedEvents(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("SweepUnrewardedEvents: %v", err)
	}
	if n != 1 {
		t.Errorf("swept %d events, want 1", n)
	}

	got, err := db.GetEvent(ctx, stale.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Reward == nil || *got.Reward != 0.0 {
		t.Errorf("stale reward = %v, want 0.0", got.Reward)
	}
	freshGot, err := db.GetEvent(ctx, fresh.ID)
	if err != nil {
		t.Fatal(err)
	}
	if freshGot.Reward != nil {
		t.Error("fresh event must stay unrewarded")
	}
}

func TestDecisionLogRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	d := &models.DecisionRecord{
		ExperimentID:    "exp-1",
		Decision:        "SHIP",
		Confidence:      0.85,
		WindowDays:      7,
		BestPolicy:      "thompson",
		UpliftVsControl: 0.06,
		Significant:     true,
		Reasoning:       "uplift above threshold with p < 0.05",
		Recommendations: []string{"promote thompson to default"},
	}
	if err := db.InsertDecision(ctx, d); err != nil {
		t.Fatalf("InsertDecision: %v", err)
	}
	if d.ID == 0 {
		t.Error("InsertDecision did not assign an id")
	}

	list, err := db.ListDecisions(ctx, "exp-1", 10)
	if err != nil {
		t.Fatalf("ListDecisions: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d decisions, want 1", len(list))
	}
	got := list[0]
	if got.Decision != "SHIP" || !got.Significant || len(got.Recommendations) != 1 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}

func TestEventContextRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	bc := &models.BanditContext{UserType: models.UserTypeRegular, TimePeriod: models.TimePeriodEvening}
	policy := "egreedy"
	ev := &models.RecommendationEvent{
		UserID: 3, Algorithm: "bandit", Policy: &policy, Context: bc,
		ServedAt: time.Now().UTC(),
	}
	if err := db.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	got, err := db.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Context == nil || got.Context.UserType != models.UserTypeRegular {
		t.Errorf("context round trip failed: %+v", got.Context)
	}
}
