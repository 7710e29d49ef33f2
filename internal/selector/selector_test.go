// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/banditlabs/banditd/internal/cache"
	"github.com/banditlabs/banditd/internal/config"
	"github.com/banditlabs/banditd/internal/database"
	"github.com/banditlabs/banditd/internal/eventbus"
	"github.com/banditlabs/banditd/internal/experiment"
	"github.com/banditlabs/banditd/internal/metrics"
	"github.com/banditlabs/banditd/internal/models"
	"github.com/banditlabs/banditd/internal/policy"
)

func testSelector(t *testing.T, cfg Config) (*Selector, *database.DB, *experiment.Manager, *eventbus.Bus) {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", Threads: 2})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	manager := experiment.NewManager(db, cache.NewMemory(time.Minute), time.Hour)
	store := policy.NewStateStore(db, cache.NewMemory(time.Minute), time.Minute)
	bus := eventbus.New(db, eventbus.Config{BatchSize: 1, FlushInterval: 10 * time.Millisecond})
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = bus.Serve(ctx) }()

	s, err := New(db, manager, store, bus, metrics.NewErrorWindow(30*time.Minute), cfg)
	if err != nil {
		t.Fatalf("building selector: %v", err)
	}
	return s, db, manager, bus
}

func waitForEvents(t *testing.T, db *database.DB, want int64) []*models.RecommendationEvent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		events, total, err := db.ListEvents(context.Background(), "", "", 100, 0)
		if err != nil {
			t.Fatal(err)
		}
		if total >= want {
			return events
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("event log never reached %d events", want)
	return nil
}

func TestSelectServesAndRecordsEvent(t *testing.T) {
	s, db, manager, _ := testSelector(t, Config{})
	ctx := context.Background()

	exp, err := manager.Create(ctx, experiment.CreateParams{
		Name: "serving", TrafficPct: 1.0, DefaultPolicy: "thompson",
	})
	if err != nil {
		t.Fatal(err)
	}

	arms := []string{"popular", "trending", "diverse"}
	sel, err := s.Select(ctx, exp.ID, 42, arms, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	if !sel.InExperiment {
		t.Error("full-traffic experiment should admit every user")
	}
	found := false
	for _, a := range arms {
		if sel.ArmID == a {
			found = true
		}
	}
	if !found {
		t.Errorf("selected arm %q not in the offered set", sel.ArmID)
	}
	if sel.Context == nil || sel.Context.TimePeriod == "" || sel.Context.DayOfWeek == "" {
		t.Error("context should be enriched with clock-derived fields")
	}

	events := waitForEvents(t, db, 1)
	ev := events[0]
	if ev.Policy == nil || *ev.Policy != sel.Policy {
		t.Errorf("stored policy = %v, want %s", ev.Policy, sel.Policy)
	}
	if ev.ExperimentID == nil || *ev.ExperimentID != exp.ID.String() {
		t.Error("stored event must carry the experiment id")
	}
	if ev.LatencyMS == nil {
		t.Error("stored event must carry selection latency")
	}
}

func TestSelectIsStickyAcrossCalls(t *testing.T) {
	s, _, manager, _ := testSelector(t, Config{})
	ctx := context.Background()

	exp, err := manager.Create(ctx, experiment.CreateParams{
		Name: "sticky", TrafficPct: 1.0, DefaultPolicy: "thompson",
	})
	if err != nil {
		t.Fatal(err)
	}

	arms := []string{"a", "b"}
	first, err := s.Select(ctx, exp.ID, 7, arms, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := s.Select(ctx, exp.ID, 7, arms, nil)
		if err != nil {
			t.Fatal(err)
		}
		if again.Policy != first.Policy || again.Bucket != first.Bucket {
			t.Fatalf("assignment drifted: (%s,%d) vs (%s,%d)",
				again.Policy, again.Bucket, first.Policy, first.Bucket)
		}
	}
}

func TestSelectRejectsEmptyArms(t *testing.T) {
	s, _, manager, _ := testSelector(t, Config{})
	ctx := context.Background()

	exp, err := manager.Create(ctx, experiment.CreateParams{
		Name: "no-arms", TrafficPct: 1.0, DefaultPolicy: "thompson",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Select(ctx, exp.ID, 1, nil, nil); !errors.Is(err, models.ErrNoArms) {
		t.Errorf("err = %v, want ErrNoArms", err)
	}
}

func TestSelectFallsBackOnExhaustedBudget(t *testing.T) {
	s, db, manager, _ := testSelector(t, Config{Budget: time.Nanosecond})
	ctx := context.Background()

	exp, err := manager.Create(ctx, experiment.CreateParams{
		Name: "slow-store", TrafficPct: 1.0, DefaultPolicy: "thompson",
	})
	if err != nil {
		t.Fatal(err)
	}

	sel, err := s.Select(ctx, exp.ID, 3, []string{"a", "b"}, nil)
	if err != nil {
		t.Fatalf("fallback path must still serve: %v", err)
	}
	if !sel.Fallback {
		t.Fatal("a one-nanosecond budget should force the fallback path")
	}
	if sel.Policy != "thompson" {
		t.Errorf("fallback policy = %s, want the default", sel.Policy)
	}
	if sel.Context.Extra[models.FallbackFlag] != "true" {
		t.Error("fallback serve must flag the event context")
	}

	events := waitForEvents(t, db, 1)
	if events[0].Context == nil || events[0].Context.Extra[models.FallbackFlag] != "true" {
		t.Error("persisted event must carry the fallback flag")
	}
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", Threads: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	_, err = New(db, nil, nil, nil, nil, Config{Policies: []string{"linucb"}})
	if !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}
