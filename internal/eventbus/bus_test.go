// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/banditlabs/banditd/internal/config"
	"github.com/banditlabs/banditd/internal/database"
	"github.com/banditlabs/banditd/internal/models"
)

func testBus(t *testing.T, cfg Config) (*Bus, *database.DB) {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", Threads: 2})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := New(db, cfg)
	t.Cleanup(func() { _ = b.Close() })
	return b, db
}

func waitForPersisted(t *testing.T, b *Bus, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if b.Stats().Persisted >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("persisted = %d after timeout, want %d", b.Stats().Persisted, want)
}

func publishRaw(t *testing.T, b *Bus, payload []byte) {
	t.Helper()
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(TopicRecommendations, msg); err != nil {
		t.Fatal(err)
	}
}

func TestPublishReachesEventLog(t *testing.T) {
	b, db := testBus(t, Config{BatchSize: 2, FlushInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Serve(ctx) }()

	policy := "thompson"
	for i := 0; i < 5; i++ {
		ev := &models.RecommendationEvent{
			UserID:    int64(i),
			Algorithm: "bandit",
			Policy:    &policy,
			ServedAt:  time.Now().UTC(),
		}
		if err := b.Publish(ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	waitForPersisted(t, b, 5)

	events, total, err := db.ListEvents(context.Background(), "", "", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(events) != 5 {
		t.Errorf("event log holds %d/%d events, want 5", len(events), total)
	}
}

func TestUndecodablePayloadIsDropped(t *testing.T) {
	b, _ := testBus(t, Config{BatchSize: 1, FlushInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Serve(ctx) }()

	// Bypass Publish to inject garbage.
	publishRaw(t, b, []byte("not json"))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if b.Stats().ParseErrors == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("garbage payload was not counted as a parse error")
}

func TestPublishSnapshotsEvent(t *testing.T) {
	b, db := testBus(t, Config{BatchSize: 1, FlushInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Serve(ctx) }()

	ev := &models.RecommendationEvent{
		UserID:    42,
		Algorithm: "bandit",
		ServedAt:  time.Now().UTC(),
	}
	if err := b.Publish(ev); err != nil {
		t.Fatal(err)
	}
	// Mutation after publish must not leak into the stored row.
	ev.UserID = 99

	waitForPersisted(t, b, 1)

	events, _, err := db.ListEvents(context.Background(), "", "", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].UserID != 42 {
		t.Errorf("stored user = %v, want the value at publish time (42)", events)
	}
}
