// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/banditlabs/banditd/internal/cache"
	"github.com/banditlabs/banditd/internal/config"
	"github.com/banditlabs/banditd/internal/database"
	"github.com/banditlabs/banditd/internal/models"
)

func testStore(t *testing.T) *StateStore {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", Threads: 2})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStateStore(db, cache.NewMemory(time.Minute), time.Minute)
}

func TestStateStoreLazyDefaults(t *testing.T) {
	s := testStore(t)
	st, err := s.Get(context.Background(), "thompson", "fresh", "ctx")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Alpha != 1 || st.Beta != 1 || st.Count != 0 {
		t.Errorf("lazy default = %+v, want Beta(1,1) with zero count", st)
	}
}

func TestStateStoreUpdateInvalidatesCache(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Prime the cache.
	if _, err := s.Get(ctx, "thompson", "a", "ctx"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Update(ctx, "thompson", "a", "ctx", models.StateDelta{
		Count: 1, SumReward: 1, Alpha: 1,
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	st, err := s.Get(ctx, "thompson", "a", "ctx")
	if err != nil {
		t.Fatal(err)
	}
	if st.Count != 1 || st.Alpha != 2 {
		t.Errorf("post-update read = %+v, want count=1 alpha=2 (stale cache?)", st)
	}
}

func TestStateStoreConcurrentUpdatesConverge(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := s.Update(ctx, "egreedy", "arm", "ctx", models.StateDelta{
					Count: 1, SumReward: 0.5,
				}); err != nil {
					t.Errorf("concurrent update: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	st, err := s.Get(ctx, "egreedy", "arm", "ctx")
	if err != nil {
		t.Fatal(err)
	}
	wantCount := int64(workers * perWorker)
	if st.Count != wantCount {
		t.Errorf("count = %d, want %d (serial-replay equivalence)", st.Count, wantCount)
	}
	if st.MeanReward != 0.5 {
		t.Errorf("mean = %v, want 0.5", st.MeanReward)
	}
}

func TestStateStoreOrderPreserved(t *testing.T) {
	s := testStore(t)
	states, err := s.GetAll(context.Background(), "ucb", "ctx", []string{"z", "a", "m"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"z", "a", "m"}
	for i, st := range states {
		if st.ArmID != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, st.ArmID, want[i])
		}
	}
}
