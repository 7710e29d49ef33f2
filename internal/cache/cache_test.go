// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package cache

import (
	"sync"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	c := NewMemory(time.Minute)

	c.Set("a", 42)
	v, ok := c.Get("a")
	if !ok {
		t.Fatal("expected hit for key a")
	}
	if v.(int) != 42 {
		t.Errorf("got %v, want 42", v)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestMemoryExpiry(t *testing.T) {
	c := NewMemory(time.Minute)
	c.SetWithTTL("a", "v", 10*time.Millisecond)

	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Error("expected expired entry to miss")
	}

	stats := c.GetStats()
	if stats.Evictions == 0 {
		t.Error("expected expired Get to record an eviction")
	}
}

func TestMemoryDeleteAndClear(t *testing.T) {
	c := NewMemory(time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted key still present")
	}

	c.Clear()
	if _, ok := c.Get("b"); ok {
		t.Error("cleared key still present")
	}
	if got := c.GetStats().TotalKeys; got != 0 {
		t.Errorf("TotalKeys after Clear = %d, want 0", got)
	}
}

func TestMemoryHitRate(t *testing.T) {
	c := NewMemory(time.Minute)
	c.Set("a", 1)

	c.Get("a")       // hit
	c.Get("a")       // hit
	c.Get("missing") // miss

	got := c.HitRate()
	want := 2.0 / 3.0 * 100.0
	if diff := got - want; diff > 0.001 || diff < -0.001 {
		t.Errorf("HitRate = %.2f, want %.2f", got, want)
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	c := NewMemory(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Set("shared", n)
				c.Get("shared")
			}
		}(i)
	}
	wg.Wait()

	if _, ok := c.Get("shared"); !ok {
		t.Error("expected shared key to survive concurrent writes")
	}
}

func TestDecodeTypedValue(t *testing.T) {
	type payload struct {
		Policy string  `json:"policy"`
		Alpha  float64 `json:"alpha"`
	}

	c := NewMemory(time.Minute)
	c.Set("state", payload{Policy: "thompson", Alpha: 4})

	v, ok := c.Get("state")
	if !ok {
		t.Fatal("expected hit")
	}
	var out payload
	if err := Decode(v, &out); err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if out.Policy != "thompson" || out.Alpha != 4 {
		t.Errorf("decoded %+v, want {thompson 4}", out)
	}
}

func TestDecodeRawBytes(t *testing.T) {
	var out map[string]int
	if err := Decode([]byte(`{"n": 7}`), &out); err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if out["n"] != 7 {
		t.Errorf("decoded n = %d, want 7", out["n"])
	}
}

func TestNewCacherDefaultsToMemory(t *testing.T) {
	c, err := NewCacher(Config{Backend: "memory"})
	if err != nil {
		t.Fatalf("NewCacher error: %v", err)
	}
	if _, ok := c.(*Memory); !ok {
		t.Errorf("got %T, want *Memory", c)
	}
}
