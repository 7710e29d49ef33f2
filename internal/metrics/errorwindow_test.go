// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package metrics

import (
	"testing"
	"time"
)

func TestErrorWindowRate(t *testing.T) {
	w := NewErrorWindow(30 * time.Minute)

	for i := 0; i < 98; i++ {
		w.RecordServe("exp-1", false)
	}
	w.RecordServe("exp-1", true)
	w.RecordServe("exp-1", true)

	if got := w.WindowErrorRate("exp-1"); got != 0.02 {
		t.Errorf("error rate = %v, want 0.02", got)
	}
	if got := w.WindowErrorRate("exp-2"); got != 0 {
		t.Errorf("untracked experiment rate = %v, want 0", got)
	}
}

func TestErrorWindowExpires(t *testing.T) {
	w := NewErrorWindow(30 * time.Minute)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return base }

	w.RecordServe("exp-1", true)
	w.RecordServe("exp-1", true)

	// Advance past the window: old failures stop counting.
	w.now = func() time.Time { return base.Add(31 * time.Minute) }
	w.RecordServe("exp-1", false)

	if got := w.WindowErrorRate("exp-1"); got != 0 {
		t.Errorf("error rate after expiry = %v, want 0", got)
	}
}

func TestErrorWindowIsolatesExperiments(t *testing.T) {
	w := NewErrorWindow(30 * time.Minute)
	w.RecordServe("a", true)
	w.RecordServe("b", false)

	if w.WindowErrorRate("a") != 1.0 || w.WindowErrorRate("b") != 0.0 {
		t.Error("experiments must not share failure accounting")
	}
}
