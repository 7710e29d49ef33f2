// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package metrics

import (
	"sync"
	"time"
)

// ErrorWindow tracks serve outcomes per experiment in minute buckets and
// reports the failure share over a rolling window. The event log only
// records successful serves, so guardrails read the error rate from here.
type ErrorWindow struct {
	window time.Duration

	mu      sync.Mutex
	buckets map[string]map[int64]*bucket

	now func() time.Time // test hook
}

type bucket struct {
	total  int64
	failed int64
}

// NewErrorWindow builds an ErrorWindow covering the given duration.
func NewErrorWindow(window time.Duration) *ErrorWindow {
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &ErrorWindow{
		window:  window,
		buckets: make(map[string]map[int64]*bucket),
		now:     time.Now,
	}
}

// RecordServe counts one serve attempt for an experiment.
func (w *ErrorWindow) RecordServe(experimentID string, failed bool) {
	minute := w.now().Unix() / 60

	w.mu.Lock()
	defer w.mu.Unlock()

	perMinute, ok := w.buckets[experimentID]
	if !ok {
		perMinute = make(map[int64]*bucket)
		w.buckets[experimentID] = perMinute
	}
	b, ok := perMinute[minute]
	if !ok {
		b = &bucket{}
		perMinute[minute] = b
		w.prune(perMinute, minute)
	}
	b.total++
	if failed {
		b.failed++
	}
}

// WindowErrorRate returns failed/total over the window; 0 with no traffic.
func (w *ErrorWindow) WindowErrorRate(experimentID string) float64 {
	minute := w.now().Unix() / 60
	oldest := minute - int64(w.window/time.Minute)

	w.mu.Lock()
	defer w.mu.Unlock()

	var total, failed int64
	for m, b := range w.buckets[experimentID] {
		if m < oldest {
			continue
		}
		total += b.total
		failed += b.failed
	}
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

// prune drops buckets older than the window. Caller holds the lock.
func (w *ErrorWindow) prune(perMinute map[int64]*bucket, current int64) {
	oldest := current - int64(w.window/time.Minute)
	for m := range perMinute {
		if m < oldest {
			delete(perMinute, m)
		}
	}
}
