// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Package metrics exposes Prometheus instrumentation for the serving
// path, the scheduled jobs, and the event pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Selection path.
	SelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bandit_selections_total",
			Help: "Total number of arm selections by policy",
		},
		[]string{"policy"},
	)

	SelectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bandit_selection_duration_seconds",
			Help:    "Arm selection latency in seconds",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.12, 0.25, 0.5, 1},
		},
		[]string{"policy"},
	)

	SelectionFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bandit_selection_fallbacks_total",
			Help: "Selections that fell back to the default policy on budget or backend failure",
		},
	)

	// Reward pipeline.
	RewardUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bandit_reward_updates_total",
			Help: "Policy state updates applied by the reward worker",
		},
	)

	RewardEventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bandit_reward_events_processed_total",
			Help: "Events attributed a reward",
		},
	)

	// Event pipeline.
	EventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bandit_events_published_total",
			Help: "Recommendation events published to the event bus",
		},
	)

	// Scheduled jobs.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bandit_job_duration_seconds",
			Help:    "Scheduled job run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	JobFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bandit_job_failures_total",
			Help: "Scheduled job runs that returned an error",
		},
		[]string{"job"},
	)

	// Guardrails.
	RollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bandit_guardrail_rollbacks_total",
			Help: "Experiments ended by guardrail rollback",
		},
	)

	// HTTP surface.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)
)

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordJob records one scheduled job run.
func RecordJob(job string, duration time.Duration, err error) {
	JobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		JobFailures.WithLabelValues(job).Inc()
	}
}
