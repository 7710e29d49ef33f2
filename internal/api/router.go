// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Package api exposes the HTTP surface: experiment lifecycle, arm
// selection, interaction tracking, and the analytics read side.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banditlabs/banditd/internal/database"
	"github.com/banditlabs/banditd/internal/decision"
	"github.com/banditlabs/banditd/internal/eventbus"
	"github.com/banditlabs/banditd/internal/experiment"
	"github.com/banditlabs/banditd/internal/guardrails"
	"github.com/banditlabs/banditd/internal/reward"
	"github.com/banditlabs/banditd/internal/selector"
)

// Server bundles the handler dependencies.
type Server struct {
	db        *database.DB
	manager   *experiment.Manager
	selector  *selector.Selector
	monitor   *guardrails.Monitor
	decisions *decision.Engine
	worker    *reward.Worker
	bus       *eventbus.Bus

	rateLimitPerMinute int
}

// NewServer wires the HTTP layer. Any dependency may be nil in tests;
// the matching endpoints then return 503.
func NewServer(db *database.DB, manager *experiment.Manager, sel *selector.Selector, monitor *guardrails.Monitor, decisions *decision.Engine, worker *reward.Worker, bus *eventbus.Bus, rateLimitPerMinute int) *Server {
	if rateLimitPerMinute <= 0 {
		rateLimitPerMinute = 600
	}
	return &Server{
		db:                 db,
		manager:            manager,
		selector:           sel,
		monitor:            monitor,
		decisions:          decisions,
		worker:             worker,
		bus:                bus,
		rateLimitPerMinute: rateLimitPerMinute,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/experiments", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.rateLimitPerMinute, time.Minute))

		r.Post("/", s.handleCreateExperiment)
		r.Get("/", s.handleListExperiments)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetExperiment)
			r.Patch("/", s.handleUpdateExperiment)
			r.Post("/stop", s.handleStopExperiment)
			r.Get("/assignments", s.handleListAssignments)
			r.Get("/validate", s.handleValidateExperiment)
			r.Get("/stats", s.handleExperimentStats)
			r.Post("/select", s.handleSelect)

			// Analytics read side.
			r.Get("/summary", s.handleSummary)
			r.Get("/timeseries", s.handleTimeseries)
			r.Get("/arms", s.handleArmBreakdown)
			r.Get("/cohorts", s.handleCohorts)
			r.Get("/events", s.handleEvents)
			r.Get("/export", s.handleExport)
			r.Get("/guardrails", s.handleGuardrails)
			r.Get("/decisions", s.handleDecisions)
			r.Get("/rewards", s.handleRewardStatistics)
		})
	})

	r.Route("/track", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.rateLimitPerMinute*10, time.Minute))
		r.Post("/{kind}", s.handleTrack)
	})

	r.Route("/arms", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.rateLimitPerMinute, time.Minute))
		r.Post("/", s.handleUpsertArm)
		r.Get("/", s.handleListArms)
	})

	r.Route("/ops", func(r chi.Router) {
		r.Get("/rewards", s.handleWorkerStats)
		r.Get("/bus", s.handleBusStats)
	})

	return r
}
