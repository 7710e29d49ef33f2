// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Package main is the entry point for the banditd server.
//
// Banditd runs online bandit experiments over recommendation policies:
// users are hashed into sticky policy assignments, arms are selected
// under a latency budget, and delayed rewards feed the policy posteriors
// back through the event pipeline.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, optional YAML file, BANDITD_ environment (Koanf v2)
//  2. Database: DuckDB event log, assignments, policy states
//  3. Caches: sticky-assignment and policy-state soft caches (memory or Redis)
//  4. Serving path: experiment manager, policy state store, selector
//  5. Pipeline: event bus, reward worker, guardrail monitor, decision engine
//  6. HTTP server: chi router with the experiment, selection and analytics API
//
// Everything runs under a Suture supervisor tree; a crash in the pipeline
// layer restarts only that layer while the API keeps serving.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains
// in-flight requests, the event bus flushes its batch, and the database
// is checkpointed before close.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/banditlabs/banditd/internal/api"
	"github.com/banditlabs/banditd/internal/cache"
	"github.com/banditlabs/banditd/internal/config"
	"github.com/banditlabs/banditd/internal/database"
	"github.com/banditlabs/banditd/internal/decision"
	"github.com/banditlabs/banditd/internal/eventbus"
	"github.com/banditlabs/banditd/internal/experiment"
	"github.com/banditlabs/banditd/internal/guardrails"
	"github.com/banditlabs/banditd/internal/logging"
	"github.com/banditlabs/banditd/internal/metrics"
	"github.com/banditlabs/banditd/internal/policy"
	"github.com/banditlabs/banditd/internal/reward"
	"github.com/banditlabs/banditd/internal/selector"
	"github.com/banditlabs/banditd/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Strs("policies", cfg.Bandit.Policies).
		Str("default_policy", cfg.Bandit.DefaultPolicy).
		Msg("Starting banditd")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	assignCache, err := cache.NewCacher(cache.Config{
		Backend:       cfg.Cache.Backend,
		TTL:           cfg.Cache.AssignmentTTL,
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
		KeyPrefix:     "banditd:assign",
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize assignment cache")
	}
	stateCache, err := cache.NewCacher(cache.Config{
		Backend:       cfg.Cache.Backend,
		TTL:           cfg.Cache.PolicyStateTTL,
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
		KeyPrefix:     "banditd:state",
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize policy state cache")
	}

	manager := experiment.NewManager(db, assignCache, cfg.Cache.AssignmentTTL)
	store := policy.NewStateStore(db, stateCache, cfg.Cache.PolicyStateTTL)
	bus := eventbus.New(db, eventbus.DefaultConfig())
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	// The error window feeds both the serving path (writes) and the
	// guardrail error-rate check (reads).
	errWin := metrics.NewErrorWindow(cfg.Guardrails.Lookback)

	policyCfg := policy.Config{
		Epsilon:  cfg.Bandit.Epsilon,
		MinPulls: cfg.Bandit.MinPulls,
	}
	sel, err := selector.New(db, manager, store, bus, errWin, selector.Config{
		Policies:      cfg.Bandit.Policies,
		DefaultPolicy: cfg.Bandit.DefaultPolicy,
		Budget:        cfg.Server.SelectionBudget,
		PolicyCfg:     policyCfg,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build selector")
	}

	guardEngine := guardrails.NewEngine(db, guardrails.Thresholds{
		ErrorRate:        cfg.Guardrails.ErrorRate,
		LatencyP95MS:     cfg.Guardrails.LatencyP95MS,
		ArmConcentration: cfg.Guardrails.ArmConcentration,
		RewardDrop:       cfg.Guardrails.RewardDrop,
	}, cfg.Guardrails.Critical, cfg.Guardrails.FailCount, cfg.Guardrails.Lookback)
	monitor := guardrails.NewMonitor(guardEngine, manager, errWin, guardrails.LogAlertSink{},
		cfg.Guardrails.RollbackCooldown, cfg.Guardrails.MaxRollbackAttempts)

	decisions := decision.NewEngine(db, manager, nil, decision.CriteriaFromConfig(cfg.Decisions))

	calc := reward.NewCalculator(reward.Mode(cfg.Rewards.Mode), cfg.Rewards.Window)
	worker := reward.NewWorker(db, store, calc, nil, reward.WorkerConfig{
		BatchSize:  cfg.Rewards.BatchSize,
		Window:     cfg.Rewards.Window,
		RetryDelay: cfg.Rewards.RetryDelay,
		SweepAge:   cfg.Rewards.SweepAge,
		PolicyCfg:  policyCfg,
	})

	apiServer := api.NewServer(db, manager, sel, monitor, decisions, worker, bus, cfg.Server.RateLimitPerMinute)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddPipelineService(supervisor.NewRunnerService("event-bus", bus.Serve))
	tree.AddPipelineService(supervisor.NewJobService("reward-pending", cfg.Rewards.ProcessInterval, 0, false, worker.ProcessPending))
	tree.AddPipelineService(supervisor.NewJobService("reward-retries", cfg.Rewards.RetryInterval, 0, false, worker.ProcessRetries))
	tree.AddPipelineService(supervisor.NewJobService("reward-sweep", cfg.Rewards.SweepInterval, 0, false, worker.Sweep))
	tree.AddPipelineService(supervisor.NewJobService("guardrail-check", cfg.Guardrails.CheckInterval, 0, false, monitor.Tick))
	tree.AddPipelineService(supervisor.NewJobService("decision-analysis", cfg.Decisions.Interval, 0, false, decisions.Run))
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", httpServer.Addr).
		Msg("Supervisor tree starting")

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received")
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree stopped with error")
		}
	case err := <-errCh:
		logging.Error().Err(err).Msg("Supervisor tree exited unexpectedly")
		stop()
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	// Flush DuckDB's WAL so restart recovery is cheap.
	checkpointCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := db.Checkpoint(checkpointCtx); err != nil {
		logging.Warn().Err(err).Msg("Final checkpoint failed")
	}

	logging.Info().Msg("banditd stopped")
}
