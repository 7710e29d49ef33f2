// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Command dq-gate runs the event-log data-quality checks and fails when
// any invariant is violated: reward and propensity ranges, latency and
// timestamp sanity, and completeness of experiment rows. It is meant to
// gate pipelines that consume the event log.
//
// Usage:
//
//	dq-gate -db /data/banditd.duckdb [-experiment-id <id>]
//
// Exit codes: 0 when all checks pass, 1 on violations or errors.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/banditlabs/banditd/internal/config"
	"github.com/banditlabs/banditd/internal/database"
	"github.com/banditlabs/banditd/internal/logging"
)

func main() {
	var (
		dbPath  = flag.String("db", "/data/banditd.duckdb", "DuckDB database path")
		expID   = flag.String("experiment-id", "", "restrict checks to one experiment (optional)")
		jsonOut = flag.Bool("json", false, "emit the full report as JSON")
	)
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	db, err := database.New(&config.DatabaseConfig{Path: *dbPath})
	if err != nil {
		logging.Error().Err(err).Msg("Failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	report, err := db.DataQualityReport(context.Background(), *expID)
	if err != nil {
		logging.Error().Err(err).Msg("Data quality checks failed to run")
		os.Exit(1)
	}

	if *jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			logging.Error().Err(err).Msg("Encoding report failed")
			os.Exit(1)
		}
		fmt.Println(string(data))
	}

	failed := 0
	for _, check := range report {
		if check.Violations == 0 {
			logging.Info().Str("check", check.Name).Msg("PASS")
			continue
		}
		failed++
		logging.Error().
			Str("check", check.Name).
			Str("invariant", check.Description).
			Int64("violations", check.Violations).
			Msg("FAIL")
	}

	if failed > 0 {
		logging.Error().Int("failed_checks", failed).Msg("Data quality gate failed")
		os.Exit(1)
	}
	logging.Info().Int("checks", len(report)).Msg("Data quality gate passed")
}
