// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Command launch-experiment creates a bandit experiment through the
// banditd API with the standard launch configuration: bounded duration,
// traffic share, and operator notes. It is the scripted alternative to
// a raw POST /experiments call.
//
// Usage:
//
//	launch-experiment -name "ranker-v2" -duration 14 -traffic 0.8
//
// Exit codes: 0 on success, 1 on any failure.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/banditlabs/banditd/internal/experiment"
	"github.com/banditlabs/banditd/internal/logging"
	"github.com/banditlabs/banditd/internal/models"
)

func main() {
	var (
		name     = flag.String("name", "", "experiment name (required)")
		duration = flag.Int("duration", 14, "experiment duration in days")
		traffic  = flag.Float64("traffic", 0.8, "share of traffic in the experiment [0,1]")
		policy   = flag.String("default-policy", "thompson", "policy serving out-of-experiment traffic")
		notes    = flag.String("notes", "launched via launch-experiment", "operator notes")
		apiURL   = flag.String("api-url", "http://localhost:8080", "banditd API base URL")
		dryRun   = flag.Bool("dry-run", false, "print the request body without launching")
	)
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	if *name == "" {
		logging.Error().Msg("-name is required")
		flag.Usage()
		os.Exit(1)
	}
	if *duration <= 0 {
		logging.Error().Int("duration", *duration).Msg("-duration must be positive")
		os.Exit(1)
	}

	startAt := time.Now().UTC()
	endAt := startAt.Add(time.Duration(*duration) * 24 * time.Hour)
	params := experiment.CreateParams{
		Name:          *name,
		StartAt:       &startAt,
		EndAt:         &endAt,
		TrafficPct:    *traffic,
		DefaultPolicy: *policy,
		Notes:         *notes,
	}

	body, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		logging.Error().Err(err).Msg("Encoding request failed")
		os.Exit(1)
	}

	if *dryRun {
		fmt.Println(string(body))
		return
	}

	exp, err := launch(*apiURL, body)
	if err != nil {
		logging.Error().Err(err).Msg("Launch failed")
		os.Exit(1)
	}

	logging.Info().
		Str("experiment_id", exp.ID.String()).
		Str("name", exp.Name).
		Time("start_at", exp.StartAt).
		Float64("traffic_pct", exp.TrafficPct).
		Str("default_policy", exp.DefaultPolicy).
		Msg("Experiment launched")
	fmt.Println(exp.ID.String())
}

func launch(apiURL string, body []byte) (*models.Experiment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/experiments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("API returned %d: %s", resp.StatusCode, data)
	}

	var envelope struct {
		Data models.Experiment `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &envelope.Data, nil
}
