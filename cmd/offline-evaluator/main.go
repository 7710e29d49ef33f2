// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Command offline-evaluator scores the policies of one experiment from
// the event log: per-policy mean reward, regret against the best policy,
// arm diversity, and inverse-propensity-scoring (IPS) estimates with
// normal-approximation confidence intervals where propensities were
// recorded. It reads the same log the replay simulator and the online
// serving path write, so online and offline runs are comparable.
//
// Usage:
//
//	offline-evaluator -db /data/banditd.duckdb -experiment-id offline-ml1m-2000-01-01
//
// Exit codes: 0 on success, 1 on failure or an empty experiment.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/banditlabs/banditd/internal/config"
	"github.com/banditlabs/banditd/internal/database"
	"github.com/banditlabs/banditd/internal/logging"
	"github.com/banditlabs/banditd/internal/models"
)

// z975 is the 97.5% normal quantile for two-sided 95% intervals.
const z975 = 1.9599639845400545

type policyMetrics struct {
	Events           int64    `json:"events"`
	Rewarded         int64    `json:"rewarded"`
	MeanReward       float64  `json:"mean_reward"`
	CumulativeReward float64  `json:"cumulative_reward"`
	Regret           float64  `json:"regret"`
	UniqueArms       int      `json:"unique_arms"`
	ArmEntropyBits   float64  `json:"arm_entropy_bits"`
	IPSReward        *float64 `json:"ips_reward,omitempty"`
	IPSLow           *float64 `json:"ips_ci_low,omitempty"`
	IPSHigh          *float64 `json:"ips_ci_high,omitempty"`
}

type armMetrics struct {
	Events        int64   `json:"events"`
	MeanReward    float64 `json:"mean_reward"`
	SelectionRate float64 `json:"selection_rate"`
}

type report struct {
	ExperimentID string                    `json:"experiment_id"`
	TotalEvents  int64                     `json:"total_events"`
	EvaluatedAt  time.Time                 `json:"evaluated_at"`
	BestPolicy   string                    `json:"best_policy"`
	Policies     map[string]*policyMetrics `json:"policies"`
	Arms         map[string]*armMetrics    `json:"arms"`
}

// accumulator gathers one policy's streaming sums.
type accumulator struct {
	events   int64
	rewarded int64
	sum      float64
	arms     map[string]int64

	ipsN     int64
	ipsSum   float64
	ipsSumSq float64
}

func main() {
	var (
		dbPath = flag.String("db", "/data/banditd.duckdb", "DuckDB database path")
		expID  = flag.String("experiment-id", "", "experiment to evaluate (required)")
		out    = flag.String("output", "", "write the JSON report to this file instead of stdout")
	)
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	if *expID == "" {
		logging.Error().Msg("-experiment-id is required")
		flag.Usage()
		os.Exit(1)
	}

	db, err := database.New(&config.DatabaseConfig{Path: *dbPath})
	if err != nil {
		logging.Error().Err(err).Msg("Failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	rep, err := evaluate(context.Background(), db, *expID)
	if err != nil {
		logging.Error().Err(err).Str("experiment_id", *expID).Msg("Evaluation failed")
		os.Exit(1)
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		logging.Error().Err(err).Msg("Encoding report failed")
		os.Exit(1)
	}
	if *out != "" {
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			logging.Error().Err(err).Str("path", *out).Msg("Writing report failed")
			os.Exit(1)
		}
		logging.Info().Str("path", *out).Msg("Report written")
	} else {
		fmt.Println(string(data))
	}

	logging.Info().
		Str("experiment_id", *expID).
		Int64("events", rep.TotalEvents).
		Str("best_policy", rep.BestPolicy).
		Msg("Evaluation complete")
}

func evaluate(ctx context.Context, db *database.DB, experimentID string) (*report, error) {
	byPolicy := make(map[string]*accumulator)
	byArm := make(map[string]*armMetrics)
	var total int64

	err := db.StreamEvents(ctx, experimentID, "", func(ev *models.RecommendationEvent) error {
		if ev.Policy == nil || ev.ArmID == nil {
			return nil
		}
		total++

		acc, ok := byPolicy[*ev.Policy]
		if !ok {
			acc = &accumulator{arms: make(map[string]int64)}
			byPolicy[*ev.Policy] = acc
		}
		acc.events++
		acc.arms[*ev.ArmID]++

		arm, ok := byArm[*ev.ArmID]
		if !ok {
			arm = &armMetrics{}
			byArm[*ev.ArmID] = arm
		}
		arm.Events++

		if ev.Reward == nil {
			return nil
		}
		acc.rewarded++
		acc.sum += *ev.Reward
		arm.MeanReward += *ev.Reward // running sum; normalized below

		// IPS weights each observed reward by the inverse of the
		// propensity the policy had for serving that arm.
		if ev.PScore != nil && *ev.PScore > 0 {
			w := *ev.Reward / *ev.PScore
			acc.ipsN++
			acc.ipsSum += w
			acc.ipsSumSq += w * w
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, fmt.Errorf("no events recorded for experiment %s", experimentID)
	}

	rep := &report{
		ExperimentID: experimentID,
		TotalEvents:  total,
		EvaluatedAt:  time.Now().UTC(),
		Policies:     make(map[string]*policyMetrics, len(byPolicy)),
		Arms:         byArm,
	}

	bestMean := math.Inf(-1)
	for name, acc := range byPolicy {
		m := summarizePolicy(acc)
		rep.Policies[name] = m
		if m.MeanReward > bestMean {
			bestMean = m.MeanReward
			rep.BestPolicy = name
		}
	}
	for _, m := range rep.Policies {
		m.Regret = bestMean - m.MeanReward
	}
	for _, arm := range byArm {
		if arm.Events > 0 {
			arm.MeanReward /= float64(arm.Events)
		}
		arm.SelectionRate = float64(arm.Events) / float64(total)
	}
	return rep, nil
}

func summarizePolicy(acc *accumulator) *policyMetrics {
	m := &policyMetrics{
		Events:           acc.events,
		Rewarded:         acc.rewarded,
		CumulativeReward: acc.sum,
		UniqueArms:       len(acc.arms),
		ArmEntropyBits:   entropyBits(acc.arms, acc.events),
	}
	if acc.rewarded > 0 {
		m.MeanReward = acc.sum / float64(acc.rewarded)
	}
	if acc.ipsN > 0 {
		mean := acc.ipsSum / float64(acc.ipsN)
		m.IPSReward = &mean
		if acc.ipsN > 1 {
			variance := (acc.ipsSumSq - float64(acc.ipsN)*mean*mean) / float64(acc.ipsN-1)
			if variance < 0 {
				variance = 0
			}
			margin := z975 * math.Sqrt(variance/float64(acc.ipsN))
			low, high := mean-margin, mean+margin
			m.IPSLow, m.IPSHigh = &low, &high
		}
	}
	return m
}

// entropyBits is the Shannon entropy of the arm selection distribution,
// a diversity measure: 0 for a single arm, log2(k) for uniform over k.
func entropyBits(arms map[string]int64, total int64) float64 {
	if total == 0 {
		return 0
	}
	keys := make([]string, 0, len(arms))
	for k := range arms {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var h float64
	for _, k := range keys {
		p := float64(arms[k]) / float64(total)
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h
}
