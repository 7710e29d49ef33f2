// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package models

import "time"

// ExperimentSummary is the headline view of one experiment.
type ExperimentSummary struct {
	ExperimentID  string           `json:"experiment_id"`
	Status        ExperimentStatus `json:"status"`
	TrafficSplit  map[string]int64 `json:"traffic_split"`
	TotalServes   int64            `json:"total_serves"`
	ActiveUsers24H int64           `json:"active_users_24h"`
	ActiveUsers7D  int64           `json:"active_users_7d"`
	MeanReward24H  float64         `json:"mean_reward_24h"`
	MeanReward7D   float64         `json:"mean_reward_7d"`

	// CurrentRegret is best_policy_mean minus the experiment-wide 7-day
	// mean; 0 when there is not enough data to compute either side.
	CurrentRegret float64 `json:"current_regret"`
}

// TimeseriesPoint is one bucket of a metric series.
type TimeseriesPoint struct {
	Bucket time.Time `json:"bucket"`
	Value  float64   `json:"value"`
	Count  int64     `json:"count"`
}

// ArmStats aggregates one arm's performance within an experiment window.
type ArmStats struct {
	ArmID       string  `json:"arm_id"`
	Serves      int64   `json:"serves"`
	RewardRate  float64 `json:"reward_rate"`
	MeanLatency float64 `json:"mean_latency_ms"`
	UniqueUsers int64   `json:"unique_users"`

	// Regret is the best arm's reward rate minus this arm's.
	Regret float64 `json:"regret"`
}

// CohortCell is one (policy, cohort) cell of the cohort matrix.
type CohortCell struct {
	Policy     string  `json:"policy"`
	Cohort     string  `json:"cohort"`
	Serves     int64   `json:"serves"`
	MeanReward float64 `json:"mean_reward"`
}

// GuardrailWindowMetrics are the raw aggregates the guardrails engine
// evaluates over a rolling window. ErrorRate is plumbed in by the caller
// from serve-path accounting; the event log does not record failed serves.
type GuardrailWindowMetrics struct {
	Serves               int64   `json:"serves"`
	LatencyP95MS         float64 `json:"latency_p95_ms"`
	TopArm               string  `json:"top_arm"`
	TopArmShare          float64 `json:"top_arm_share"`
	ControlMeanReward    float64 `json:"control_mean_reward"`
	ControlSamples       int64   `json:"control_samples"`
	ExperimentMeanReward float64 `json:"experiment_mean_reward"`
	ExperimentSamples    int64   `json:"experiment_samples"`
}

// GuardrailStatus is the verdict of one check.
type GuardrailStatus string

const (
	GuardrailPass    GuardrailStatus = "pass"
	GuardrailWarning GuardrailStatus = "warning"
	GuardrailFail    GuardrailStatus = "fail"
)

// GuardrailResult is one evaluated check.
type GuardrailResult struct {
	Check     string          `json:"check"`
	Status    GuardrailStatus `json:"status"`
	Value     float64         `json:"value"`
	Threshold float64         `json:"threshold"`
	Note      string          `json:"note,omitempty"`
}

// GuardrailReport is a full guardrails evaluation for one experiment.
type GuardrailReport struct {
	ExperimentID   string            `json:"experiment_id"`
	Checks         []GuardrailResult `json:"checks"`
	ShouldRollback bool              `json:"should_rollback"`
	EvaluatedAt    time.Time         `json:"evaluated_at"`
}

// RewardStatistics describes the reward distribution for a slice of the
// event log, filtered by experiment, policy, or arm.
type RewardStatistics struct {
	Count        int64   `json:"count"`
	Mean         float64 `json:"mean"`
	Std          float64 `json:"std"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	PositiveRate float64 `json:"positive_rate"`
}

// PolicyPerformance summarizes one policy's rewards in a decision window.
type PolicyPerformance struct {
	Policy    string  `json:"policy"`
	Count     int64   `json:"count"`
	SumReward float64 `json:"sum_reward"`
	Mean      float64 `json:"mean"`
	Std       float64 `json:"std"`
	CILow     float64 `json:"ci_low"`
	CIHigh    float64 `json:"ci_high"`

	// PValue is set for bandit policies tested against control.
	PValue *float64 `json:"p_value,omitempty"`
}
