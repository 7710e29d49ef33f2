// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Package config provides layered configuration for banditd.
//
// Precedence, lowest to highest: struct defaults, optional YAML config
// file, BANDITD_-prefixed environment variables. The merged result is
// validated before use.
package config

import (
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Cache      CacheConfig      `koanf:"cache"`
	Bandit     BanditConfig     `koanf:"bandit"`
	Rewards    RewardsConfig    `koanf:"rewards"`
	Guardrails GuardrailsConfig `koanf:"guardrails"`
	Decisions  DecisionsConfig  `koanf:"decisions"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// RateLimitPerMinute bounds requests per client IP on data endpoints.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute" validate:"min=1"`

	// SelectionBudget is the soft latency budget for arm selection.
	// State-store reads beyond the budget trigger default-policy fallback.
	SelectionBudget time.Duration `koanf:"selection_budget"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path is the database file path; ":memory:" opens an in-memory
	// database (used by tests).
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	// Threads is the DuckDB thread count; 0 uses runtime.NumCPU().
	Threads int `koanf:"threads" validate:"min=0"`
}

// CacheConfig selects the soft-cache backend for assignments and policy
// states. The backend is an interface so tests always use memory.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string `koanf:"backend" validate:"oneof=memory redis"`

	// RedisAddr is the host:port of the Redis server (redis backend only).
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db" validate:"min=0"`

	// PolicyStateTTL bounds staleness of cached policy states.
	PolicyStateTTL time.Duration `koanf:"policy_state_ttl"`

	// AssignmentTTL bounds staleness of cached sticky assignments.
	AssignmentTTL time.Duration `koanf:"assignment_ttl"`
}

// BanditConfig holds policy engine parameters.
type BanditConfig struct {
	// Policies are the arms of the experiment at the policy level,
	// i.e. the candidate decision rules users are assigned to.
	Policies []string `koanf:"policies" validate:"min=1,dive,oneof=thompson egreedy ucb control"`

	// DefaultPolicy serves users outside experiment traffic and on fallback.
	DefaultPolicy string `koanf:"default_policy" validate:"required"`

	// Epsilon is the exploration rate for the egreedy policy.
	Epsilon float64 `koanf:"epsilon" validate:"min=0,max=1"`

	// MinPulls is the cold-start pull floor for UCB1.
	MinPulls int64 `koanf:"min_pulls" validate:"min=1"`
}

// RewardsConfig holds reward attribution parameters.
type RewardsConfig struct {
	// Mode is "binary" or "scaled".
	Mode string `koanf:"mode" validate:"oneof=binary scaled"`

	// Window is the look-ahead attribution window after serving.
	Window time.Duration `koanf:"window"`

	// BatchSize bounds events processed per worker batch.
	BatchSize int `koanf:"batch_size" validate:"min=1"`

	// ProcessInterval is the pending-event drain cadence.
	ProcessInterval time.Duration `koanf:"process_interval"`

	// RetryInterval is the cadence of the retry tick for events that
	// still have no reward after RetryDelay.
	RetryInterval time.Duration `koanf:"retry_interval"`
	RetryDelay    time.Duration `koanf:"retry_delay"`

	// SweepInterval is the cadence of the terminal no-interaction sweep;
	// SweepAge is the age beyond which unrewarded events get reward 0.
	SweepInterval time.Duration `koanf:"sweep_interval"`
	SweepAge      time.Duration `koanf:"sweep_age"`
}

// GuardrailsConfig holds safety check thresholds and rollback control.
type GuardrailsConfig struct {
	CheckInterval time.Duration `koanf:"check_interval"`
	Lookback      time.Duration `koanf:"lookback"`

	// Thresholds. A check above its threshold is FAIL (error rate,
	// latency) or WARNING (concentration, reward drop).
	ErrorRate        float64 `koanf:"error_rate" validate:"min=0,max=1"`
	LatencyP95MS     float64 `koanf:"latency_p95_ms" validate:"min=0"`
	ArmConcentration float64 `koanf:"arm_concentration" validate:"min=0,max=1"`
	RewardDrop       float64 `koanf:"reward_drop" validate:"min=0,max=1"`

	// Critical names the checks whose single FAIL triggers rollback.
	Critical []string `koanf:"critical"`

	// FailCount is the number of failing checks that triggers rollback.
	FailCount int `koanf:"fail_count" validate:"min=1"`

	// RollbackCooldown suppresses repeat rollbacks per experiment;
	// MaxRollbackAttempts caps attempts before a critical alert.
	RollbackCooldown    time.Duration `koanf:"rollback_cooldown"`
	MaxRollbackAttempts int           `koanf:"max_rollback_attempts" validate:"min=1"`
}

// DecisionsConfig holds ship/iterate/kill criteria.
type DecisionsConfig struct {
	Interval time.Duration `koanf:"interval"`

	MinUplift          float64 `koanf:"min_uplift"`
	SignificanceLevel  float64 `koanf:"significance_level" validate:"gt=0,lt=1"`
	MinWindowDays      int     `koanf:"min_window_days" validate:"min=1"`
	MaxExperimentDays  int     `koanf:"max_experiment_days" validate:"min=1"`
	MinEventsPerPolicy int64   `koanf:"min_events_per_policy" validate:"min=1"`

	// MaxSamples bounds the rewards drawn per policy for the t-test.
	MaxSamples int `koanf:"max_samples" validate:"min=2"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Default returns a Config with production defaults. Defaults are applied
// first, then overridden by the config file and environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       60 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			RateLimitPerMinute: 600,
			SelectionBudget:    120 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Path:      "/data/banditd.duckdb",
			MaxMemory: "2GB",
			Threads:   0,
		},
		Cache: CacheConfig{
			Backend:        "memory",
			PolicyStateTTL: 5 * time.Minute,
			AssignmentTTL:  time.Hour,
		},
		Bandit: BanditConfig{
			Policies:      []string{"thompson", "egreedy", "ucb"},
			DefaultPolicy: "thompson",
			Epsilon:       0.1,
			MinPulls:      1,
		},
		Rewards: RewardsConfig{
			Mode:            "binary",
			Window:          24 * time.Hour,
			BatchSize:       100,
			ProcessInterval: 5 * time.Minute,
			RetryInterval:   15 * time.Minute,
			RetryDelay:      5 * time.Minute,
			SweepInterval:   time.Hour,
			SweepAge:        30 * 24 * time.Hour,
		},
		Guardrails: GuardrailsConfig{
			CheckInterval:       5 * time.Minute,
			Lookback:            30 * time.Minute,
			ErrorRate:           0.01,
			LatencyP95MS:        120,
			ArmConcentration:    0.50,
			RewardDrop:          0.05,
			Critical:            []string{"error_rate", "latency_p95"},
			FailCount:           2,
			RollbackCooldown:    time.Hour,
			MaxRollbackAttempts: 3,
		},
		Decisions: DecisionsConfig{
			Interval:           24 * time.Hour,
			MinUplift:          0.03,
			SignificanceLevel:  0.05,
			MinWindowDays:      7,
			MaxExperimentDays:  14,
			MinEventsPerPolicy: 1000,
			MaxSamples:         10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
