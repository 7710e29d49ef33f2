// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// envPrefix is the environment variable namespace. BANDITD_SERVER_PORT
// maps to server.port, BANDITD_BANDIT_DEFAULT_POLICY to
// bandit.default_policy, and so on.
const envPrefix = "BANDITD_"

// Load builds the effective configuration. path names an optional YAML
// file; an empty path or a missing file at the default location is not an
// error, but an explicitly given path must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envToKey maps BANDITD_SECTION_SOME_FIELD to section.some_field. Only the
// first underscore separates section from field; the rest stay as part of
// the field name.
func envToKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// Validate checks a Config against struct tags plus cross-field rules that
// tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	found := false
	for _, p := range cfg.Bandit.Policies {
		if p == cfg.Bandit.DefaultPolicy {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid configuration: default_policy %q is not in bandit.policies", cfg.Bandit.DefaultPolicy)
	}

	if cfg.Cache.Backend == "redis" && cfg.Cache.RedisAddr == "" {
		return fmt.Errorf("invalid configuration: cache.redis_addr is required for the redis backend")
	}

	if cfg.Decisions.MinWindowDays > cfg.Decisions.MaxExperimentDays {
		return fmt.Errorf("invalid configuration: decisions.min_window_days exceeds max_experiment_days")
	}
	return nil
}
