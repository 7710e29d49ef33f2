// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Package policy implements the bandit policies: Thompson Sampling,
// epsilon-greedy and UCB1. Policies are pure deciders over state rows; the
// StateStore owns persistence, caching and fallback behavior.
package policy

import (
	"fmt"
	"math/rand"

	"github.com/banditlabs/banditd/internal/models"
)

// Result is one arm selection.
type Result struct {
	ArmID string `json:"arm_id"`

	// PScore is the propensity of the chosen arm, used for off-policy
	// evaluation. Nil for UCB1, where no propensity is analytically
	// defined and fabricating one would poison downstream estimators.
	PScore *float64 `json:"p_score,omitempty"`

	// Confidence is a policy-specific certainty signal in [0,1].
	Confidence float64 `json:"confidence"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Policy selects among arms and defines its reward update rule.
// Implementations are stateless and safe for concurrent use; all learning
// state arrives through the states slice.
type Policy interface {
	// Name returns the canonical policy name.
	Name() string

	// Select chooses one arm given the per-arm states. Fails with
	// models.ErrNoArms on an empty slice. Ties break uniformly at random.
	Select(states []*models.PolicyState) (*Result, error)

	// RewardDelta returns the state increment for observing reward on the
	// selected arm. reward must be in [0,1].
	RewardDelta(reward float64) models.StateDelta
}

// Config parameterizes policy construction.
type Config struct {
	// Epsilon is the epsilon-greedy exploration rate.
	Epsilon float64

	// MinPulls is the UCB1 cold-start pull floor.
	MinPulls int64
}

// Canonical policy names. Aliases accepted by New map onto these.
const (
	NameThompson = "thompson"
	NameEGreedy  = "egreedy"
	NameUCB      = "ucb"
)

// CanonicalName resolves a policy name or alias to its canonical form.
func CanonicalName(name string) (string, error) {
	switch name {
	case NameThompson, "thompson_sampling", "ts":
		return NameThompson, nil
	case NameEGreedy, "epsilon_greedy", "e-greedy":
		return NameEGreedy, nil
	case NameUCB, "ucb1":
		return NameUCB, nil
	default:
		return "", fmt.Errorf("policy %q: %w", name, models.ErrInvalidArgument)
	}
}

// New builds a policy by name or alias.
func New(name string, cfg Config) (Policy, error) {
	canonical, err := CanonicalName(name)
	if err != nil {
		return nil, err
	}
	switch canonical {
	case NameThompson:
		return &Thompson{}, nil
	case NameEGreedy:
		eps := cfg.Epsilon
		if eps == 0 {
			eps = 0.1
		}
		return &EGreedy{Epsilon: eps}, nil
	default:
		minPulls := cfg.MinPulls
		if minPulls <= 0 {
			minPulls = 1
		}
		return &UCB1{MinPulls: minPulls}, nil
	}
}

// pickTied returns a uniformly random index among the indices whose score
// equals the maximum.
func pickTied(scores []float64) int {
	best := scores[0]
	for _, s := range scores[1:] {
		if s > best {
			best = s
		}
	}
	tied := make([]int, 0, len(scores))
	for i, s := range scores {
		if s == best {
			tied = append(tied, i)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}
	return tied[rand.Intn(len(tied))] //nolint:gosec // exploration randomness, not security
}
