// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package policy

import (
	"math/rand"

	"github.com/banditlabs/banditd/internal/models"
)

// EGreedy explores uniformly with probability Epsilon and otherwise
// exploits the highest observed mean reward.
type EGreedy struct {
	Epsilon float64
}

// Name returns "egreedy".
func (e *EGreedy) Name() string { return NameEGreedy }

// Select chooses an arm and reports its exact propensity:
//
//	single best arm:  (1-e) + e/n
//	k-way tie:        ((1-e) + e*k/n) / k  for each tied arm
//	non-best arm:     e/n
func (e *EGreedy) Select(states []*models.PolicyState) (*Result, error) {
	if len(states) == 0 {
		return nil, models.ErrNoArms
	}

	n := float64(len(states))
	means := make([]float64, len(states))
	for i, st := range states {
		means[i] = st.MeanReward
	}

	best := means[0]
	for _, m := range means[1:] {
		if m > best {
			best = m
		}
	}
	tiedCount := 0
	for _, m := range means {
		if m == best {
			tiedCount++
		}
	}

	explored := rand.Float64() < e.Epsilon //nolint:gosec // exploration randomness
	var idx int
	if explored {
		idx = rand.Intn(len(states)) //nolint:gosec
	} else {
		idx = pickTied(means)
	}

	k := float64(tiedCount)
	var p float64
	if means[idx] == best {
		p = ((1-e.Epsilon) + e.Epsilon*k/n) / k
	} else {
		p = e.Epsilon / n
	}

	confidence := 1 - e.Epsilon
	if explored {
		confidence = e.Epsilon
	}

	return &Result{
		ArmID:      states[idx].ArmID,
		PScore:     &p,
		Confidence: confidence,
		Metadata: map[string]interface{}{
			"explored":    explored,
			"mean_reward": means[idx],
		},
	}, nil
}

// RewardDelta records the observation; epsilon-greedy learns only from
// counts and reward sums.
func (e *EGreedy) RewardDelta(reward float64) models.StateDelta {
	return models.StateDelta{Count: 1, SumReward: reward}
}
