// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package policy

import (
	"math"

	"github.com/banditlabs/banditd/internal/models"
)

// UCB1 implements the upper-confidence-bound policy. Arms with fewer than
// MinPulls observations score +Inf so every arm gets pulled before the
// bound formula applies.
type UCB1 struct {
	MinPulls int64
}

// Name returns "ucb".
func (u *UCB1) Name() string { return NameUCB }

// Select computes UCB_a = mean_a + sqrt(2 ln(max(N,1)) / count_a) and
// takes the argmax. PScore stays nil: UCB1 is deterministic given state
// and has no analytically defined propensity.
func (u *UCB1) Select(states []*models.PolicyState) (*Result, error) {
	if len(states) == 0 {
		return nil, models.ErrNoArms
	}

	var total int64
	for _, st := range states {
		total += st.Count
	}
	logN := math.Log(math.Max(float64(total), 1))

	scores := make([]float64, len(states))
	for i, st := range states {
		if st.Count < u.MinPulls {
			scores[i] = math.Inf(1)
			continue
		}
		scores[i] = st.MeanReward + math.Sqrt(2*logN/float64(st.Count))
	}

	idx := pickTied(scores)
	chosen := states[idx]

	confidence := 0.0
	if chosen.Count >= u.MinPulls && !math.IsInf(scores[idx], 1) {
		confidence = chosen.MeanReward
	}

	return &Result{
		ArmID:      chosen.ArmID,
		Confidence: confidence,
		Metadata: map[string]interface{}{
			"ucb":         scores[idx],
			"total_pulls": total,
			"cold_start":  chosen.Count < u.MinPulls,
		},
	}, nil
}

// RewardDelta records the observation.
func (u *UCB1) RewardDelta(reward float64) models.StateDelta {
	return models.StateDelta{Count: 1, SumReward: reward}
}
