// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package policy

import (
	"github.com/banditlabs/banditd/internal/models"
)

// Thompson implements Thompson Sampling over Beta posteriors. Each arm's
// state carries (alpha, beta); selection draws one sample per arm and
// takes the argmax.
type Thompson struct{}

// Name returns "thompson".
func (t *Thompson) Name() string { return NameThompson }

// Select draws s_a ~ Beta(alpha_a, beta_a) per arm and picks the maximum.
// The propensity is an approximation of P(arm is argmax): normalized
// posterior means, clamped to [0.01, 0.99].
func (t *Thompson) Select(states []*models.PolicyState) (*Result, error) {
	if len(states) == 0 {
		return nil, models.ErrNoArms
	}

	samples := make([]float64, len(states))
	means := make([]float64, len(states))
	meanSum := 0.0
	for i, st := range states {
		samples[i] = sampleBeta(st.Alpha, st.Beta)
		means[i] = st.Alpha / (st.Alpha + st.Beta)
		meanSum += means[i]
	}

	idx := pickTied(samples)
	chosen := states[idx]

	p := 1.0 / float64(len(states))
	if meanSum > 0 {
		p = means[idx] / meanSum
	}
	p = clampPropensity(p)

	return &Result{
		ArmID:      chosen.ArmID,
		PScore:     &p,
		Confidence: means[idx],
		Metadata: map[string]interface{}{
			"sample": samples[idx],
			"alpha":  chosen.Alpha,
			"beta":   chosen.Beta,
		},
	}, nil
}

// RewardDelta applies the moment-matching Beta update. The same rule
// covers binary and continuous rewards in [0,1]: alpha grows by the
// reward, beta by its complement.
func (t *Thompson) RewardDelta(reward float64) models.StateDelta {
	return models.StateDelta{
		Count:     1,
		SumReward: reward,
		Alpha:     reward,
		Beta:      1 - reward,
	}
}

// clampPropensity bounds a propensity to [0.01, 0.99] so downstream
// inverse-propensity estimators never divide by a vanishing score.
func clampPropensity(p float64) float64 {
	if p < 0.01 {
		return 0.01
	}
	if p > 0.99 {
		return 0.99
	}
	return p
}
