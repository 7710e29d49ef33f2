// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package policy

import (
	"math"
	"math/rand"
)

// sampleBeta draws from Beta(a, b) via two gamma draws:
// X ~ Gamma(a), Y ~ Gamma(b), X/(X+Y) ~ Beta(a, b).
func sampleBeta(a, b float64) float64 {
	x := sampleGamma(a)
	y := sampleGamma(b)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using the Marsaglia-Tsang
// squeeze method. Shapes below 1 use the boosting identity
// Gamma(a) = Gamma(a+1) * U^(1/a).
func sampleGamma(shape float64) float64 {
	if shape <= 0 {
		return 0
	}
	if shape < 1 {
		u := rand.Float64() //nolint:gosec // statistical sampling
		for u == 0 {
			u = rand.Float64() //nolint:gosec
		}
		return sampleGamma(shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		var x, v float64
		for {
			x = rand.NormFloat64() //nolint:gosec
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rand.Float64() //nolint:gosec
		if u < 1.0-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}
