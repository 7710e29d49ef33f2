// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package decision

import "math"

// z975 is the two-sided 95% normal critical value.
const z975 = 1.9599639845400545

// summarize returns the sample mean and sample standard deviation.
func summarize(xs []float64) (mean, std float64) {
	n := float64(len(xs))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / n
	if n < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / (n - 1))
}

// confidenceInterval returns the 95% CI for a mean: Student-t below 30
// samples, normal approximation above.
func confidenceInterval(mean, std float64, n int64) (low, high float64) {
	if n < 2 {
		return mean, mean
	}
	crit := z975
	if n < 30 {
		crit = tQuantile(0.975, float64(n-1))
	}
	margin := crit * std / math.Sqrt(float64(n))
	return mean - margin, mean + margin
}

// welchTTest runs a two-sided Welch t-test and returns the p-value. ok is
// false when either sample is too small or both are constant.
func welchTTest(a, b []float64) (p float64, ok bool) {
	if len(a) < 2 || len(b) < 2 {
		return 0, false
	}
	m1, s1 := summarize(a)
	m2, s2 := summarize(b)
	n1, n2 := float64(len(a)), float64(len(b))

	v1 := s1 * s1 / n1
	v2 := s2 * s2 / n2
	se := v1 + v2
	if se == 0 {
		if m1 == m2 {
			return 1, true
		}
		return 0, true
	}

	t := (m1 - m2) / math.Sqrt(se)
	// Welch-Satterthwaite degrees of freedom.
	df := se * se / (v1*v1/(n1-1) + v2*v2/(n2-1))

	return 2 * (1 - studentTCDF(math.Abs(t), df)), true
}

// studentTCDF is P(T <= t) for Student's t with df degrees of freedom,
// via the regularized incomplete beta function.
func studentTCDF(t, df float64) float64 {
	if math.IsInf(t, 1) {
		return 1
	}
	if math.IsInf(t, -1) {
		return 0
	}
	x := df / (df + t*t)
	tail := 0.5 * regIncompleteBeta(df/2, 0.5, x)
	if t >= 0 {
		return 1 - tail
	}
	return tail
}

// tQuantile inverts studentTCDF by bisection. p must be in (0.5, 1).
func tQuantile(p, df float64) float64 {
	lo, hi := 0.0, 200.0
	for i := 0; i < 200; i++ {
		mid := (lo + hi) / 2
		if studentTCDF(mid, df) < p {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// regIncompleteBeta is I_x(a, b), evaluated with the standard continued
// fraction (Numerical Recipes betacf), symmetrized for convergence.
func regIncompleteBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	lgA, _ := math.Lgamma(a)
	lgB, _ := math.Lgamma(b)
	lgAB, _ := math.Lgamma(a + b)
	front := math.Exp(lgAB - lgA - lgB + a*math.Log(x) + b*math.Log(1-x))

	if x < (a+1)/(a+b+2) {
		return front * betacf(a, b, x) / a
	}
	return 1 - front*betacf(b, a, 1-x)/b
}

func betacf(a, b, x float64) float64 {
	const (
		maxIter = 200
		eps     = 3e-14
		fpmin   = 1e-300
	)
	qab := a + b
	qap := a + 1
	qam := a - 1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < fpmin {
		d = fpmin
	}
	d = 1 / d
	h := d
	for m := 1; m <= maxIter; m++ {
		fm := float64(m)
		m2 := 2 * fm

		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}
