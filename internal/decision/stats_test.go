// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package decision

import (
	"math"
	"testing"
)

func TestSummarize(t *testing.T) {
	mean, std := summarize([]float64{1, 0, 1, 1, 0})
	if mean != 0.6 {
		t.Errorf("mean = %v, want 0.6", mean)
	}
	// Sample std of {1,0,1,1,0} is sqrt(0.3).
	if math.Abs(std-math.Sqrt(0.3)) > 1e-12 {
		t.Errorf("std = %v, want %v", std, math.Sqrt(0.3))
	}

	if m, s := summarize(nil); m != 0 || s != 0 {
		t.Errorf("empty sample = (%v,%v), want zeros", m, s)
	}
	if _, s := summarize([]float64{0.5}); s != 0 {
		t.Errorf("single sample std = %v, want 0", s)
	}
}

func TestStudentTQuantile(t *testing.T) {
	// Textbook two-sided 95% critical values.
	cases := []struct {
		df   float64
		want float64
	}{
		{1, 12.706},
		{5, 2.5706},
		{10, 2.2281},
		{29, 2.0452},
	}
	for _, c := range cases {
		got := tQuantile(0.975, c.df)
		if math.Abs(got-c.want) > 5e-3 {
			t.Errorf("tQuantile(0.975, %v) = %v, want %v", c.df, got, c.want)
		}
	}
}

func TestStudentTCDFSymmetry(t *testing.T) {
	if got := studentTCDF(0, 10); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("CDF(0) = %v, want 0.5", got)
	}
	p, q := studentTCDF(1.5, 7), studentTCDF(-1.5, 7)
	if math.Abs(p+q-1) > 1e-10 {
		t.Errorf("CDF(t)+CDF(-t) = %v, want 1", p+q)
	}
}

func TestRegIncompleteBeta(t *testing.T) {
	// I_x(1,1) = x.
	if got := regIncompleteBeta(1, 1, 0.3); math.Abs(got-0.3) > 1e-10 {
		t.Errorf("I_0.3(1,1) = %v, want 0.3", got)
	}
	// Symmetric case: I_0.5(a,a) = 0.5.
	if got := regIncompleteBeta(2.5, 2.5, 0.5); math.Abs(got-0.5) > 1e-10 {
		t.Errorf("I_0.5(2.5,2.5) = %v, want 0.5", got)
	}
	if regIncompleteBeta(3, 2, 0) != 0 || regIncompleteBeta(3, 2, 1) != 1 {
		t.Error("boundary values must be exact")
	}
}

func TestConfidenceInterval(t *testing.T) {
	// n=10 uses t(9) = 2.2622: margin = 2.2622 * 0.2 / sqrt(10).
	low, high := confidenceInterval(0.5, 0.2, 10)
	wantMargin := 2.2622 * 0.2 / math.Sqrt(10)
	if math.Abs((high-low)/2-wantMargin) > 1e-3 {
		t.Errorf("t margin = %v, want %v", (high-low)/2, wantMargin)
	}

	// Large n uses the normal critical value.
	low, high = confidenceInterval(0.5, 0.2, 1000)
	wantMargin = z975 * 0.2 / math.Sqrt(1000)
	if math.Abs((high-low)/2-wantMargin) > 1e-9 {
		t.Errorf("z margin = %v, want %v", (high-low)/2, wantMargin)
	}

	if l, h := confidenceInterval(0.5, 0.2, 1); l != 0.5 || h != 0.5 {
		t.Errorf("degenerate sample CI = (%v,%v), want point", l, h)
	}
}

func TestWelchTTest(t *testing.T) {
	// Clearly separated samples give a tiny p-value.
	var a, b []float64
	for i := 0; i < 50; i++ {
		a = append(a, 0.9+0.01*float64(i%5))
		b = append(b, 0.1+0.01*float64(i%5))
	}
	p, ok := welchTTest(a, b)
	if !ok || p > 1e-6 {
		t.Errorf("separated samples: p = %v ok = %v, want p near 0", p, ok)
	}

	// A sample against itself is maximally insignificant.
	p, ok = welchTTest(a, a)
	if !ok || p < 0.99 {
		t.Errorf("identical samples: p = %v, want 1", p)
	}

	if _, ok := welchTTest([]float64{1}, a); ok {
		t.Error("single-element sample must be rejected")
	}
}
