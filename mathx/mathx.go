// Package mathx provides small numeric helpers shared by the guiding core:
// rounding, angle normalization, medians, and a running mean/variance
// accumulator. It began as the Round-for-go1.9 shim and grew the helpers the
// transform, backlash, and backlash-measurement packages need.
package mathx

import (
	"math"
	"sort"
)

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return float64(int64(x/unit+0.5)) * unit
}

// Clamp restricts x to the closed interval [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// ClampInt restricts x to the closed interval [lo, hi].
func ClampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// NormalizeAngle reduces theta (radians) to the half-open interval (-pi, pi].
func NormalizeAngle(theta float64) float64 {
	for theta <= -math.Pi {
		theta += 2 * math.Pi
	}
	for theta > math.Pi {
		theta -= 2 * math.Pi
	}
	return theta
}

// Median returns the median of a slice of float64, copying the input so the
// caller's slice is never reordered. Panics on an empty slice the way the
// caller's bookkeeping should have already prevented.
func Median(vals []float64) float64 {
	cp := make([]float64, len(vals))
	copy(cp, vals)
	sort.Float64s(cp)
	n := len(cp)
	if n%2 == 1 {
		return cp[n/2]
	}
	return (cp[n/2-1] + cp[n/2]) / 2
}

// RunningStats accumulates mean and variance with Welford's method, so that
// neither requires buffering every sample seen.
type RunningStats struct {
	n    int
	mean float64
	m2   float64
}

// Add folds a new sample into the accumulator.
func (r *RunningStats) Add(x float64) {
	r.n++
	delta := x - r.mean
	r.mean += delta / float64(r.n)
	delta2 := x - r.mean
	r.m2 += delta * delta2
}

// N returns the number of samples folded in so far.
func (r *RunningStats) N() int { return r.n }

// Mean returns the running mean, or 0 if no samples have been added.
func (r *RunningStats) Mean() float64 { return r.mean }

// Variance returns the sample variance (m2/(n-1)), or 0 for n<2.
func (r *RunningStats) Variance() float64 {
	if r.n < 2 {
		return 0
	}
	return r.m2 / float64(r.n-1)
}

// CombinedSigma reports sqrt(ss/n + 2*ss/(n-1)) where ss is the accumulated
// sum of squared deviations, combining step-to-step variability in the
// positive-direction phase with two additional endpoint measurements, as
// used by the backlash measurement engine's reported uncertainty.
func (r *RunningStats) CombinedSigma() float64 {
	if r.n < 2 {
		return 0
	}
	ss := r.m2
	n := float64(r.n)
	return math.Sqrt(ss/n + 2*ss/(n-1))
}
