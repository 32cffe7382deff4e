package blmeasure

import (
	"math"

	"github.com/brandondube/goguide/mathx"
)

// Result is the outcome classification of a completed or aborted backlash
// measurement (spec.md section 3/7).
type Result int

const (
	ResultNone Result = iota
	ResultValid
	ResultTooFewPositive
	ResultTooFewNegative
	ResultClearingFailed
	ResultSanityViolation
)

func (r Result) String() string {
	switch r {
	case ResultValid:
		return "valid"
	case ResultTooFewPositive:
		return "too-few-positive"
	case ResultTooFewNegative:
		return "too-few-negative"
	case ResultClearingFailed:
		return "clearing-failed"
	case ResultSanityViolation:
		return "sanity-violation"
	default:
		return "none"
	}
}

// sanityFloorPixelMS is the threshold below which a raw (pre-clamp)
// bl_px*axisRate is considered nonsensical rather than merely "no
// backlash detected" (spec.md section 4.5).
const sanityFloorPixelMS = -200.0

// requiredConsecutiveNegativeQualifiers is the number of consecutive
// negative-direction moves that must each meet expectedMagnitude before
// the backlash estimate is taken at that step.
const requiredConsecutiveNegativeQualifiers = 2

// BacklashEstimate is the result of analyzing one completed measurement's
// position traces.
type BacklashEstimate struct {
	Result            Result
	MedianPositiveStep float64 // px, robust per-step motion during the positive phase
	ExpectedMagnitude  float64 // px, 0.9 * MedianPositiveStep
	EmpiricalAxisRate  float64 // px/ms, from the positive-phase trace
	BacklashPixels     float64 // clamped to >= 0
	MagnitudeMS        float64 // BacklashPixels / EmpiricalAxisRate
	SigmaMS            float64 // mathx.RunningStats.CombinedSigma() over the positive-phase step magnitudes, converted to ms via EmpiricalAxisRate
}

// ComputeBacklash implements the analysis of spec.md section 4.5: a
// robust per-step estimate from the positive-direction trace, an
// empirical axis rate corrected for sidereal drift, and a backlash
// estimate from where the negative-direction trace first takes up the
// full expected step magnitude for two consecutive steps.
//
// positiveSteps and negativeSteps are recorded AXIS POSITIONS (not
// deltas), one entry per pulse plus a leading baseline entry, in the
// order they were observed. pulseWidthMS is the (identical) width used
// for every step in both phases. driftSecs is (measurementEnd -
// measurementStart) in seconds, and driftPerSec is the pre-measured
// sidereal/drift rate in px/sec.
func ComputeBacklash(positiveSteps, negativeSteps []float64, pulseWidthMS, driftPerSec, driftSecs float64) BacklashEstimate {
	var est BacklashEstimate

	if len(positiveSteps) < 2 {
		est.Result = ResultTooFewPositive
		return est
	}
	if len(negativeSteps) < 2 {
		est.Result = ResultTooFewNegative
		return est
	}

	posDeltas := deltas(positiveSteps)
	posMagnitudes := absAll(posDeltas)
	est.MedianPositiveStep = mathx.Median(posMagnitudes)
	est.ExpectedMagnitude = 0.9 * est.MedianPositiveStep

	var stats mathx.RunningStats
	for _, m := range posMagnitudes {
		stats.Add(m)
	}

	totalPositiveMotion := positiveSteps[len(positiveSteps)-1] - positiveSteps[0]
	drift := driftPerSec * driftSecs
	nSteps := float64(len(posDeltas))
	if pulseWidthMS > 0 && nSteps > 0 {
		est.EmpiricalAxisRate = math.Abs(totalPositiveMotion-drift) / (nSteps * pulseWidthMS)
	}
	if est.EmpiricalAxisRate > 0 {
		est.SigmaMS = stats.CombinedSigma() / est.EmpiricalAxisRate
	}

	negDeltas := deltas(negativeSteps)
	driftPerFrame := driftPerSec * pulseWidthMS / 1000.0

	k := 0
	consecutive := 0
	for i, d := range negDeltas {
		if qualifies(d, est.ExpectedMagnitude) {
			consecutive++
		} else {
			consecutive = 0
		}
		if consecutive >= requiredConsecutiveNegativeQualifiers {
			k = i - requiredConsecutiveNegativeQualifiers + 2 // 1-indexed position of the first delta in the qualifying run
			break
		}
	}

	totalNegativeMotion := negativeSteps[len(negativeSteps)-1] - negativeSteps[0]

	if k == 0 {
		// the negative trace never took up the full expected step twice
		// in a row: treat as no measurable backlash within this trace.
		est.Result = ResultValid
		est.BacklashPixels = 0
	} else {
		raw := float64(k)*est.ExpectedMagnitude - math.Abs(totalNegativeMotion-float64(k)*driftPerFrame)
		if est.EmpiricalAxisRate > 0 && raw*est.EmpiricalAxisRate < sanityFloorPixelMS {
			est.Result = ResultSanityViolation
			est.BacklashPixels = raw
			return est
		}
		if raw < 0 {
			raw = 0
		}
		est.BacklashPixels = raw
		est.Result = ResultValid
	}

	if totalPositiveMotion != 0 && est.BacklashPixels >= 0.5*math.Abs(totalPositiveMotion) {
		est.Result = ResultTooFewPositive
	}

	if est.EmpiricalAxisRate > 0 {
		est.MagnitudeMS = est.BacklashPixels / est.EmpiricalAxisRate
	}
	return est
}

// qualifies reports whether a negative-direction delta meets the expected
// magnitude in the correct (negative) direction.
func qualifies(delta, expectedMagnitude float64) bool {
	return delta < 0 && math.Abs(delta) >= expectedMagnitude
}

func deltas(positions []float64) []float64 {
	out := make([]float64, 0, len(positions)-1)
	for i := 1; i < len(positions); i++ {
		out = append(out, positions[i]-positions[i-1])
	}
	return out
}

func absAll(vals []float64) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = math.Abs(v)
	}
	return out
}
