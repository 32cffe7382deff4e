package blmeasure_test

import (
	"math"
	"testing"

	"github.com/brandondube/goguide/blmeasure"
)

// S5: backlash measurement median / no-backlash scenario.
func TestComputeBacklashNoBacklashDetected(t *testing.T) {
	positive := []float64{100, 110, 121, 131, 142, 151, 162, 171}
	negative := []float64{171, 170.5, 170.2, 160.0, 150.1, 140.2, 130.3, 120.3}

	est := blmeasure.ComputeBacklash(positive, negative, 1000, 0, 7)

	if math.Abs(est.MedianPositiveStep-10) > 0.5 {
		t.Errorf("MedianPositiveStep = %v, want ~10", est.MedianPositiveStep)
	}
	if math.Abs(est.ExpectedMagnitude-9) > 0.5 {
		t.Errorf("ExpectedMagnitude = %v, want ~9", est.ExpectedMagnitude)
	}
	if est.BacklashPixels != 0 {
		t.Errorf("BacklashPixels = %v, want 0 (clamped, no backlash detected)", est.BacklashPixels)
	}
	if est.Result != blmeasure.ResultValid {
		t.Errorf("Result = %v, want valid", est.Result)
	}
	if est.SigmaMS <= 0 {
		t.Errorf("SigmaMS = %v, want > 0 (step-to-step variability in the positive phase)", est.SigmaMS)
	}
}

func TestComputeBacklashTooFewSamples(t *testing.T) {
	est := blmeasure.ComputeBacklash([]float64{100}, []float64{100, 90}, 1000, 0, 1)
	if est.Result != blmeasure.ResultTooFewPositive {
		t.Errorf("Result = %v, want too-few-positive", est.Result)
	}

	est2 := blmeasure.ComputeBacklash([]float64{100, 110}, []float64{110}, 1000, 0, 1)
	if est2.Result != blmeasure.ResultTooFewNegative {
		t.Errorf("Result = %v, want too-few-negative", est2.Result)
	}
}

func TestComputeBacklashDetectsRealBacklash(t *testing.T) {
	// positive phase moves ~10px/step; negative phase takes 3 steps of
	// zero motion (backlash slack) before resuming ~10px/step.
	positive := []float64{0, 10, 20, 30, 40, 50}
	negative := []float64{50, 50, 50, 50, 40, 30, 20}

	est := blmeasure.ComputeBacklash(positive, negative, 1000, 0, 5)
	if est.BacklashPixels <= 0 {
		t.Errorf("BacklashPixels = %v, want > 0 for a real backlash trace", est.BacklashPixels)
	}
	if est.Result != blmeasure.ResultValid {
		t.Errorf("Result = %v, want valid", est.Result)
	}
}
