package calib_test

import (
	"math"
	"testing"

	"github.com/brandondube/goguide/calib"
	"github.com/brandondube/goguide/transform"
)

func defaultParams() calib.Params {
	return calib.Params{
		PulseWidthMS:         1000,
		RequiredDistancePx:   20,
		MaxIterationsPerAxis: 20,
		ClearBacklashEnabled: false,
		BackoffTolerancePx:   1,
		BackoffMaxSteps:      40,
	}
}

func TestMountCalibrationWestThenNorthOrthogonal(t *testing.T) {
	e := calib.NewMountEngine(defaultParams())

	x, y := 100.0, 100.0
	pt := func() transform.PixelPoint { return transform.PixelPoint{X: x, Y: y, Valid: true} }

	// uninitialized -> step-west
	_, done := e.Step(pt())
	if done || e.State() != calib.StepWest {
		t.Fatalf("after init, state = %v", e.State())
	}

	// drive west (pure -x motion) until required distance reached
	for e.State() == calib.StepWest {
		x -= 5
		if _, done = e.Step(pt()); done {
			t.Fatalf("aborted unexpectedly during step-west")
		}
	}
	if e.State() != calib.StepNorth {
		t.Fatalf("state after computeX = %v, want step-north", e.State())
	}
	if math.Abs(math.Abs(e.XAngle())-math.Pi) > 0.05 {
		t.Errorf("XAngle = %v, want ~pi (pure -x motion)", e.XAngle())
	}

	for e.State() == calib.StepNorth {
		y -= 5
		if _, done = e.Step(pt()); done {
			t.Fatalf("aborted unexpectedly during step-north")
		}
	}
	if e.State() != calib.BackOff {
		t.Fatalf("state after computeY = %v, want back-off", e.State())
	}
	if e.DegenerateWarning {
		t.Errorf("DegenerateWarning set for an orthogonal X/Y calibration")
	}

	for e.State() == calib.BackOff {
		// move back toward origin (100,100)
		if x < 100 {
			x += 5
		}
		if y < 100 {
			y += 5
		}
		_, done = e.Step(pt())
	}
	if e.State() != calib.Complete {
		t.Fatalf("final state = %v, want complete", e.State())
	}
}

func TestMountCalibrationStarLostAborts(t *testing.T) {
	e := calib.NewMountEngine(defaultParams())
	e.Step(transform.PixelPoint{X: 1, Y: 1, Valid: true})
	_, done := e.Step(transform.PixelPoint{Valid: false})
	if !done || e.State() != calib.Failed || e.Failure != calib.StarLost {
		t.Fatalf("state = %v failure = %v, want failed/star-lost", e.State(), e.Failure)
	}
}

func TestMountCalibrationInsufficientMotionFails(t *testing.T) {
	p := defaultParams()
	p.MaxIterationsPerAxis = 2
	e := calib.NewMountEngine(p)
	pt := transform.PixelPoint{X: 100, Y: 100, Valid: true}
	e.Step(pt) // -> step-west
	e.Step(pt) // no motion, iter=1
	_, done := e.Step(pt)
	if !done || e.State() != calib.Failed || e.Failure != calib.InsufficientMotion {
		t.Fatalf("state = %v failure = %v, want failed/insufficient-motion", e.State(), e.Failure)
	}
}
