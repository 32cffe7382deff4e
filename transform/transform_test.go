package transform_test

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/brandondube/goguide/transform"
)

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// S4: transform round-trip with near-orthogonal axes.
func TestForwardInverseRoundTripS4(t *testing.T) {
	cal := transform.Calibration{
		XAngle:       math.Pi / 4,
		YAngle:       3 * math.Pi / 4,
		XRate:        1.0,
		YRate:        1.0,
		Declination:  0,
		PierSide:     transform.PierEast,
		RotatorAngle: transform.UnknownRotator,
		Timestamp:    time.Now(),
	}
	w := transform.NewWorkingCalibration(cal)

	v := transform.PixelPoint{X: 3, Y: 4, Valid: true}
	axis := transform.Forward(v, w)

	wantHyp := 5.0
	if !approxEqual(axis.Distance(), wantHyp, 1e-9) {
		t.Fatalf("forward distance = %v, want %v", axis.Distance(), wantHyp)
	}
	if !approxEqual(axis.X, 4.95, 0.05) {
		t.Errorf("axis.X = %v, want ~4.95", axis.X)
	}
	if !approxEqual(axis.Y, 0.71, 0.05) {
		t.Errorf("axis.Y = %v, want ~0.71", axis.Y)
	}

	back := transform.Inverse(axis, w)
	if !approxEqual(back.X, v.X, 1e-6) || !approxEqual(back.Y, v.Y, 1e-6) {
		t.Errorf("round trip = (%v,%v), want (%v,%v)", back.X, back.Y, v.X, v.Y)
	}
}

// Invariant 1: round trip within 0.01 units whenever |yAngleError| < 5deg,
// across a spread of input vectors and axis angles.
func TestRoundTripInvariant(t *testing.T) {
	fiveDeg := 5 * math.Pi / 180
	angles := []struct{ x, y float64 }{
		{0, math.Pi / 2},
		{0.3, math.Pi/2 + 0.2},
		{-0.2, math.Pi/2 - 0.1},
	}
	vectors := []transform.PixelPoint{
		{X: 1, Y: 0, Valid: true},
		{X: 0, Y: 1, Valid: true},
		{X: 3, Y: -4, Valid: true},
		{X: -7, Y: 2, Valid: true},
	}
	for _, a := range angles {
		cal := transform.Calibration{XAngle: a.x, YAngle: a.y, XRate: 1, YRate: 1, RotatorAngle: transform.UnknownRotator}
		w := transform.NewWorkingCalibration(cal)
		if math.Abs(cal.YAngleError()) >= fiveDeg {
			t.Fatalf("test setup produced yAngleError %v >= 5deg", cal.YAngleError())
		}
		for _, v := range vectors {
			axis := transform.Forward(v, w)
			back := transform.Inverse(axis, w)
			if !approxEqual(back.X, v.X, 0.01) || !approxEqual(back.Y, v.Y, 0.01) {
				t.Errorf("angles %+v vector %+v: round trip (%v,%v) vs (%v,%v)", a, v, back.X, back.Y, v.X, v.Y)
			}
		}
	}
}

// S6: pier flip idempotence.
func TestPierFlipIdempotence(t *testing.T) {
	cal := transform.Calibration{
		XAngle:   0.1,
		YAngle:   math.Pi/2 + 0.1,
		XRate:    1,
		YRate:    1,
		PierSide: transform.PierEast,
		RotatorAngle: transform.UnknownRotator,
	}
	w := transform.NewWorkingCalibration(cal)

	w.ApplyPierFlip(transform.PierWest, true)
	if w.Base.PierSide != transform.PierWest {
		t.Fatalf("after first flip PierSide = %v, want west", w.Base.PierSide)
	}

	w.ApplyPierFlip(transform.PierEast, true)
	if !approxEqual(w.Base.XAngle, 0.1, 1e-12) {
		t.Errorf("after second flip XAngle = %v, want 0.1", w.Base.XAngle)
	}
	if !approxEqual(w.Base.YAngle, math.Pi/2+0.1, 1e-12) {
		t.Errorf("after second flip YAngle = %v, want %v", w.Base.YAngle, math.Pi/2+0.1)
	}
	if w.Base.PierSide != transform.PierEast {
		t.Errorf("PierSide = %v, want east", w.Base.PierSide)
	}
}

func TestDeclinationCompensationSkippedNearPole(t *testing.T) {
	cal := transform.Calibration{XAngle: 0, YAngle: math.Pi / 2, XRate: 1, YRate: 1, Declination: 1.3, RotatorAngle: transform.UnknownRotator}
	w := transform.NewWorkingCalibration(cal)
	w.ApplyDeclination(0.2)
	if w.CurrentXRate != cal.XRate {
		t.Errorf("CurrentXRate = %v, want unchanged %v near pole", w.CurrentXRate, cal.XRate)
	}
}

// S4, repeated as a whole-struct comparison: Forward/Inverse should be
// mutual inverses for an orthogonal calibration, within float tolerance.
func TestForwardInverseRoundTripStruct(t *testing.T) {
	cal := transform.Calibration{
		XAngle: math.Pi / 6, YAngle: math.Pi/6 + math.Pi/2,
		XRate: 1.2, YRate: 0.8, RotatorAngle: transform.UnknownRotator,
	}
	w := transform.NewWorkingCalibration(cal)
	v := transform.PixelPoint{X: -2.5, Y: 6, Valid: true}

	back := transform.Inverse(transform.Forward(v, w), w)

	if diff := cmp.Diff(v, back, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDeclinationCompensationScales(t *testing.T) {
	cal := transform.Calibration{XAngle: 0, YAngle: math.Pi / 2, XRate: 2, YRate: 1, Declination: 0, RotatorAngle: transform.UnknownRotator}
	w := transform.NewWorkingCalibration(cal)
	w.ApplyDeclination(math.Pi / 3)
	want := 2 * math.Cos(math.Pi/3) / math.Cos(0)
	if !approxEqual(w.CurrentXRate, want, 1e-9) {
		t.Errorf("CurrentXRate = %v, want %v", w.CurrentXRate, want)
	}
}
