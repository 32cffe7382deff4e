package transform

import (
	"errors"
	"math"
	"time"

	"github.com/brandondube/goguide/mathx"
)

// PierSide is the discrete side-of-pier state a German-equatorial mount
// reports; AO-only rigs and mounts that do not expose it report PierUnknown.
type PierSide int

const (
	PierUnknown PierSide = iota
	PierEast
	PierWest
)

func (p PierSide) String() string {
	switch p {
	case PierEast:
		return "east"
	case PierWest:
		return "west"
	default:
		return "unknown"
	}
}

// UnknownRotator is the sentinel RotatorAngle value meaning "rotator angle
// was not available at calibration time".
var UnknownRotator = math.NaN()

// DeclinationStabilityThreshold is the magnitude of calibration declination
// above which rate-adjustment for the current declination is skipped,
// because 1/cos() becomes numerically unstable near the pole. Spec.md
// describes this as "~2pi/3 * 1/2"; evaluated numerically that is pi/3
// (60 degrees).
const DeclinationStabilityThreshold = math.Pi / 3

// Calibration is the immutable record produced by the calibration engine
// (spec.md section 3). Rates are strictly positive; angles are normalized
// to (-pi, pi].
type Calibration struct {
	XAngle, YAngle float64
	XRate, YRate   float64
	Declination    float64
	PierSide       PierSide
	RotatorAngle   float64 // UnknownRotator if not available
	Timestamp      time.Time
}

// ErrNonPositiveRate is returned by Validate when XRate or YRate is <= 0.
var ErrNonPositiveRate = errors.New("transform: calibration rate must be strictly positive")

// Validate checks the invariants spec.md section 3 requires of a usable
// calibration record. It does not reject a large YAngleError; callers
// should inspect YAngleError() themselves and warn (see calib package,
// "degenerate-calibration").
func (c Calibration) Validate() error {
	if c.XRate <= 0 || c.YRate <= 0 {
		return ErrNonPositiveRate
	}
	return nil
}

// YAngleError encodes the non-orthogonality of the two mount axes:
// normalize(xAngle - yAngle + pi/2). Its magnitude should be well below
// pi/2 for the calibration to be usable as the inverse transform's accuracy
// degrades as it grows (spec.md section 3, invariant 1 of section 8).
func (c Calibration) YAngleError() float64 {
	return mathx.NormalizeAngle(c.XAngle - c.YAngle + math.Pi/2)
}

// Normalized returns a copy of c with XAngle and YAngle reduced to (-pi, pi].
func (c Calibration) Normalized() Calibration {
	c.XAngle = mathx.NormalizeAngle(c.XAngle)
	c.YAngle = mathx.NormalizeAngle(c.YAngle)
	return c
}

// WorkingCalibration is the mutable per-session state derived from an
// immutable Calibration: pier-flip and rotator adjustments applied to a
// working copy of the angles, plus the declination-scaled X rate.
type WorkingCalibration struct {
	// Base starts as a copy of the Calibration this session loaded, and
	// accumulates pier-flip and rotator adjustments as the session runs.
	Base Calibration

	// CurrentXRate is Base.XRate adjusted for CurrentDeclination.
	CurrentXRate float64

	// CurrentDeclination is the most recently applied mount declination.
	CurrentDeclination float64

	// NeedsRecalibration is set when the rotator angle was unknown at
	// calibration time and has since been observed to change.
	NeedsRecalibration bool

	lastDecApplied  float64
	lastRotatorSeen float64
}

// NewWorkingCalibration builds session state from a stored Calibration.
func NewWorkingCalibration(cal Calibration) *WorkingCalibration {
	return &WorkingCalibration{
		Base:               cal.Normalized(),
		CurrentXRate:       cal.XRate,
		CurrentDeclination: cal.Declination,
		lastDecApplied:     math.NaN(),
		lastRotatorSeen:    math.NaN(),
	}
}

// ApplyPierFlip flips XAngle (and, if decFlipOnPierFlip, YAngle) by pi
// when the mount reports a pier side opposite the one recorded at
// calibration. It is a no-op when either side is unknown or the sides
// already match. Applying it twice with the same decFlipOnPierFlip and
// matching sides returns the angles to their original values modulo 2pi
// (spec.md section 8, invariant 7).
func (w *WorkingCalibration) ApplyPierFlip(now PierSide, decFlipOnPierFlip bool) {
	if now == PierUnknown || w.Base.PierSide == PierUnknown || now == w.Base.PierSide {
		return
	}
	w.Base.XAngle = mathx.NormalizeAngle(w.Base.XAngle + math.Pi)
	if decFlipOnPierFlip {
		w.Base.YAngle = mathx.NormalizeAngle(w.Base.YAngle + math.Pi)
	}
	w.Base.PierSide = now
}

// rotatorIgnoreThreshold is ~0.05 degrees in radians: deltas smaller than
// this are treated as measurement noise, not an actual rotator move.
const rotatorIgnoreThreshold = 0.05 * math.Pi / 180

// ApplyRotatorAngle compensates for camera rotation since calibration. If
// the rotator angle was unknown at calibration time, it instead watches for
// any subsequent change in the live rotator reading and raises
// NeedsRecalibration, since the calibration cannot be corrected without a
// reference angle.
func (w *WorkingCalibration) ApplyRotatorAngle(now float64, hasNow bool) {
	if !hasNow {
		return
	}
	calHasRotator := !math.IsNaN(w.Base.RotatorAngle)
	if !calHasRotator {
		if !math.IsNaN(w.lastRotatorSeen) {
			delta := mathx.NormalizeAngle(now - w.lastRotatorSeen)
			if math.Abs(delta) >= rotatorIgnoreThreshold {
				w.NeedsRecalibration = true
			}
		}
		w.lastRotatorSeen = now
		return
	}
	delta := mathx.NormalizeAngle(now - w.Base.RotatorAngle)
	if math.Abs(delta) < rotatorIgnoreThreshold {
		return
	}
	w.Base.XAngle = mathx.NormalizeAngle(w.Base.XAngle - delta)
	w.Base.YAngle = mathx.NormalizeAngle(w.Base.YAngle - delta)
	w.Base.RotatorAngle = now
}

// machineTolerance is the minimum declination change worth re-scaling the
// X rate for.
const machineTolerance = 1e-9

// ApplyDeclination rescales CurrentXRate for the mount's current
// declination, unless the calibration declination's magnitude exceeds
// DeclinationStabilityThreshold (where 1/cos becomes unstable) or the
// change since the last applied declination is below machine tolerance.
func (w *WorkingCalibration) ApplyDeclination(currentDec float64) {
	w.CurrentDeclination = currentDec
	if math.Abs(w.Base.Declination) >= DeclinationStabilityThreshold {
		w.CurrentXRate = w.Base.XRate
		return
	}
	if !math.IsNaN(w.lastDecApplied) && math.Abs(currentDec-w.lastDecApplied) < machineTolerance {
		return
	}
	w.CurrentXRate = w.Base.XRate * math.Cos(currentDec) / math.Cos(w.Base.Declination)
	w.lastDecApplied = currentDec
}
