// Package calib implements the calibration engines of spec.md sections 4.6
// (mount) and 4.7 (AO): state machines driven by successive centroids that
// determine the geometric mapping and rate constants between pixel space
// and actuator command space. Grounded on
// _examples/original_source/branches/new_build_system/mount.cpp.
package calib

import (
	"math"

	"github.com/brandondube/goguide/actuator"
	"github.com/brandondube/goguide/mathx"
	"github.com/brandondube/goguide/transform"
)

// State is a step of the mount calibration state machine.
type State int

const (
	Uninitialized State = iota
	ClearBacklash
	StepWest
	ComputeX
	StepNorth
	ComputeY
	BackOff
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case ClearBacklash:
		return "clear-backlash"
	case StepWest:
		return "step-west"
	case ComputeX:
		return "compute-x"
	case StepNorth:
		return "step-north"
	case ComputeY:
		return "compute-y"
	case BackOff:
		return "back-off"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// FailureReason classifies why a mount calibration aborted.
type FailureReason int

const (
	FailureNone FailureReason = iota
	InsufficientMotion
	StarLost
)

func (f FailureReason) String() string {
	switch f {
	case InsufficientMotion:
		return "calibration-insufficient-motion"
	case StarLost:
		return "calibration-star-lost"
	default:
		return "none"
	}
}

// degenerateOrthogonalityThreshold is 30 degrees in radians: the
// ||normalize(xAngle-yAngle)|-pi/2| excess above which the geometry is considered
// likely-slop-or-miscount, warned about but still accepted.
const degenerateOrthogonalityThreshold = 30 * math.Pi / 180

// Params configures one mount calibration run.
type Params struct {
	PulseWidthMS         float64
	RequiredDistancePx   float64
	MaxIterationsPerAxis int

	ClearBacklashEnabled bool
	ClearBacklashSteps   int

	BackoffTolerancePx float64
	BackoffMaxSteps    int
}

// MountEngine runs one mount calibration. Not safe for concurrent use; the
// guider worker owns it exclusively.
type MountEngine struct {
	params Params
	state  State
	iter   int

	originX, originY float64
	lastX, lastY     float64
	cumDX, cumDY     float64

	xAngle, xRate float64
	yAngle, yRate float64

	DegenerateWarning bool
	Failure           FailureReason
}

// NewMountEngine returns a MountEngine ready to Step from Uninitialized.
func NewMountEngine(p Params) *MountEngine {
	return &MountEngine{params: p}
}

func (e *MountEngine) State() State { return e.state }

// Command is the single calibration move to issue before the next frame.
type Command struct {
	Dir        actuator.Direction
	DurationMS int
}

// Step advances the calibration by one observed centroid. starFound false
// aborts immediately with StarLost, matching "star lost during
// calibration" in spec.md's failure taxonomy.
func (e *MountEngine) Step(pos transform.PixelPoint) (cmd *Command, done bool) {
	if !pos.Valid {
		e.state = Failed
		e.Failure = StarLost
		return nil, true
	}

	switch e.state {
	case Uninitialized:
		e.originX, e.originY = pos.X, pos.Y
		e.lastX, e.lastY = pos.X, pos.Y
		if e.params.ClearBacklashEnabled {
			e.state = ClearBacklash
			e.iter = 0
			return &Command{Dir: actuator.West, DurationMS: roundMS(e.params.PulseWidthMS)}, false
		}
		e.state = StepWest
		e.iter = 0
		return &Command{Dir: actuator.West, DurationMS: roundMS(e.params.PulseWidthMS)}, false

	case ClearBacklash:
		e.iter++
		if e.iter >= e.params.ClearBacklashSteps {
			e.state = StepWest
			e.iter = 0
			e.lastX, e.lastY = pos.X, pos.Y
		}
		return &Command{Dir: actuator.West, DurationMS: roundMS(e.params.PulseWidthMS)}, false

	case StepWest:
		e.accumulate(pos)
		e.iter++
		if math.Hypot(e.cumDX, e.cumDY) >= e.params.RequiredDistancePx {
			return e.computeX(), false
		}
		if e.iter >= e.params.MaxIterationsPerAxis {
			e.state = Failed
			e.Failure = InsufficientMotion
			return nil, true
		}
		return &Command{Dir: actuator.West, DurationMS: roundMS(e.params.PulseWidthMS)}, false

	case StepNorth:
		e.accumulate(pos)
		e.iter++
		if math.Hypot(e.cumDX, e.cumDY) >= e.params.RequiredDistancePx {
			return e.computeY(), false
		}
		if e.iter >= e.params.MaxIterationsPerAxis {
			e.state = Failed
			e.Failure = InsufficientMotion
			return nil, true
		}
		return &Command{Dir: actuator.North, DurationMS: roundMS(e.params.PulseWidthMS)}, false

	case BackOff:
		dist := math.Hypot(pos.X-e.originX, pos.Y-e.originY)
		if dist <= e.params.BackoffTolerancePx || e.iter >= e.params.BackoffMaxSteps {
			e.state = Complete
			return nil, true
		}
		e.iter++
		return &Command{Dir: directionToward(pos, e.originX, e.originY), DurationMS: roundMS(e.params.PulseWidthMS)}, false

	default:
		return nil, true
	}
}

func (e *MountEngine) accumulate(pos transform.PixelPoint) {
	e.cumDX += pos.X - e.lastX
	e.cumDY += pos.Y - e.lastY
	e.lastX, e.lastY = pos.X, pos.Y
}

func (e *MountEngine) computeX() *Command {
	e.xAngle = math.Atan2(e.cumDY, e.cumDX)
	e.xRate = math.Hypot(e.cumDX, e.cumDY) / (float64(e.iter) * e.params.PulseWidthMS)
	e.cumDX, e.cumDY = 0, 0
	e.iter = 0
	e.state = StepNorth
	return &Command{Dir: actuator.North, DurationMS: roundMS(e.params.PulseWidthMS)}
}

func (e *MountEngine) computeY() *Command {
	e.yAngle = math.Atan2(e.cumDY, e.cumDX)
	e.yRate = math.Hypot(e.cumDX, e.cumDY) / (float64(e.iter) * e.params.PulseWidthMS)

	orthoErr := math.Abs(math.Abs(mathx.NormalizeAngle(e.xAngle-e.yAngle)) - math.Pi/2)
	if orthoErr > degenerateOrthogonalityThreshold {
		e.DegenerateWarning = true
	}

	e.iter = 0
	e.state = BackOff
	return &Command{Dir: directionToward2(e.lastX, e.lastY, e.originX, e.originY), DurationMS: roundMS(e.params.PulseWidthMS)}
}

// XAngle, XRate, YAngle, YRate expose the measured geometry once
// Step transitions past ComputeX/ComputeY, for the guider to assemble
// into a transform.Calibration record alongside declination, pier side,
// and rotator angle (which this package does not itself observe).
func (e *MountEngine) XAngle() float64 { return e.xAngle }
func (e *MountEngine) XRate() float64  { return e.xRate }
func (e *MountEngine) YAngle() float64 { return e.yAngle }
func (e *MountEngine) YRate() float64  { return e.yRate }

func directionToward(pos transform.PixelPoint, originX, originY float64) actuator.Direction {
	return directionToward2(pos.X, pos.Y, originX, originY)
}

func directionToward2(x, y, originX, originY float64) actuator.Direction {
	dx, dy := originX-x, originY-y
	if math.Abs(dx) >= math.Abs(dy) {
		if dx >= 0 {
			return actuator.East
		}
		return actuator.West
	}
	if dy >= 0 {
		return actuator.North
	}
	return actuator.South
}

func roundMS(ms float64) int {
	return int(ms + 0.5)
}
