package calib

import (
	"math"

	"github.com/brandondube/goguide/actuator"
	"github.com/brandondube/goguide/mathx"
	"github.com/brandondube/goguide/transform"
)

// AOState is a step of the AO calibration state machine (spec.md 4.7):
// step-count driven, bounded by the AO's limited travel, averaging several
// frames at each corner to reduce centroid noise.
type AOState int

const (
	AOUninitialized AOState = iota
	AODriveToEdgePositive
	AOAverageEdgePositive
	AODriveToEdgeNegative
	AOAverageEdgeNegative
	AONextAxis
	AORecenter
	AOComplete
	AOFailed
)

func (s AOState) String() string {
	switch s {
	case AOUninitialized:
		return "uninitialized"
	case AODriveToEdgePositive:
		return "drive-to-edge-positive"
	case AOAverageEdgePositive:
		return "average-edge-positive"
	case AODriveToEdgeNegative:
		return "drive-to-edge-negative"
	case AOAverageEdgeNegative:
		return "average-edge-negative"
	case AONextAxis:
		return "next-axis"
	case AORecenter:
		return "recenter"
	case AOComplete:
		return "complete"
	case AOFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// defaultSampleWindow is the number of frames averaged at each corner
// before computing the corner's centroid, per spec.md 4.7's configurable
// sample window (default 3).
const defaultSampleWindow = 3

// AOParams configures one AO calibration run.
type AOParams struct {
	StepsPerEdge int // AO steps driven toward each edge before averaging
	SampleWindow int // frames averaged per corner; 0 means defaultSampleWindow
	LimitGuard   int // steps of margin kept off the AO's reported travel limit
}

// AOEngine runs one AO calibration: X axis corner-to-corner, then Y axis
// corner-to-corner, then a recenter to the AO's home position. Not safe
// for concurrent use.
type AOEngine struct {
	params AOParams
	state  AOState

	axis int // 0 = X, 1 = Y
	step int

	samples []transform.PixelPoint

	originX, originY         float64
	edgePosX, edgePosY       float64 // averaged centroid at the positive-direction corner
	edgeNegX, edgeNegY       float64 // averaged centroid at the negative-direction corner
	stepsToPositive          int
	stepsToNegative          int

	xAngle, xRate float64
	yAngle, yRate float64

	recenterSteps int
	Failure       FailureReason
}

// NewAOEngine returns an AOEngine ready to Step from AOUninitialized.
func NewAOEngine(p AOParams) *AOEngine {
	if p.SampleWindow <= 0 {
		p.SampleWindow = defaultSampleWindow
	}
	return &AOEngine{params: p}
}

func (e *AOEngine) State() AOState { return e.state }

// AOCommand is a single AO step (positive or negative along the current
// axis) to issue before the next frame.
type AOCommand struct {
	Dir  actuator.Direction
	Step int
}

// Step advances the AO calibration by one observed centroid.
func (e *AOEngine) Step(pos transform.PixelPoint, limitReached bool) (cmd *AOCommand, done bool) {
	if !pos.Valid {
		e.state = AOFailed
		e.Failure = StarLost
		return nil, true
	}

	switch e.state {
	case AOUninitialized:
		e.originX, e.originY = pos.X, pos.Y
		e.axis = 0
		e.state = AODriveToEdgePositive
		e.step = 0
		return &AOCommand{Dir: actuator.East, Step: 1}, false

	case AODriveToEdgePositive:
		e.step++
		if limitReached || e.step >= e.params.StepsPerEdge-e.params.LimitGuard {
			e.stepsToPositive = e.step
			e.samples = nil
			e.state = AOAverageEdgePositive
			return nil, false
		}
		return &AOCommand{Dir: e.positiveDir(), Step: 1}, false

	case AOAverageEdgePositive:
		e.samples = append(e.samples, pos)
		if len(e.samples) >= e.params.SampleWindow {
			e.edgePosX, e.edgePosY = averageCentroid(e.samples)
			e.samples = nil
			e.step = 0
			e.state = AODriveToEdgeNegative
			dir := e.negativeDir()
			totalBack := e.stepsToPositive * 2
			return &AOCommand{Dir: dir, Step: totalBack}, false
		}
		return nil, false

	case AODriveToEdgeNegative:
		e.step++
		if limitReached || e.step >= e.params.StepsPerEdge-e.params.LimitGuard {
			e.stepsToNegative = e.step
			e.samples = nil
			e.state = AOAverageEdgeNegative
			return nil, false
		}
		return &AOCommand{Dir: e.negativeDir(), Step: 1}, false

	case AOAverageEdgeNegative:
		e.samples = append(e.samples, pos)
		if len(e.samples) >= e.params.SampleWindow {
			e.edgeNegX, e.edgeNegY = averageCentroid(e.samples)
			e.computeAxis()
			e.samples = nil
			e.step = 0
			if e.axis == 0 {
				e.axis = 1
				e.state = AODriveToEdgePositive
				return &AOCommand{Dir: actuator.North, Step: 1}, false
			}
			e.state = AORecenter
			e.recenterSteps = e.stepsToPositive
			return &AOCommand{Dir: actuator.South, Step: e.recenterSteps}, false
		}
		return nil, false

	case AORecenter:
		e.state = AOComplete
		return nil, true

	default:
		return nil, true
	}
}

func (e *AOEngine) positiveDir() actuator.Direction {
	if e.axis == 0 {
		return actuator.East
	}
	return actuator.North
}

func (e *AOEngine) negativeDir() actuator.Direction {
	if e.axis == 0 {
		return actuator.West
	}
	return actuator.South
}

func (e *AOEngine) computeAxis() {
	dx := e.edgePosX - e.edgeNegX
	dy := e.edgePosY - e.edgeNegY
	angle := math.Atan2(dy, dx)
	dist := math.Hypot(dx, dy)
	totalSteps := float64(e.stepsToPositive + e.stepsToNegative)
	var rate float64
	if totalSteps > 0 {
		rate = dist / totalSteps
	}
	if e.axis == 0 {
		e.xAngle, e.xRate = angle, rate
	} else {
		e.yAngle, e.yRate = angle, rate
	}
}

func averageCentroid(samples []transform.PixelPoint) (x, y float64) {
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = s.X
		ys[i] = s.Y
	}
	return mathx.Median(xs), mathx.Median(ys)
}

// XAngle, XRate, YAngle, YRate expose the measured AO geometry once both
// axes have completed their corner-to-corner pass.
func (e *AOEngine) XAngle() float64 { return e.xAngle }
func (e *AOEngine) XRate() float64  { return e.xRate }
func (e *AOEngine) YAngle() float64 { return e.yAngle }
func (e *AOEngine) YRate() float64  { return e.yRate }
