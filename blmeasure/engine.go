// Package blmeasure implements the backlash measurement engine of spec.md
// section 4.5: a one-shot cooperative state machine, stepped by frame
// arrivals, that drives a deliberate declination-axis reversal sequence and
// analyzes the resulting position trace to characterize mount backlash.
// Grounded on _examples/original_source/branches/integrated/backlash_comp/stepguider.cpp
// and backlash_comp.cpp's companion measurement logic.
package blmeasure

import (
	"log"
	"math"
	"time"

	"github.com/brandondube/goguide/actuator"
)

// State is a step of the measurement state machine.
type State int

const (
	Idle State = iota
	Initialize
	Clearing
	SteppingPositive
	SteppingNegative
	TestingCorrection
	Restoring
	Complete
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initialize:
		return "initialize"
	case Clearing:
		return "clearing"
	case SteppingPositive:
		return "stepping-positive"
	case SteppingNegative:
		return "stepping-negative"
	case TestingCorrection:
		return "testing-correction"
	case Restoring:
		return "restoring"
	case Complete:
		return "complete"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MaxClearingSteps bounds how many clearing pulses are attempted before
// giving up with ResultClearingFailed.
const MaxClearingSteps = 8

// MinPositivePulseMS is the floor on the stepping-phase pulse width.
const MinPositivePulseMS = 500.0

// MaxPositivePulsesMS is the minimum total effective motion time (ms) the
// stepping-positive phase must cover (spec.md: "8 seconds of effective
// motion").
const MaxPositivePulsesMS = 8000.0

// requiredClearingConsecutiveMoves is how many consecutive full-magnitude
// moves in the commanded direction are needed to consider backlash cleared.
const requiredClearingConsecutiveMoves = 3

// Params configures one measurement run.
type Params struct {
	ExpectedDistance  float64 // px, expected per-pulse clearing displacement
	ExemptionDistance float64 // px, cumulative clearing motion that exempts failure to "clear"
	AxisRate          float64 // px/ms
	MaxMovePixels     float64 // px, frame-edge guard radius from the starting point
	DriftPerSec       float64 // px/sec, pre-measured sidereal/drift rate
	CalibrationStepMS float64 // ms, the calibration engine's per-step pulse width, used as a floor for the stepping pulse
}

// Command is the single move the caller should issue before the next
// frame's Step call.
type Command struct {
	Dir        actuator.Direction
	DurationMS int
}

// Engine runs one measurement. It is not safe for concurrent use; the
// guider worker owns it exclusively, per spec.md section 5.
type Engine struct {
	params Params
	state  State

	pulseWidth float64

	clearingAttempts  int
	consecutiveClears int
	cumulativeClearing float64
	lastPos           float64

	measurementOrigin float64 // position before clearing began
	phaseOrigin       float64 // reference for the current phase's edge guard

	plannedSteps int
	stepIndex    int

	positiveSteps []float64
	negativeSteps []float64

	msmtStart, msmtEnd time.Time

	testPulseIssued bool
	testTargetPos   float64

	restoreStepsRemaining int
	restoreDir            actuator.Direction

	Estimate BacklashEstimate
}

// NewEngine returns an Engine ready to Start.
func NewEngine(p Params) *Engine {
	return &Engine{params: p, state: Idle}
}

// State returns the current state.
func (e *Engine) State() State { return e.state }

// Start transitions from idle into initialize; the next Step call performs
// the initialize→clearing transition.
func (e *Engine) Start() {
	e.state = Initialize
}

// Step advances the state machine by one frame. pos is the current
// declination-axis position (px); now is the frame's timestamp. It
// returns at most one command to issue before the next frame, and done
// when the measurement has reached Complete or Aborted.
func (e *Engine) Step(pos float64, now time.Time) (cmd *Command, done bool) {
	switch e.state {
	case Initialize:
		e.pulseWidth = e.params.ExpectedDistance * 1.25 / e.params.AxisRate
		e.measurementOrigin = pos
		e.phaseOrigin = pos
		e.lastPos = pos
		e.state = Clearing
		return &Command{Dir: actuator.North, DurationMS: roundMS(e.pulseWidth)}, false

	case Clearing:
		delta := pos - e.lastPos
		e.lastPos = pos
		e.cumulativeClearing += math.Abs(delta)
		if delta > 0 && delta >= e.params.ExpectedDistance {
			e.consecutiveClears++
		} else {
			e.consecutiveClears = 0
		}
		e.clearingAttempts++

		exempt := e.cumulativeClearing >= e.params.ExemptionDistance
		nearEdge := math.Abs(pos-e.measurementOrigin) >= e.params.MaxMovePixels
		if e.consecutiveClears >= requiredClearingConsecutiveMoves || exempt || nearEdge {
			return e.beginSteppingPositive(pos, now), false
		}
		if e.clearingAttempts >= MaxClearingSteps {
			e.state = Aborted
			e.Estimate.Result = ResultClearingFailed
			return nil, true
		}
		return &Command{Dir: actuator.North, DurationMS: roundMS(e.pulseWidth)}, false

	case SteppingPositive:
		e.positiveSteps = append(e.positiveSteps, pos)
		e.stepIndex++
		nearEdge := math.Abs(pos-e.phaseOrigin) >= e.params.MaxMovePixels
		if e.stepIndex >= e.plannedSteps || nearEdge {
			if e.stepIndex < (e.plannedSteps+1)/2 {
				e.state = Aborted
				e.Estimate.Result = ResultTooFewPositive
				return nil, true
			}
			return e.beginSteppingNegative(pos), false
		}
		return &Command{Dir: actuator.North, DurationMS: roundMS(e.pulseWidth)}, false

	case SteppingNegative:
		e.negativeSteps = append(e.negativeSteps, pos)
		e.stepIndex++
		nearEdge := math.Abs(pos-e.phaseOrigin) >= e.params.MaxMovePixels
		if e.stepIndex >= e.plannedSteps || nearEdge {
			if e.stepIndex < (e.plannedSteps+1)/2 {
				e.state = Aborted
				e.Estimate.Result = ResultTooFewNegative
				return nil, true
			}
			e.msmtEnd = now
			e.state = TestingCorrection
			return e.beginTestingCorrection(pos), false
		}
		return &Command{Dir: actuator.South, DurationMS: roundMS(e.pulseWidth)}, false

	case TestingCorrection:
		if !e.testPulseIssued {
			e.testPulseIssued = true
			driftSecs := e.msmtEnd.Sub(e.msmtStart).Seconds()
			e.Estimate = ComputeBacklash(e.positiveSteps, e.negativeSteps, e.pulseWidth, e.params.DriftPerSec, driftSecs)
			if e.Estimate.Result == ResultValid && e.Estimate.MagnitudeMS > 0 {
				e.testTargetPos = pos
				return &Command{Dir: actuator.South, DurationMS: roundMS(e.Estimate.MagnitudeMS)}, false
			}
			e.state = Restoring
			return nil, false
		}
		// second frame: observe the achieved displacement and log it; the
		// observation is not folded back into the reported estimate.
		log.Printf("blmeasure: test pulse of %d ms moved %.2f px (estimate %.2f px, left unchanged)",
			roundMS(e.Estimate.MagnitudeMS), pos-e.testTargetPos, e.Estimate.BacklashPixels)
		e.state = Restoring
		return nil, false

	case Restoring:
		dist := pos - e.measurementOrigin
		if math.Abs(dist) <= e.params.MaxMovePixels {
			e.state = Complete
			if e.Estimate.Result == ResultNone {
				e.Estimate.Result = ResultValid
			}
			return nil, true
		}
		if e.restoreStepsRemaining == 0 {
			e.restoreStepsRemaining = int(math.Floor(math.Abs(dist) / e.params.AxisRate / e.pulseWidth))
			if dist > 0 {
				e.restoreDir = actuator.South
			} else {
				e.restoreDir = actuator.North
			}
			if e.restoreStepsRemaining == 0 {
				e.state = Complete
				if e.Estimate.Result == ResultNone {
					e.Estimate.Result = ResultValid
				}
				return nil, true
			}
		}
		e.restoreStepsRemaining--
		if e.restoreStepsRemaining == 0 {
			e.state = Complete
		}
		return &Command{Dir: e.restoreDir, DurationMS: roundMS(e.pulseWidth)}, e.state == Complete

	default:
		return nil, true
	}
}

func (e *Engine) beginSteppingPositive(pos float64, now time.Time) *Command {
	pulse := math.Max(MinPositivePulseMS, e.params.CalibrationStepMS)
	maxByTravel := 0.7 * e.params.MaxMovePixels / e.params.AxisRate
	if pulse > maxByTravel {
		pulse = maxByTravel
	}
	e.pulseWidth = pulse

	byTime := math.Ceil(MaxPositivePulsesMS / e.pulseWidth)
	byDistance := math.Ceil(1.5 * e.cumulativeClearing / e.pulseWidth)
	e.plannedSteps = int(math.Max(byTime, byDistance))

	e.stepIndex = 0
	e.phaseOrigin = pos
	e.positiveSteps = []float64{pos}
	e.msmtStart = now
	e.state = SteppingPositive
	return &Command{Dir: actuator.North, DurationMS: roundMS(e.pulseWidth)}
}

func (e *Engine) beginSteppingNegative(pos float64) *Command {
	e.stepIndex = 0
	e.phaseOrigin = pos
	e.negativeSteps = []float64{pos}
	e.state = SteppingNegative
	return &Command{Dir: actuator.South, DurationMS: roundMS(e.pulseWidth)}
}

func (e *Engine) beginTestingCorrection(pos float64) *Command {
	// the state transition itself issues no command; Step re-enters
	// TestingCorrection on the very next call to compute the estimate.
	return nil
}

func roundMS(ms float64) int {
	return int(ms + 0.5)
}
