// Package aobump implements the hierarchical actuator binding of spec.md
// section 4.8: when an AO is present it is the primary actuator, and the
// mount is bumped underneath it to keep the AO centered in its limited
// travel. Grounded on
// _examples/original_source/branches/integrated/backlash_comp/stepguider.cpp's
// "bump" logic.
package aobump

import (
	"math"
	"time"

	"github.com/brandondube/goguide/events"
)

// smoothingCoefficient is the exponential-moving-average weight applied
// to each new AO position sample (spec.md 4.8 step 2).
const smoothingCoefficient = 0.33

// Params configures the bump controller. Thresholds and tolerance are
// expressed as fractions of the AO's full travel (0..1); MaxStepsPerCycle
// is in AO step units.
type Params struct {
	Threshold1Frac      float64 // default 0.8
	CenterToleranceFrac float64 // default 0.1
	MaxStepsPerCycle    float64
	WarnAfter           time.Duration // default 240s
}

// DefaultParams returns the spec-documented defaults.
func DefaultParams(maxStepsPerCycle float64) Params {
	return Params{
		Threshold1Frac:      0.8,
		CenterToleranceFrac: 0.1,
		MaxStepsPerCycle:    maxStepsPerCycle,
		WarnAfter:           240 * time.Second,
	}
}

// threshold2Frac is midway between Threshold1Frac and the edge (1.0).
func (p Params) threshold2Frac() float64 {
	return p.Threshold1Frac + (1.0-p.Threshold1Frac)/2
}

// Controller tracks the smoothed AO offset and drives mount bumps to keep
// it centered. Not safe for concurrent use; the guider worker owns it.
type Controller struct {
	params Params
	sink   events.Sink

	smoothedX, smoothedY float64
	initialized          bool

	bumpInProgress bool
	stepWeight     float64
	bumpStart      time.Time
	warned         bool
}

// NewController returns a Controller with stepWeight at its rest value of 1.0.
func NewController(p Params, sink events.Sink) *Controller {
	return &Controller{params: p, sink: sink, stepWeight: 1.0}
}

// Decision is the mount bump command to issue this frame, if any.
type Decision struct {
	DoBump  bool
	DX, DY  float64 // target mount motion, negated smoothed AO offset, un-transformed
	EndBump bool    // this frame's bump observation ends the bump (inside center tolerance)
}

// Observe feeds one frame's AO position (in AO travel units, centered on
// zero, full travel spanning [-1,1] normalized by the caller) and the
// mount's busy state, returning the bump decision for this frame.
func (c *Controller) Observe(aoX, aoY float64, mountBusy bool, now time.Time) Decision {
	if !c.initialized {
		c.smoothedX, c.smoothedY = aoX, aoY
		c.initialized = true
	} else {
		c.smoothedX = smoothingCoefficient*aoX + (1-smoothingCoefficient)*c.smoothedX
		c.smoothedY = smoothingCoefficient*aoY + (1-smoothingCoefficient)*c.smoothedY
	}

	mag := math.Hypot(c.smoothedX, c.smoothedY)
	outside := mag > c.params.Threshold1Frac

	if !outside {
		if c.bumpInProgress && mag <= c.params.CenterToleranceFrac {
			c.endBump()
			return Decision{EndBump: true}
		}
		if c.stepWeight > 1.0 {
			c.stepWeight /= 2
			if c.stepWeight < 1.0 {
				c.stepWeight = 1.0
			}
		}
		return Decision{}
	}

	if !c.bumpInProgress {
		if mountBusy {
			// invariant: skip this frame's bump decision rather than queue.
			return Decision{}
		}
		c.bumpInProgress = true
		c.bumpStart = now
		c.warned = false
		c.stepWeight = 1.0
		c.emit(events.GuidingStart, "ao-bump-start")
	} else {
		if mag > c.params.threshold2Frac() {
			c.stepWeight += 1.0
		} else {
			c.stepWeight += 1.0 / 6.0
		}
		if !c.warned && now.Sub(c.bumpStart) > c.params.WarnAfter {
			c.warned = true
			c.emit(events.GuidingStart, "ao-bump-stalled")
		}
	}

	if mountBusy {
		return Decision{}
	}

	scale := c.params.MaxStepsPerCycle * c.stepWeight
	dx, dy := -c.smoothedX, -c.smoothedY
	dMag := math.Hypot(dx, dy)
	if dMag > scale && dMag > 0 {
		dx *= scale / dMag
		dy *= scale / dMag
	}
	return Decision{DoBump: true, DX: dx, DY: dy}
}

func (c *Controller) endBump() {
	c.bumpInProgress = false
	c.stepWeight = 1.0
	c.warned = false
}

// InBump reports whether a mount bump is currently in progress.
func (c *Controller) InBump() bool { return c.bumpInProgress }

func (c *Controller) emit(kind events.Kind, detail string) {
	if c.sink == nil {
		return
	}
	c.sink.Emit(events.Event{Kind: kind, Detail: detail})
}
