// Package backlash implements the per-axis backlash compensator of
// spec.md section 4.4: it injects an extra pulse across a declination
// direction reversal, and self-tunes the pulse width from observed
// post-pulse residuals. Grounded on
// _examples/original_source/backlash_comp.cpp (BacklashComp).
package backlash

import (
	"sync"

	"github.com/brandondube/goguide/actuator"
	"github.com/brandondube/goguide/config"
	"github.com/brandondube/goguide/events"
	"github.com/brandondube/goguide/mathx"
)

// MaxPulseWidthMS is the hard ceiling on pulseWidth and ceiling, mirroring
// BacklashComp::GetBacklashPulseLimit in the original source.
const MaxPulseWidthMS = 8000

// defaultCeilingMultiplier is applied to the requested pulse width when no
// explicit ceiling is supplied (ceiling == 0 means "compute a default").
const defaultCeilingMultiplier = 1.5

const fifoCapacity = 10

// Compensator holds one axis's (conventionally declination's) backlash
// compensation state. It is safe for concurrent use, though in normal
// operation only the guider worker goroutine touches it.
type Compensator struct {
	mu sync.Mutex

	pulseWidth      int
	ceiling         int
	fixedSize       bool
	active          bool
	lastDirection   actuator.Direction
	justCompensated bool
	residuals       []float64

	mountClass string
	sink       events.Sink
}

// NewCompensator builds a Compensator with explicit settings, computing a
// default ceiling when ceiling is 0.
func NewCompensator(mountClass string, pulseWidthMS int, fixedSize bool, ceilingMS int, active bool, sink events.Sink) *Compensator {
	c := &Compensator{mountClass: mountClass, sink: sink}
	c.setCompValues(pulseWidthMS, fixedSize, ceilingMS)
	c.active = active && c.pulseWidth > 0
	return c
}

// setCompValues clamps pulseWidth to [0, MaxPulseWidthMS] and computes the
// ceiling: when the caller's requested ceiling is below the pulse width, a
// default of 1.5x the pulse width is used instead (also clamped).
// Mirrors BacklashComp::SetCompValues.
func (c *Compensator) setCompValues(requested int, fixedSize bool, ceiling int) {
	c.pulseWidth = mathx.ClampInt(requested, 0, MaxPulseWidthMS)
	if ceiling < c.pulseWidth {
		c.ceiling = mathx.ClampInt(int(defaultCeilingMultiplier*float64(c.pulseWidth)), 0, MaxPulseWidthMS)
	} else {
		c.ceiling = mathx.ClampInt(ceiling, 0, MaxPulseWidthMS)
	}
	c.fixedSize = fixedSize
}

// Load reconstructs a Compensator from persisted profile settings, per the
// persistence schema in spec.md section 6. It checks the canonical
// /DecBacklashFixed key and falls back to the legacy /DecBackLashFixed
// spelling noted in spec.md's Open Questions.
func Load(p *config.Profile, mountClass string, sink events.Sink) *Compensator {
	pulse := p.GetInt(mountClass+"/DecBacklashPulse", 0)
	ceiling := p.GetInt(mountClass+"/DecBacklashCeiling", 0)
	fixed := p.GetBoolLegacy(mountClass+"/DecBacklashFixed", mountClass+"/DecBackLashFixed", false)
	active := false
	if pulse > 0 {
		active = p.GetBool(mountClass+"/BacklashCompEnabled", false)
	}
	c := NewCompensator(mountClass, pulse, fixed, ceiling, active, sink)
	return c
}

// Save persists the compensator's current settings under mountClass,
// writing only the canonical key spelling going forward.
func (c *Compensator) Save(p *config.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.SetInt(c.mountClass+"/DecBacklashPulse", c.pulseWidth)
	p.SetInt(c.mountClass+"/DecBacklashCeiling", c.ceiling)
	p.SetBool(c.mountClass+"/DecBacklashFixed", c.fixedSize)
	p.SetBool(c.mountClass+"/BacklashCompEnabled", c.active)
}

// Settings returns the current pulse width (ms), whether sizing is fixed
// (self-tuning disabled), and the self-tuning ceiling (ms).
func (c *Compensator) Settings() (pulseWidthMS int, fixedSize bool, ceilingMS int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pulseWidth, c.fixedSize, c.ceiling
}

// SetPulse sets the compensator's pulse width, fixed-size flag, and
// ceiling, notifying the event sink if anything changed.
func (c *Compensator) SetPulse(ms int, fixedSize bool, ceiling int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.pulseWidth != ms || c.fixedSize != fixedSize || c.ceiling != ceiling
	c.setCompValues(ms, fixedSize, ceiling)
	if changed && c.sink != nil {
		c.sink.ParamChanged("Backlash comp amount", c.pulseWidth)
	}
}

// SetActive enables or disables compensation, notifying the event sink on
// change.
func (c *Compensator) SetActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != active && c.sink != nil {
		c.sink.ParamChanged("Backlash comp enabled", active)
	}
	c.active = active
}

// Active reports whether compensation is currently enabled.
func (c *Compensator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// ResetBaseline clears the reversal-direction memory and residual history
// without touching the tuned pulse width or ceiling. Called when guiding
// stops (spec.md section 4.4 invariant) and by cmd/guideworker after each
// measure-backlash run ends.
func (c *Compensator) ResetBaseline() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastDirection = actuator.None
	c.justCompensated = false
	c.residuals = nil
}

// JustCompensated reports whether the most recently dispatched pulse was
// augmented by Apply, gating whether the guider should call ObserveResidual
// for the next frame's residual.
func (c *Compensator) JustCompensated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.justCompensated
}

// Apply augments pulse with the compensator's pulse width when dir is a
// reversal from the previously commanded direction, per spec.md section
// 4.4. It never compensates when inactive, when pulseWidth is zero, when
// axisError is zero, or when there was no prior direction (lastDirection
// == None) — the first pulse after a reset is always untouched (invariant
// 5 of section 8).
func (c *Compensator) Apply(dir actuator.Direction, axisError float64, pulse float64) (newPulse float64, compensated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active || c.pulseWidth == 0 || axisError == 0 || dir == actuator.None {
		c.justCompensated = false
		if dir != actuator.None {
			c.lastDirection = dir
		}
		return pulse, false
	}

	if c.lastDirection != actuator.None && dir != c.lastDirection {
		pulse += float64(c.pulseWidth)
		compensated = true
	}
	c.lastDirection = dir
	c.justCompensated = compensated
	return pulse, compensated
}

// ObserveResidual performs the self-tuning update of spec.md section 4.4.
// residual is the SIGNED post-pulse residual error: positive if the star
// still lags in the direction of the commanded pulse (under-shoot),
// negative if it overshot. minMove is the smallest move worth reacting to;
// axisRate is the axis's pixels-per-ms rate used to convert a residual
// into a pulse-width correction.
func (c *Compensator) ObserveResidual(residual, minMove, axisRate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fixedSize || !c.active {
		return
	}

	c.pushResidual(residual)

	if abs(residual) < minMove {
		return
	}

	mean := meanOf(c.residuals)
	if abs(mean) < minMove {
		return
	}

	// require the latest sample to agree in sign with the mean before
	// acting, for confidence the drift is real and not a single outlier.
	if sign(residual) != sign(mean) {
		return
	}

	delta := int(mathx.Round(abs(mean)/axisRate, 1))
	if delta == 0 {
		return
	}

	nominal := c.pulseWidth
	if mean > 0 {
		nominal += delta
	} else {
		nominal -= delta
	}

	clamped := c.clampChange(nominal)
	if clamped == c.pulseWidth {
		return
	}

	c.pulseWidth = clamped
	if len(c.residuals) > 2 {
		c.residuals = c.residuals[1:]
	}
	if c.sink != nil {
		c.sink.ParamChanged("Backlash comp amount", c.pulseWidth)
	}
}

// clampChange bounds a proposed new pulse width: increases to at most 10%
// above the current value, decreases to at most 20% below it, and both to
// [0, ceiling].
func (c *Compensator) clampChange(nominal int) int {
	maxIncrease := c.pulseWidth + int(0.10*float64(c.pulseWidth))
	maxDecrease := c.pulseWidth - int(0.20*float64(c.pulseWidth))
	if nominal > c.pulseWidth {
		nominal = min(nominal, maxIncrease)
	} else if nominal < c.pulseWidth {
		nominal = max(nominal, maxDecrease)
	}
	return mathx.ClampInt(nominal, 0, c.ceiling)
}

func (c *Compensator) pushResidual(r float64) {
	c.residuals = append(c.residuals, r)
	if len(c.residuals) > fifoCapacity {
		c.residuals = c.residuals[len(c.residuals)-fifoCapacity:]
	}
}

// Residuals returns a copy of the current residual FIFO, for tests.
func (c *Compensator) Residuals() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float64, len(c.residuals))
	copy(out, c.residuals)
	return out
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func sign(x float64) int {
	if x > 0 {
		return 1
	}
	if x < 0 {
		return -1
	}
	return 0
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
