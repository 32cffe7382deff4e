package backlash_test

import (
	"testing"

	"github.com/brandondube/goguide/actuator"
	"github.com/brandondube/goguide/backlash"
	"github.com/brandondube/goguide/events"
)

// S1: compensation on reversal.
func TestApplyCompensatesOnReversal(t *testing.T) {
	c := backlash.NewCompensator("EQMount", 200, false, 0, true, nil)
	// prime lastDirection to '+' (North) with a no-op same-direction call.
	c.Apply(actuator.North, 1.0, 0)

	pulse, compensated := c.Apply(actuator.South, -1.2, 300)
	if pulse != 500 {
		t.Errorf("pulse = %v, want 500", pulse)
	}
	if !compensated {
		t.Errorf("compensated = false, want true")
	}
	if !c.JustCompensated() {
		t.Errorf("JustCompensated() = false, want true")
	}
}

// S2: no compensation without a direction change.
func TestApplyNoCompensationSameDirection(t *testing.T) {
	c := backlash.NewCompensator("EQMount", 200, false, 0, true, nil)
	c.Apply(actuator.North, 1.0, 0)

	pulse, compensated := c.Apply(actuator.North, 1.0, 300)
	if pulse != 300 {
		t.Errorf("pulse = %v, want 300", pulse)
	}
	if compensated {
		t.Errorf("compensated = true, want false")
	}
}

// Invariant 5: first pulse after reset is never compensated.
func TestApplyFirstPulseAfterResetUntouched(t *testing.T) {
	c := backlash.NewCompensator("EQMount", 200, false, 0, true, nil)
	pulse, compensated := c.Apply(actuator.South, -1.0, 300)
	if pulse != 300 || compensated {
		t.Errorf("first pulse after reset = (%v,%v), want (300,false)", pulse, compensated)
	}
}

// S3: self-tune bounded increase, never exceeds ceiling.
func TestObserveResidualBoundedIncrease(t *testing.T) {
	c := backlash.NewCompensator("EQMount", 200, false, 400, true, nil)
	prevWidth, _, ceiling := c.Settings()
	for i := 0; i < 10; i++ {
		c.ObserveResidual(0.8, 0.1, 0.04)
		width, _, _ := c.Settings()
		if width > ceiling {
			t.Fatalf("pulseWidth %v exceeded ceiling %v at iter %d", width, ceiling, i)
		}
		if width < prevWidth {
			t.Fatalf("pulseWidth decreased from %v to %v on positive residual at iter %d", prevWidth, width, i)
		}
		if width > prevWidth && float64(width-prevWidth) > 0.10*float64(prevWidth)+1e-9 {
			t.Fatalf("single increase of %d exceeded 10%% of %d at iter %d", width-prevWidth, prevWidth, i)
		}
		prevWidth = width
	}
	if prevWidth <= 200 {
		t.Errorf("pulseWidth did not converge upward, final = %v", prevWidth)
	}
}

func TestObserveResidualIgnoresMicroCorrections(t *testing.T) {
	c := backlash.NewCompensator("EQMount", 200, false, 400, true, nil)
	c.ObserveResidual(0.01, 0.1, 0.04)
	width, _, _ := c.Settings()
	if width != 200 {
		t.Errorf("pulseWidth = %v, want unchanged 200 for sub-threshold residual", width)
	}
}

func TestResidualFIFOCapped(t *testing.T) {
	c := backlash.NewCompensator("EQMount", 200, true, 400, true, nil)
	for i := 0; i < 25; i++ {
		c.ObserveResidual(0.8, 0.1, 0.04)
	}
	if len(c.Residuals()) > 10 {
		t.Errorf("residual FIFO length = %d, want <= 10", len(c.Residuals()))
	}
}

func TestFixedSizeDisablesSelfTuning(t *testing.T) {
	c := backlash.NewCompensator("EQMount", 200, true, 400, true, nil)
	for i := 0; i < 10; i++ {
		c.ObserveResidual(5.0, 0.1, 0.04)
	}
	width, fixed, _ := c.Settings()
	if width != 200 || !fixed {
		t.Errorf("fixed-size compensator changed: width=%v fixed=%v", width, fixed)
	}
}

func TestSetPulseNotifiesSink(t *testing.T) {
	sink := events.NewMemorySink()
	c := backlash.NewCompensator("EQMount", 200, false, 400, true, sink)
	c.SetPulse(250, false, 400)
	if _, ok := sink.Params["Backlash comp amount"]; !ok {
		t.Errorf("expected ParamChanged notification for pulse change")
	}
}

func TestDefaultCeilingComputedFromPulseWidth(t *testing.T) {
	c := backlash.NewCompensator("EQMount", 200, false, 0, true, nil)
	_, _, ceiling := c.Settings()
	if ceiling != 300 {
		t.Errorf("default ceiling = %v, want 300 (1.5x 200)", ceiling)
	}
}
