package guider_test

import (
	"context"
	"testing"
	"time"

	"github.com/brandondube/goguide/actuator"
	"github.com/brandondube/goguide/aobump"
	"github.com/brandondube/goguide/backlash"
	"github.com/brandondube/goguide/calib"
	"github.com/brandondube/goguide/events"
	"github.com/brandondube/goguide/guidealgo"
	"github.com/brandondube/goguide/guider"
	"github.com/brandondube/goguide/transform"
)

func TestGuiderFullLifecycleMountOnly(t *testing.T) {
	mount := actuator.NewMockMount()
	mount.RateXPerMS, mount.RateYPerMS = 0.01, 0.01
	sink := events.NewMemorySink()

	cfg := guider.Config{
		Mount:    mount,
		Sink:     sink,
		XAlgo:    &guidealgo.Identity{},
		YAlgo:    &guidealgo.Identity{},
		Backlash: backlash.NewCompensator("mock", 0, false, 0, false, sink),
	}
	cfg.MountCalParams.PulseWidthMS = 1000
	cfg.MountCalParams.RequiredDistancePx = 5
	cfg.MountCalParams.MaxIterationsPerAxis = 200
	cfg.MountCalParams.BackoffTolerancePx = 1
	cfg.MountCalParams.BackoffMaxSteps = 200

	g := guider.New(cfg)
	ctx := context.Background()

	g.BeginSelecting()
	if g.State() != guider.Selecting {
		t.Fatalf("state = %v, want selecting", g.State())
	}

	star := transform.PixelPoint{X: 500, Y: 500, Valid: true}
	g.SelectStar(star)
	if g.State() != guider.Selected {
		t.Fatalf("state = %v, want selected", g.State())
	}

	g.BeginCalibration()
	if g.State() != guider.CalibratingPrimary {
		t.Fatalf("state = %v, want calibrating-primary", g.State())
	}

	// drive the calibration loop: each call reflects the mount's simulated
	// position back as the observed star position, mirroring a camera.
	for i := 0; i < 500 && g.State() == guider.CalibratingPrimary; i++ {
		pos := transform.PixelPoint{X: star.X + mount.PosX, Y: star.Y + mount.PosY, Valid: true}
		frame := guider.Frame{
			Star:           pos,
			Declination:    0,
			HasDeclination: true,
			Now:            time.Now(),
		}
		if _, err := g.StepCalibration(ctx, frame); err != nil {
			t.Fatalf("StepCalibration error: %v", err)
		}
	}
	if g.State() != guider.Calibrated {
		t.Fatalf("state after calibration = %v, want calibrated", g.State())
	}

	finalPos := transform.PixelPoint{X: star.X + mount.PosX, Y: star.Y + mount.PosY, Valid: true}
	g.BeginGuiding(guider.Frame{Star: finalPos, Declination: 0, HasDeclination: true, Now: time.Now()})
	if g.State() != guider.Guiding {
		t.Fatalf("state = %v, want guiding", g.State())
	}

	// an off-lock star position should produce at least one pulse.
	offset := transform.PixelPoint{X: finalPos.X + 3, Y: finalPos.Y, Valid: true}
	movesBefore := len(mount.MoveLog)
	if err := g.GuideFrame(ctx, guider.Frame{Star: offset, Now: time.Now()}); err != nil {
		t.Fatalf("GuideFrame error: %v", err)
	}
	if len(mount.MoveLog) <= movesBefore {
		t.Errorf("GuideFrame issued no pulses for a 3px offset")
	}

	g.RequestStop(ctx)
	if g.State() != guider.Stop {
		t.Fatalf("state = %v, want stop", g.State())
	}
	if mount.CeasesCalled() != 1 {
		t.Errorf("GuidingCeases called %d times, want 1", mount.CeasesCalled())
	}
}

func TestGuiderGuideFrameOutsideGuidingReturnsErrNotGuiding(t *testing.T) {
	mount := actuator.NewMockMount()
	sink := events.NewMemorySink()
	cfg := guider.Config{
		Mount: mount, Sink: sink,
		XAlgo: &guidealgo.Identity{}, YAlgo: &guidealgo.Identity{},
		Backlash: backlash.NewCompensator("mock", 0, false, 0, false, sink),
	}
	g := guider.New(cfg)
	// in the selecting state GuideFrame refuses the frame with
	// ErrNotGuiding instead of issuing any pulse.
	g.BeginSelecting()
	err := g.GuideFrame(context.Background(), guider.Frame{})
	if err != guider.ErrNotGuiding {
		t.Errorf("GuideFrame outside guiding = %v, want ErrNotGuiding", err)
	}
}

// S7/section 4.8 step 1: with an AO present, the normal guide correction
// goes to the AO and the mount is driven only by bump recentering.
func TestGuiderWithAODispatchesPrimaryToAOAndBumpsToMount(t *testing.T) {
	mount := actuator.NewMockMount()
	mount.RateXPerMS, mount.RateYPerMS = 0.01, 0.01
	ao := actuator.NewMockAO(1000)
	sink := events.NewMemorySink()

	cfg := guider.Config{
		Mount:    mount,
		AO:       ao,
		Sink:     sink,
		XAlgo:    &guidealgo.Identity{},
		YAlgo:    &guidealgo.Identity{},
		Backlash: backlash.NewCompensator("mock", 0, false, 0, false, sink),
	}
	cfg.MountCalParams.PulseWidthMS = 1000
	cfg.MountCalParams.RequiredDistancePx = 5
	cfg.MountCalParams.MaxIterationsPerAxis = 200
	cfg.MountCalParams.BackoffTolerancePx = 1
	cfg.MountCalParams.BackoffMaxSteps = 200
	cfg.AOCalParams = calib.AOParams{StepsPerEdge: 5, SampleWindow: 1, LimitGuard: 1}
	cfg.BumpParams = aobump.DefaultParams(50)

	g := guider.New(cfg)
	ctx := context.Background()

	g.BeginSelecting()
	star := transform.PixelPoint{X: 500, Y: 500, Valid: true}
	g.SelectStar(star)
	g.BeginCalibration()

	for i := 0; i < 500 && g.State() == guider.CalibratingPrimary; i++ {
		pos := transform.PixelPoint{X: star.X + mount.PosX, Y: star.Y + mount.PosY, Valid: true}
		frame := guider.Frame{Star: pos, Declination: 0, HasDeclination: true, Now: time.Now()}
		if _, err := g.StepCalibration(ctx, frame); err != nil {
			t.Fatalf("mount StepCalibration error: %v", err)
		}
	}
	if g.State() != guider.CalibratingSecondary {
		t.Fatalf("state after mount calibration = %v, want calibrating-secondary", g.State())
	}

	// drive the AO calibration loop the same way: reflect the AO's
	// simulated step position back as the observed star position.
	for i := 0; i < 100 && g.State() == guider.CalibratingSecondary; i++ {
		x, y := ao.CurrentPosition()
		pos := transform.PixelPoint{X: star.X + float64(x), Y: star.Y + float64(y), Valid: true}
		frame := guider.Frame{Star: pos, Now: time.Now()}
		if _, err := g.StepCalibration(ctx, frame); err != nil {
			t.Fatalf("AO StepCalibration error: %v", err)
		}
	}
	if g.State() != guider.Calibrated {
		t.Fatalf("state after AO calibration = %v, want calibrated", g.State())
	}

	lockPos := transform.PixelPoint{X: star.X + mount.PosX, Y: star.Y + mount.PosY, Valid: true}
	g.BeginGuiding(guider.Frame{Star: lockPos, Declination: 0, HasDeclination: true, Now: time.Now()})
	if g.State() != guider.Guiding {
		t.Fatalf("state = %v, want guiding", g.State())
	}

	// an off-lock star should drive the AO, not the mount: the mount is
	// reserved for bump recentering while an AO is present.
	aoStepsBefore := len(ao.StepLog)
	mountMovesBefore := len(mount.MoveLog)
	offset := transform.PixelPoint{X: lockPos.X + 5, Y: lockPos.Y, Valid: true}
	if err := g.GuideFrame(ctx, guider.Frame{Star: offset, Now: time.Now()}); err != nil {
		t.Fatalf("GuideFrame error: %v", err)
	}
	if len(ao.StepLog) <= aoStepsBefore {
		t.Errorf("GuideFrame with AO present issued no AO steps for a 5px offset")
	}
	if len(mount.MoveLog) != mountMovesBefore {
		t.Errorf("GuideFrame with AO present issued %d mount moves for the primary correction, want 0", len(mount.MoveLog)-mountMovesBefore)
	}

	// push the AO close to its travel limit and guide on-lock frames: the
	// bump controller's smoothed position needs several frames to cross
	// its trigger threshold, and the resulting motion must be a mount bump,
	// not another AO step.
	if _, err := ao.Step(ctx, actuator.East, 860); err != nil {
		t.Fatalf("ao.Step error: %v", err)
	}
	aoStepsBefore = len(ao.StepLog)
	mountMovesBefore = len(mount.MoveLog)
	for i := 0; i < 20 && len(mount.MoveLog) == mountMovesBefore; i++ {
		if err := g.GuideFrame(ctx, guider.Frame{Star: lockPos, Now: time.Now()}); err != nil {
			t.Fatalf("GuideFrame error: %v", err)
		}
	}
	if len(mount.MoveLog) <= mountMovesBefore {
		t.Errorf("GuideFrame with the AO near its travel limit issued no mount bump")
	}
	if len(ao.StepLog) != aoStepsBefore {
		t.Errorf("GuideFrame issued an AO step for an on-lock frame during a bump, want 0")
	}
}
