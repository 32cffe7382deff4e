// Package guider implements the top-level guider state machine of
// spec.md section 4.9: uninitialized -> selecting -> selected ->
// calibrating-primary -> calibrating-secondary? -> calibrated -> guiding,
// with stop reachable from any state. Grounded on
// _examples/original_source/guider.cpp's guide-loop driver.
package guider

import (
	"context"
	"errors"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/brandondube/goguide/actuator"
	"github.com/brandondube/goguide/aobump"
	"github.com/brandondube/goguide/backlash"
	"github.com/brandondube/goguide/calib"
	"github.com/brandondube/goguide/events"
	"github.com/brandondube/goguide/guidealgo"
	"github.com/brandondube/goguide/transform"
)

// starLostAlertInterval bounds how often the star-lost event repeats while
// the star stays missing across consecutive frames; the condition itself
// is re-evaluated every frame regardless (spec.md section 4.9 step 2).
const starLostAlertInterval = 5 * time.Second

// State is a step of the top-level guider state machine.
type State int

const (
	Uninitialized State = iota
	Selecting
	Selected
	CalibratingPrimary
	CalibratingSecondary
	Calibrated
	Guiding
	Stop
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Selecting:
		return "selecting"
	case Selected:
		return "selected"
	case CalibratingPrimary:
		return "calibrating-primary"
	case CalibratingSecondary:
		return "calibrating-secondary"
	case Calibrated:
		return "calibrated"
	case Guiding:
		return "guiding"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// ErrNotGuiding is returned by operations that require the Guiding state.
var ErrNotGuiding = errors.New("guider: not in guiding state")

// Frame is one image's worth of input to the guider, plus the mount/AO
// telemetry the frame's transitions need but this package does not itself
// observe.
type Frame struct {
	Star transform.PixelPoint // Valid false means "star not found"

	Declination    float64
	HasDeclination bool
	PierSide       actuator.PierSideReport
	HasPierSide    bool
	Rotator        float64
	HasRotator     bool

	AOLimitReached bool

	Now time.Time
}

// Config bundles the collaborators a Guider is built from.
type Config struct {
	Mount             actuator.Mount
	AO                actuator.AO // nil when no AO is present
	Sink              events.Sink
	XAlgo, YAlgo      guidealgo.Algorithm
	Backlash          *backlash.Compensator
	StickyLock        bool
	DecFlipOnPierFlip bool

	MountCalParams calib.Params
	AOCalParams    calib.AOParams
	BumpParams     aobump.Params
}

// Guider owns the top-level state machine. It is not safe for concurrent
// use directly; the worker package serializes access onto one goroutine
// per spec.md section 5.
type Guider struct {
	cfg Config

	state State

	lockPosition transform.PixelPoint
	working      *transform.WorkingCalibration
	aoWorking    *transform.WorkingCalibration

	mountCalEngine *calib.MountEngine
	aoCalEngine    *calib.AOEngine
	bump           *aobump.Controller

	// pendingCompensationDir is the direction of the last backlash-
	// compensated declination pulse, or None when no residual is awaited.
	pendingCompensationDir actuator.Direction

	lastStarPos     transform.PixelPoint
	starLostLimiter *rate.Limiter
}

// New returns a Guider in the Uninitialized state.
func New(cfg Config) *Guider {
	if cfg.AO != nil && cfg.BumpParams.MaxStepsPerCycle <= 0 {
		cfg.BumpParams.MaxStepsPerCycle = 1
	}
	return &Guider{
		cfg:             cfg,
		state:           Uninitialized,
		starLostLimiter: rate.NewLimiter(rate.Every(starLostAlertInterval), 1),
	}
}

// State returns the current top-level state.
func (g *Guider) State() State { return g.state }

// BeginSelecting transitions uninitialized -> selecting.
func (g *Guider) BeginSelecting() {
	if g.state != Uninitialized {
		return
	}
	g.state = Selecting
}

// SelectStar records the chosen guide star and transitions selecting ->
// selected, emitting star-selected.
func (g *Guider) SelectStar(pos transform.PixelPoint) {
	if g.state != Selecting {
		return
	}
	g.lastStarPos = pos
	g.state = Selected
	g.emit(events.StarSelected, "")
}

// BeginCalibration transitions selected -> calibrating-primary and starts
// the mount calibration engine.
func (g *Guider) BeginCalibration() {
	if g.state != Selected {
		return
	}
	g.mountCalEngine = calib.NewMountEngine(g.cfg.MountCalParams)
	g.state = CalibratingPrimary
	g.emit(events.CalibrationStart, "mount")
}

// StepCalibration advances whichever calibration engine is active for one
// frame and issues the resulting actuator command, if any. issued reports
// whether a command was sent this frame; it is meaningless outside a
// calibrating state.
func (g *Guider) StepCalibration(ctx context.Context, frame Frame) (issued bool, err error) {
	switch g.state {
	case CalibratingPrimary:
		return g.stepMountCalibration(ctx, frame)
	case CalibratingSecondary:
		return g.stepAOCalibration(ctx, frame)
	default:
		return false, nil
	}
}

func (g *Guider) stepMountCalibration(ctx context.Context, frame Frame) (bool, error) {
	cmd, done := g.mountCalEngine.Step(frame.Star)
	if cmd != nil {
		if _, err := g.cfg.Mount.Move(ctx, cmd.Dir, cmd.DurationMS); err != nil {
			return true, err
		}
	}
	if !done {
		g.emit(events.CalibrationStep, "mount")
		return cmd != nil, nil
	}

	if g.mountCalEngine.State() == calib.Failed {
		g.emit(events.CalibrationFailed, g.mountCalEngine.Failure.String())
		g.state = Selected
		g.mountCalEngine = nil
		return cmd != nil, nil
	}

	cal := transform.Calibration{
		XAngle: g.mountCalEngine.XAngle(), YAngle: g.mountCalEngine.YAngle(),
		XRate: g.mountCalEngine.XRate(), YRate: g.mountCalEngine.YRate(),
		Declination: frame.Declination, PierSide: mapPierSide(frame.PierSide),
		RotatorAngle: frame.Rotator, Timestamp: frame.Now,
	}.Normalized()
	if err := cal.Validate(); err != nil {
		g.emit(events.CalibrationFailed, err.Error())
		g.state = Selected
		g.mountCalEngine = nil
		return cmd != nil, nil
	}
	if g.mountCalEngine.DegenerateWarning {
		g.emit(events.CalibrationStep, "degenerate-calibration")
	}
	g.working = transform.NewWorkingCalibration(cal)
	g.mountCalEngine = nil

	if g.cfg.AO != nil {
		g.aoCalEngine = calib.NewAOEngine(g.cfg.AOCalParams)
		g.state = CalibratingSecondary
		g.emit(events.CalibrationStart, "ao")
	} else {
		g.state = Calibrated
		g.emit(events.CalibrationComplete, "mount")
	}
	return cmd != nil, nil
}

func (g *Guider) stepAOCalibration(ctx context.Context, frame Frame) (bool, error) {
	cmd, done := g.aoCalEngine.Step(frame.Star, frame.AOLimitReached)
	if cmd != nil {
		if _, err := g.cfg.AO.Step(ctx, cmd.Dir, cmd.Step); err != nil {
			return true, err
		}
	}
	if !done {
		g.emit(events.CalibrationStep, "ao")
		return cmd != nil, nil
	}
	if g.aoCalEngine.State() == calib.AOFailed {
		g.emit(events.CalibrationFailed, g.aoCalEngine.Failure.String())
		g.state = Selected
		g.aoCalEngine = nil
		return cmd != nil, nil
	}
	// the AO's angles are fixed relative to the camera (spec.md section
	// 4.7: "the AO is assumed to rotate with the camera"), so no
	// pier-flip/rotator/declination adjustment ever applies to it.
	g.aoWorking = transform.NewWorkingCalibration(transform.Calibration{
		XAngle: g.aoCalEngine.XAngle(), XRate: g.aoCalEngine.XRate(),
		YAngle: g.aoCalEngine.YAngle(), YRate: g.aoCalEngine.YRate(),
		RotatorAngle: transform.UnknownRotator,
	})
	g.aoCalEngine = nil
	g.state = Calibrated
	g.emit(events.CalibrationComplete, "ao")
	return cmd != nil, nil
}

// BeginGuiding transitions calibrated -> guiding: applies pointing
// calibration adjustments, sets the lock position, and resets per-axis
// guide algorithm history (spec.md section 4.9).
func (g *Guider) BeginGuiding(frame Frame) {
	if g.state != Calibrated {
		return
	}
	if frame.HasPierSide {
		g.working.ApplyPierFlip(mapPierSide(frame.PierSide), g.cfg.DecFlipOnPierFlip)
	}
	g.working.ApplyRotatorAngle(frame.Rotator, frame.HasRotator)
	if frame.HasDeclination {
		g.working.ApplyDeclination(frame.Declination)
	}

	if !g.cfg.StickyLock || !g.lockPosition.Valid {
		g.lockPosition = frame.Star
		g.emit(events.LockPositionSet, "")
	}
	g.cfg.XAlgo.Reset()
	g.cfg.YAlgo.Reset()
	if g.cfg.AO != nil {
		g.bump = aobump.NewController(g.cfg.BumpParams, g.cfg.Sink)
	}
	g.state = Guiding
	g.emit(events.GuidingStart, "")
}

// GuideFrame processes one frame while in the Guiding state, per spec.md
// section 4.9's numbered steps. It returns ErrNotGuiding outside Guiding.
func (g *Guider) GuideFrame(ctx context.Context, frame Frame) error {
	if g.state != Guiding {
		return ErrNotGuiding
	}

	if g.cfg.AO != nil {
		g.runBump(ctx, frame)
	}

	if !frame.Star.Valid {
		if g.starLostLimiter.AllowN(frame.Now, 1) {
			g.emit(events.StarLost, "")
		}
		return nil
	}

	errPx := transform.PixelPoint{
		X:     frame.Star.X - g.lockPosition.X,
		Y:     frame.Star.Y - g.lockPosition.Y,
		Valid: true,
	}

	// spec.md section 4.8 step 1: when an AO is present it is the primary
	// actuator and receives the normal guide loop; the mount is left to
	// the bump controller alone (runBump, above).
	if g.cfg.AO != nil && g.aoWorking != nil {
		g.guideAO(ctx, errPx)
		return nil
	}
	return g.guideMount(ctx, errPx)
}

// guideMount applies the filtered guide correction to the mount: the
// normal path when no AO is present, and the only path that ever touches
// the mount's own backlash compensator.
func (g *Guider) guideMount(ctx context.Context, errPx transform.PixelPoint) error {
	axisErr := transform.Forward(errPx, g.working)

	if g.pendingCompensationDir != actuator.None && g.cfg.Backlash != nil {
		// sign the residual relative to the compensated pulse: a North
		// pulse is commanded for a positive error, a South one for a
		// negative error, so an error left on the same side is under-shoot.
		residual := axisErr.Y
		if g.pendingCompensationDir == actuator.South {
			residual = -residual
		}
		g.cfg.Backlash.ObserveResidual(residual, 0.1, g.working.Base.YRate)
		g.pendingCompensationDir = actuator.None
	}

	xFiltered := g.cfg.XAlgo.Result(axisErr.X)
	yFiltered := g.cfg.YAlgo.Result(axisErr.Y)

	xDir, xMS := toPulseX(xFiltered, g.working.CurrentXRate)
	yDir, yMS := toPulseY(yFiltered, g.working.Base.YRate)

	if g.cfg.Backlash != nil && g.cfg.Backlash.Active() {
		newY, compensated := g.cfg.Backlash.Apply(yDir, yFiltered, yMS)
		yMS = newY
		if compensated {
			g.pendingCompensationDir = yDir
		}
	}

	if xMS > 0 {
		if _, err := g.cfg.Mount.Move(ctx, xDir, int(xMS+0.5)); err != nil {
			g.emit(events.TransportError, "mount")
		}
	}
	if yMS > 0 {
		if _, err := g.cfg.Mount.Move(ctx, yDir, int(yMS+0.5)); err != nil {
			g.emit(events.TransportError, "mount")
		}
	}
	return nil
}

// guideAO applies the filtered guide correction to the AO, through its own
// calibration geometry rather than the mount's (spec.md section 4.8 step
// 1). The AO has no backlash compensator of its own (spec.md section 4.4
// scopes compensation to the mount's declination axis).
func (g *Guider) guideAO(ctx context.Context, errPx transform.PixelPoint) {
	axisErr := transform.Forward(errPx, g.aoWorking)

	xFiltered := g.cfg.XAlgo.Result(axisErr.X)
	yFiltered := g.cfg.YAlgo.Result(axisErr.Y)

	xDir, xSteps := toStepX(xFiltered, g.aoWorking.CurrentXRate)
	yDir, ySteps := toStepY(yFiltered, g.aoWorking.Base.YRate)

	if xSteps > 0 {
		if _, err := g.cfg.AO.Step(ctx, xDir, xSteps); err != nil {
			g.emit(events.TransportError, "ao")
		}
	}
	if ySteps > 0 {
		if _, err := g.cfg.AO.Step(ctx, yDir, ySteps); err != nil {
			g.emit(events.TransportError, "ao")
		}
	}
}

// runBump drives the mount as the AO's secondary "bump" actuator (spec.md
// section 4.8 steps 2-7): it negates the smoothed AO offset, converts it
// out of AO step units through the AO's own calibration into pixel
// ("camera") space, then through the mount's calibration into an axis-space
// mount motion.
func (g *Guider) runBump(ctx context.Context, frame Frame) {
	if g.bump == nil || g.cfg.AO == nil || g.aoWorking == nil {
		return
	}
	x, y := g.cfg.AO.CurrentPosition()
	maxPos := g.cfg.AO.MaxPosition()
	if maxPos == 0 {
		return
	}
	fx, fy := float64(x)/float64(maxPos), float64(y)/float64(maxPos)
	decision := g.bump.Observe(fx, fy, g.cfg.Mount.IsBusy(), frame.Now)
	if !decision.DoBump || g.cfg.Mount.IsBusy() {
		return
	}

	// decision.DX/DY are fractions of the AO travel; scale to AO steps,
	// then by the AO's pixels-per-step rates into axis-space pixels.
	aoAxis := transform.AxisPoint{
		X:     decision.DX * float64(maxPos) * g.aoWorking.Base.XRate,
		Y:     decision.DY * float64(maxPos) * g.aoWorking.Base.YRate,
		Valid: true,
	}
	pxTarget := transform.Inverse(aoAxis, g.aoWorking)
	axisTarget := transform.Forward(pxTarget, g.working)

	xDir, xMS := toPulseX(axisTarget.X, g.working.CurrentXRate)
	if xMS > 0 {
		g.cfg.Mount.Move(ctx, xDir, int(xMS+0.5))
	}
	yDir, yMS := toPulseY(axisTarget.Y, g.working.Base.YRate)
	if yMS > 0 {
		g.cfg.Mount.Move(ctx, yDir, int(yMS+0.5))
	}
}

// RequestStop transitions to Stop from any state (invariant 6: stop is
// reachable from every state in at most one frame). Only when the guider
// was Guiding does it also call GuidingCeases on both actuators, reset the
// backlash baseline, and emit guiding-stop (spec.md section 4.9's
// guiding->stop transition); from any other state it only sets Stop.
func (g *Guider) RequestStop(ctx context.Context) {
	wasGuiding := g.state == Guiding
	g.state = Stop
	if wasGuiding {
		g.cfg.Mount.GuidingCeases(ctx)
		if g.cfg.AO != nil {
			g.cfg.AO.GuidingCeases(ctx)
		}
		if g.cfg.Backlash != nil {
			g.cfg.Backlash.ResetBaseline()
		}
		g.emit(events.GuidingStop, "")
	}
}

func (g *Guider) emit(kind events.Kind, detail string) {
	if g.cfg.Sink == nil {
		return
	}
	g.cfg.Sink.Emit(events.Event{Kind: kind, Detail: detail})
}

func mapPierSide(p actuator.PierSideReport) transform.PierSide {
	switch p {
	case actuator.PierEast:
		return transform.PierEast
	case actuator.PierWest:
		return transform.PierWest
	default:
		return transform.PierUnknown
	}
}

// toPulseX and toPulseY convert an axis-space signed distance to a
// direction/duration pair: ms = floor(|dist|/rate + 0.5), direction from
// sign (spec.md section 4.9 step 5). The RA axis (X) uses East/West; the
// declination axis (Y) uses North/South.
func toPulseX(dist, rate float64) (actuator.Direction, float64) {
	if rate <= 0 || dist == 0 {
		return actuator.None, 0
	}
	ms := math.Floor(math.Abs(dist)/rate + 0.5)
	if dist > 0 {
		return actuator.East, ms
	}
	return actuator.West, ms
}

func toPulseY(dist, rate float64) (actuator.Direction, float64) {
	if rate <= 0 || dist == 0 {
		return actuator.None, 0
	}
	ms := math.Floor(math.Abs(dist)/rate + 0.5)
	if dist > 0 {
		return actuator.North, ms
	}
	return actuator.South, ms
}

// toStepX and toStepY are the AO-variant analog of toPulseX/toPulseY: the
// AO's calibration rate is pixels-per-step rather than pixels-per-ms
// (spec.md section 4.7), so the command unit is an integer step count
// instead of a pulse duration.
func toStepX(dist, rate float64) (actuator.Direction, int) {
	if rate <= 0 || dist == 0 {
		return actuator.None, 0
	}
	n := int(math.Floor(math.Abs(dist)/rate + 0.5))
	if dist > 0 {
		return actuator.East, n
	}
	return actuator.West, n
}

func toStepY(dist, rate float64) (actuator.Direction, int) {
	if rate <= 0 || dist == 0 {
		return actuator.None, 0
	}
	n := int(math.Floor(math.Abs(dist)/rate + 0.5))
	if dist > 0 {
		return actuator.North, n
	}
	return actuator.South, n
}
