// Package actuator defines the polymorphic pulse-guide contract the
// guiding core drives, with mount and adaptive-optics variants (spec.md
// section 4.1). Transport drivers for specific hardware are external
// collaborators; this package defines the interface plus mock
// implementations used by tests and by the comm package's serial/TCP mount.
package actuator

import (
	"context"
	"errors"
)

// Direction is a cardinal pulse-guide direction, or None for "no motion".
type Direction int

const (
	None Direction = iota
	North
	South
	East
	West
)

func (d Direction) String() string {
	switch d {
	case North:
		return "N"
	case South:
		return "S"
	case East:
		return "E"
	case West:
		return "W"
	default:
		return "none"
	}
}

// Opposite returns the reverse of d, or None for None.
func (d Direction) Opposite() Direction {
	switch d {
	case North:
		return South
	case South:
		return North
	case East:
		return West
	case West:
		return East
	default:
		return None
	}
}

// ErrTransportFailure is wrapped by actuator implementations when the
// underlying link to the hardware fails. The guiding core never retries
// internally on this error; it logs, surfaces it, and continues guiding on
// the next frame (spec.md section 7, "transport-error").
var ErrTransportFailure = errors.New("actuator: transport failure")

// MoveResult reports the outcome of a single Move or Step call.
type MoveResult struct {
	// OK is true when the command completed normally.
	OK bool
	// LimitReached is true when an AO step hit its mechanical travel edge;
	// mount variants never set this.
	LimitReached bool
}

// Actuator is the capability set common to mount and AO variants.
type Actuator interface {
	// Move issues a blocking, timed directional pulse. While
	// GuidingEnabled is false, Move must return {OK: true} with zero
	// motion actually commanded.
	Move(ctx context.Context, dir Direction, durationMS int) (MoveResult, error)

	// IsBusy reports whether an earlier command is still executing.
	IsBusy() bool

	// GuidingEnabled is the capability gate the guide loop must consult
	// before dispatching a pulse.
	GuidingEnabled() bool
	SetGuidingEnabled(bool)

	HasNonGUIMove() bool
	ST4HasGuideOutput() bool
	CanPulseGuide() bool
	CanReportPosition() bool

	// GuidingCeases resets any actuator-owned guiding state (e.g. a mount's
	// backlash compensator baseline, or an AO's recentering) when guiding
	// stops (spec.md section 4.9).
	GuidingCeases(ctx context.Context) error
}

// Mount is the actuator variant driving a telescope's RA/Dec axes.
type Mount interface {
	Actuator
	SideOfPier() PierSideReport
	Declination() (radians float64, ok bool)
	RotatorAngle() (radians float64, ok bool)
}

// AO is the actuator variant driving a fast tip-tilt stage with bounded
// travel and step-count (not duration) commands.
type AO interface {
	Actuator
	Step(ctx context.Context, dir Direction, count int) (MoveResult, error)
	CurrentPosition() (x, y int)
	MaxPosition() int
}

// PierSideReport mirrors transform.PierSide without importing the
// transform package, keeping actuator free of a dependency on calibration
// semantics; the guider package maps between the two at the boundary.
type PierSideReport int

const (
	PierUnknown PierSideReport = iota
	PierEast
	PierWest
)
