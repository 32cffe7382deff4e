package actuator

import (
	"context"
	"sync"
	"time"
)

// MockMount is an in-memory Mount used by tests and by the guideworker CLI
// when no mount_addr is configured. It is concurrent-safe, following the
// sync.Mutex-guarded style of the teacher's pi.MockController.
type MockMount struct {
	sync.Mutex

	guidingEnabled bool
	busy           bool
	pierSide       PierSideReport
	declination    float64
	hasDec         bool
	rotatorAngle   float64
	hasRotator     bool

	// PosX, PosY accumulate simulated pixel motion so tests can drive a
	// calibration or guide loop against a predictable "star".
	PosX, PosY float64

	// FailNext, if non-nil, is returned (and cleared) on the next Move.
	FailNext error

	// MoveLog records every dispatched pulse for assertions.
	MoveLog []MoveRecord

	// RateXPerMS, RateYPerMS convert duration to simulated pixel motion.
	RateXPerMS, RateYPerMS float64

	ceasesCalled int
}

// MoveRecord is one logged call to Move.
type MoveRecord struct {
	Dir        Direction
	DurationMS int
}

// NewMockMount returns a MockMount with guiding enabled and rates of
// 0.01 px/ms on both axes.
func NewMockMount() *MockMount {
	return &MockMount{
		guidingEnabled: true,
		pierSide:       PierUnknown,
		RateXPerMS:     0.01,
		RateYPerMS:     0.01,
	}
}

func (m *MockMount) Move(ctx context.Context, dir Direction, durationMS int) (MoveResult, error) {
	m.Lock()
	defer m.Unlock()
	m.MoveLog = append(m.MoveLog, MoveRecord{Dir: dir, DurationMS: durationMS})
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return MoveResult{}, err
	}
	if !m.guidingEnabled {
		return MoveResult{OK: true}, nil
	}
	dist := float64(durationMS)
	switch dir {
	case North:
		m.PosY += dist * m.RateYPerMS
	case South:
		m.PosY -= dist * m.RateYPerMS
	case East:
		m.PosX += dist * m.RateXPerMS
	case West:
		m.PosX -= dist * m.RateXPerMS
	}
	return MoveResult{OK: true}, nil
}

func (m *MockMount) IsBusy() bool {
	m.Lock()
	defer m.Unlock()
	return m.busy
}

// SetBusy lets tests simulate a prior command still executing.
func (m *MockMount) SetBusy(b bool) {
	m.Lock()
	defer m.Unlock()
	m.busy = b
}

func (m *MockMount) GuidingEnabled() bool {
	m.Lock()
	defer m.Unlock()
	return m.guidingEnabled
}

func (m *MockMount) SetGuidingEnabled(e bool) {
	m.Lock()
	defer m.Unlock()
	m.guidingEnabled = e
}

func (m *MockMount) HasNonGUIMove() bool   { return true }
func (m *MockMount) ST4HasGuideOutput() bool { return false }
func (m *MockMount) CanPulseGuide() bool   { return true }
func (m *MockMount) CanReportPosition() bool { return false }

func (m *MockMount) GuidingCeases(ctx context.Context) error {
	m.Lock()
	defer m.Unlock()
	m.ceasesCalled++
	return nil
}

// CeasesCalled reports how many times GuidingCeases has fired, for tests.
func (m *MockMount) CeasesCalled() int {
	m.Lock()
	defer m.Unlock()
	return m.ceasesCalled
}

func (m *MockMount) SideOfPier() PierSideReport {
	m.Lock()
	defer m.Unlock()
	return m.pierSide
}

// SetSideOfPier lets tests simulate a pier flip.
func (m *MockMount) SetSideOfPier(p PierSideReport) {
	m.Lock()
	defer m.Unlock()
	m.pierSide = p
}

func (m *MockMount) Declination() (float64, bool) {
	m.Lock()
	defer m.Unlock()
	return m.declination, m.hasDec
}

// SetDeclination lets tests set the simulated declination.
func (m *MockMount) SetDeclination(rad float64) {
	m.Lock()
	defer m.Unlock()
	m.declination = rad
	m.hasDec = true
}

func (m *MockMount) RotatorAngle() (float64, bool) {
	m.Lock()
	defer m.Unlock()
	return m.rotatorAngle, m.hasRotator
}

// SetRotatorAngle lets tests set the simulated rotator angle.
func (m *MockMount) SetRotatorAngle(rad float64) {
	m.Lock()
	defer m.Unlock()
	m.rotatorAngle = rad
	m.hasRotator = true
}

// MockAO is an in-memory AO actuator, step-count driven with bounded travel.
type MockAO struct {
	sync.Mutex

	guidingEnabled bool
	busy           bool
	x, y           int
	max            int
	FailNext       error
	StepLog        []StepRecord
	ceasesCalled   int
}

// StepRecord is one logged call to Step.
type StepRecord struct {
	Dir   Direction
	Count int
}

// NewMockAO returns a MockAO with the given travel half-width.
func NewMockAO(maxPosition int) *MockAO {
	return &MockAO{guidingEnabled: true, max: maxPosition}
}

func (a *MockAO) Move(ctx context.Context, dir Direction, durationMS int) (MoveResult, error) {
	// AO variants are driven by Step, not Move; Move degrades to a no-op
	// success so code generic over Actuator still compiles against it.
	return MoveResult{OK: true}, nil
}

func (a *MockAO) Step(ctx context.Context, dir Direction, count int) (MoveResult, error) {
	a.Lock()
	defer a.Unlock()
	a.StepLog = append(a.StepLog, StepRecord{Dir: dir, Count: count})
	if a.FailNext != nil {
		err := a.FailNext
		a.FailNext = nil
		return MoveResult{}, err
	}
	if !a.guidingEnabled {
		return MoveResult{OK: true}, nil
	}
	limit := false
	switch dir {
	case North:
		a.y += count
	case South:
		a.y -= count
	case East:
		a.x += count
	case West:
		a.x -= count
	}
	if a.x > a.max {
		a.x = a.max
		limit = true
	} else if a.x < -a.max {
		a.x = -a.max
		limit = true
	}
	if a.y > a.max {
		a.y = a.max
		limit = true
	} else if a.y < -a.max {
		a.y = -a.max
		limit = true
	}
	return MoveResult{OK: true, LimitReached: limit}, nil
}

func (a *MockAO) IsBusy() bool {
	a.Lock()
	defer a.Unlock()
	return a.busy
}

func (a *MockAO) SetBusy(b bool) {
	a.Lock()
	defer a.Unlock()
	a.busy = b
}

func (a *MockAO) GuidingEnabled() bool {
	a.Lock()
	defer a.Unlock()
	return a.guidingEnabled
}

func (a *MockAO) SetGuidingEnabled(e bool) {
	a.Lock()
	defer a.Unlock()
	a.guidingEnabled = e
}

func (a *MockAO) HasNonGUIMove() bool     { return true }
func (a *MockAO) ST4HasGuideOutput() bool { return false }
func (a *MockAO) CanPulseGuide() bool     { return false }
func (a *MockAO) CanReportPosition() bool { return true }

func (a *MockAO) GuidingCeases(ctx context.Context) error {
	a.Lock()
	defer a.Unlock()
	a.ceasesCalled++
	a.x, a.y = 0, 0
	return nil
}

func (a *MockAO) CeasesCalled() int {
	a.Lock()
	defer a.Unlock()
	return a.ceasesCalled
}

func (a *MockAO) CurrentPosition() (int, int) {
	a.Lock()
	defer a.Unlock()
	return a.x, a.y
}

func (a *MockAO) MaxPosition() int {
	return a.max
}

// settlingDelay is a brief, realistic busy interval; no code or test in
// this module references it (tests toggle IsBusy with SetBusy).
const settlingDelay = 5 * time.Millisecond
