package guider

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/brandondube/goguide/transform"
)

// Worker is the dedicated goroutine that owns all actuator calls, per
// spec.md section 5: image arrival posts a message; state-machine
// transitions execute on the worker; other goroutines interact only
// through thread-safe message posting. Grounded on the teacher's
// single-owning-goroutine select loop with a per-input channel.
type Worker struct {
	g *Guider

	frames    chan Frame
	selects   chan transform.PixelPoint
	commands  chan command
	done      chan struct{}
	closeOnce sync.Once

	interrupt int32 // atomic; checked at every suspension point

	mu           sync.Mutex
	lastErr      error
	lastFrame    Frame
	stateUpdates chan State
}

type command int

const (
	cmdBeginSelecting command = iota
	cmdBeginCalibration
	cmdBeginGuiding
	cmdStop
)

// NewWorker wraps g in a Worker ready to Run on its own goroutine.
func NewWorker(g *Guider) *Worker {
	return &Worker{
		g:            g,
		frames:       make(chan Frame, 1),
		selects:      make(chan transform.PixelPoint, 1),
		commands:     make(chan command, 4),
		done:         make(chan struct{}),
		stateUpdates: make(chan State, 16),
	}
}

// PostFrame delivers one frame's image-derived data to the worker. It
// never blocks the caller beyond a full channel (capacity 1: a frame
// arriving faster than the worker drains is coalesced, the newest frame
// winning, matching "if actuator-busy, computation is done but the pulse
// is skipped" rather than queued).
func (w *Worker) PostFrame(f Frame) {
	select {
	case w.frames <- f:
	default:
		select {
		case <-w.frames:
		default:
		}
		w.frames <- f
	}
}

// PostStarSelection delivers an operator's star pick.
func (w *Worker) PostStarSelection(pos transform.PixelPoint) {
	w.selects <- pos
}

// BeginSelecting, BeginCalibration, and BeginGuiding post the
// corresponding lifecycle command to the worker.
func (w *Worker) BeginSelecting()   { w.commands <- cmdBeginSelecting }
func (w *Worker) BeginCalibration() { w.commands <- cmdBeginCalibration }
func (w *Worker) BeginGuiding()     { w.commands <- cmdBeginGuiding }

// Stop sets the interrupt flag checked at every suspension point and
// posts a stop command; per invariant 6, the state machine reaches Stop
// within one frame of either being observed.
func (w *Worker) Stop() {
	atomic.StoreInt32(&w.interrupt, 1)
	select {
	case w.commands <- cmdStop:
	default:
	}
}

// State returns the guider's current top-level state. Safe for
// concurrent use; it reads through the same mutex Run uses when
// publishing state changes.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.g.State()
}

// LastError returns the most recent actuator error observed by Run, or
// nil. It is a snapshot; transport errors are logged and do not stop
// guiding (spec.md section 7).
func (w *Worker) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// StateUpdates returns a channel of state transitions for external
// monitors (e.g. the HTTP surface) to observe without touching the
// worker's internals directly.
func (w *Worker) StateUpdates() <-chan State { return w.stateUpdates }

// Run executes the worker loop until ctx is canceled or Stop is called.
// It must run on its own goroutine; callers interact only via PostFrame,
// PostStarSelection, BeginSelecting, BeginCalibration, BeginGuiding, and
// Stop.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	defer w.publishState()

	for {
		if atomic.LoadInt32(&w.interrupt) == 1 && w.g.State() != Stop {
			w.g.RequestStop(ctx)
			w.publishState()
		}
		if w.g.State() == Stop {
			return
		}

		select {
		case <-ctx.Done():
			w.g.RequestStop(context.Background())
			w.publishState()
			return

		case cmd := <-w.commands:
			w.handleCommand(ctx, cmd)
			w.publishState()

		case pos := <-w.selects:
			w.g.SelectStar(pos)
			w.publishState()

		case f := <-w.frames:
			w.handleFrame(ctx, f)
			w.publishState()
		}
	}
}

func (w *Worker) handleCommand(ctx context.Context, cmd command) {
	switch cmd {
	case cmdBeginSelecting:
		w.g.BeginSelecting()
	case cmdBeginCalibration:
		w.g.BeginCalibration()
	case cmdBeginGuiding:
		// the caller is expected to have posted at least one frame so a
		// lock position is available; BeginGuiding no-ops outside
		// Calibrated regardless.
		w.g.BeginGuiding(w.lastFrame)
	case cmdStop:
		w.g.RequestStop(ctx)
	}
}

func (w *Worker) handleFrame(ctx context.Context, f Frame) {
	w.lastFrame = f
	switch w.g.State() {
	case CalibratingPrimary, CalibratingSecondary:
		if _, err := w.g.StepCalibration(ctx, f); err != nil {
			w.setErr(err)
		}
	case Guiding:
		if err := w.g.GuideFrame(ctx, f); err != nil {
			w.setErr(err)
		}
	}
}

func (w *Worker) setErr(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}

func (w *Worker) publishState() {
	select {
	case w.stateUpdates <- w.g.State():
	default:
	}
}

// Wait blocks until Run has returned.
func (w *Worker) Wait() { <-w.done }
