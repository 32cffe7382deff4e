// Package events defines the significant-transition notifications the
// guiding core emits for external monitors (GUI, log upload, telemetry),
// per spec.md section 6. The core never depends on a specific sink
// implementation; it is handed a Sink at construction time the way the
// teacher's device wrappers are handed an io.Writer or *log.Logger.
package events

import (
	"log"
	"sync"
	"time"
)

// Kind enumerates the event names spec.md section 6 requires.
type Kind string

const (
	CalibrationStart    Kind = "calibration-start"
	CalibrationStep     Kind = "calibration-step"
	CalibrationComplete Kind = "calibration-complete"
	CalibrationFailed   Kind = "calibration-failed"
	GuidingStart        Kind = "guiding-start"
	GuidingStop         Kind = "guiding-stop"
	StarLost            Kind = "star-lost"
	StarSelected        Kind = "star-selected"
	LockPositionSet     Kind = "lock-position-set"
	LockPositionLost    Kind = "lock-position-lost"
	TransportError      Kind = "transport-error"
)

// Event is a single timestamped notification. Detail is free-form and
// populated per-kind (e.g. the failure reason string for CalibrationFailed).
type Event struct {
	Kind      Kind
	Detail    string
	Timestamp time.Time
}

// Sink receives events and guiding-parameter change notifications. The
// guider worker, calibration engine, and backlash compensator all hold one.
type Sink interface {
	Emit(Event)
	// ParamChanged fires when a persisted setting changes outside of the
	// normal frame loop (e.g. backlash pulse width self-tuned, or an
	// operator changes the compensation ceiling), mirroring PHD2's
	// NotifyGuidingParam callback.
	ParamChanged(name string, value interface{})
}

// LogSink is a Sink that writes to a *log.Logger, the ambient logging
// mechanism used throughout this module (section 10.1 of SPEC_FULL.md).
// It is safe for concurrent use, though in practice only the guider worker
// goroutine calls it.
type LogSink struct {
	mu     sync.Mutex
	Logger *log.Logger
}

// NewLogSink returns a LogSink writing to l, or log.Default() if l is nil.
func NewLogSink(l *log.Logger) *LogSink {
	if l == nil {
		l = log.Default()
	}
	return &LogSink{Logger: l}
}

func (s *LogSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Detail != "" {
		s.Logger.Printf("event: %s: %s", e.Kind, e.Detail)
	} else {
		s.Logger.Printf("event: %s", e.Kind)
	}
}

func (s *LogSink) ParamChanged(name string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Logger.Printf("param changed: %s = %v", name, value)
}

// MemorySink buffers events and param changes in memory, for tests and for
// the HTTP monitoring surface (server package) to replay recent history.
type MemorySink struct {
	mu     sync.Mutex
	Events []Event
	Params map[string]interface{}
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{Params: make(map[string]interface{})}
}

func (s *MemorySink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.Events = append(s.Events, e)
}

func (s *MemorySink) ParamChanged(name string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Params[name] = value
}

// Snapshot returns a copy of the buffered events, safe to read without
// racing the writer.
func (s *MemorySink) Snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.Events))
	copy(out, s.Events)
	return out
}

// ParamsSnapshot returns a copy of the buffered parameter changes, safe to
// read without racing the writer.
func (s *MemorySink) ParamsSnapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.Params))
	for k, v := range s.Params {
		out[k] = v
	}
	return out
}
