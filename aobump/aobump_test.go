package aobump_test

import (
	"testing"
	"time"

	"github.com/brandondube/goguide/aobump"
	"github.com/brandondube/goguide/events"
)

func TestControllerStartsBumpWhenOutsideThreshold(t *testing.T) {
	sink := events.NewMemorySink()
	c := aobump.NewController(aobump.DefaultParams(10), sink)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := c.Observe(0.9, 0, false, now)
	if !d.DoBump {
		t.Fatalf("Observe() DoBump = false, want true when outside threshold1")
	}
	if !c.InBump() {
		t.Errorf("InBump() = false, want true")
	}
}

func TestControllerSkipsBumpWhenMountBusy(t *testing.T) {
	c := aobump.NewController(aobump.DefaultParams(10), nil)
	now := time.Now()
	d := c.Observe(0.9, 0, true, now.Add(time.Second))
	if d.DoBump {
		t.Errorf("Observe() DoBump = true while mount busy, want false (skip, don't queue)")
	}
	if c.InBump() {
		t.Errorf("InBump() = true, bump should not start while mount is busy")
	}
}

func TestControllerEndsBumpWithinCenterTolerance(t *testing.T) {
	c := aobump.NewController(aobump.DefaultParams(10), nil)
	now := time.Now()
	c.Observe(0.9, 0, false, now)
	if !c.InBump() {
		t.Fatalf("bump did not start")
	}
	// drive the smoothed position back toward center over several frames
	var d aobump.Decision
	for i := 0; i < 20; i++ {
		d = c.Observe(0, 0, false, now)
	}
	if c.InBump() {
		t.Errorf("InBump() = true after many centered frames, want bump ended")
	}
	_ = d
}

func TestControllerWarnsAfterStallDuration(t *testing.T) {
	sink := events.NewMemorySink()
	p := aobump.DefaultParams(10)
	p.WarnAfter = time.Second
	c := aobump.NewController(p, sink)
	start := time.Now()
	c.Observe(0.95, 0, false, start)
	c.Observe(0.95, 0, false, start.Add(2*time.Second))

	found := false
	for _, e := range sink.Snapshot() {
		if e.Detail == "ao-bump-stalled" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an ao-bump-stalled warning event after exceeding WarnAfter")
	}
}
