package guider_test

import (
	"context"
	"testing"
	"time"

	"github.com/brandondube/goguide/actuator"
	"github.com/brandondube/goguide/backlash"
	"github.com/brandondube/goguide/events"
	"github.com/brandondube/goguide/guidealgo"
	"github.com/brandondube/goguide/guider"
)

func TestWorkerStopIsReachableWithinOneFrame(t *testing.T) {
	mount := actuator.NewMockMount()
	sink := events.NewMemorySink()
	g := guider.New(guider.Config{
		Mount: mount, Sink: sink,
		XAlgo: &guidealgo.Identity{}, YAlgo: &guidealgo.Identity{},
		Backlash: backlash.NewCompensator("mock", 0, false, 0, false, sink),
	})
	w := guider.NewWorker(g)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.Run(ctx)
	w.BeginSelecting()

	deadline := time.After(2 * time.Second)
	for w.State() != guider.Selecting {
		select {
		case <-deadline:
			t.Fatalf("worker never reached selecting")
		case <-time.After(time.Millisecond):
		}
	}

	w.Stop()
	for w.State() != guider.Stop {
		select {
		case <-deadline:
			t.Fatalf("worker never reached stop")
		case <-time.After(time.Millisecond):
		}
	}
	w.Wait()
}
