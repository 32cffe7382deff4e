// guideworker is the process that wires a mount (and optional adaptive
// optics unit) to the guider state machine and serves a read-only HTTP
// monitoring surface. Star positions are read one per line from stdin as
// "<x> <y>" pixel coordinates, or "lost" for a dropped star; a production
// frame source (camera centroid, plate solver) is an external collaborator
// per spec.md section 6.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/theckman/yacspin"

	"github.com/brandondube/goguide/actuator"
	"github.com/brandondube/goguide/aobump"
	"github.com/brandondube/goguide/backlash"
	"github.com/brandondube/goguide/blmeasure"
	"github.com/brandondube/goguide/calib"
	"github.com/brandondube/goguide/comm"
	"github.com/brandondube/goguide/config"
	"github.com/brandondube/goguide/events"
	"github.com/brandondube/goguide/guidealgo"
	"github.com/brandondube/goguide/guider"
	"github.com/brandondube/goguide/server"
	"github.com/brandondube/goguide/transform"
)

var (
	configPath   = flag.String("config", "guideworker.yml", "startup config path")
	profilePath  = flag.String("profile", "", "profile YAML path, defaults to <profile_dir>/<mount-class>.yml")
	mountClass   = flag.String("mount-class", "default", "mount class used as the profile key prefix")
	stickyLock   = flag.Bool("sticky-lock", true, "keep the lock position fixed across a stop/guide cycle")
	decFlipOnPF  = flag.Bool("dec-flip-on-pier-flip", true, "invert declination-axis sense on a pier flip")

	blExpectedDistance  = flag.Float64("bl-expected-distance", 3, "expected per-pulse clearing displacement, px")
	blExemptionDistance = flag.Float64("bl-exemption-distance", 40, "cumulative clearing motion that exempts a clear failure, px")
	blAxisRate          = flag.Float64("bl-axis-rate", 0.02, "declination axis rate, px/ms")
	blMaxMove           = flag.Float64("bl-max-move", 200, "frame-edge guard radius from the measurement's starting point, px")
	blDriftPerSec       = flag.Float64("bl-drift-per-sec", 0, "pre-measured sidereal/polar-alignment drift rate, px/sec")
)

func main() {
	flag.Parse()

	startup, err := config.LoadStartup(*configPath)
	if err != nil {
		log.Fatalf("guideworker: loading %s: %v", *configPath, err)
	}

	profPath := *profilePath
	if profPath == "" {
		profPath = startup.ProfileDir + "/" + *mountClass + ".yml"
	}
	profile, err := config.LoadProfile(profPath)
	if err != nil {
		log.Fatalf("guideworker: loading profile %s: %v", profPath, err)
	}

	sink := events.NewMemorySink()
	logSink := multiSink{sink, events.NewLogSink(nil)}

	mount, ao := buildActuators(startup)

	bl := backlash.Load(profile, *mountClass, logSink)

	cfg := guider.Config{
		Mount:             mount,
		AO:                ao,
		Sink:              logSink,
		XAlgo:             guidealgo.NewHysteresis(0.7, 1.0, 0.15),
		YAlgo:             guidealgo.NewHysteresis(0.7, 1.0, 0.15),
		Backlash:          bl,
		StickyLock:        *stickyLock,
		DecFlipOnPierFlip: *decFlipOnPF,
		MountCalParams: calib.Params{
			PulseWidthMS:         500,
			RequiredDistancePx:   25,
			MaxIterationsPerAxis: 60,
			ClearBacklashEnabled: true,
			ClearBacklashSteps:   5,
			BackoffTolerancePx:   2,
			BackoffMaxSteps:      120,
		},
		AOCalParams: calib.AOParams{StepsPerEdge: 3, SampleWindow: 3, LimitGuard: 2},
		BumpParams:  aobump.DefaultParams(20),
	}
	g := guider.New(cfg)
	worker := guider.NewWorker(g)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	go worker.Run(ctx)

	mon := &server.Monitor{Worker: worker, Events: sink}
	httpSrv := &http.Server{Addr: startup.HTTPAddr, Handler: mon.Router()}
	go func() {
		log.Printf("guideworker: monitoring surface listening on %s", startup.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("guideworker: monitor server: %v", err)
		}
	}()

	go printStateChanges(worker)

	runCLI(ctx, worker, mount, bl, profile, profPath)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	worker.Wait()
}

// buildActuators constructs the mount and, if configured, AO actuator. An
// empty AOAddr means a mount-only rig (spec.md section 4.8's hierarchical
// binding is simply never engaged).
func buildActuators(startup config.Startup) (actuator.Mount, actuator.AO) {
	if startup.MountAddr == "" {
		log.Println("guideworker: no mount_addr configured, using an in-memory mock mount")
		return actuator.NewMockMount(), nil
	}
	mount := comm.NewSerialMount(startup.MountAddr, startup.MountSerial, nil)

	var ao actuator.AO
	if startup.AOAddr != "" {
		log.Println("guideworker: AO transport drivers are hardware-specific and out of scope; falling back to a mock AO")
		ao = actuator.NewMockAO(2000)
	}
	return mount, ao
}

// runCLI drives the interactive calibrate/guide/stop sequence from stdin,
// using a yacspin spinner while a calibration is in progress and
// fatih/color to distinguish state transitions in the terminal.
func runCLI(ctx context.Context, w *guider.Worker, mount actuator.Mount, bl *backlash.Compensator, profile *config.Profile, profPath string) {
	fmt.Println(color.CyanString("guideworker ready. Commands: select, calibrate, guide, stop, measure-backlash, quit"))
	fmt.Println("Feed star positions as \"<x> <y>\" or \"lost\", one per line.")

	spinner := newCalibrationSpinner()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "select":
			w.BeginSelecting()
		case line == "calibrate":
			w.BeginCalibration()
			spinner.Start()
		case line == "guide":
			w.BeginGuiding()
		case line == "stop":
			w.Stop()
			spinner.Stop()
		case line == "quit":
			w.Stop()
			bl.Save(profile)
			profile.Save(profPath)
			return
		case line == "measure-backlash":
			if w.State() != guider.Stop && w.State() != guider.Uninitialized {
				fmt.Println(color.RedString("measure-backlash requires the guider to be stopped first"))
				continue
			}
			runBacklashMeasurement(ctx, mount, scanner)
			bl.ResetBaseline()
		case line == "lost":
			w.PostFrame(guider.Frame{Now: time.Now()})
		default:
			x, y, ok := parseXY(line)
			if !ok {
				fmt.Println(color.RedString("unrecognized input: %q", line))
				continue
			}
			pos := transform.PixelPoint{X: x, Y: y, Valid: true}
			w.PostStarSelection(pos)
			w.PostFrame(guider.Frame{Star: pos, Now: time.Now()})
		}
		if w.State() != guider.CalibratingPrimary && w.State() != guider.CalibratingSecondary {
			spinner.Stop()
		}
	}
}

func parseXY(line string) (x, y float64, ok bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, 0, false
	}
	xv, err1 := strconv.ParseFloat(fields[0], 64)
	yv, err2 := strconv.ParseFloat(fields[1], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return xv, yv, true
}

// runBacklashMeasurement drives blmeasure.Engine to completion independent
// of the guider's own state machine (spec.md section 4.5 describes
// backlash measurement as an operator-invoked routine separate from the
// main guide loop). It takes over stdin to read single declination-axis
// pixel positions, one per line, issuing the engine's resulting pulses
// directly against mount.
func runBacklashMeasurement(ctx context.Context, mount actuator.Mount, scanner *bufio.Scanner) {
	eng := blmeasure.NewEngine(blmeasure.Params{
		ExpectedDistance:  *blExpectedDistance,
		ExemptionDistance: *blExemptionDistance,
		AxisRate:          *blAxisRate,
		MaxMovePixels:     *blMaxMove,
		DriftPerSec:       *blDriftPerSec,
		CalibrationStepMS: 500,
	})
	eng.Start()

	fmt.Println(color.CyanString("measuring backlash; feed declination-axis pixel position per line"))
	spinner := newCalibrationSpinner()
	spinner.Suffix(" measuring backlash (" + eng.State().String() + ")")
	spinner.Start()
	defer spinner.Stop()

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		pos, err := strconv.ParseFloat(line, 64)
		if err != nil {
			fmt.Println(color.RedString("expected a single pixel position, got %q", line))
			continue
		}
		cmd, done := eng.Step(pos, time.Now())
		if cmd != nil {
			if _, err := mount.Move(ctx, cmd.Dir, cmd.DurationMS); err != nil {
				fmt.Println(color.RedString("transport error during backlash measurement: %v", err))
			}
		}
		spinner.Suffix(" measuring backlash (" + eng.State().String() + ")")
		if done {
			break
		}
	}

	switch eng.State() {
	case blmeasure.Complete:
		fmt.Println(color.GreenString("backlash measurement complete: %+v", eng.Estimate))
	default:
		fmt.Println(color.RedString("backlash measurement ended in state %s: %+v", eng.State(), eng.Estimate))
	}
}

func newCalibrationSpinner() *yacspin.Spinner {
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[11],
		Suffix:          " calibrating",
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	}
	s, err := yacspin.New(cfg)
	if err != nil {
		log.Fatalf("guideworker: building spinner: %v", err)
	}
	return s
}

// printStateChanges logs each top-level state transition, colored by
// severity.
func printStateChanges(w *guider.Worker) {
	for s := range w.StateUpdates() {
		switch s {
		case guider.Stop:
			fmt.Println(color.YellowString("state -> %s", s))
		case guider.Guiding:
			fmt.Println(color.GreenString("state -> %s", s))
		default:
			fmt.Println(color.WhiteString("state -> %s", s))
		}
	}
}

// multiSink fans an event out to every sink in the slice: the in-memory
// buffer the HTTP monitor reads, and the process log.
type multiSink []events.Sink

func (m multiSink) Emit(e events.Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

func (m multiSink) ParamChanged(name string, value interface{}) {
	for _, s := range m {
		s.ParamChanged(name, value)
	}
}
