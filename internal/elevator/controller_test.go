package elevator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/liftctl/internal/driver"
	"github.com/danmuck/liftctl/internal/jobs"
	"github.com/danmuck/liftctl/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

const (
	testTravel = 40 * time.Millisecond
	testDwell  = 40 * time.Millisecond
)

type fakeReporter struct {
	mu        sync.Mutex
	completed []int
	cabin     []int
	recalcs   int
}

func (r *fakeReporter) SignalJobComplete(target int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, target)
}

func (r *fakeReporter) CabinServed(floor int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cabin = append(r.cabin, floor)
}

func (r *fakeReporter) RecalculateCosts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recalcs++
	return 0
}

func (r *fakeReporter) snapshot() (completed, cabin []int, recalcs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.completed...), append([]int(nil), r.cabin...), r.recalcs
}

type rig struct {
	ctrl *Controller
	sim  *driver.Sim
	reg  *jobs.Registry
	rep  *fakeReporter
}

func startRig(t *testing.T, startFloor int) rig {
	t.Helper()
	testlog.Start(t)
	sim, err := driver.NewSim(4, testTravel, startFloor)
	if err != nil {
		t.Fatalf("new sim: %v", err)
	}
	reg := jobs.NewRegistry(jobs.Options{Logger: log.Logger})
	ctrl, err := New(Config{
		Node:      "test",
		Floors:    4,
		DoorDwell: testDwell,
		Driver:    sim,
		Pending:   reg,
		Logger:    log.Logger,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	rep := &fakeReporter{}
	ctrl.SetReporter(rep)

	ctx, cancel := context.WithCancel(context.Background())
	floors := make(chan int, 8)
	stop := make(chan bool, 1)
	obstruction := make(chan bool, 1)
	go sim.Run(ctx)
	go driver.NewPoller(sim, 4, 2*time.Millisecond).Run(ctx, driver.Events{
		Floors:      floors,
		Stop:        stop,
		Obstruction: obstruction,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Run(ctx, Inputs{Floors: floors, Stop: stop, Obstruction: obstruction})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return rig{ctrl: ctrl, sim: sim, reg: reg, rep: rep}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitIdle(t *testing.T, r rig) {
	t.Helper()
	waitFor(t, "idle", func() bool { return !r.ctrl.Busy() && r.ctrl.Phase() == Idle })
}

func TestNewValidates(t *testing.T) {
	testlog.Start(t)
	if _, err := New(Config{Floors: 4}); err != ErrMissingDriver {
		t.Fatalf("expected ErrMissingDriver, got %v", err)
	}
	sim, _ := driver.NewSim(4, testTravel, 1)
	if _, err := New(Config{Floors: 1, Driver: sim}); err != ErrInvalidFloors {
		t.Fatalf("expected ErrInvalidFloors, got %v", err)
	}
}

func TestBusyUntilRecovered(t *testing.T) {
	testlog.Start(t)
	sim, _ := driver.NewSim(4, testTravel, 1)
	ctrl, _ := New(Config{Floors: 4, Driver: sim, Logger: log.Logger})
	if ctrl.TryDispatch(jobs.Entry{Key: jobs.Hall(2)}) {
		t.Fatalf("dispatch must be refused before the position is known")
	}
}

func TestRecoveryDrivesDownToAFloor(t *testing.T) {
	r := startRig(t, 0)
	waitIdle(t, r)
	if got := r.ctrl.Floor(); got != 1 {
		t.Fatalf("expected recovery at floor 1, got %d", got)
	}
	if r.sim.Motor() != driver.MotorStop {
		t.Fatalf("motor must be stopped after recovery")
	}
	waitFor(t, "recalculation on the first idle transition", func() bool {
		_, _, recalcs := r.rep.snapshot()
		return recalcs == 1
	})
}

func TestCabinDispatchServesAndReturnsToIdle(t *testing.T) {
	r := startRig(t, 1)
	waitIdle(t, r)

	r.ctrl.SetCabinFlag(3)
	if !r.ctrl.TryDispatch(jobs.Entry{Key: jobs.CabinFloor(3)}) {
		t.Fatalf("expected dispatch to be accepted")
	}
	if r.ctrl.TryDispatch(jobs.Entry{Key: jobs.Hall(2)}) {
		t.Fatalf("second dispatch must be refused while busy")
	}
	waitFor(t, "door open at 3", func() bool { return r.sim.DoorLamp() && r.ctrl.Floor() == 3 })
	waitIdle(t, r)

	waitFor(t, "recalculation on every idle transition", func() bool {
		_, _, recalcs := r.rep.snapshot()
		return recalcs == 2
	})
	_, cabin, _ := r.rep.snapshot()
	if len(cabin) != 1 || cabin[0] != 3 {
		t.Fatalf("expected cabin 3 served once, got %v", cabin)
	}
	if r.sim.DoorLamp() {
		t.Fatalf("door lamp must be off when idle")
	}
	if s := r.ctrl.Snapshot(); len(s.Cabin) != 0 || s.Phase != "idle" {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
}

func TestIntermediatePickupInTravelDirection(t *testing.T) {
	r := startRig(t, 1)
	waitIdle(t, r)

	r.reg.Put(jobs.Hall(2), time.Hour, true)
	r.reg.Put(jobs.Hall(-3), time.Hour, true)
	if !r.ctrl.TryDispatch(jobs.Entry{Key: jobs.Hall(4)}) {
		t.Fatalf("expected dispatch to be accepted")
	}
	waitFor(t, "arrival at 4", func() bool { return r.ctrl.Floor() == 4 })
	waitIdle(t, r)

	completed, _, _ := r.rep.snapshot()
	if len(completed) != 2 || completed[0] != 2 || completed[1] != 4 {
		t.Fatalf("expected completions [2 4], got %v", completed)
	}
	visits := r.sim.Visits()
	if len(visits) != 3 || visits[0] != 2 || visits[1] != 3 || visits[2] != 4 {
		t.Fatalf("unexpected visits %v", visits)
	}
}

func TestServeHereOnlyWhenIdleAtFloor(t *testing.T) {
	r := startRig(t, 2)
	waitIdle(t, r)

	if r.ctrl.ServeHere(3) {
		t.Fatalf("serve here must refuse another floor")
	}
	if r.ctrl.Busy() {
		t.Fatalf("refused serve must leave the car idle")
	}
	if !r.ctrl.ServeHere(2) {
		t.Fatalf("expected serve here at the resting floor")
	}
	waitFor(t, "door open", r.sim.DoorLamp)
	waitIdle(t, r)
	completed, _, _ := r.rep.snapshot()
	if len(completed) != 0 {
		t.Fatalf("serving in place reports nothing itself, got %v", completed)
	}
}

func TestObstructionHoldsDoor(t *testing.T) {
	r := startRig(t, 1)
	waitIdle(t, r)

	r.sim.SetObstruction(true)
	waitFor(t, "obstruction seen", func() bool { return r.ctrl.Snapshot().Obstruction })
	if !r.ctrl.ServeHere(1) {
		t.Fatalf("expected serve here")
	}
	time.Sleep(4 * testDwell)
	if !r.sim.DoorLamp() || r.ctrl.Phase() != DoorOpen {
		t.Fatalf("door must stay open while obstructed")
	}
	r.sim.SetObstruction(false)
	waitIdle(t, r)
	if r.sim.DoorLamp() {
		t.Fatalf("door must close once the obstruction clears")
	}
}

func TestStopHalts(t *testing.T) {
	r := startRig(t, 1)
	waitIdle(t, r)
	if !r.ctrl.TryDispatch(jobs.Entry{Key: jobs.Hall(4)}) {
		t.Fatalf("expected dispatch")
	}
	r.sim.SetStop(true)
	waitFor(t, "halted", func() bool { return r.ctrl.Phase() == Halted })
	if r.sim.Motor() != driver.MotorStop || !r.sim.StopLamp() {
		t.Fatalf("halt must stop the motor and light the stop lamp")
	}
	r.sim.SetStop(false)
	time.Sleep(5 * testTravel)
	if r.ctrl.Phase() != Halted || r.ctrl.TryDispatch(jobs.Entry{Key: jobs.Hall(2)}) {
		t.Fatalf("halted car must not recover or accept dispatches")
	}
}
