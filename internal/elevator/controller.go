package elevator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/liftctl/internal/driver"
	"github.com/danmuck/liftctl/internal/jobs"
	"github.com/danmuck/liftctl/internal/observability"
	"github.com/rs/zerolog"
)

var (
	ErrMissingDriver = errors.New("elevator: driver is required")
	ErrInvalidFloors = errors.New("elevator: floor count must be at least 2")
)

const (
	DefaultDoorDwell = 3 * time.Second
	recoveryPoll     = 10 * time.Millisecond
)

// Reporter receives the outcome of served stops. The arbitration handler
// implements it.
type Reporter interface {
	SignalJobComplete(target int)
	CabinServed(floor int)
	RecalculateCosts() int
}

// Pending answers whether a hall call is queued, for intermediate pickups.
type Pending interface {
	Has(key jobs.Key) bool
}

type Config struct {
	Node      string
	Floors    int
	DoorDwell time.Duration
	Driver    driver.Driver
	Pending   Pending
	Logger    zerolog.Logger
}

// Inputs are the edge events the controller reacts to.
type Inputs struct {
	Floors      <-chan int
	Stop        <-chan bool
	Obstruction <-chan bool
}

type order struct {
	key jobs.Key
	// here opens the door at the current floor without serving a job.
	here bool
}

// Controller owns the movement state machine of one car. State is mutated
// only on the Run goroutine; mu guards reads from other goroutines.
// The controller never holds mu while calling the registry or reporter.
type Controller struct {
	node   string
	floors int
	dwell  time.Duration
	drv    driver.Driver
	queue  Pending
	log    zerolog.Logger

	reporter atomic.Pointer[reporterBox]

	busy   atomic.Bool
	orders chan order

	mu          sync.Mutex
	phase       Phase
	floor       int
	dir         driver.MotorDirection
	active      *order
	doorOpen    bool
	obstruction bool
	cabin       []bool
	served      []int

	doorTimer *time.Timer
}

type reporterBox struct{ r Reporter }

// New returns a controller in the Recovering phase. It stays busy until Run
// has found a floor.
func New(cfg Config) (*Controller, error) {
	if cfg.Driver == nil {
		return nil, ErrMissingDriver
	}
	if cfg.Floors < 2 {
		return nil, ErrInvalidFloors
	}
	if cfg.DoorDwell <= 0 {
		cfg.DoorDwell = DefaultDoorDwell
	}
	c := &Controller{
		node:   cfg.Node,
		floors: cfg.Floors,
		dwell:  cfg.DoorDwell,
		drv:    cfg.Driver,
		queue:  cfg.Pending,
		log:    cfg.Logger,
		orders: make(chan order, 1),
		phase:  Recovering,
		cabin:  make([]bool, cfg.Floors+1),
	}
	// busy until the car knows where it is
	c.busy.Store(true)
	return c, nil
}

// SetReporter wires the completion sink. It is set after construction
// because the reporter itself reads the controller.
func (c *Controller) SetReporter(r Reporter) {
	c.reporter.Store(&reporterBox{r: r})
}

// TryDispatch hands entry to the car if it is idle. It is the only gate
// that makes the car busy and takes no lock, so it is safe to call from
// inside a registry claim.
func (c *Controller) TryDispatch(e jobs.Entry) bool {
	f := e.Floor()
	if f < 1 || f > c.floors {
		return false
	}
	if !c.busy.CompareAndSwap(false, true) {
		return false
	}
	select {
	case c.orders <- order{key: e.Key}:
		return true
	default:
		c.busy.Store(false)
		return false
	}
}

// ServeHere opens the door at floor when the car is idle there.
func (c *Controller) ServeHere(floor int) bool {
	if !c.busy.CompareAndSwap(false, true) {
		return false
	}
	if c.Floor() != floor {
		c.busy.Store(false)
		return false
	}
	select {
	case c.orders <- order{key: jobs.CabinFloor(floor), here: true}:
		return true
	default:
		c.busy.Store(false)
		return false
	}
}

// Busy reports whether the car refuses new orders.
func (c *Controller) Busy() bool { return c.busy.Load() }

func (c *Controller) Floor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.floor
}

func (c *Controller) Moving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase.moving()
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// SetCabinFlag marks floor as a stop for the car.
func (c *Controller) SetCabinFlag(floor int) {
	if floor < 1 || floor > c.floors {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cabin[floor] = true
}

// Snapshot copies the current state for display.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		Floor:       c.floor,
		Direction:   c.dir.String(),
		Phase:       c.phase.String(),
		Busy:        c.busy.Load(),
		DoorOpen:    c.doorOpen,
		Obstruction: c.obstruction,
		Cabin:       []int{},
	}
	for f := 1; f <= c.floors; f++ {
		if c.cabin[f] {
			s.Cabin = append(s.Cabin, f)
		}
	}
	if c.active != nil && !c.active.here {
		s.Target = c.active.key.Target
		s.TargetCabin = c.active.key.Cabin
	}
	return s
}

// Run recovers the car position, then drives the state machine until ctx is
// done. The motor is stopped on return.
func (c *Controller) Run(ctx context.Context, in Inputs) error {
	defer c.drv.SetMotorDirection(driver.MotorStop)
	if !c.recover(ctx) {
		return nil
	}
	c.enterIdle()

	for {
		var doorC <-chan time.Time
		if c.doorTimer != nil {
			doorC = c.doorTimer.C
		}
		select {
		case <-ctx.Done():
			c.stopDoorTimer()
			return nil
		case o := <-c.orders:
			c.start(o)
		case f := <-in.Floors:
			c.arrive(f)
		case <-doorC:
			c.doorTimer = nil
			c.closeDoor()
		case v := <-in.Obstruction:
			c.mu.Lock()
			c.obstruction = v
			c.mu.Unlock()
			c.log.Debug().Msgf("elevator.Controller.Run obstruction=%v", v)
		case v := <-in.Stop:
			if v {
				c.halt()
			}
		}
	}
}

// recover drives down until the floor sensor reads a floor. It reports false
// if ctx ends first.
func (c *Controller) recover(ctx context.Context) bool {
	f := c.drv.FloorSensor()
	if f == driver.UnknownFloor {
		c.log.Warn().Msg("elevator.Controller.recover between floors; driving down")
		c.drv.SetMotorDirection(driver.MotorDown)
		ticker := time.NewTicker(recoveryPoll)
		defer ticker.Stop()
		for f == driver.UnknownFloor {
			select {
			case <-ctx.Done():
				return false
			case <-ticker.C:
				f = c.drv.FloorSensor()
			}
		}
		c.drv.SetMotorDirection(driver.MotorStop)
	}
	c.drv.SetDoorLamp(false)
	c.drv.SetStopLamp(false)
	c.drv.SetFloorIndicator(f)
	c.mu.Lock()
	c.floor = f
	c.mu.Unlock()
	c.log.Info().Msgf("elevator.Controller.recover floor=%d", f)
	return true
}

func (c *Controller) start(o order) {
	c.mu.Lock()
	if c.phase == Halted {
		c.mu.Unlock()
		return
	}
	c.active = &o
	here := c.floor
	c.mu.Unlock()

	if !o.here {
		observability.RecordDispatch(c.node, o.key.Cabin)
	}
	target := o.key.Floor()
	c.log.Info().Msgf("elevator.Controller.start target=%d cabin=%v floor=%d", o.key.Target, o.key.Cabin, here)
	if target == here {
		c.openDoor(here, driver.MotorStop)
		return
	}
	dir := driver.MotorUp
	if target < here {
		dir = driver.MotorDown
	}
	c.move(dir)
}

func (c *Controller) move(dir driver.MotorDirection) {
	c.mu.Lock()
	c.dir = dir
	c.phase = phaseFor(dir)
	c.mu.Unlock()
	c.drv.SetMotorDirection(dir)
}

func (c *Controller) arrive(f int) {
	if f < 1 || f > c.floors {
		return
	}
	c.drv.SetFloorIndicator(f)
	c.mu.Lock()
	c.floor = f
	phase, dir, active := c.phase, c.dir, c.active
	cabinStop := c.cabin[f]
	c.mu.Unlock()

	if !phase.moving() || active == nil {
		return
	}
	stop := f == active.key.Floor() || cabinStop || c.pendingHall(f, dir)
	// never run past the shaft ends
	if (f == c.floors && dir == driver.MotorUp) || (f == 1 && dir == driver.MotorDown) {
		stop = true
	}
	if !stop {
		return
	}
	c.drv.SetMotorDirection(driver.MotorStop)
	c.openDoor(f, dir)
}

// openDoor stops at f and records every call this stop serves.
func (c *Controller) openDoor(f int, travel driver.MotorDirection) {
	c.mu.Lock()
	active := c.active
	c.phase = DoorOpen
	c.doorOpen = true
	cabinStop := c.cabin[f]
	c.cabin[f] = false
	c.mu.Unlock()

	c.drv.SetDoorLamp(true)
	c.resetDoorTimer()

	var served []int
	atTarget := active != nil && f == active.key.Floor()
	if atTarget && !active.key.Cabin {
		served = append(served, active.key.Target)
	}
	if !atTarget || active.key.Cabin {
		if travel != driver.MotorStop && c.pendingHall(f, travel) {
			served = append(served, int(travel)*f)
		}
	}

	c.mu.Lock()
	c.served = append(c.served, served...)
	c.mu.Unlock()

	if r := c.reporterOf(); r != nil && (cabinStop || (atTarget && active.key.Cabin && !active.here)) {
		r.CabinServed(f)
	}
	c.log.Info().Msgf("elevator.Controller.openDoor floor=%d served=%v", f, served)
}

func (c *Controller) closeDoor() {
	c.mu.Lock()
	if c.phase != DoorOpen {
		c.mu.Unlock()
		return
	}
	if c.obstruction {
		c.mu.Unlock()
		c.log.Debug().Msg("elevator.Controller.closeDoor obstructed; holding")
		c.resetDoorTimer()
		return
	}
	c.doorOpen = false
	served := c.served
	c.served = nil
	active, floor := c.active, c.floor
	c.mu.Unlock()

	c.drv.SetDoorLamp(false)
	if r := c.reporterOf(); r != nil {
		for _, t := range served {
			r.SignalJobComplete(t)
		}
	}

	if active != nil && active.key.Floor() != floor {
		dir := driver.MotorUp
		if active.key.Floor() < floor {
			dir = driver.MotorDown
		}
		c.move(dir)
		return
	}
	c.enterIdle()
}

// enterIdle frees the car and re-prices the remaining bids from the new
// resting floor.
func (c *Controller) enterIdle() {
	c.mu.Lock()
	c.phase = Idle
	c.dir = driver.MotorStop
	c.active = nil
	floor := c.floor
	c.mu.Unlock()

	c.busy.Store(false)
	c.log.Info().Msgf("elevator.Controller.enterIdle floor=%d", floor)
	if r := c.reporterOf(); r != nil {
		r.RecalculateCosts()
	}
}

// halt is terminal: the car stays busy until the process restarts.
func (c *Controller) halt() {
	c.busy.Store(true)
	c.drv.SetMotorDirection(driver.MotorStop)
	c.drv.SetStopLamp(true)
	c.stopDoorTimer()
	c.mu.Lock()
	c.phase = Halted
	c.dir = driver.MotorStop
	c.mu.Unlock()
	c.log.Error().Msg("elevator.Controller.halt stop signal; car halted")
}

func (c *Controller) pendingHall(f int, dir driver.MotorDirection) bool {
	if c.queue == nil || dir == driver.MotorStop {
		return false
	}
	return c.queue.Has(jobs.Hall(int(dir) * f))
}

func (c *Controller) resetDoorTimer() {
	c.stopDoorTimer()
	c.doorTimer = time.NewTimer(c.dwell)
}

func (c *Controller) stopDoorTimer() {
	if c.doorTimer != nil {
		c.doorTimer.Stop()
		c.doorTimer = nil
	}
}

func (c *Controller) reporterOf() Reporter {
	if b := c.reporter.Load(); b != nil {
		return b.r
	}
	return nil
}
