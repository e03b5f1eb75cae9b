package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/liftctl/internal/jobs"
	"github.com/danmuck/liftctl/internal/observability"
	"github.com/rs/zerolog"
)

var ErrMissingDeps = errors.New("dispatch: registry, car and announcer are required")

const (
	DefaultBusyPoll = 100 * time.Millisecond
	minSleep        = time.Millisecond
)

// Car is the dispatch gate of the local elevator.
type Car interface {
	Busy() bool
	// TryDispatch runs inside the registry claim and must not block or call
	// back into the registry.
	TryDispatch(e jobs.Entry) bool
}

// Announcer broadcasts a claim.
type Announcer interface {
	SignalTakeJob(target int)
}

type Config struct {
	// Node labels metrics.
	Node      string
	Registry  *jobs.Registry
	Car       Car
	Announcer Announcer
	// BusyPoll bounds the wait while the car is busy.
	BusyPoll time.Duration
	Logger   zerolog.Logger
}

// Dispatcher waits for the earliest registry deadline and hands that job to
// the car once it expires.
type Dispatcher struct {
	node     string
	reg      *jobs.Registry
	car      Car
	ann      Announcer
	busyPoll time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// New requires a registry, car and announcer. BusyPoll defaults to
// DefaultBusyPoll.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Registry == nil || cfg.Car == nil || cfg.Announcer == nil {
		return nil, ErrMissingDeps
	}
	if cfg.BusyPoll <= 0 {
		cfg.BusyPoll = DefaultBusyPoll
	}
	return &Dispatcher{
		node:     cfg.Node,
		reg:      cfg.Registry,
		car:      cfg.Car,
		ann:      cfg.Announcer,
		busyPoll: cfg.BusyPoll,
		log:      cfg.Logger,
		now:      time.Now,
	}, nil
}

// Run loops until ctx is done. Any registry mutation interrupts the current
// wait and forces the minimum to be re-chosen.
func (d *Dispatcher) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if d.car.Busy() {
			d.wait(ctx, d.busyPoll)
			continue
		}
		next, ok := d.reg.Min()
		if !ok {
			d.wait(ctx, 0)
			continue
		}
		sleep := next.Remaining(d.now())
		if sleep < minSleep {
			sleep = minSleep
		}
		if !d.wait(ctx, sleep) {
			continue
		}
		d.fire(next)
	}
	return nil
}

// fire claims next if it is still the minimum and the car takes it.
func (d *Dispatcher) fire(next jobs.Entry) {
	claimed, ok := d.reg.Claim(next, d.car.TryDispatch)
	if !ok {
		d.log.Debug().Msgf("dispatch.Dispatcher.fire skipped target=%d cabin=%v", next.Target, next.Cabin)
		return
	}
	d.log.Info().Msgf("dispatch.Dispatcher.fire target=%d cabin=%v delay=%s", claimed.Target, claimed.Cabin, claimed.Delay)
	if claimed.Cabin {
		return
	}
	if claimed.Taken {
		// the claimant never completed it
		d.log.Warn().Msgf("dispatch.Dispatcher.fire takeover target=%d", claimed.Target)
		observability.RecordTakeover(d.node)
	}
	d.ann.SignalTakeJob(claimed.Target)
}

// wait blocks for d (forever when d is 0), the registry wake signal, or ctx.
// It reports true only when the full duration elapsed.
func (d *Dispatcher) wait(ctx context.Context, dur time.Duration) bool {
	var expired <-chan time.Time
	if dur > 0 {
		t := time.NewTimer(dur)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-ctx.Done():
		return false
	case <-d.reg.Wake():
		return false
	case <-expired:
		return true
	}
}
