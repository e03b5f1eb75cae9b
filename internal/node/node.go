package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/liftctl/internal/admin"
	"github.com/danmuck/liftctl/internal/arbiter"
	"github.com/danmuck/liftctl/internal/bus"
	"github.com/danmuck/liftctl/internal/dispatch"
	"github.com/danmuck/liftctl/internal/driver"
	"github.com/danmuck/liftctl/internal/elevator"
	"github.com/danmuck/liftctl/internal/jobs"
	"github.com/danmuck/liftctl/internal/keypad"
	"github.com/danmuck/liftctl/internal/observability"
	"github.com/rs/zerolog"
)

var (
	_ admin.Backend = (*Node)(nil)
	_ keypad.Target = (*Node)(nil)
)

// Option overrides a collaborator, mostly for tests.
type Option func(*Node)

// WithBus replaces the UDP transport.
func WithBus(b bus.Bus) Option {
	return func(n *Node) { n.bus = b }
}

// WithDriver replaces the configured driver. sim may be nil.
func WithDriver(d driver.Driver, sim *driver.Sim) Option {
	return func(n *Node) {
		n.drv = d
		n.sim = sim
	}
}

// Node owns every shared object of one car: registry, controller, handler
// and dispatcher, plus the driver and bus they talk through.
type Node struct {
	cfg Config
	log zerolog.Logger

	reg     *jobs.Registry
	ctrl    *elevator.Controller
	handler *arbiter.Handler
	disp    *dispatch.Dispatcher

	drv   driver.Driver
	sim   *driver.Sim
	bus   bus.Bus
	admin *admin.Server

	closers []io.Closer
}

// New validates cfg and builds every component of the node. The driver and
// bus are opened from cfg unless an Option supplies them.
func New(cfg Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ID = strings.TrimSpace(cfg.ID)
	observability.RegisterMetrics()

	n := &Node{
		cfg: cfg,
		log: observability.Component(cfg.ID, "node"),
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.drv == nil {
		dcfg := cfg.Driver
		dcfg.Floors = cfg.Floors
		drv, sim, err := driver.Open(dcfg, observability.Component(cfg.ID, "driver"))
		if err != nil {
			return nil, fmt.Errorf("node: open driver: %w", err)
		}
		n.drv, n.sim = drv, sim
		if c, ok := drv.(io.Closer); ok {
			n.closers = append(n.closers, c)
		}
	}
	if n.bus == nil {
		u, err := bus.NewUDP(bus.UDPConfig{
			Node:          cfg.ID,
			ListenAddr:    cfg.Bus.Addr,
			BroadcastAddr: cfg.Bus.BroadcastAddr,
			Redundancy:    cfg.Bus.Redundancy,
		}, observability.Component(cfg.ID, "bus"))
		if err != nil {
			n.close()
			return nil, fmt.Errorf("node: open bus: %w", err)
		}
		n.bus = u
		n.closers = append(n.closers, u)
	}

	n.reg = jobs.NewRegistry(jobs.Options{
		Logger:   observability.Component(cfg.ID, "jobs"),
		OnChange: func(pending int) { observability.SetPendingJobs(cfg.ID, pending) },
	})

	ctrl, err := elevator.New(elevator.Config{
		Node:      cfg.ID,
		Floors:    cfg.Floors,
		DoorDwell: cfg.DoorDwell,
		Driver:    n.drv,
		Pending:   n.reg,
		Logger:    observability.Component(cfg.ID, "elevator"),
	})
	if err != nil {
		n.close()
		return nil, err
	}
	n.ctrl = ctrl

	handler, err := arbiter.New(arbiter.Config{
		Node:     cfg.ID,
		Floors:   cfg.Floors,
		Costs:    cfg.Costs,
		Registry: n.reg,
		Car:      ctrl,
		Lamps:    n.drv,
		Bus:      n.bus,
		Logger:   observability.Component(cfg.ID, "arbiter"),
	})
	if err != nil {
		n.close()
		return nil, err
	}
	n.handler = handler
	ctrl.SetReporter(handler)

	disp, err := dispatch.New(dispatch.Config{
		Node:      cfg.ID,
		Registry:  n.reg,
		Car:       ctrl,
		Announcer: handler,
		Logger:    observability.Component(cfg.ID, "dispatch"),
	})
	if err != nil {
		n.close()
		return nil, err
	}
	n.disp = disp

	if strings.TrimSpace(cfg.AdminListenAddr) != "" {
		n.admin = admin.New(n, cfg.CorsOrigins, observability.Component(cfg.ID, "admin"))
	}
	return n, nil
}

// Run starts every loop of the node and blocks until ctx is done or one of
// them fails. The motor is stopped before it returns.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer n.close()
	defer n.drv.SetMotorDirection(driver.MotorStop)

	buttons := make(chan driver.ButtonEvent, 16)
	floors := make(chan int, 4)
	stop := make(chan bool, 1)
	obstruction := make(chan bool, 1)

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	if n.sim != nil {
		spawn("sim", func(ctx context.Context) error { n.sim.Run(ctx); return nil })
	}
	spawn("poller", func(ctx context.Context) error {
		driver.NewPoller(n.drv, n.cfg.Floors, n.cfg.PollRate).Run(ctx, driver.Events{
			Buttons:     buttons,
			Floors:      floors,
			Stop:        stop,
			Obstruction: obstruction,
		})
		return nil
	})
	spawn("elevator", func(ctx context.Context) error {
		return n.ctrl.Run(ctx, elevator.Inputs{Floors: floors, Stop: stop, Obstruction: obstruction})
	})
	spawn("dispatch", n.disp.Run)
	spawn("bus", func(ctx context.Context) error { return n.bus.Listen(ctx, n.handler.HandleMessage) })
	spawn("buttons", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-buttons:
				n.press(ev)
			}
		}
	})
	if n.cfg.Keypad {
		spawn("keypad", func(ctx context.Context) error {
			err := keypad.Run(ctx, n.cfg.Floors, n, os.Stdout, observability.Component(n.cfg.ID, "keypad"))
			if errors.Is(err, keypad.ErrQuit) {
				cancel()
				return nil
			}
			return err
		})
	}
	if n.admin != nil {
		spawn("admin", func(ctx context.Context) error { return n.admin.Serve(ctx, n.cfg.AdminListenAddr) })
	}

	n.log.Info().Msgf("node.Node.Run id=%s floors=%d driver=%s", n.cfg.ID, n.cfg.Floors, n.driverKind())
	err := n.serve(ctx, errCh)
	cancel()
	wg.Wait()
	n.log.Info().Msg("node.Node.Run shutdown")
	return err
}

func (n *Node) serve(ctx context.Context, errCh <-chan error) error {
	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			n.log.Error().Err(err).Msg("node.Node.serve loop failed")
			return err
		case <-ticker.C:
			s := n.ctrl.Snapshot()
			n.log.Info().Msgf(
				"node.Node.heartbeat id=%s floor=%d phase=%s busy=%v pending=%d",
				n.cfg.ID,
				s.Floor,
				s.Phase,
				s.Busy,
				n.reg.Len(),
			)
		}
	}
}

func (n *Node) press(ev driver.ButtonEvent) {
	n.log.Debug().Msgf("node.Node.press kind=%s floor=%d", ev.Kind, ev.Floor)
	if ev.Kind == driver.Cab {
		n.handler.CabinCommand(ev.Floor)
		return
	}
	n.handler.SendRequest(ev.Target())
}

// Press feeds a button press in. With the simulator it goes through the
// simulated panel so the poller sees it like hardware.
func (n *Node) Press(ev driver.ButtonEvent) {
	if n.sim != nil {
		n.sim.Press(ev.Kind, ev.Floor)
		return
	}
	n.press(ev)
}

// ToggleObstruction flips the simulated obstruction switch.
func (n *Node) ToggleObstruction() (bool, bool) {
	if n.sim == nil {
		return false, false
	}
	return n.sim.ToggleObstruction(), true
}

// PressStop latches the simulated stop button.
func (n *Node) PressStop() bool {
	if n.sim == nil {
		return false
	}
	n.sim.SetStop(true)
	return true
}

func (n *Node) NodeID() string { return n.cfg.ID }

// Jobs lists pending registry entries in dispatch order.
func (n *Node) Jobs() []jobs.Entry { return n.reg.Snapshot() }

func (n *Node) State() elevator.State { return n.ctrl.Snapshot() }

// Call places a hall call for a signed target as if pressed on this node.
func (n *Node) Call(target int) error {
	if target == 0 || target > n.cfg.Floors || -target > n.cfg.Floors {
		return fmt.Errorf("%w: target %d", admin.ErrInvalidInput, target)
	}
	n.handler.SendRequest(target)
	return nil
}

// Cabin queues an in-car destination.
func (n *Node) Cabin(floor int) error {
	if floor < 1 || floor > n.cfg.Floors {
		return fmt.Errorf("%w: floor %d", admin.ErrInvalidInput, floor)
	}
	n.handler.CabinCommand(floor)
	return nil
}

func (n *Node) Registry() *jobs.Registry { return n.reg }

func (n *Node) Controller() *elevator.Controller { return n.ctrl }

func (n *Node) Handler() *arbiter.Handler { return n.handler }

func (n *Node) Sim() *driver.Sim { return n.sim }

func (n *Node) Config() Config { return n.cfg }

func (n *Node) driverKind() string {
	if n.sim != nil {
		return driver.KindSim
	}
	return n.cfg.Driver.Kind
}

func (n *Node) close() {
	for _, c := range n.closers {
		if err := c.Close(); err != nil {
			n.log.Warn().Err(err).Msg("node.Node.close")
		}
	}
	n.closers = nil
}
