package node

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/liftctl/internal/arbiter"
	"github.com/danmuck/liftctl/internal/bus"
	"github.com/danmuck/liftctl/internal/driver"
	"github.com/danmuck/liftctl/internal/elevator"
)

var (
	ErrMissingID     = errors.New("node: id is required")
	ErrInvalidFloors = errors.New("node: floors must be at least 2")
	ErrInvalidCosts  = errors.New("node: cost parameters must not be negative")
	ErrInvalidTiming = errors.New("node: durations must be positive")
)

type BusConfig struct {
	Addr          string
	BroadcastAddr string
	Redundancy    int
}

// Config is everything one node process needs.
type Config struct {
	ID                string
	Floors            int
	Costs             arbiter.Costs
	DoorDwell         time.Duration
	Driver            driver.Config
	PollRate          time.Duration
	Bus               BusConfig
	AdminListenAddr   string
	CorsOrigins       []string
	Keypad            bool
	HeartbeatInterval time.Duration
}

// DefaultConfig is a four-floor simulator node with the standard bid costs.
func DefaultConfig() Config {
	return Config{
		ID:        "lift-1",
		Floors:    4,
		Costs:     arbiter.DefaultCosts(),
		DoorDwell: elevator.DefaultDoorDwell,
		Driver: driver.Config{
			Kind:          driver.KindSim,
			Addr:          "localhost:15657",
			SimTravelTime: 2 * time.Second,
		},
		PollRate: driver.DefaultPollRate,
		Bus: BusConfig{
			Addr:          bus.DefaultListenAddr,
			BroadcastAddr: bus.DefaultBroadcastAddr,
			Redundancy:    2,
		},
		AdminListenAddr:   "",
		CorsOrigins:       []string{"http://localhost:3000"},
		Keypad:            false,
		HeartbeatInterval: 10 * time.Second,
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrMissingID
	}
	if c.Floors < 2 {
		return fmt.Errorf("%w: %d", ErrInvalidFloors, c.Floors)
	}
	if c.Costs.FloorCost < 0 || c.Costs.MovingPenalty < 0 || c.Costs.RemotePenalty < 0 {
		return ErrInvalidCosts
	}
	if c.Costs.MillisPerCost <= 0 {
		return fmt.Errorf("%w: millis_per_cost", ErrInvalidTiming)
	}
	if c.Costs.TakeoverTimeout <= 0 {
		return fmt.Errorf("%w: takeover_timeout", ErrInvalidTiming)
	}
	if c.DoorDwell <= 0 {
		return fmt.Errorf("%w: door_dwell", ErrInvalidTiming)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat", ErrInvalidTiming)
	}
	// zero selects the package default for both
	if c.PollRate < 0 {
		return fmt.Errorf("%w: poll_rate", ErrInvalidTiming)
	}
	if t := c.Driver.SimTravelTime; t < 0 || (t > 0 && t < driver.MinSimTravelTime) {
		return fmt.Errorf("%w: sim_travel_time must be at least %s", ErrInvalidTiming, driver.MinSimTravelTime)
	}
	switch strings.ToLower(strings.TrimSpace(c.Driver.Kind)) {
	case "", driver.KindSim, driver.KindElevio:
	default:
		return fmt.Errorf("%w: %q", driver.ErrUnknownDriver, c.Driver.Kind)
	}
	return nil
}
