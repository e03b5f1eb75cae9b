package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/liftctl/internal/arbiter"
	"github.com/danmuck/liftctl/internal/driver"
	"github.com/danmuck/liftctl/internal/node"
	"github.com/pelletier/go-toml/v2"
)

// NodeFile is the on-disk shape of a node config. Durations are Go
// duration strings; a non-zero _ms key overrides its string form.
type NodeFile struct {
	ID                string   `toml:"id"`
	Floors            int      `toml:"floors"`
	FloorCost         int      `toml:"floor_cost"`
	MovingPenalty     int      `toml:"moving_penalty"`
	RemotePenalty     int      `toml:"remote_penalty"`
	MillisPerCost     int64    `toml:"millis_per_cost"`
	TakeoverTimeout   string   `toml:"takeover_timeout"`
	TakeoverTimeoutMS int64    `toml:"takeover_timeout_ms,omitempty"`
	DoorDwell         string   `toml:"door_dwell"`
	DoorDwellMS       int64    `toml:"door_dwell_ms,omitempty"`
	Driver            string   `toml:"driver"`
	DriverAddr        string   `toml:"driver_addr"`
	SimTravelTime     string   `toml:"sim_travel_time"`
	SimStartFloor     int      `toml:"sim_start_floor"`
	PollRate          string   `toml:"poll_rate"`
	BusAddr           string   `toml:"bus_addr"`
	BusBroadcastAddr  string   `toml:"bus_broadcast_addr"`
	BusRedundancy     int      `toml:"bus_redundancy"`
	AdminListenAddr   string   `toml:"admin_listen_addr"`
	CorsOrigins       []string `toml:"cors_origins"`
	Keypad            bool     `toml:"keypad"`
	Heartbeat         string   `toml:"heartbeat"`
	HeartbeatMS       int64    `toml:"heartbeat_ms,omitempty"`
}

// FromNodeConfig renders cfg in file form.
func FromNodeConfig(cfg node.Config) NodeFile {
	return NodeFile{
		ID:               cfg.ID,
		Floors:           cfg.Floors,
		FloorCost:        cfg.Costs.FloorCost,
		MovingPenalty:    cfg.Costs.MovingPenalty,
		RemotePenalty:    cfg.Costs.RemotePenalty,
		MillisPerCost:    cfg.Costs.MillisPerCost.Milliseconds(),
		TakeoverTimeout:  cfg.Costs.TakeoverTimeout.String(),
		DoorDwell:        cfg.DoorDwell.String(),
		Driver:           cfg.Driver.Kind,
		DriverAddr:       cfg.Driver.Addr,
		SimTravelTime:    cfg.Driver.SimTravelTime.String(),
		SimStartFloor:    cfg.Driver.SimStartFloor,
		PollRate:         cfg.PollRate.String(),
		BusAddr:          cfg.Bus.Addr,
		BusBroadcastAddr: cfg.Bus.BroadcastAddr,
		BusRedundancy:    cfg.Bus.Redundancy,
		AdminListenAddr:  cfg.AdminListenAddr,
		CorsOrigins:      cfg.CorsOrigins,
		Keypad:           cfg.Keypad,
		Heartbeat:        cfg.HeartbeatInterval.String(),
	}
}

// NodeConfig converts the file into a runtime config.
func (f NodeFile) NodeConfig() (node.Config, error) {
	durations := []struct {
		key string
		raw string
		ms  int64
	}{
		{"takeover_timeout", f.TakeoverTimeout, f.TakeoverTimeoutMS},
		{"door_dwell", f.DoorDwell, f.DoorDwellMS},
		{"sim_travel_time", f.SimTravelTime, 0},
		{"poll_rate", f.PollRate, 0},
		{"heartbeat", f.Heartbeat, f.HeartbeatMS},
	}
	parsed := make(map[string]time.Duration, len(durations))
	for _, d := range durations {
		if d.ms != 0 {
			parsed[d.key] = time.Duration(d.ms) * time.Millisecond
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return node.Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		parsed[d.key] = v
	}
	return node.Config{
		ID:     strings.TrimSpace(f.ID),
		Floors: f.Floors,
		Costs: arbiter.Costs{
			FloorCost:       f.FloorCost,
			MovingPenalty:   f.MovingPenalty,
			RemotePenalty:   f.RemotePenalty,
			MillisPerCost:   time.Duration(f.MillisPerCost) * time.Millisecond,
			TakeoverTimeout: parsed["takeover_timeout"],
		},
		DoorDwell: parsed["door_dwell"],
		Driver: driver.Config{
			Kind:          strings.TrimSpace(f.Driver),
			Addr:          strings.TrimSpace(f.DriverAddr),
			Floors:        f.Floors,
			SimTravelTime: parsed["sim_travel_time"],
			SimStartFloor: f.SimStartFloor,
		},
		PollRate: parsed["poll_rate"],
		Bus: node.BusConfig{
			Addr:          strings.TrimSpace(f.BusAddr),
			BroadcastAddr: strings.TrimSpace(f.BusBroadcastAddr),
			Redundancy:    f.BusRedundancy,
		},
		AdminListenAddr:   strings.TrimSpace(f.AdminListenAddr),
		CorsOrigins:       f.CorsOrigins,
		Keypad:            f.Keypad,
		HeartbeatInterval: parsed["heartbeat"],
	}, nil
}

// LoadNodeFile reads a complete node config file. Every key must be present;
// cmd/liftctl applies partial files over defaults instead.
func LoadNodeFile(path string) (NodeFile, error) {
	var f NodeFile
	data, err := os.ReadFile(path)
	if err != nil {
		return NodeFile{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &f); err != nil {
		return NodeFile{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return f, nil
}

// ValidateNodeFile converts f and applies the node and transport checks.
func ValidateNodeFile(f NodeFile) error {
	cfg, err := f.NodeConfig()
	if err != nil {
		return fmt.Errorf("node config invalid: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("node config invalid: %w", err)
	}
	if cfg.Driver.Kind == driver.KindElevio && cfg.Driver.Addr == "" {
		return fmt.Errorf("node config invalid: driver_addr required for elevio")
	}
	if cfg.Bus.Redundancy < 1 {
		return fmt.Errorf("node config invalid: bus_redundancy must be at least 1")
	}
	return nil
}
