package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/liftctl/internal/node"
	"github.com/joho/godotenv"
)

const (
	envNodeID     = "LIFTCTL_NODE_ID"
	envConfigPath = "LIFTCTL_CONFIG"
)

type fileConfig struct {
	ID                string   `toml:"id"`
	Floors            int      `toml:"floors"`
	FloorCost         int      `toml:"floor_cost"`
	MovingPenalty     int      `toml:"moving_penalty"`
	RemotePenalty     int      `toml:"remote_penalty"`
	MillisPerCost     int64    `toml:"millis_per_cost"`
	TakeoverTimeout   string   `toml:"takeover_timeout"`
	TakeoverTimeoutMS int64    `toml:"takeover_timeout_ms"`
	DoorDwell         string   `toml:"door_dwell"`
	DoorDwellMS       int64    `toml:"door_dwell_ms"`
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
	HeartbeatMS       int64    `toml:"heartbeat_ms"`
}

// loadNodeConfig overlays the keys present in path onto the defaults.
func loadNodeConfig(path string) (node.Config, error) {
	cfg := node.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return node.Config{}, fmt.Errorf("load liftctl config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.ID = id
		}
	}
	if meta.IsDefined("floors") {
		cfg.Floors = raw.Floors
	}
	if meta.IsDefined("floor_cost") {
		cfg.Costs.FloorCost = raw.FloorCost
	}
	if meta.IsDefined("moving_penalty") {
		cfg.Costs.MovingPenalty = raw.MovingPenalty
	}
	if meta.IsDefined("remote_penalty") {
		cfg.Costs.RemotePenalty = raw.RemotePenalty
	}
	if meta.IsDefined("millis_per_cost") {
		cfg.Costs.MillisPerCost = time.Duration(raw.MillisPerCost) * time.Millisecond
	}

	durations := []struct {
		key string
		raw string
		ms  string
		rms int64
		dst *time.Duration
	}{
		{"takeover_timeout", raw.TakeoverTimeout, "takeover_timeout_ms", raw.TakeoverTimeoutMS, &cfg.Costs.TakeoverTimeout},
		{"door_dwell", raw.DoorDwell, "door_dwell_ms", raw.DoorDwellMS, &cfg.DoorDwell},
		{"heartbeat", raw.Heartbeat, "heartbeat_ms", raw.HeartbeatMS, &cfg.HeartbeatInterval},
		{"sim_travel_time", raw.SimTravelTime, "", 0, &cfg.Driver.SimTravelTime},
		{"poll_rate", raw.PollRate, "", 0, &cfg.PollRate},
	}
	for _, d := range durations {
		if meta.IsDefined(d.key) {
			v, err := time.ParseDuration(strings.TrimSpace(d.raw))
			if err != nil {
				return node.Config{}, fmt.Errorf("parse %s: %w", d.key, err)
			}
			*d.dst = v
		}
		if d.ms != "" && meta.IsDefined(d.ms) {
			*d.dst = time.Duration(d.rms) * time.Millisecond
		}
	}

	if meta.IsDefined("driver") {
		cfg.Driver.Kind = strings.TrimSpace(raw.Driver)
	}
	if meta.IsDefined("driver_addr") {
		cfg.Driver.Addr = strings.TrimSpace(raw.DriverAddr)
	}
	if meta.IsDefined("sim_start_floor") {
		cfg.Driver.SimStartFloor = raw.SimStartFloor
	}
	if meta.IsDefined("bus_addr") {
		cfg.Bus.Addr = strings.TrimSpace(raw.BusAddr)
	}
	if meta.IsDefined("bus_broadcast_addr") {
		cfg.Bus.BroadcastAddr = strings.TrimSpace(raw.BusBroadcastAddr)
	}
	if meta.IsDefined("bus_redundancy") {
		cfg.Bus.Redundancy = raw.BusRedundancy
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("keypad") {
		cfg.Keypad = raw.Keypad
	}

	return cfg, nil
}

// loadEnvFile applies path to the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func applyEnvOverrides(cfg *node.Config) {
	if id := strings.TrimSpace(os.Getenv(envNodeID)); id != "" {
		cfg.ID = id
	}
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
