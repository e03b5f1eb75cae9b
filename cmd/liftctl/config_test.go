package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/liftctl/internal/node"
	"github.com/danmuck/liftctl/internal/testutil/testlog"
)

func TestLoadNodeConfigExample(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadNodeConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ID != "lift-1" || cfg.Floors != 4 {
		t.Fatalf("unexpected identity: id=%q floors=%d", cfg.ID, cfg.Floors)
	}
	if cfg.Costs.FloorCost != 5 || cfg.Costs.MovingPenalty != 2 || cfg.Costs.RemotePenalty != 2 {
		t.Fatalf("unexpected costs: %+v", cfg.Costs)
	}
	if cfg.Costs.MillisPerCost != 100*time.Millisecond || cfg.Costs.TakeoverTimeout != 15*time.Second {
		t.Fatalf("unexpected cost timing: %+v", cfg.Costs)
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Fatalf("unexpected heartbeat: %v", cfg.HeartbeatInterval)
	}
	if cfg.AdminListenAddr != "127.0.0.1:7020" || !cfg.Keypad {
		t.Fatalf("unexpected admin/keypad: %q %v", cfg.AdminListenAddr, cfg.Keypad)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("example config invalid: %v", err)
	}
}

func TestLoadNodeConfigPartialKeepsDefaults(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
id = "lift-7"
door_dwell_ms = 1500
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := loadNodeConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := node.DefaultConfig()
	if cfg.ID != "lift-7" || cfg.DoorDwell != 1500*time.Millisecond {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.Floors != def.Floors || cfg.Costs != def.Costs || cfg.Bus != def.Bus {
		t.Fatalf("unset keys must keep defaults: %+v", cfg)
	}
}

func TestLoadNodeConfigBadDuration(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`takeover_timeout = "forever"`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadNodeConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvFileAndOverrides(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	if err := loadEnvFile(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing env file must be ignored: %v", err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LIFTCTL_NODE_ID=lift-from-env\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv(envNodeID, "")
	os.Unsetenv(envNodeID)
	if err := loadEnvFile(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	cfg := node.DefaultConfig()
	applyEnvOverrides(&cfg)
	if cfg.ID != "lift-from-env" {
		t.Fatalf("expected id from env file, got %q", cfg.ID)
	}
}
