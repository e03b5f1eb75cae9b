package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/liftctl/internal/driver"
	"github.com/danmuck/liftctl/internal/node"
	"github.com/pelletier/go-toml/v2"
)

const (
	KindSim    = "sim"
	KindElevio = "elevio"
)

// Template renders a default node config for the given driver kind.
func Template(kind string) (string, error) {
	cfg := node.DefaultConfig()
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindSim:
		cfg.Driver.Kind = driver.KindSim
		cfg.Keypad = true
		cfg.AdminListenAddr = "127.0.0.1:7020"
	case KindElevio:
		cfg.Driver.Kind = driver.KindElevio
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	b, err := toml.Marshal(FromNodeConfig(cfg))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteTemplate writes the template for kind to path, refusing to replace an
// existing file unless overwrite is set.
func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
