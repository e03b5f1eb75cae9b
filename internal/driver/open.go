package driver

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Open builds the configured driver. The returned Sim is non-nil only for
// the simulator and must be run by the caller.
func Open(cfg Config, logger zerolog.Logger) (Driver, *Sim, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", KindSim:
		sim, err := NewSim(cfg.Floors, cfg.SimTravelTime, cfg.SimStartFloor)
		if err != nil {
			return nil, nil, err
		}
		return sim, sim, nil
	case KindElevio:
		drv, err := DialElevio(cfg.Addr, cfg.Floors, logger)
		if err != nil {
			return nil, nil, err
		}
		return drv, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Kind)
	}
}
