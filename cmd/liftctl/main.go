package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/liftctl/internal/node"
	"github.com/danmuck/liftctl/internal/observability"
)

func main() {
	envFile := flag.String("env", ".env", "optional dotenv file applied before config")
	configPath := flag.String("config", "", "node config path (default $LIFTCTL_CONFIG or cmd/liftctl/config.toml)")
	id := flag.String("id", "", "node id override")
	flag.Parse()

	if err := loadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "liftctl: env file: %v\n", err)
		os.Exit(1)
	}
	logger := observability.InitLogger("liftctl")

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(envConfigPath))
	}
	if path == "" {
		path = "cmd/liftctl/config.toml"
	}

	cfg := node.DefaultConfig()
	if loaded, err := loadNodeConfig(path); err == nil {
		cfg = loaded
	} else if errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Msgf("liftctl config not found path=%q; using defaults", path)
	} else {
		logger.Error().Err(err).Msg("liftctl config")
		os.Exit(1)
	}
	applyEnvOverrides(&cfg)
	if v := strings.TrimSpace(*id); v != "" {
		cfg.ID = v
	}

	n, err := node.New(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("liftctl startup failed")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := n.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("liftctl stopped")
		stop()
		os.Exit(1)
	}
}
