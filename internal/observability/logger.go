package observability

import (
	"github.com/danmuck/liftctl/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the process logger once and tags it with app.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// Component derives a child logger for one node-local component.
func Component(node, component string) zerolog.Logger {
	return log.Logger.With().Str("node", node).Str("component", component).Logger()
}
