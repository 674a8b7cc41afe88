// Package log configures the process-wide zerolog root and derives the
// child loggers components stamp their records with.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the root logger. Components log through children derived
// with WithComponent rather than through the root directly.
var Logger zerolog.Logger

// Config holds logging configuration.
type Config struct {
	Level      string
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the root logger. An unknown level name falls back
// to info.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent derives a child logger carrying the component name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// ForChain stamps a component logger with the chain it serves.
func ForChain(parent zerolog.Logger, chain string) zerolog.Logger {
	return parent.With().Str("chain", chain).Logger()
}

// ForEntity stamps a component logger with the entity it observes.
func ForEntity(parent zerolog.Logger, entityID string) zerolog.Logger {
	return parent.With().Str("entity_id", entityID).Logger()
}
