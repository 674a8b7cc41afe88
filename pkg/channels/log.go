package channels

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/alerts"
)

// LogHandler appends alerts to a structured log file.
type LogHandler struct {
	logger zerolog.Logger
	file   *os.File
}

// NewLogHandler opens (or creates) the alert log file for appending.
func NewLogHandler(path string) (*LogHandler, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening alert log %s: %w", path, err)
	}
	return &LogHandler{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	}, nil
}

// Name implements Handler.
func (h *LogHandler) Name() string {
	return "log"
}

// Dispatch implements Handler.
func (h *LogHandler) Dispatch(_ context.Context, alert alerts.Alert) error {
	h.logger.Log().
		Str("alert", alert.AlertCode.Name).
		Str("severity", string(alert.Severity)).
		Str("parent", alert.ParentID).
		Str("origin", alert.OriginID).
		Float64("at", alert.Timestamp).
		Msg(alert.Message)
	return nil
}

// Close releases the log file.
func (h *LogHandler) Close() error {
	return h.file.Close()
}

// ConsoleHandler prints alerts to stdout. It is enabled by the
// console-alerts flag, mainly for local runs.
type ConsoleHandler struct{}

// Name implements Handler.
func (ConsoleHandler) Name() string {
	return "console"
}

// Dispatch implements Handler.
func (ConsoleHandler) Dispatch(_ context.Context, alert alerts.Alert) error {
	_, err := fmt.Printf("[%s] %s %s: %s\n", alert.Severity, alert.ParentID, alert.AlertCode.Name, alert.Message)
	return err
}
