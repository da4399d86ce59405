// Package logging configures the process-wide slog logger for the gateway.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Level names accepted in the config file's log_level field.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Configure installs the process-wide slog default logger. debug forces
// LevelDebug regardless of the configured level; an empty level means
// LevelInfo.
func Configure(level string, debug bool) error {
	if debug {
		level = LevelDebug
	}
	parsed, err := ParseLevel(level)
	if err != nil {
		return err
	}

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parsed})
	slog.SetDefault(slog.New(h))
	return nil
}

// ParseLevel maps a level name onto its slog level. Config validation uses
// it to reject a bad log_level at load time rather than at first use.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", LevelInfo:
		return slog.LevelInfo, nil
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelWarn:
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", level)
	}
}
