// Package logger builds the zerolog logger shared by the API and the workers.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // console output for development
	Output io.Writer
}

// New creates a structured logger tagged with the service name.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "contexta").
		Logger()
}

// Component derives a sub-logger for one part of the system.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Audit starts a warn-level event for security-relevant decisions.
func Audit(l zerolog.Logger) *zerolog.Event {
	return l.Warn().Bool("audit", true)
}

// Nop discards everything. Used by tests and optional dependencies.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
