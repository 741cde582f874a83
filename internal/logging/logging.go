// Package logging provides the engine's structured logger: a zerolog
// wrapper with level/format/output configuration and component-scoped
// child loggers, used for the lifecycle and durability events the engine
// surfaces (open, close, checkpoint, segment rotation, recovery summary,
// durability failures).
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is the minimum severity a Logger emits.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures New.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// New constructs a zerolog.Logger per cfg. JSONOutput selects structured
// JSON records (for production/log aggregation); otherwise a
// human-readable console writer is used.
func New(cfg Config) zerolog.Logger {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if !cfg.JSONOutput {
		return zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagging every record with
// component, used to scope logs to one of the engine's subsystems (wal,
// manifest, recovery, validator, ...).
func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}

// WithDatabase returns a child logger tagging every record with the
// engine's database id.
func WithDatabase(l zerolog.Logger, databaseID string) zerolog.Logger {
	return l.With().Str("database_id", databaseID).Logger()
}
