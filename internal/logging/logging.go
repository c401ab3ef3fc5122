// Package logging configures the process-wide zerolog logger used across
// the memory-bridge subsystem and the memctl binary.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. Init must be called once at
// process start before any component logs.
var Logger zerolog.Logger

// Level is a string log level accepted from config/flags.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls logger construction.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
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
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the owning component, e.g.
// "outbox", "retrieval", "bridge".
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithAgent returns a child logger scoped to one (agentID, endpoint) pair,
// the unit C2/C4 are memoised by.
func WithAgent(l zerolog.Logger, agentID, endpoint string) zerolog.Logger {
	return l.With().Str("agent_id", agentID).Str("endpoint", endpoint).Logger()
}
