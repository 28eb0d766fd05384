// Package logging configures the process-wide zerolog logger and the
// request tags attached to per-request log lines.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelTrace LogLevel = "trace"
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// Format selects the log encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Format is json (default) or console.
	Format Format

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Format == FormatConsole {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: request flow inside the gateway
//   - Handler start, page fetch and serialization timings
//   - Cache loader partition progress
//   - Forwarding cache hits and misses
//
// Info: normal operation events
//   - Completed requests and their duration
//   - Ledgers published by ETL
//   - Server startup/shutdown
//
// Warn: conditions that do not stop serving
//   - Requests slower than one second
//   - Upstream retries and failed forwards
//   - Redis errors (DOS guard and forwarding cache fail open)
//
// Error: conditions requiring attention
//   - Requests slower than ten seconds
//   - Handler panics and internal errors
//   - Database timeouts
//
// Context Fields:
//   - component: RPC, Performance, WebServer, Backend, ETL, Upstream, DOSGuard, CacheLoader
//   - tag: per-request tag from TagFactory
//   - method: RPC method
//   - client_ip: caller address
//   - seq: ledger sequence
//   - duration: request duration
