// Package logging configures the zerolog logger shared by every package.
// Packages derive component loggers with NewLogger after Setup has run.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures Setup.
type Options struct {
	// Level is debug, info, warn (or warning) or error. Empty means info.
	Level string

	// Verbose forces debug level regardless of Level.
	Verbose bool

	// Pretty switches from JSON lines to the console writer.
	Pretty bool

	// Output receives the log stream. Nil means stderr.
	Output io.Writer
}

// ParseLevel maps a configured level name to a zerolog level. Unknown names
// return info together with an error.
func ParseLevel(name string) (zerolog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		name = "warn"
	}

	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// Setup installs the global logger and returns it. An unknown level falls
// back to info and is reported on the new logger.
func Setup(opts Options) zerolog.Logger {
	level, levelErr := ParseLevel(opts.Level)
	if opts.Verbose {
		level, levelErr = zerolog.DebugLevel, nil
	}
	zerolog.SetGlobalLevel(level)

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	if levelErr != nil {
		log.Warn().Err(levelErr).Msg("Falling back to info level")
	}
	return log.Logger
}

// NewLogger derives a logger tagged with the emitting component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithRunID tags every event of logger with the run identifier.
func WithRunID(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

// WithQuery tags every event of logger with a configured query name.
func WithQuery(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("query", name).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Response classification per attempt (status, class)
//   - Checkpoint housekeeping (keys cleared)
//   - Malformed rate limit headers
//
// Info: Normal operation events
//   - Login/logout success
//   - Probed total count
//   - Every fetched page (offset, limit, fetched, total)
//   - Run start/complete, deduplication counts
//
// Warn: Warning conditions that don't prevent operation
//   - Failed attempts that will be retried
//   - Low rate limit budget
//   - Checkpoint store errors (run continues without it)
//   - Record set shrank after the probe
//   - Session teardown failure
//
// Error: Error conditions requiring attention
//   - Authentication failed
//   - Page retrieval failed after retries
//   - Run aborted
//
// Context Fields:
//   - component: emitting package (session, pagination, retry, assetview)
//   - run_id: one report run
//   - query: configured query name
//   - offset, limit: page position
//   - total: probed record count
//   - attempt, max_attempts, backoff: retry progress
//   - status: HTTP status code
