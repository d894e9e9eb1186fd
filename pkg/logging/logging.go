// Package logging builds the zerolog logger handed to sessions and
// transports. It replaces process-wide debug switches with an explicit
// value created once and passed down.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the logger
type Options struct {
	// Level is the debug level, 0 disables logging. 1 logs errors and
	// warnings, 2 adds informational events, 3 and above log every
	// connect, negotiate and exchange step.
	Level int

	// Stdout sends human-readable output to standard output instead of
	// JSON to standard error
	Stdout bool

	// Output overrides the destination when set
	Output io.Writer
}

// ZerologLevel maps a debug level to a zerolog level
func ZerologLevel(level int) zerolog.Level {
	switch {
	case level <= 0:
		return zerolog.Disabled
	case level == 1:
		return zerolog.WarnLevel
	case level == 2:
		return zerolog.InfoLevel
	case level == 3:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// New builds a logger from opts. A zero Options yields a disabled logger.
func New(opts Options) zerolog.Logger {
	if opts.Level <= 0 {
		return zerolog.Nop()
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
		if opts.Stdout {
			out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		}
	}

	return zerolog.New(out).
		Level(ZerologLevel(opts.Level)).
		With().
		Timestamp().
		Str("component", "icapclient").
		Logger()
}
