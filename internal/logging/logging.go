// Package logging gives every component a structured, leveled logger
// tagged with its own name, built on github.com/rs/zerolog (SPEC_FULL.md
// §2 ambient stack) instead of the teacher's bare fmt/log.Printf idiom:
// the indexer runs many concurrent scanners and HTTP handlers, and a
// "component" field per line is what makes interleaved output from a
// dozen goroutines grep-able.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05"
}

var output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}

var base = zerolog.New(output).With().Timestamp().Logger()

// Logger wraps a component-scoped zerolog.Logger with a small Printf-style
// surface, so call sites read like a single log line (as the teacher
// writes them) while the underlying record carries a "component" field
// and a level.
type Logger struct {
	z zerolog.Logger
}

// For returns a Logger tagged with component.
func For(component string) *Logger {
	return &Logger{z: base.With().Str("component", component).Logger()}
}

// Printf logs an info-level line, formatting like fmt.Sprintf.
func (l *Logger) Printf(format string, args ...any) {
	l.z.Info().Msgf(format, args...)
}
