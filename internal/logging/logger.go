package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Console output goes to stderr so command output on
// stdout stays machine readable.
func New(level string, jsonOutput bool) zerolog.Logger {
	return NewWithWriter(os.Stderr, level, jsonOutput)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level string, jsonOutput bool) zerolog.Logger {
	var output io.Writer = w
	if !jsonOutput {
		output = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(output).With().Timestamp().Logger().Level(ParseLevel(level))
}

// ParseLevel maps a config level name onto zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
