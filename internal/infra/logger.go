// README: zerolog logger construction.
package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns the process-wide structured logger. Pretty console output
// is reserved for interactive terminals; everything else gets JSON lines.
func NewLogger(service string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	var logger zerolog.Logger
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.With().Timestamp().Str("service", service).Logger()
}
