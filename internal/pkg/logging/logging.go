// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/prn-tf/gridfs-storage/internal/config"
)

// New returns a logger honoring level, format, output and time format.
// The returned closer releases a log file opened for output; it is a no-op otherwise.
func New(cfg config.LoggingConfig) (zerolog.Logger, func() error, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var (
		out     io.Writer
		closeFn = func() error { return nil }
	)
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log output: %w", err)
		}
		out, closeFn = f, f.Close
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = zerolog.TimeFormatUnix
	}

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	} else {
		zerolog.TimeFieldFormat = timeFormat
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), closeFn, nil
}
