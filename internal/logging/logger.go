// Package logging configures the zerolog logger shared by every
// component of the simulator.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
	"github.com/rs/zerolog/log"
)

// Config controls how the shared logger is constructed.
type Config struct {
	Level      string `mapstructure:"level"`      // debug, info, warn, error, fatal
	Format     string `mapstructure:"format"`     // console, json
	Output     string `mapstructure:"output"`     // stdout, stderr, or a file path
	TimeFormat string `mapstructure:"timeFormat"`
	Caller     bool   `mapstructure:"caller"`
	Async      bool   `mapstructure:"async"` // wrap the writer in a diode
}

// DefaultConfig returns the defaults used when no logging section is
// configured: human-readable console output at info level.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
		Caller:     false,
		Async:      false,
	}
}

// New builds a zerolog.Logger from cfg and installs it as the package
// global (log.Logger) so every component can log via github.com/rs/zerolog/log.
func New(cfg Config) (zerolog.Logger, error) {
	zerolog.TimeFieldFormat = cfg.TimeFormat

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
			return zerolog.Logger{}, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("open log file %s: %w", cfg.Output, err)
		}
		output = f
	}

	if cfg.Async {
		output = diode.NewWriter(output, 1000, 10*time.Millisecond, func(missed int) {
			fmt.Fprintf(os.Stderr, "logger dropped %d messages\n", missed)
		})
	}

	var logger zerolog.Logger
	switch strings.ToLower(cfg.Format) {
	case "console", "":
		logger = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: cfg.TimeFormat})
	case "json":
		logger = zerolog.New(output)
	default:
		return zerolog.Logger{}, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}

	logger = logger.With().Timestamp().Logger().Level(level)
	if cfg.Caller {
		logger = logger.With().Caller().Logger()
	}

	log.Logger = logger
	return logger, nil
}
