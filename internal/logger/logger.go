package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error
	File      string // log file path; empty disables file output
	Console   bool   // write to stderr
	Pretty    bool   // human readable console format
	Redaction bool   // mask API keys and bearer tokens
	MaxSizeMB int    // rotate the file past this size; 0 disables rotation
	Backups   int    // rotated files to keep
}

// DefaultConfig returns the logger configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSizeMB: 10,
		Backups:   3,
	}
}

// Logger owns the zerolog logger and the file behind it.
type Logger struct {
	logger zerolog.Logger
	closer io.Closer
}

// New builds a logger from cfg and installs it as log.Logger.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	if cfg.Console {
		var console io.Writer = os.Stderr
		if cfg.Pretty {
			console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		}
		writers = append(writers, console)
	}

	var closer io.Closer
	if cfg.File != "" {
		fw, err := NewRotatingWriter(cfg.File, cfg.MaxSizeMB, cfg.Backups)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		closer = fw
		writers = append(writers, fw)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	if cfg.Redaction {
		writer = NewRedactor().Wrap(writer)
	}

	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	log.Logger = logger

	return &Logger{logger: logger, closer: closer}, nil
}

// Zerolog returns the configured logger for injection into components.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
