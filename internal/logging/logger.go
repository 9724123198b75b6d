// Package logging builds the structured logger shared by every Taskly component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction.
type Config struct {
	// Level is a logrus level name (debug, info, warn, error). Default: info.
	Level string
	// Format is "text" or "json". Default: text.
	Format string
	// File, when set, receives a copy of every entry with size-based rotation.
	File string
	// MaxSizeMB is the rotation threshold for File.
	MaxSizeMB int
	// MaxBackups is how many rotated files to keep.
	MaxBackups int
	// Output overrides stderr. Used by tests.
	Output io.Writer
}

// New creates a logrus logger from cfg.
func New(cfg Config) (*logrus.Logger, error) {
	logger := logrus.New()

	level := logrus.InfoLevel
	if cfg.Level != "" {
		lvl, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = lvl
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "ts",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	var out io.Writer = os.Stderr
	if cfg.Output != nil {
		out = cfg.Output
	}
	if cfg.File != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		})
	}
	logger.SetOutput(out)

	return logger, nil
}

// Component returns an entry tagged with the component name. A nil logger
// falls back to the logrus standard logger.
func Component(logger logrus.FieldLogger, name string) logrus.FieldLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField("component", name)
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
