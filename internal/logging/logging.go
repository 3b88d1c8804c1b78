// Package logging builds the process logger: JSON lines on stdout, optionally
// mirrored to a size-rotated file.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation bounds the log file.
type Rotation struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// Options configure New.
type Options struct {
	Level    slog.Level
	File     string
	Rotation Rotation
	// Stdout disables terminal output when false and File is set.
	Stdout bool
	// Stderr sends terminal output to stderr, keeping stdout free for a
	// protocol stream.
	Stderr bool
}

// New returns a JSON logger and a closer for the rotated file, if any.
func New(opts Options) (*slog.Logger, io.Closer) {
	var writers []io.Writer
	if opts.Stdout || opts.File == "" {
		if opts.Stderr {
			writers = append(writers, os.Stderr)
		} else {
			writers = append(writers, os.Stdout)
		}
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.Rotation.MaxSizeMB,
			MaxBackups: opts.Rotation.MaxBackups,
			MaxAge:     opts.Rotation.MaxAgeDays,
			Compress:   opts.Rotation.Compress,
		}
		writers = append(writers, lj)
		closer = lj
	}

	logger := slog.New(slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: opts.Level,
	}))
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
