// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level slog.Level
	// File, if set, receives a copy of every record. It is rotated by size
	// and rotated files are never deleted.
	File      string
	MaxSizeMB int
	Stderr    io.Writer
}

// Setup returns the root logger and a closer for the log file.
func Setup(opts Options) (*slog.Logger, io.Closer, error) {
	out := opts.Stderr
	if out == nil {
		out = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, err
		}
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: 0,
			MaxAge:     0,
			LocalTime:  true,
		}
		out = io.MultiWriter(out, lj)
		closer = lj
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: opts.Level})
	return slog.New(handler), closer, nil
}

// Component returns a child logger tagged with the component name.
func Component(log *slog.Logger, name string) *slog.Logger {
	return log.With("component", name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
