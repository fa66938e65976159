// Package logging builds the writers and loggers the commands share.
// One-shot commands log to stderr; the daemon adds a rotating file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options shape the rotating log file. An empty File means stderr
// only.
type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a component logger in the form used across the codebase.
// A nil writer defaults to stderr.
func New(w io.Writer, component string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	return log.New(w, "["+component+"] ", log.LstdFlags)
}

// Writer builds the log destination: base plus a rotating file when
// opts.File is set. A nil base defaults to stderr. Closing the
// returned closer releases the file; it is a no-op when no file is
// configured.
func Writer(base io.Writer, opts Options) (io.Writer, io.Closer) {
	if base == nil {
		base = os.Stderr
	}
	if opts.File == "" {
		return base, nopCloser{}
	}
	rot := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	return io.MultiWriter(base, rot), rot
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
