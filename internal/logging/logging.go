// Package logging builds the component loggers used across the organizer.
//
// Every component logs through a *log.Logger whose prefix names it, e.g.
// "[sync] ". Output goes to stderr and, when a file is configured, to a
// size-rotated log file as well.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the shared log output.
type Options struct {
	// File is the log file path. Empty disables file output.
	File string

	// MaxSizeMB rotates the file when it reaches this size.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept.
	MaxBackups int

	// Quiet drops stderr output, keeping only the file.
	Quiet bool
}

// Factory hands out component loggers that share one output.
type Factory struct {
	out  io.Writer
	file *lumberjack.Logger

	mu      sync.Mutex
	loggers map[string]*log.Logger
}

// New creates a factory for opts.
func New(opts Options) (*Factory, error) {
	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, os.Stderr)
	}

	f := &Factory{loggers: make(map[string]*log.Logger)}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, err
		}
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		backups := opts.MaxBackups
		if backups <= 0 {
			backups = 3
		}
		f.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: backups,
			Compress:   true,
		}
		writers = append(writers, f.file)
	}

	switch len(writers) {
	case 0:
		f.out = io.Discard
	case 1:
		f.out = writers[0]
	default:
		f.out = io.MultiWriter(writers...)
	}
	return f, nil
}

// Discard returns a factory whose loggers write nowhere.
func Discard() *Factory {
	return &Factory{out: io.Discard, loggers: make(map[string]*log.Logger)}
}

// Logger returns the logger for component, prefixed "[component] ".
func (f *Factory) Logger(component string) *log.Logger {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.loggers[component]; ok {
		return l
	}
	l := log.New(f.out, "["+component+"] ", log.LstdFlags)
	f.loggers[component] = l
	return l
}

// Writer returns the shared output.
func (f *Factory) Writer() io.Writer {
	return f.out
}

// Close closes the log file, if any.
func (f *Factory) Close() error {
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}
