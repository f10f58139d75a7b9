package observe

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the name of the rotated log file inside the log directory.
const LogFileName = "voxscribe.log"

// LogOptions configures [NewLogger].
type LogOptions struct {
	// Level gates records. Pass a *slog.LevelVar to change it at runtime.
	Level slog.Leveler

	// Dir, when non-empty, adds a size-rotated log file in Dir.
	Dir string

	// MaxSizeMB, MaxBackups and MaxAgeDays control rotation. Zero values
	// fall back to 20MB, 5 backups and 30 days.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Console receives a copy of every record. Default: os.Stderr.
	Console io.Writer
}

// NewLogger builds a text logger writing to the console and, when opts.Dir is
// set, to a rotated file. The returned closer releases the file and is never
// nil.
func NewLogger(opts LogOptions) (*slog.Logger, io.Closer) {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	var (
		out    io.Writer = console
		closer io.Closer = nopCloser{}
	)
	if opts.Dir != "" {
		lj := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, LogFileName),
			MaxSize:    orDefault(opts.MaxSizeMB, 20),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 30),
		}
		out = io.MultiWriter(console, lj)
		closer = lj
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: opts.Level})), closer
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
