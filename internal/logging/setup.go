package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the backend and sink of a Logger built by New.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text, json or zap
	// File enables a size-rotated log file instead of stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a Logger from opts. The returned closer releases the file sink
// and flushes zap buffers; it is never nil.
func New(opts Options) (Logger, io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = closerFunc(func() error { return nil })
	)
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		w, closer = lj, lj
	}
	return newWithWriter(opts, w, closer)
}

func newWithWriter(opts Options, w io.Writer, closer io.Closer) (Logger, io.Closer, error) {
	level := opts.Level
	if level == "" {
		level = "info"
	}

	switch opts.Format {
	case "", "text", "json":
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, nil, fmt.Errorf("log level %q: %w", level, err)
		}
		ho := &slog.HandlerOptions{Level: lvl}
		var h slog.Handler = slog.NewTextHandler(w, ho)
		if opts.Format == "json" {
			h = slog.NewJSONHandler(w, ho)
		}
		return NewSlogLogger(slog.New(h)), closer, nil

	case "zap":
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, nil, fmt.Errorf("log level %q: %w", level, err)
		}
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(w),
			lvl,
		)
		zl := NewZapLogger(zap.New(core))
		return zl, closerFunc(func() error {
			_ = zl.Sync()
			return closer.Close()
		}), nil

	default:
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
