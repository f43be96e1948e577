// Package log provides the shared logging setup for simmer.
//
// Components never reach for a global logger: each one receives a
// *slog.Logger through its constructor and narrows it with
// logger.With("component", ...). Tests use NewNop or capture output
// with NewWithWriter.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger aliases *slog.Logger so constructors can name the dependency
// without defining a custom interface.
type Logger = *slog.Logger

// Config controls handler construction.
type Config struct {
	// Level is the minimum level emitted. Default: slog.LevelInfo.
	Level slog.Level

	// JSON switches output to the JSON handler. Text otherwise.
	JSON bool

	// AddSource attaches source locations to records.
	AddSource bool
}

// New creates a logger writing to stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger writing to w. Used by tests to capture
// output in a buffer.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop returns a logger that discards everything. Test use only;
// production callers should always configure a real handler.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
