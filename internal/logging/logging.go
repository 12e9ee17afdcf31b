// Package logging provides the single process-wide slog handler construction
// used by every other package in this module.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu      sync.Mutex
	current *slog.Logger
)

// Options configures the process logger.
type Options struct {
	Level  slog.Level
	Writer io.Writer
	JSON   bool
}

// LevelFromString parses OWL_LOG_LEVEL-style values, defaulting to Info for
// anything unrecognized rather than failing startup over a typo.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the process-wide logger, constructing it on first use with
// text output at Info level.
func Default() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current = New(Options{Level: slog.LevelInfo, Writer: os.Stderr})
	}
	return current
}

// New builds a standalone logger from Options without touching the
// process-wide default; callers that want the default updated should pass
// the result to SetDefault.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

// SetDefault replaces the process-wide logger, used once at startup after
// flags/env have been parsed.
func SetDefault(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	current = l
}

// WithBuildID returns a logger annotated with a build correlation ID, threaded
// through every log line emitted during one builder.Build invocation.
func WithBuildID(l *slog.Logger, buildID string) *slog.Logger {
	return l.With("build_id", buildID)
}
