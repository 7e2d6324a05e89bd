package rollwin

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/rollwin/core"
	"github.com/hupe1980/rollwin/internal/loader"
)

// Logger wraps slog.Logger with rollwin-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithVariant adds a variant field to the logger.
func (l *Logger) WithVariant(variant string) *Logger {
	return &Logger{
		Logger: l.Logger.With("variant", variant),
	}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", name),
	}
}

// LogFetch logs one record-store call. Range-level failures are reported by
// the loader, so every outcome here is debug output.
func (l *Logger) LogFetch(ctx context.Context, variant string, requested int, elapsed time.Duration, err error) {
	switch {
	case err == nil:
		l.DebugContext(ctx, "fetch completed",
			"variant", variant,
			"requested", requested,
			"elapsed", elapsed,
		)
	case loader.IsCancellation(err):
		l.DebugContext(ctx, "fetch cancelled",
			"variant", variant,
			"requested", requested,
		)
	default:
		l.DebugContext(ctx, "fetch failed",
			"variant", variant,
			"requested", requested,
			"elapsed", elapsed,
			"error", err,
		)
	}
}

// LogEviction logs an eviction pass that removed entries.
func (l *Logger) LogEviction(ctx context.Context, variant string, removed, remaining int) {
	l.DebugContext(ctx, "eviction completed",
		"variant", variant,
		"removed", removed,
		"remaining", remaining,
	)
}

// LogWindows logs a change of the planned windows.
func (l *Logger) LogWindows(ctx context.Context, variant string, center int, velocity float64, render, safety, background core.Range) {
	l.DebugContext(ctx, "windows updated",
		"variant", variant,
		"center", center,
		"velocity", velocity,
		"render", render.String(),
		"safety", safety.String(),
		"background", background.String(),
	)
}

// LogRunway logs a velocity runway.
func (l *Logger) LogRunway(ctx context.Context, variant string, center int, velocity float64, r core.Range) {
	direction := "forward"
	if core.Direction(velocity) < 0 {
		direction = "backward"
	}
	l.InfoContext(ctx, "runway prefetch",
		"variant", variant,
		"center", center,
		"velocity", velocity,
		"direction", direction,
		"range", r.String(),
		"count", r.Len(),
	)
}
