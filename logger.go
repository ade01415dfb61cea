package knowcache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with knowcache-specific context.
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
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithQuery adds a query field to the logger.
func (l *Logger) WithQuery(q string) *Logger {
	return &Logger{
		Logger: l.Logger.With("query", q),
	}
}

// WithPath adds a path field to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With("count", count),
	}
}

// LogQuery logs a query operation.
func (l *Logger) LogQuery(ctx context.Context, term string, source Source, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"term", term,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"term", term,
			"source", string(source),
			"results", results,
		)
	}
}

// LogRebuild logs an index rebuild.
func (l *Logger) LogRebuild(ctx context.Context, records int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rebuild failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "rebuild completed",
			"records", records,
			"elapsed", elapsed,
		)
	}
}

// LogSave logs a record save.
func (l *Logger) LogSave(ctx context.Context, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "save failed",
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "record saved",
			"id", id,
		)
	}
}

// LogDetailLoad logs a detail load.
func (l *Logger) LogDetailLoad(ctx context.Context, id string, err error) {
	if err != nil {
		l.DebugContext(ctx, "detail load failed",
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "detail loaded",
			"id", id,
		)
	}
}
