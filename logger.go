package boxtree

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with boxtree-specific context.
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
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{Logger: slog.New(handler)}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, id uint64, dimension int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"id", id,
			"dimension", dimension,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "insert completed",
			"id", id,
			"dimension", dimension,
		)
	}
}

// LogBatchInsert logs a batch insert operation.
func (l *Logger) LogBatchInsert(ctx context.Context, count, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "batch insert completed with failures",
			"total", count,
			"failed", failed,
			"success", count-failed,
		)
	} else {
		l.InfoContext(ctx, "batch insert completed",
			"count", count,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"id", id,
		)
	}
}

// LogSearch logs a box search operation.
func (l *Logger) LogSearch(ctx context.Context, predicate string, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"predicate", predicate,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"predicate", predicate,
			"results", results,
		)
	}
}

// LogNearest logs a nearest-neighbor search operation.
func (l *Logger) LogNearest(ctx context.Context, k, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "nearest search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "nearest search completed",
			"k", k,
			"results", results,
		)
	}
}

// LogFlush logs a flush operation.
func (l *Logger) LogFlush(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "flush completed")
	}
}

// LogBackup logs a backup or restore operation.
func (l *Logger) LogBackup(ctx context.Context, prefix string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "backup failed",
			"prefix", prefix,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "backup completed",
			"prefix", prefix,
		)
	}
}
