package aviladb

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with aviladb-specific context.
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

// WithCollection adds a collection field to the logger.
func (l *Logger) WithCollection(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("collection", name),
	}
}

// WithPartition adds a partition field to the logger.
func (l *Logger) WithPartition(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("partition", id),
	}
}

// LogPut logs a document write.
func (l *Logger) LogPut(ctx context.Context, id, partition string, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "put failed",
			"id", id,
			"partition", partition,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "put completed",
			"id", id,
			"partition", partition,
			"bytes", size,
		)
	}
}

// LogGet logs a point read. A missing document is not an error.
func (l *Logger) LogGet(ctx context.Context, id string, err error) {
	if err != nil {
		l.DebugContext(ctx, "get failed",
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "get completed",
			"id", id,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, id string, err error) {
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

// LogBatchPut logs a batch write.
func (l *Logger) LogBatchPut(ctx context.Context, count, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "batch put completed with failures",
			"total", count,
			"failed", failed,
			"success", count-failed,
		)
	} else {
		l.InfoContext(ctx, "batch put completed",
			"count", count,
		)
	}
}

// LogSearch logs a vector search.
func (l *Logger) LogSearch(ctx context.Context, field string, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"field", field,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"field", field,
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogPlan logs the outcome of planning a query.
func (l *Logger) LogPlan(ctx context.Context, tables int, total float64, degraded bool, elapsed time.Duration, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "planning failed",
			"tables", tables,
			"error", err,
		)
	case degraded:
		l.WarnContext(ctx, "query planned with degraded join ordering",
			"tables", tables,
			"cost", total,
			"elapsed", elapsed,
		)
	default:
		l.DebugContext(ctx, "query planned",
			"tables", tables,
			"cost", total,
			"elapsed", elapsed,
		)
	}
}

// LogAnalyze logs a statistics refresh.
func (l *Logger) LogAnalyze(ctx context.Context, rows int64, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "analyze failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "analyze completed",
			"rows", rows,
			"elapsed", elapsed,
		)
	}
}
