// Package logger configures the process-wide slog logger and carries a
// per-tick trace id through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey struct{}

// Init installs a JSON logger on stdout tagged with service as the default
// slog logger and returns it.
func Init(service string, level slog.Level) *slog.Logger {
	l := New(os.Stdout, service, level)
	slog.SetDefault(l)
	return l
}

// New builds a JSON logger writing to w without touching the default.
func New(w io.Writer, service string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With(slog.String("service", service))
}

// ParseLevel maps debug, info, warn and error (any case) to a level.
// Anything else is info.
func ParseLevel(s string) slog.Level {
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

// WithTraceID returns a context carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

// TraceID returns the trace id in ctx, or "".
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// GenerateTraceID names one tick: "{symbol}-{unixNano}".
func GenerateTraceID(symbol string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", symbol, ts.UnixNano())
}

// LogWithTrace returns the trace id as log args, nil when ctx has none.
//
//	log.Info("msg", logger.LogWithTrace(ctx)...)
func LogWithTrace(ctx context.Context) []any {
	if tid := TraceID(ctx); tid != "" {
		return []any{slog.String("trace_id", tid)}
	}
	return nil
}
