package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestNew_WritesServiceAndTrace(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "meanrev-test", slog.LevelInfo)

	ctx := WithTraceID(context.Background(), "BTC/USDT-1")
	l.Info("tick", LogWithTrace(ctx)...)
	l.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["service"] != "meanrev-test" || rec["trace_id"] != "BTC/USDT-1" || rec["msg"] != "tick" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}
	if attrs := LogWithTrace(ctx); attrs != nil {
		t.Errorf("expected nil attrs, got %v", attrs)
	}

	ctx = WithTraceID(ctx, "abc-123")
	if tid := TraceID(ctx); tid != "abc-123" {
		t.Errorf("expected abc-123, got %q", tid)
	}
	if attrs := LogWithTrace(ctx); len(attrs) != 1 {
		t.Errorf("expected one attr, got %v", attrs)
	}
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	tid := GenerateTraceID("DOGE/USDT", ts)
	want := "DOGE/USDT-1705314600123456789"
	if tid != want {
		t.Errorf("got %s, want %s", tid, want)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
