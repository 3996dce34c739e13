// Package notification delivers operator alerts (fills, failed exits, status
// reports) to Telegram, a webhook, or the log.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"sort"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is a notification to be sent.
type Alert struct {
	Level   AlertLevel        `json:"level"`
	Symbol  string            `json:"symbol,omitempty"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// sortedFields returns field keys in a stable order for rendering.
func (a Alert) sortedFields() []string {
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Notifier is implemented by every alert backend.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	level := slog.LevelInfo
	switch alert.Level {
	case AlertWarning:
		level = slog.LevelWarn
	case AlertCritical:
		level = slog.LevelError
	}
	attrs := []any{slog.String("alert_level", string(alert.Level)), slog.String("title", alert.Title)}
	if alert.Symbol != "" {
		attrs = append(attrs, slog.String("symbol", alert.Symbol))
	}
	for _, k := range alert.sortedFields() {
		attrs = append(attrs, slog.String(k, alert.Fields[k]))
	}
	slog.Log(ctx, level, alert.Message, attrs...)
	return nil
}

// Multi fans an alert out to several notifiers. Every backend is tried; the
// returned error joins all failures.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notify sends alert and logs delivery failures instead of returning them.
func Notify(ctx context.Context, n Notifier, alert Alert) {
	if n == nil {
		return
	}
	if err := n.Send(ctx, alert); err != nil {
		slog.Warn("alert delivery failed",
			slog.String("title", alert.Title),
			slog.String("error", err.Error()))
	}
}
