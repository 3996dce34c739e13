// Package scheduler runs periodic jobs next to the trading loop. Today that
// is a status report of open positions and P&L sent through the notifier.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"meanrev/internal/notification"
	"meanrev/internal/position"
)

// Status is a point-in-time view of one symbol's book.
type Status struct {
	Symbol    string           `json:"symbol"`
	Paper     bool             `json:"paper"`
	LastClose float64          `json:"last_close"`
	Summary   position.Summary `json:"summary"`
}

// StatusFunc returns the current status. It must be safe to call from the
// cron goroutine.
type StatusFunc func() Status

// Scheduler manages all cron tasks.
type Scheduler struct {
	cron     *cron.Cron
	status   StatusFunc
	notifier notification.Notifier
	ctx      context.Context
}

// New creates a Scheduler whose specs include a seconds field.
func New(ctx context.Context, status StatusFunc, n notification.Notifier) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		status:   status,
		notifier: n,
		ctx:      ctx,
	}
}

// RegisterReport schedules the status report. An empty spec disables it.
func (s *Scheduler) RegisterReport(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := s.cron.AddFunc(spec, s.ReportNow); err != nil {
		return fmt.Errorf("register status report: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// ReportNow sends the status report immediately.
func (s *Scheduler) ReportNow() {
	if s.ctx.Err() != nil {
		return
	}
	notification.Notify(s.ctx, s.notifier, StatusAlert(s.status()))
}

// StatusAlert renders a Status as an INFO alert.
func StatusAlert(st Status) notification.Alert {
	mode := "live"
	if st.Paper {
		mode = "paper"
	}
	sum := st.Summary
	return notification.Alert{
		Level:  notification.AlertInfo,
		Symbol: st.Symbol,
		Title:  "Status report",
		Message: fmt.Sprintf("%d open, %d entries, %d exits (%s)",
			sum.OpenPositions, sum.Entries, sum.Exits, mode),
		Fields: map[string]string{
			"last_close":     fmt.Sprintf("%.8g", st.LastClose),
			"realized_pnl":   fmt.Sprintf("%.4f", sum.RealizedPnL),
			"unrealized_pnl": fmt.Sprintf("%.4f", sum.UnrealizedPnL),
			"equity_change":  fmt.Sprintf("%.4f", sum.TotalPnL),
		},
	}
}
