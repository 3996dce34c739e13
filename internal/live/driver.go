// Package live drives the strategy engine against a venue: it polls candles,
// evaluates one tick, pauses and repeats until its context is cancelled.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"meanrev/internal/exchange"
	"meanrev/internal/logger"
	"meanrev/internal/metrics"
	"meanrev/internal/model"
	"meanrev/internal/notification"
	"meanrev/internal/scheduler"
	"meanrev/internal/signal"
	"meanrev/internal/strategy"
)

var errPanic = errors.New("tick panicked")

// Config holds the loop parameters.
type Config struct {
	Symbol       string
	Timeframe    string // venue interval, e.g. "1m"
	Window       int    // candles fetched per tick
	PollInterval time.Duration
	RetryBackoff time.Duration
	OBFetchLimit int
	OBDepth      int
	DepthMaxAge  time.Duration // depth stream snapshots older than this are ignored
	Paper        bool
}

// Deps are the collaborators of a Driver. Client and Engine are required.
type Deps struct {
	Client   exchange.Client
	Engine   *strategy.Engine
	Depth    *exchange.DepthStream
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
	Notifier notification.Notifier
	Capture  chan<- model.Candle // closed candles are sent here for storage
}

// Driver is the live polling loop for one symbol.
type Driver struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	ticks       int
	lastCapture time.Time

	mu        sync.RWMutex
	lastClose float64
}

// New creates a Driver.
func New(cfg Config, deps Deps) *Driver {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Second
	}
	return &Driver{
		cfg:  cfg,
		deps: deps,
		log:  slog.Default().With(slog.String("component", "live"), slog.String("symbol", cfg.Symbol)),
	}
}

// Run ticks until ctx is cancelled (returns nil) or a fatal venue error
// occurs (returns it). Transient failures and panics inside a tick are
// logged and retried after the backoff.
func (d *Driver) Run(ctx context.Context) error {
	d.log.Info("live loop started",
		slog.Bool("paper", d.cfg.Paper),
		slog.String("timeframe", d.cfg.Timeframe),
		slog.Int("window", d.cfg.Window))

	for {
		err := d.safeTick(ctx)
		if ctx.Err() != nil {
			d.log.Info("live loop stopped")
			return nil
		}

		wait := d.cfg.PollInterval
		if err != nil {
			kind := errorKind(err)
			d.countError(kind)
			if kind == "fatal" {
				d.log.Error("fatal venue error, stopping", slog.String("error", err.Error()))
				notification.Notify(ctx, d.deps.Notifier, notification.Alert{
					Level:   notification.AlertCritical,
					Symbol:  d.cfg.Symbol,
					Title:   "Bot stopped",
					Message: err.Error(),
				})
				return err
			}
			d.log.Warn("tick failed, backing off",
				slog.String("kind", kind),
				slog.Duration("backoff", d.cfg.RetryBackoff),
				slog.String("error", err.Error()))
			wait = d.cfg.RetryBackoff
		}

		if !pause(ctx, wait) {
			d.log.Info("live loop stopped")
			return nil
		}
	}
}

// pause waits for d or until ctx is done. It reports whether the wait ran to
// completion.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (d *Driver) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("recovered panic in tick",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return d.Tick(ctx)
}

// Tick runs one evaluation: fetch the window, step the engine and publish
// the outcome. A fetch failure leaves the book untouched.
func (d *Driver) Tick(ctx context.Context) error {
	start := time.Now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(d.cfg.Symbol, start))

	window, err := d.deps.Client.FetchCandles(ctx, d.cfg.Symbol, d.cfg.Timeframe, d.cfg.Window)
	if err != nil {
		d.recordHealth(start, false)
		return fmt.Errorf("fetch candles: %w", err)
	}
	d.recordHealth(start, true)
	if len(window) == 0 {
		d.log.Warn("venue returned no candles", logger.LogWithTrace(ctx)...)
		return nil
	}
	last := window[len(window)-1]
	d.setLastClose(last.Close)
	d.capture(window)

	tick := model.Tick{Index: d.ticks, TS: last.TS}
	res, err := d.deps.Engine.Step(ctx, window, tick, signal.ImbalanceFunc(d.imbalance))
	if err != nil {
		return err
	}
	d.ticks++

	d.log.Debug("tick evaluated",
		append(logger.LogWithTrace(ctx),
			slog.String("reason", string(res.Decision.Reason)),
			slog.Float64("close", last.Close),
			slog.Float64("change_pct", res.Decision.Metrics.Change),
			slog.Float64("rsi", res.Decision.Metrics.RSI))...)

	d.observe(res, last.Close, time.Since(start))
	d.alert(ctx, res)
	return fatalOrderError(res)
}

// imbalance is the lazily evaluated order book gate: the depth stream is used
// when it has a fresh snapshot, otherwise the book is fetched over REST.
func (d *Driver) imbalance(ctx context.Context) (float64, error) {
	if d.deps.Depth != nil {
		ob, ok := d.deps.Depth.Latest(d.cfg.DepthMaxAge)
		if d.deps.Health != nil {
			d.deps.Health.SetDepthStreamOK(ok)
		}
		if ok {
			return ob.Imbalance(d.cfg.OBDepth), nil
		}
	}
	ob, err := d.deps.Client.FetchOrderBook(ctx, d.cfg.Symbol, d.cfg.OBFetchLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch order book: %w", err)
	}
	return ob.Imbalance(d.cfg.OBDepth), nil
}

// capture forwards closed candles not yet sent. The newest candle is still
// forming and is skipped.
func (d *Driver) capture(window []model.Candle) {
	if d.deps.Capture == nil || len(window) < 2 {
		return
	}
	for _, c := range window[:len(window)-1] {
		if !c.TS.After(d.lastCapture) {
			continue
		}
		select {
		case d.deps.Capture <- c:
			d.lastCapture = c.TS
		default:
			d.log.Warn("candle capture queue full, dropping", slog.Time("ts", c.TS))
			return
		}
	}
}

func (d *Driver) recordHealth(t time.Time, ok bool) {
	if d.deps.Health != nil {
		d.deps.Health.RecordTick(t, ok)
	}
}

func (d *Driver) observe(res strategy.Result, price float64, took time.Duration) {
	m := d.deps.Metrics
	if m == nil {
		return
	}
	m.TicksTotal.Inc()
	m.TickDuration.Observe(took.Seconds())
	m.Decisions.WithLabelValues(string(res.Decision.Reason)).Inc()
	m.FailedExits.Add(float64(len(res.Failed)))
	m.LastClose.Set(price)

	sum := d.deps.Engine.Book().Summary(price)
	m.OpenPositions.Set(float64(sum.OpenPositions))
	m.RealizedPnL.Set(sum.RealizedPnL)

	mt := res.Decision.Metrics
	setGauge(m, "change", mt.Change)
	setGauge(m, "rsi", mt.RSI)
	setGauge(m, "bb_lower", mt.BBLower)
	setGauge(m, "imbalance", mt.Imbalance)
}

func setGauge(m *metrics.Metrics, name string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	m.Indicators.WithLabelValues(name).Set(v)
}

func (d *Driver) alert(ctx context.Context, res strategy.Result) {
	n := d.deps.Notifier
	if res.Entered != nil {
		p := res.Entered
		notification.Notify(ctx, n, notification.Alert{
			Level:   notification.AlertInfo,
			Symbol:  d.cfg.Symbol,
			Title:   "Entered position",
			Message: fmt.Sprintf("bought %.8g @ %.8g", p.Size, p.EntryPrice),
			Fields: map[string]string{
				"order_id": p.OrderID,
				"rsi":      fmt.Sprintf("%.2f", res.Decision.Metrics.RSI),
				"change":   fmt.Sprintf("%.2f%%", res.Decision.Metrics.Change),
			},
		})
	}
	if res.BuyErr != nil {
		notification.Notify(ctx, n, notification.Alert{
			Level:   notification.AlertWarning,
			Symbol:  d.cfg.Symbol,
			Title:   "Entry order failed",
			Message: res.BuyErr.Error(),
		})
	}
	for _, rec := range res.Exits {
		notification.Notify(ctx, n, notification.Alert{
			Level:   notification.AlertInfo,
			Symbol:  d.cfg.Symbol,
			Title:   "Closed position",
			Message: fmt.Sprintf("%s @ %.8g, pnl %.4f", rec.Reason, rec.Price, rec.PnL),
			Fields:  map[string]string{"order_id": rec.OrderID},
		})
	}
	for _, f := range res.Failed {
		notification.Notify(ctx, n, notification.Alert{
			Level:   notification.AlertCritical,
			Symbol:  d.cfg.Symbol,
			Title:   "Exit order failed",
			Message: fmt.Sprintf("%s sell failed, position %d still open: %v", f.Exit.Reason, f.Exit.Position.ID, f.Err),
			Fields: map[string]string{
				"entry": fmt.Sprintf("%.8g", f.Exit.Position.EntryPrice),
				"price": fmt.Sprintf("%.8g", f.Exit.Price),
			},
		})
	}
}

// fatalOrderError surfaces an order failure that will not heal by retrying,
// such as rejected credentials.
func fatalOrderError(res strategy.Result) error {
	if exchange.IsFatal(res.BuyErr) {
		return res.BuyErr
	}
	for _, f := range res.Failed {
		if exchange.IsFatal(f.Err) {
			return fmt.Errorf("sell position %d: %w", f.Exit.Position.ID, f.Err)
		}
	}
	return nil
}

func (d *Driver) countError(kind string) {
	if d.deps.Metrics != nil {
		d.deps.Metrics.TickErrors.WithLabelValues(kind).Inc()
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, errPanic):
		return "panic"
	case exchange.IsFatal(err):
		return "fatal"
	case exchange.IsTransient(err):
		return "transient"
	default:
		return "unexpected"
	}
}

func (d *Driver) setLastClose(v float64) {
	d.mu.Lock()
	d.lastClose = v
	d.mu.Unlock()
}

// Status reports the book for the periodic status job.
func (d *Driver) Status() scheduler.Status {
	d.mu.RLock()
	last := d.lastClose
	d.mu.RUnlock()
	return scheduler.Status{
		Symbol:    d.cfg.Symbol,
		Paper:     d.cfg.Paper,
		LastClose: last,
		Summary:   d.deps.Engine.Book().Summary(last),
	}
}
