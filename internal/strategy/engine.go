// Package strategy runs one decision tick of the mean-reversion strategy.
//
// Both the live loop and the backtest replay drive the same Engine: each tick
// hands it the trailing candle window, it asks the signal evaluator whether to
// enter, sends orders through an Executor, and applies fills to the position
// book. The drivers differ only in where candles come from, which price an
// entry is assumed to fill at, and what the Executor does.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"meanrev/internal/logger"
	"meanrev/internal/model"
	"meanrev/internal/position"
	"meanrev/internal/signal"
)

// WindowMargin is added to the longest indicator period to size the window.
const WindowMargin = 5

// WindowSize returns how many trailing candles each tick evaluates.
func WindowSize(cfg signal.Config) int {
	n := cfg.BBPeriod
	if cfg.RSIPeriod > n {
		n = cfg.RSIPeriod
	}
	if cfg.Lookback > n {
		n = cfg.Lookback
	}
	return n + WindowMargin
}

// FillPolicy picks the candle price an entry is assumed to fill at.
type FillPolicy int

const (
	FillAtClose FillPolicy = iota // live: the close just observed
	FillAtOpen                    // backtest: the open of the signalling candle
)

// Executor sends orders for the engine. A returned error means no fill.
type Executor interface {
	Buy(ctx context.Context, symbol string, qty, price float64) (model.Fill, error)
	Sell(ctx context.Context, symbol string, qty, price float64) (model.Fill, error)
}

// Options configures an Engine.
type Options struct {
	Symbol    string
	Timeframe time.Duration // 0 disables the gap check; ordering is still enforced
	Fill      FillPolicy
	Sinks     []model.TradeSink
	Logger    *slog.Logger
}

// ExitFailure is an exit that fired but whose sell was not filled. The
// position stays open and is retried on the next tick.
type ExitFailure struct {
	Exit position.Exit
	Err  error
}

// Result reports what one Step did.
type Result struct {
	Decision signal.Decision
	Entered  *position.Position
	BuyErr   error
	Exits    []model.TradeRecord
	Failed   []ExitFailure
}

// Engine owns the evaluator, the position book and the executor for one symbol.
type Engine struct {
	eval *signal.Evaluator
	book *position.Book
	exec Executor
	opts Options
	log  *slog.Logger
}

// NewEngine wires an Engine. The book must be dedicated to this engine.
func NewEngine(eval *signal.Evaluator, book *position.Book, exec Executor, opts Options) *Engine {
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Engine{
		eval: eval,
		book: book,
		exec: exec,
		opts: opts,
		log:  l.With(slog.String("symbol", opts.Symbol)),
	}
}

// Book exposes the position book for reporting.
func (e *Engine) Book() *position.Book { return e.book }

// Step evaluates one tick: entry first, then exits at the latest close.
//
// An error is returned only when the tick was aborted before touching the
// book (the imbalance source failed). Order failures are reported in Result
// and never abort the tick.
func (e *Engine) Step(ctx context.Context, window []model.Candle, tick model.Tick, src signal.ImbalanceSource) (Result, error) {
	var res Result
	if len(window) == 0 {
		res.Decision = signal.Decision{Reason: signal.ReasonInsufficientData}
		return res, nil
	}
	last := window[len(window)-1]

	if err := CheckWindow(window, e.opts.Timeframe); err != nil {
		e.log.Warn("skipping entry on broken window",
			append(logger.LogWithTrace(ctx), slog.String("error", err.Error()))...)
		res.Decision = signal.Decision{Reason: signal.ReasonGap}
	} else if e.book.CanOpen() {
		dec, err := e.eval.Evaluate(ctx, model.Closes(window), src)
		if err != nil {
			return res, err
		}
		res.Decision = dec
		if dec.Enter {
			e.enter(ctx, last, tick, &res)
		}
	} else {
		res.Decision = signal.Decision{Reason: signal.ReasonCapacity}
	}

	e.exit(ctx, last.Close, tick, &res)
	return res, nil
}

func (e *Engine) enter(ctx context.Context, c model.Candle, tick model.Tick, res *Result) {
	price := c.Close
	if e.opts.Fill == FillAtOpen {
		price = c.Open
	}
	qty := e.book.SizeFor(price)

	fill, err := e.exec.Buy(ctx, e.opts.Symbol, qty, price)
	if err != nil {
		res.BuyErr = fmt.Errorf("buy %s: %w", e.opts.Symbol, err)
		e.log.Error("entry order failed",
			append(logger.LogWithTrace(ctx), slog.String("error", err.Error()))...)
		return
	}
	if fill.Price > 0 {
		price = fill.Price
	}
	if fill.Qty > 0 {
		qty = fill.Qty
	}

	p, err := e.book.Open(price, qty, tick, fill.OrderID)
	if err != nil {
		res.BuyErr = err
		e.log.Error("filled entry not booked",
			append(logger.LogWithTrace(ctx),
				slog.String("order_id", fill.OrderID),
				slog.String("error", err.Error()))...)
		return
	}
	res.Entered = &p
	e.log.Info("opened position",
		append(logger.LogWithTrace(ctx),
			slog.Int64("position_id", p.ID),
			slog.Float64("price", p.EntryPrice),
			slog.Float64("size", p.Size),
			slog.String("order_id", p.OrderID))...)
	e.forward(ctx, p.EntryRecord())
}

func (e *Engine) exit(ctx context.Context, price float64, tick model.Tick, res *Result) {
	for _, ex := range e.book.Due(price) {
		fill, err := e.exec.Sell(ctx, e.opts.Symbol, ex.Position.Size, price)
		if err != nil {
			res.Failed = append(res.Failed, ExitFailure{Exit: ex, Err: err})
			e.log.Error("exit order failed, position still open",
				append(logger.LogWithTrace(ctx),
					slog.Int64("position_id", ex.Position.ID),
					slog.String("reason", string(ex.Reason)),
					slog.Float64("price", price),
					slog.String("error", err.Error()))...)
			continue
		}

		rec, err := e.book.Close(ex.Position.ID, price, tick, ex.Reason, fill.OrderID)
		if err != nil {
			// Only reachable if the book was mutated outside this engine.
			e.log.Error("exit fill not booked",
				append(logger.LogWithTrace(ctx), slog.String("error", err.Error()))...)
			continue
		}
		res.Exits = append(res.Exits, rec)
		e.log.Info("closed position",
			append(logger.LogWithTrace(ctx),
				slog.Int64("position_id", rec.PositionID),
				slog.String("reason", rec.Reason),
				slog.Float64("entry", ex.Position.EntryPrice),
				slog.Float64("price", rec.Price),
				slog.Float64("pnl", rec.PnL))...)
		e.forward(ctx, rec)
	}
}

// forward hands rec to every sink. Sink failures are logged and dropped:
// the book is the source of truth.
func (e *Engine) forward(ctx context.Context, rec model.TradeRecord) {
	for _, s := range e.opts.Sinks {
		if err := s.RecordTrade(ctx, rec); err != nil {
			e.log.Warn("trade sink failed",
				append(logger.LogWithTrace(ctx),
					slog.Int64("position_id", rec.PositionID),
					slog.String("error", err.Error()))...)
		}
	}
}

var (
	ErrUnordered = errors.New("candles not strictly increasing")
	ErrGap       = errors.New("gap in candle series")
)

// CheckWindow verifies timestamps are strictly increasing and, when
// timeframe > 0, spaced exactly one timeframe apart.
func CheckWindow(window []model.Candle, timeframe time.Duration) error {
	for i := 1; i < len(window); i++ {
		prev, cur := window[i-1].TS, window[i].TS
		if !cur.After(prev) {
			return fmt.Errorf("%w at %s", ErrUnordered, cur.Format(time.RFC3339))
		}
		if timeframe > 0 && cur.Sub(prev) != timeframe {
			return fmt.Errorf("%w: %s after %s", ErrGap, cur.Sub(prev), prev.Format(time.RFC3339))
		}
	}
	return nil
}
