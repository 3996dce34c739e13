// Package backtest replays a fixed candle history through the same engine the
// live loop uses. Entries fill at the open of the signalling candle, exits at
// its close, and there is no order book gate.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/montanaflynn/stats"

	"meanrev/internal/model"
	"meanrev/internal/position"
	"meanrev/internal/signal"
	"meanrev/internal/strategy"
)

// Config parameterises one replay.
type Config struct {
	Symbol         string
	Timeframe      time.Duration // 0 skips the gap check
	Signal         signal.Config
	Limits         position.Limits
	InitialCapital float64
	// Start is the first candle index evaluated. 0 selects
	// max(bb_period, rsi_period) + lookback.
	Start  int
	Sinks  []model.TradeSink
	Logger *slog.Logger
}

// StartIndex is the default first evaluated index.
func StartIndex(cfg signal.Config) int {
	n := cfg.BBPeriod
	if cfg.RSIPeriod > n {
		n = cfg.RSIPeriod
	}
	return n + cfg.Lookback
}

// Report summarises a replay.
type Report struct {
	Symbol         string                `json:"symbol"`
	Candles        int                   `json:"candles"`
	Ticks          int                   `json:"ticks"`
	Entries        int                   `json:"entries"`
	Exits          int                   `json:"exits"`
	Wins           int                   `json:"wins"`
	InitialCapital float64               `json:"initial_capital"`
	FinalCapital   float64               `json:"final_capital"`
	RealizedPnL    float64               `json:"realized_pnl"`
	AvgExitPnL     float64               `json:"avg_exit_pnl"`
	OpenAtEnd      int                   `json:"open_at_end"`
	UnrealizedPnL  float64               `json:"unrealized_pnl"`
	Decisions      map[signal.Reason]int `json:"decisions"`
	Trades         []model.TradeRecord   `json:"trades"`
}

// WinRate is the share of exits with positive P&L, 0 without exits.
func (r Report) WinRate() float64 {
	if r.Exits == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Exits)
}

// Run replays candles. Each index i from the start to the end is one tick
// over the trailing window ending at i. Positions still open at the end stay
// open and are valued at the last close.
func Run(ctx context.Context, candles []model.Candle, cfg Config) (Report, error) {
	rep := Report{
		Symbol:         cfg.Symbol,
		Candles:        len(candles),
		InitialCapital: cfg.InitialCapital,
		FinalCapital:   cfg.InitialCapital,
		Decisions:      make(map[signal.Reason]int),
	}

	book, err := position.NewBook(cfg.Symbol, cfg.Limits)
	if err != nil {
		return rep, err
	}
	engine := strategy.NewEngine(signal.NewEvaluator(cfg.Signal), book, newSimExecutor(), strategy.Options{
		Symbol:    cfg.Symbol,
		Timeframe: cfg.Timeframe,
		Fill:      strategy.FillAtOpen,
		Sinks:     cfg.Sinks,
		Logger:    cfg.Logger,
	})

	start := cfg.Start
	if start <= 0 {
		start = StartIndex(cfg.Signal)
	}
	size := strategy.WindowSize(cfg.Signal)

	for i := start; i < len(candles); i++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		lo := i + 1 - size
		if lo < 0 {
			lo = 0
		}
		tick := model.Tick{Index: i, TS: candles[i].TS}
		res, err := engine.Step(ctx, candles[lo:i+1], tick, nil)
		if err != nil {
			return rep, fmt.Errorf("tick %d: %w", i, err)
		}
		rep.Ticks++
		rep.Decisions[res.Decision.Reason]++
	}

	last := 0.0
	if n := len(candles); n > 0 {
		last = candles[n-1].Close
	}
	sum := book.Summary(last)
	rep.Entries = sum.Entries
	rep.Exits = sum.Exits
	rep.OpenAtEnd = sum.OpenPositions
	rep.RealizedPnL = sum.RealizedPnL
	rep.UnrealizedPnL = sum.UnrealizedPnL
	rep.FinalCapital = cfg.InitialCapital + sum.RealizedPnL
	rep.Trades = book.Trades()

	var pnls []float64
	for _, t := range rep.Trades {
		if t.Kind != model.TradeExit {
			continue
		}
		pnls = append(pnls, t.PnL)
		if t.PnL > 0 {
			rep.Wins++
		}
	}
	if len(pnls) > 0 {
		rep.AvgExitPnL, _ = stats.Mean(pnls)
	}
	return rep, nil
}

// simExecutor fills every order at the requested price with ids derived from
// a counter, so two replays of the same history are identical.
type simExecutor struct {
	seq int
}

func newSimExecutor() *simExecutor { return &simExecutor{} }

func (s *simExecutor) Buy(_ context.Context, symbol string, qty, price float64) (model.Fill, error) {
	return s.fill(symbol, model.Buy, qty, price), nil
}

func (s *simExecutor) Sell(_ context.Context, symbol string, qty, price float64) (model.Fill, error) {
	return s.fill(symbol, model.Sell, qty, price), nil
}

func (s *simExecutor) fill(symbol string, side model.Side, qty, price float64) model.Fill {
	s.seq++
	return model.Fill{
		OrderID: fmt.Sprintf("bt-%d", s.seq),
		Symbol:  symbol,
		Side:    side,
		Qty:     qty,
		Price:   price,
		Paper:   true,
	}
}
