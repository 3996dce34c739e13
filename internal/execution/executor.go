// Package execution turns engine buy/sell requests into fills, either against
// a venue (LiveExecutor) or simulated in memory (PaperExecutor), and journals
// trade records to SQLite.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"meanrev/internal/exchange"
	"meanrev/internal/logger"
	"meanrev/internal/model"
)

// OrderHook observes every order attempt. err is nil on success.
type OrderHook func(side model.Side, err error)

// LiveExecutor sends market orders through an exchange.Client.
// Fill price is the price the engine observed, not the venue's average price.
type LiveExecutor struct {
	client    exchange.Client
	precision int32
	onOrder   OrderHook
}

// NewLiveExecutor rounds every quantity to precision decimal places before
// submitting it.
func NewLiveExecutor(client exchange.Client, precision int32, onOrder OrderHook) *LiveExecutor {
	return &LiveExecutor{client: client, precision: precision, onOrder: onOrder}
}

func (e *LiveExecutor) Buy(ctx context.Context, symbol string, qty, price float64) (model.Fill, error) {
	return e.place(ctx, symbol, model.Buy, qty, price)
}

func (e *LiveExecutor) Sell(ctx context.Context, symbol string, qty, price float64) (model.Fill, error) {
	return e.place(ctx, symbol, model.Sell, qty, price)
}

func (e *LiveExecutor) place(ctx context.Context, symbol string, side model.Side, qty, price float64) (model.Fill, error) {
	rounded := exchange.RoundQty(qty, e.precision)
	if rounded <= 0 {
		err := fmt.Errorf("%s %v rounds to zero at %d places: %w", side, qty, e.precision, exchange.ErrRejected)
		e.observe(side, err)
		return model.Fill{}, err
	}

	id, err := e.client.PlaceMarketOrder(ctx, symbol, side, rounded)
	e.observe(side, err)
	if err != nil {
		return model.Fill{}, err
	}

	slog.Info("order placed",
		append(logger.LogWithTrace(ctx),
			slog.String("order_id", id),
			slog.String("side", string(side)),
			slog.String("symbol", symbol),
			slog.Float64("qty", rounded),
			slog.Float64("price", price))...)

	return model.Fill{
		OrderID:  id,
		Symbol:   symbol,
		Side:     side,
		Qty:      rounded,
		Price:    price,
		FilledAt: time.Now().UTC(),
	}, nil
}

func (e *LiveExecutor) observe(side model.Side, err error) {
	if e.onOrder != nil {
		e.onOrder(side, err)
	}
}
