package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"meanrev/internal/exchange"
	"meanrev/internal/logger"
	"meanrev/internal/model"
)

// PaperExecutor fills every order immediately at the requested price without
// contacting a venue. Order ids are "paper-<uuid>".
type PaperExecutor struct {
	mu        sync.RWMutex
	fills     []model.Fill
	precision int32
	onOrder   OrderHook
}

// NewPaperExecutor creates a paper executor. precision < 0 keeps quantities
// unrounded.
func NewPaperExecutor(precision int32, onOrder OrderHook) *PaperExecutor {
	return &PaperExecutor{
		fills:     make([]model.Fill, 0, 64),
		precision: precision,
		onOrder:   onOrder,
	}
}

func (p *PaperExecutor) Buy(ctx context.Context, symbol string, qty, price float64) (model.Fill, error) {
	return p.fill(ctx, symbol, model.Buy, qty, price), nil
}

func (p *PaperExecutor) Sell(ctx context.Context, symbol string, qty, price float64) (model.Fill, error) {
	return p.fill(ctx, symbol, model.Sell, qty, price), nil
}

// Fills returns a snapshot of all fills.
func (p *PaperExecutor) Fills() []model.Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]model.Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

func (p *PaperExecutor) fill(ctx context.Context, symbol string, side model.Side, qty, price float64) model.Fill {
	if p.precision >= 0 {
		qty = exchange.RoundQty(qty, p.precision)
	}
	f := model.Fill{
		OrderID:  "paper-" + uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		Qty:      qty,
		Price:    price,
		Paper:    true,
		FilledAt: time.Now().UTC(),
	}

	p.mu.Lock()
	p.fills = append(p.fills, f)
	p.mu.Unlock()

	if p.onOrder != nil {
		p.onOrder(side, nil)
	}
	slog.Info("paper fill",
		append(logger.LogWithTrace(ctx),
			slog.String("order_id", f.OrderID),
			slog.String("side", string(side)),
			slog.String("symbol", symbol),
			slog.Float64("qty", qty),
			slog.Float64("price", price))...)
	return f
}
