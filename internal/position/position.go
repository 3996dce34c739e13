// Package position owns the set of open positions for one strategy instance
// and the append-only trade log that records their lifecycle.
//
// Each Position moves Flat → Open → Closed. Closed is terminal: a later entry
// is always a new Position with a new ID.
package position

import (
	"errors"
	"fmt"
	"sync"

	"meanrev/internal/model"
)

var (
	// ErrCapacity is returned by Open when max concurrent positions are open.
	ErrCapacity = errors.New("position: max concurrent positions reached")
	// ErrNotOpen is returned when closing a position that is not in the open set.
	ErrNotOpen = errors.New("position: not open")
	// ErrInvalidPrice is returned for non-positive prices or sizes.
	ErrInvalidPrice = errors.New("position: price and size must be positive")
)

// State is a position's lifecycle state.
type State int

const (
	Flat State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Flat:
		return "flat"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ExitReason says which threshold closed a position.
type ExitReason string

const (
	TakeProfit ExitReason = "take_profit"
	StopLoss   ExitReason = "stop_loss"
)

// Position is a single long holding.
type Position struct {
	ID         int64      `json:"id"`
	Symbol     string     `json:"symbol"`
	EntryPrice float64    `json:"entry_price"`
	Size       float64    `json:"size"` // base-asset quantity
	OpenedAt   model.Tick `json:"opened_at"`
	OrderID    string     `json:"order_id"`
	State      State      `json:"state"`
}

// UnrealizedPnL values the position at price.
func (p Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Size
}

// EntryRecord is the trade log entry written when p was opened.
func (p Position) EntryRecord() model.TradeRecord {
	return model.TradeRecord{
		Kind:       model.TradeEntry,
		Symbol:     p.Symbol,
		PositionID: p.ID,
		Price:      p.EntryPrice,
		Size:       p.Size,
		OrderID:    p.OrderID,
		Tick:       p.OpenedAt,
	}
}

// Limits are the sizing and exit thresholds a Book enforces.
// StopLossPct is expected to be negative (e.g. -3 for a 3% stop).
type Limits struct {
	SizeUSD       float64
	MaxConcurrent int
	TakeProfitPct float64
	StopLossPct   float64
}

// Validate rejects limits that would make exits fire on entry or never.
func (l Limits) Validate() error {
	if l.SizeUSD <= 0 {
		return fmt.Errorf("size_usd must be positive, got %v", l.SizeUSD)
	}
	if l.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent_positions must be >= 1, got %d", l.MaxConcurrent)
	}
	if l.TakeProfitPct <= 0 {
		return fmt.Errorf("take_profit_pct must be positive, got %v", l.TakeProfitPct)
	}
	if l.StopLossPct >= 0 {
		return fmt.Errorf("stop_loss_pct must be negative, got %v", l.StopLossPct)
	}
	return nil
}

// TakeProfitPrice is the price at or above which a position is closed in profit.
func (l Limits) TakeProfitPrice(entry float64) float64 {
	return entry * (1 + l.TakeProfitPct/100.0)
}

// StopLossPrice is the price at or below which a position is closed at a loss.
func (l Limits) StopLossPrice(entry float64) float64 {
	return entry * (1 + l.StopLossPct/100.0)
}

// ExitFor reports whether a position entered at entry must exit at price.
// Take-profit is checked before stop-loss.
func (l Limits) ExitFor(entry, price float64) (ExitReason, bool) {
	if price >= l.TakeProfitPrice(entry) {
		return TakeProfit, true
	}
	if price <= l.StopLossPrice(entry) {
		return StopLoss, true
	}
	return "", false
}

// Exit is a pending close: the position whose threshold fired and why.
type Exit struct {
	Position Position
	Price    float64
	Reason   ExitReason
}

// Book is the position lifecycle for one symbol. It exclusively owns the open
// set and the trade log. Safe for concurrent readers; mutations are expected
// from a single tick loop.
type Book struct {
	mu     sync.RWMutex
	symbol string
	limits Limits

	nextID   int64
	open     []*Position // in opening order
	trades   []model.TradeRecord
	realized float64
	entries  int
	exits    int
}

// NewBook creates an empty Book.
func NewBook(symbol string, limits Limits) (*Book, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Book{symbol: symbol, limits: limits}, nil
}

// Limits returns the thresholds the book enforces.
func (b *Book) Limits() Limits { return b.limits }

// SizeFor returns the base quantity bought with SizeUSD at price.
func (b *Book) SizeFor(price float64) float64 {
	if price <= 0 {
		return 0
	}
	return b.limits.SizeUSD / price
}

// CanOpen reports whether another position fits under MaxConcurrent.
func (b *Book) CanOpen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.open) < b.limits.MaxConcurrent
}

// Open transitions a new position Flat → Open and appends an entry record.
func (b *Book) Open(price, size float64, tick model.Tick, orderID string) (Position, error) {
	if price <= 0 || size <= 0 {
		return Position{}, ErrInvalidPrice
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.open) >= b.limits.MaxConcurrent {
		return Position{}, ErrCapacity
	}

	b.nextID++
	p := &Position{
		ID:         b.nextID,
		Symbol:     b.symbol,
		EntryPrice: price,
		Size:       size,
		OpenedAt:   tick,
		OrderID:    orderID,
		State:      Open,
	}
	b.open = append(b.open, p)
	b.entries++
	b.trades = append(b.trades, p.EntryRecord())
	return *p, nil
}

// Due lists the open positions whose exit condition fires at price, in
// opening order. It does not mutate the book.
func (b *Book) Due(price float64) []Exit {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Exit
	for _, p := range b.open {
		if reason, ok := b.limits.ExitFor(p.EntryPrice, price); ok {
			out = append(out, Exit{Position: *p, Price: price, Reason: reason})
		}
	}
	return out
}

// Close transitions position id Open → Closed at price, realises its P&L and
// appends an exit record. Closing a position twice returns ErrNotOpen.
func (b *Book) Close(id int64, price float64, tick model.Tick, reason ExitReason, orderID string) (model.TradeRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := -1
	for i, p := range b.open {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return model.TradeRecord{}, fmt.Errorf("close position %d: %w", id, ErrNotOpen)
	}

	p := b.open[idx]
	p.State = Closed
	b.open = append(b.open[:idx], b.open[idx+1:]...)

	pnl := (price - p.EntryPrice) * p.Size
	b.realized += pnl
	b.exits++

	rec := model.TradeRecord{
		Kind:       model.TradeExit,
		Symbol:     b.symbol,
		PositionID: p.ID,
		Price:      price,
		Size:       p.Size,
		PnL:        pnl,
		Reason:     string(reason),
		OrderID:    orderID,
		Tick:       tick,
	}
	b.trades = append(b.trades, rec)
	return rec, nil
}

// Settle closes every due position at price without any external order, as a
// simulator would. Returns the exit records in closing order.
func (b *Book) Settle(price float64, tick model.Tick) []model.TradeRecord {
	var out []model.TradeRecord
	for _, ex := range b.Due(price) {
		rec, err := b.Close(ex.Position.ID, price, tick, ex.Reason, "")
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// OpenPositions returns a snapshot of the open set.
func (b *Book) OpenPositions() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Position, len(b.open))
	for i, p := range b.open {
		out[i] = *p
	}
	return out
}

// Trades returns a copy of the trade log.
func (b *Book) Trades() []model.TradeRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cp := make([]model.TradeRecord, len(b.trades))
	copy(cp, b.trades)
	return cp
}

// Summary is a point-in-time view of the book.
type Summary struct {
	Entries       int     `json:"entries"`
	Exits         int     `json:"exits"`
	OpenPositions int     `json:"open_positions"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
}

// Summary values open positions at price.
func (b *Book) Summary(price float64) Summary {
	b.mu.RLock()
	defer b.mu.RUnlock()

	unrealized := 0.0
	for _, p := range b.open {
		unrealized += p.UnrealizedPnL(price)
	}
	return Summary{
		Entries:       b.entries,
		Exits:         b.exits,
		OpenPositions: len(b.open),
		RealizedPnL:   b.realized,
		UnrealizedPnL: unrealized,
		TotalPnL:      b.realized + unrealized,
	}
}
