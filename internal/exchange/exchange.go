// Package exchange defines the venue capability the trading loop depends on
// and the registry that maps a configured venue id to a concrete adapter.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"meanrev/internal/model"
)

var (
	// ErrTransient marks failures worth retrying on the next tick
	// (network, timeouts, rate limits, venue 5xx).
	ErrTransient = errors.New("exchange: transient error")
	// ErrFatal marks failures a retry cannot fix (bad credentials, bad request).
	ErrFatal = errors.New("exchange: fatal error")
	// ErrRejected marks an order the venue refused on its merits
	// (insufficient balance, lot size). The loop keeps running.
	ErrRejected = errors.New("exchange: order rejected")
	// ErrUnknownVenue is returned by New for an unregistered id.
	ErrUnknownVenue = errors.New("exchange: unknown venue")
)

// Client is everything the strategy needs from a venue.
type Client interface {
	// FetchCandles returns up to limit most recent candles, oldest first.
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error)
	// FetchOrderBook returns the top limit levels on each side.
	FetchOrderBook(ctx context.Context, symbol string, limit int) (model.OrderBook, error)
	// PlaceMarketOrder submits a market order and returns the venue order id.
	PlaceMarketOrder(ctx context.Context, symbol string, side model.Side, qty float64) (string, error)
}

// Credentials authenticate order placement. Public market data needs none.
type Credentials struct {
	APIKey    string
	APISecret string
	Testnet   bool
	BaseURL   string // overrides the venue default, used by tests
}

// Factory builds a Client for one venue.
type Factory func(Credentials) (Client, error)

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

// Register makes a venue available to New. Registering an id twice panics.
func Register(id string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	id = strings.ToLower(id)
	if _, dup := registry[id]; dup {
		panic("exchange: Register called twice for " + id)
	}
	registry[id] = f
}

// New builds the Client registered under id.
func New(id string, creds Credentials) (Client, error) {
	regMu.RLock()
	f, ok := registry[strings.ToLower(id)]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownVenue, id, strings.Join(Venues(), ", "))
	}
	return f(creds)
}

// Venues lists registered venue ids, sorted.
func Venues() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for id := range registry {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RoundQty rounds qty half away from zero to places decimal places.
func RoundQty(qty float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(qty).Round(places).Float64()
	return f
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsFatal reports whether err must stop the trading loop.
func IsFatal(err error) bool { return errors.Is(err, ErrFatal) }
