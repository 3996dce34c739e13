package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the engine and drivers from concrete storage
// implementations (SQLite, Redis).

// TradeSink receives every TradeRecord as it is appended to the log.
type TradeSink interface {
	// RecordTrade persists or forwards a trade record.
	RecordTrade(ctx context.Context, rec TradeRecord) error
}

// CandleStore persists and reads back candle history for one symbol+timeframe.
type CandleStore interface {
	// SaveCandles upserts candles keyed by (symbol, timeframe, ts).
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []Candle) error

	// ReadCandles returns candles with ts > after, ascending, at most limit (0 = all).
	ReadCandles(ctx context.Context, symbol, timeframe string, after time.Time, limit int) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}
