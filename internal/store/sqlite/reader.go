package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"meanrev/internal/model"
)

// ReadCandles returns candles with ts > after, oldest first. limit 0 reads
// all; otherwise the most recent limit candles after the cutoff are returned.
func (s *Store) ReadCandles(ctx context.Context, symbol, timeframe string, after time.Time, limit int) ([]model.Candle, error) {
	var afterMs int64
	if !after.IsZero() {
		afterMs = after.UnixMilli()
	}

	query := `
		SELECT ts, open, high, low, close, volume FROM candles
		WHERE symbol = ? AND timeframe = ? AND ts > ?
		ORDER BY ts ASC`
	args := []any{symbol, timeframe, afterMs}
	if limit > 0 {
		query = `
		SELECT ts, open, high, low, close, volume FROM (
			SELECT ts, open, high, low, close, volume FROM candles
			WHERE symbol = ? AND timeframe = ? AND ts > ?
			ORDER BY ts DESC LIMIT ?
		) ORDER BY ts ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var (
			c   model.Candle
			ms  int64
			vol sql.NullFloat64
		)
		if err := rows.Scan(&ms, &c.Open, &c.High, &c.Low, &c.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.TS = time.UnixMilli(ms).UTC()
		c.Volume = vol.Float64
		out = append(out, c)
	}
	return out, rows.Err()
}

// LastTimestamp returns the newest stored candle time, or the zero time.
func (s *Store) LastTimestamp(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	var ms sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM candles WHERE symbol = ? AND timeframe = ?`,
		symbol, timeframe,
	).Scan(&ms)
	if err != nil {
		return time.Time{}, err
	}
	if !ms.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms.Int64).UTC(), nil
}
