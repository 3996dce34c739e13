package execution

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"meanrev/internal/model"
)

// Journal persists trade records to SQLite for audit. It implements
// model.TradeSink.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		kind        TEXT    NOT NULL,
		symbol      TEXT    NOT NULL,
		position_id INTEGER NOT NULL,
		price       REAL    NOT NULL,
		size        REAL    NOT NULL,
		pnl         REAL    NOT NULL DEFAULT 0,
		reason      TEXT,
		order_id    TEXT,
		tick_index  INTEGER NOT NULL,
		tick_ts     INTEGER,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, id);
	CREATE INDEX IF NOT EXISTS idx_trades_position ON trades(position_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	slog.Info("opened trade journal", slog.String("path", dbPath))
	return &Journal{db: db}, nil
}

// RecordTrade appends rec to the trades table.
func (j *Journal) RecordTrade(ctx context.Context, rec model.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var ts sql.NullInt64
	if !rec.Tick.TS.IsZero() {
		ts = sql.NullInt64{Int64: rec.Tick.TS.UnixMilli(), Valid: true}
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (kind, symbol, position_id, price, size, pnl, reason, order_id, tick_index, tick_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.Kind), rec.Symbol, rec.PositionID, rec.Price, rec.Size, rec.PnL,
		rec.Reason, rec.OrderID, rec.Tick.Index, ts,
	)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// Trades returns the last limit records for symbol, newest first.
func (j *Journal) Trades(ctx context.Context, symbol string, limit int) ([]model.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT kind, symbol, position_id, price, size, pnl, reason, order_id, tick_index, tick_ts
		 FROM trades WHERE symbol = ? ORDER BY id DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		var (
			r      model.TradeRecord
			kind   string
			reason sql.NullString
			order  sql.NullString
			ts     sql.NullInt64
		)
		if err := rows.Scan(&kind, &r.Symbol, &r.PositionID, &r.Price, &r.Size, &r.PnL,
			&reason, &order, &r.Tick.Index, &ts); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		r.Kind = model.TradeKind(kind)
		r.Reason = reason.String
		r.OrderID = order.String
		if ts.Valid {
			r.Tick.TS = time.UnixMilli(ts.Int64).UTC()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RealizedPnL sums exit P&L for symbol.
func (j *Journal) RealizedPnL(ctx context.Context, symbol string) (float64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var total sql.NullFloat64
	err := j.db.QueryRowContext(ctx,
		`SELECT SUM(pnl) FROM trades WHERE symbol = ? AND kind = ?`, symbol, string(model.TradeExit),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("journal pnl: %w", err)
	}
	return total.Float64, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
