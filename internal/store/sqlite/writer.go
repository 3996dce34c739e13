// Package sqlite stores candle history in SQLite so backtests can replay what
// the live loop observed.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"meanrev/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Store is a candle store backed by one SQLite file. It implements
// model.CandleStore.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens or creates the database at path with WAL mode and the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("opened candle store", slog.String("path", path))
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol    TEXT    NOT NULL,
			timeframe TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL,
			PRIMARY KEY (symbol, timeframe, ts)
		);
	`)
	return err
}

// SaveCandles upserts candles in one transaction. ts is stored in unix ms.
func (s *Store) SaveCandles(ctx context.Context, symbol, timeframe string, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, symbol, timeframe, c.TS.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert candle %s: %w", c.TS.Format(time.RFC3339), err)
		}
	}
	return tx.Commit()
}

// Run drains candles from in and writes them in batched transactions,
// flushing every defaultBatchSize candles or defaultFlushDelay, whichever
// comes first. Blocks until ctx is cancelled or in is closed.
func (s *Store) Run(ctx context.Context, symbol, timeframe string, in <-chan model.Candle) {
	batch := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// use a fresh context so the final flush survives cancellation
		if err := s.SaveCandles(context.Background(), symbol, timeframe, batch); err != nil {
			slog.Error("candle batch insert failed", slog.String("error", err.Error()))
		} else {
			slog.Debug("committed candles", slog.Int("count", len(batch)), slog.Duration("took", time.Since(start)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case c, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, c)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
