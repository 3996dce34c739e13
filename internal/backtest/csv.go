package backtest

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gocarina/gocsv"

	"meanrev/internal/model"
)

// candleRow is one line of a candle CSV: timestamp in unix milliseconds, the
// layout venues use for OHLCV exports.
type candleRow struct {
	Timestamp int64   `csv:"timestamp"`
	Open      float64 `csv:"open"`
	High      float64 `csv:"high"`
	Low       float64 `csv:"low"`
	Close     float64 `csv:"close"`
	Volume    float64 `csv:"volume"`
}

func (r candleRow) toModel() model.Candle {
	return model.Candle{
		TS:     time.UnixMilli(r.Timestamp).UTC(),
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
	}
}

// ReadCandlesCSV parses candles from r. Rows must be in ascending time order.
func ReadCandlesCSV(r io.Reader) ([]model.Candle, error) {
	var rows []candleRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parse candle csv: %w", err)
	}
	out := make([]model.Candle, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
		if i > 0 && !out[i].TS.After(out[i-1].TS) {
			return nil, fmt.Errorf("candle csv row %d: timestamp %d not after previous", i+2, row.Timestamp)
		}
	}
	return out, nil
}

// LoadCandlesCSV reads a candle CSV file.
func LoadCandlesCSV(path string) ([]model.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCandlesCSV(f)
}

// WriteCandlesCSV writes candles in the layout ReadCandlesCSV accepts.
func WriteCandlesCSV(w io.Writer, candles []model.Candle) error {
	rows := make([]candleRow, len(candles))
	for i, c := range candles {
		rows[i] = candleRow{
			Timestamp: c.TS.UnixMilli(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		}
	}
	return gocsv.Marshal(&rows, w)
}

type tradeRow struct {
	Index      int     `csv:"index"`
	Time       string  `csv:"time"`
	Kind       string  `csv:"type"`
	PositionID int64   `csv:"position_id"`
	Price      float64 `csv:"price"`
	Size       float64 `csv:"size"`
	PnL        float64 `csv:"pnl"`
	Reason     string  `csv:"reason"`
	OrderID    string  `csv:"order_id"`
}

// WriteTradesCSV exports the trade log.
func WriteTradesCSV(w io.Writer, trades []model.TradeRecord) error {
	rows := make([]tradeRow, len(trades))
	for i, t := range trades {
		rows[i] = tradeRow{
			Index:      t.Tick.Index,
			Time:       t.Tick.TS.UTC().Format(time.RFC3339),
			Kind:       string(t.Kind),
			PositionID: t.PositionID,
			Price:      t.Price,
			Size:       t.Size,
			PnL:        t.PnL,
			Reason:     t.Reason,
			OrderID:    t.OrderID,
		}
	}
	return gocsv.Marshal(&rows, w)
}

// ExportTrades writes the trade log to path.
func ExportTrades(path string, trades []model.TradeRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTradesCSV(f, trades); err != nil {
		f.Close()
		return fmt.Errorf("export trades: %w", err)
	}
	return f.Close()
}
