package model

import (
	"time"

	json "github.com/goccy/go-json"
)

// Candle is one OHLCV bar at the configured timeframe.
// TS is the bucket open time (UTC).
type Candle struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Closes extracts the close prices of a candle window, oldest first.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Tick identifies one evaluation step: the index of the latest candle in the
// driver's series and that candle's timestamp.
type Tick struct {
	Index int       `json:"index"`
	TS    time.Time `json:"ts"`
}
