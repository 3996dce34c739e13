// Package indicator provides the technical indicators the entry gates are
// built on: RSI, Bollinger Bands and percent change.
//
// Every function here is pure: it reads a window of closes (oldest first) and
// returns a value, with no state kept between calls. The incremental RSI type
// is what the series helpers are built on.
package indicator

import "math"

// Params selects the indicator windows for a Snapshot.
type Params struct {
	RSIPeriod int
	BBPeriod  int
	BBStd     float64
	Lookback  int // bars for PercentChange
}

// Snapshot holds every indicator computed against the same trailing window,
// as of its latest close. It is derived per tick and never mutated.
type Snapshot struct {
	Close  float64 `json:"close"`
	Change float64 `json:"change_pct"`
	RSI    float64 `json:"rsi"` // NaN until enough data
	Bands  Bands   `json:"bands"`
	BandOK bool    `json:"bands_ok"`
}

// RSIReady reports whether the RSI value is defined.
func (s Snapshot) RSIReady() bool { return !math.IsNaN(s.RSI) }

// Compute evaluates all indicators over closes.
func Compute(closes []float64, p Params) Snapshot {
	snap := Snapshot{
		Change: PercentChange(closes, p.Lookback),
		RSI:    RSI(closes, p.RSIPeriod),
	}
	if n := len(closes); n > 0 {
		snap.Close = closes[n-1]
	}
	snap.Bands, snap.BandOK = Bollinger(closes, p.BBPeriod, p.BBStd)
	return snap
}
