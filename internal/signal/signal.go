// Package signal turns an indicator window plus order-book pressure into an
// entry decision.
//
// Gates run cheapest first and stop at the first failure: percent-change drop,
// RSI, lower Bollinger band touch, then order-book imbalance. Only the last
// gate may touch the network, so it is queried lazily and never when an
// earlier gate already rejected.
package signal

import (
	"context"
	"fmt"
	"math"

	"meanrev/internal/indicator"
)

// Reason names the gate that rejected an entry, or "enter".
type Reason string

const (
	ReasonEnter            Reason = "enter"
	ReasonNotDrop          Reason = "not_drop"
	ReasonRSINotLow        Reason = "rsi_not_low"
	ReasonNotTouchingBB    Reason = "not_touching_bb"
	ReasonImbalanceLow     Reason = "imbalance_low"
	ReasonInsufficientData Reason = "insufficient_data"
	ReasonGap              Reason = "gap_in_series"
	ReasonCapacity         Reason = "max_positions"
)

// Config holds the entry thresholds. Lookback is in bars.
type Config struct {
	Lookback            int
	DropPct             float64
	RSIPeriod           int
	RSIThreshold        float64
	BBPeriod            int
	BBStd               float64
	BBTouchTolerancePct float64 // close may sit this % above the lower band
	ImbalanceThreshold  float64
}

// ImbalanceSource supplies the order-book imbalance for gate 4.
// Implementations may perform I/O.
type ImbalanceSource interface {
	Imbalance(ctx context.Context) (float64, error)
}

// ImbalanceFunc adapts a function to ImbalanceSource.
type ImbalanceFunc func(ctx context.Context) (float64, error)

func (f ImbalanceFunc) Imbalance(ctx context.Context) (float64, error) { return f(ctx) }

// Metrics carries the values each gate looked at. Fields for gates that were
// not reached stay NaN.
type Metrics struct {
	Change    float64 `json:"change_pct"`
	DropPct   float64 `json:"drop_pct"`
	RSI       float64 `json:"rsi"`
	Price     float64 `json:"price"`
	BBLower   float64 `json:"bb_lower"`
	BBMiddle  float64 `json:"bb_middle"`
	BBUpper   float64 `json:"bb_upper"`
	Imbalance float64 `json:"imbalance"`
}

// Decision is the evaluator's verdict.
type Decision struct {
	Enter   bool    `json:"enter"`
	Reason  Reason  `json:"reason"`
	Metrics Metrics `json:"metrics"`
}

func reject(r Reason, m Metrics) Decision { return Decision{Reason: r, Metrics: m} }

// Evaluator applies the entry gates. It holds no state between calls.
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates an evaluator for the given thresholds.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Config returns the thresholds the evaluator was built with.
func (e *Evaluator) Config() Config { return e.cfg }

// Evaluate runs the gates over closes (oldest first). A nil src skips the
// order-book gate. An error is only returned when src fails; the decision is
// then a rejection and must not be acted on.
func (e *Evaluator) Evaluate(ctx context.Context, closes []float64, src ImbalanceSource) (Decision, error) {
	m := Metrics{
		RSI:       math.NaN(),
		BBLower:   math.NaN(),
		BBMiddle:  math.NaN(),
		BBUpper:   math.NaN(),
		Imbalance: math.NaN(),
	}
	if len(closes) > 0 {
		m.Price = closes[len(closes)-1]
	}

	// Gate 1: a drop of at least DropPct over the lookback.
	// The 0.0 "not enough data" sentinel never passes since DropPct > 0.
	m.Change = indicator.PercentChange(closes, e.cfg.Lookback)
	m.DropPct = -m.Change
	if m.Change >= 0 || m.DropPct < e.cfg.DropPct {
		return reject(ReasonNotDrop, m), nil
	}

	// Gate 2: RSI oversold.
	m.RSI = indicator.RSI(closes, e.cfg.RSIPeriod)
	if math.IsNaN(m.RSI) {
		return reject(ReasonInsufficientData, m), nil
	}
	if m.RSI > e.cfg.RSIThreshold {
		return reject(ReasonRSINotLow, m), nil
	}

	// Gate 3: price at or just above the lower band.
	bands, ok := indicator.Bollinger(closes, e.cfg.BBPeriod, e.cfg.BBStd)
	if !ok {
		return reject(ReasonInsufficientData, m), nil
	}
	m.BBLower, m.BBMiddle, m.BBUpper = bands.Lower, bands.Middle, bands.Upper
	if m.Price > TouchLimit(bands.Lower, e.cfg.BBTouchTolerancePct) {
		return reject(ReasonNotTouchingBB, m), nil
	}

	// Gate 4: order-book buying pressure.
	if src != nil {
		imb, err := src.Imbalance(ctx)
		if err != nil {
			return reject(ReasonImbalanceLow, m), fmt.Errorf("order book imbalance: %w", err)
		}
		m.Imbalance = imb
		if imb < e.cfg.ImbalanceThreshold {
			return reject(ReasonImbalanceLow, m), nil
		}
	}

	return Decision{Enter: true, Reason: ReasonEnter, Metrics: m}, nil
}

// TouchLimit is the highest price still counted as touching the lower band.
func TouchLimit(lower, tolerancePct float64) float64 {
	return lower * (1 + tolerancePct/100.0)
}
