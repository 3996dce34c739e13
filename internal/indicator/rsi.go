package indicator

import "math"

// WilderRSI calculates the Relative Strength Index with exponentially weighted
// average gains and losses, alpha = 1/period.
//
// The averages use bias-adjusted weights: each average is
// sum((1-alpha)^i * x[t-i]) / sum((1-alpha)^i), which keeps early values from
// being dragged toward a zero seed. The value is defined once period deltas
// (period+1 closes) have been seen. Update is O(1) per close.
type WilderRSI struct {
	period    int
	decay     float64
	count     int // closes seen
	prevClose float64
	gainNum   float64
	lossNum   float64
	weight    float64
}

// NewWilderRSI creates an RSI with the given period (typically 14).
func NewWilderRSI(period int) *WilderRSI {
	if period < 1 {
		period = 1
	}
	return &WilderRSI{
		period: period,
		decay:  1 - 1/float64(period),
	}
}

func (r *WilderRSI) Name() string { return "RSI" }

// Update feeds the next close.
func (r *WilderRSI) Update(close float64) {
	r.count++
	if r.count == 1 {
		r.prevClose = close
		return
	}

	delta := close - r.prevClose
	r.prevClose = close

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	r.gainNum = gain + r.decay*r.gainNum
	r.lossNum = loss + r.decay*r.lossNum
	r.weight = 1 + r.decay*r.weight
}

// Ready returns true once period deltas have been accumulated.
func (r *WilderRSI) Ready() bool { return r.count > r.period }

// Value returns the current RSI, or NaN before Ready.
func (r *WilderRSI) Value() float64 {
	if !r.Ready() {
		return math.NaN()
	}
	return rsiFromAverages(r.gainNum/r.weight, r.lossNum/r.weight)
}

// Peek computes what Value() would be if close were fed next, without
// mutating state.
func (r *WilderRSI) Peek(close float64) float64 {
	if r.count == 0 || r.count < r.period {
		return math.NaN()
	}
	delta := close - r.prevClose
	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	w := 1 + r.decay*r.weight
	return rsiFromAverages((gain+r.decay*r.gainNum)/w, (loss+r.decay*r.lossNum)/w)
}

// Reset clears the RSI state for reuse.
func (r *WilderRSI) Reset() {
	r.count = 0
	r.prevClose = 0
	r.gainNum = 0
	r.lossNum = 0
	r.weight = 0
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// RSI returns the RSI of the latest close in closes, NaN when fewer than
// period+1 closes are available.
func RSI(closes []float64, period int) float64 {
	r := NewWilderRSI(period)
	for _, c := range closes {
		r.Update(c)
	}
	return r.Value()
}

// RSISeries returns the RSI after every close, NaN during warm-up.
func RSISeries(closes []float64, period int) []float64 {
	r := NewWilderRSI(period)
	out := make([]float64, len(closes))
	for i, c := range closes {
		r.Update(c)
		out[i] = r.Value()
	}
	return out
}
