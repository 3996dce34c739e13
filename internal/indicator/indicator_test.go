package indicator

import (
	"math"
	"testing"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func ramp(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period2(t *testing.T) {
	// alpha = 0.5, deltas: +1, -1, +2
	// after d2: avgGain = (0 + 0.5*1)/1.5 = 1/3, avgLoss = 1/1.5 = 2/3 -> RSI 33.3333
	// after d3: avgGain = 2.25/1.75, avgLoss = 0.5/1.75 -> RS 4.5 -> RSI 81.8182
	series := RSISeries([]float64{10, 11, 10, 12}, 2)

	if !math.IsNaN(series[0]) || !math.IsNaN(series[1]) {
		t.Fatalf("expected NaN during warm-up, got %v", series[:2])
	}
	assertClose(t, "RSI(2) close 3", series[2], 33.333333, 0.0001)
	assertClose(t, "RSI(2) close 4", series[3], 81.818182, 0.0001)
}

func TestRSI_UndefinedBeforeWarmup(t *testing.T) {
	closes := ramp(100, -1, 14) // 13 deltas, period 14
	if v := RSI(closes, 14); !math.IsNaN(v) {
		t.Errorf("expected NaN with %d closes, got %.4f", len(closes), v)
	}
	closes = append(closes, 80)
	if v := RSI(closes, 14); math.IsNaN(v) {
		t.Error("expected defined RSI with period+1 closes")
	}
}

func TestRSI_StrictlyIncreasingSaturatesAt100(t *testing.T) {
	v := RSI(ramp(100, 0.5, 60), 14)
	if v != 100 {
		t.Errorf("expected 100 for rising series, got %.6f", v)
	}
}

func TestRSI_StrictlyDecreasingGoesToZero(t *testing.T) {
	v := RSI(ramp(100, -0.5, 60), 14)
	assertClose(t, "falling RSI", v, 0, 1e-9)
}

func TestRSI_FlatSeriesNoDivisionFault(t *testing.T) {
	v := RSI(ramp(42, 0, 30), 14)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		t.Fatalf("expected finite RSI for flat series, got %v", v)
	}
	if v != 100 {
		t.Errorf("avgLoss=0 should saturate at 100, got %.4f", v)
	}
}

func TestRSI_AlwaysInRange(t *testing.T) {
	closes := []float64{
		100, 101.2, 99.8, 98.1, 102.4, 103.0, 97.5, 96.2, 99.9, 100.1,
		104.4, 101.3, 95.0, 94.8, 96.6, 99.0, 101.7, 100.2, 98.8, 97.3,
		93.1, 92.0, 95.5, 99.4, 102.2, 104.9, 103.3, 100.0, 98.6, 97.7,
	}
	for i, v := range RSISeries(closes, 5) {
		if math.IsNaN(v) {
			continue
		}
		if v < 0 || v > 100 {
			t.Errorf("close %d: RSI %.4f out of [0,100]", i, v)
		}
	}
}

func TestWilderRSI_PeekDoesNotMutate(t *testing.T) {
	r := NewWilderRSI(3)
	for _, c := range []float64{10, 11, 12, 11, 13} {
		r.Update(c)
	}
	before := r.Value()
	peeked := r.Peek(9)
	if r.Value() != before {
		t.Fatal("Peek mutated state")
	}

	r.Update(9)
	assertClose(t, "peek vs update", peeked, r.Value(), 1e-12)
}

// ────────────────────────────────────────────────────────────
// Bollinger Bands
// ────────────────────────────────────────────────────────────

func TestBollinger_Correctness(t *testing.T) {
	// mean 3, sample std sqrt(10/4) = 1.581139
	b, ok := Bollinger([]float64{1, 2, 3, 4, 5}, 5, 2)
	if !ok {
		t.Fatal("expected bands to be defined")
	}
	assertClose(t, "middle", b.Middle, 3, 1e-9)
	assertClose(t, "upper", b.Upper, 3+2*1.5811388, 1e-6)
	assertClose(t, "lower", b.Lower, 3-2*1.5811388, 1e-6)
}

func TestBollinger_UsesTrailingWindow(t *testing.T) {
	b, ok := Bollinger([]float64{1000, 1, 2, 3, 4, 5}, 5, 2)
	if !ok {
		t.Fatal("expected bands to be defined")
	}
	assertClose(t, "middle ignores older closes", b.Middle, 3, 1e-9)
}

func TestBollinger_UndefinedUntilPeriod(t *testing.T) {
	if _, ok := Bollinger([]float64{1, 2, 3}, 20, 2); ok {
		t.Error("expected ok=false with fewer closes than period")
	}
}

func TestBollinger_Ordering(t *testing.T) {
	closes := []float64{5, 5.2, 4.9, 5.1, 5.5, 4.7, 5.0, 5.3, 4.8, 5.05, 5.15, 4.95}
	for end := 4; end <= len(closes); end++ {
		b, ok := Bollinger(closes[:end], 4, 2)
		if !ok {
			t.Fatalf("window %d: expected bands", end)
		}
		if !(b.Upper >= b.Middle && b.Middle >= b.Lower) {
			t.Errorf("window %d: bands out of order %+v", end, b)
		}
	}

	flat, _ := Bollinger(ramp(7, 0, 10), 10, 2)
	if flat.Upper != flat.Middle || flat.Lower != flat.Middle {
		t.Errorf("flat series should collapse bands, got %+v", flat)
	}
}

// ────────────────────────────────────────────────────────────
// Percent change
// ────────────────────────────────────────────────────────────

func TestPercentChange(t *testing.T) {
	tests := []struct {
		name     string
		closes   []float64
		lookback int
		want     float64
	}{
		{"drop", []float64{100, 99, 98, 97}, 3, -3},
		{"rise", []float64{50, 55}, 1, 10},
		{"uses lookback bar", []float64{1, 200, 100, 150}, 2, -25},
		{"exactly lookback+1", []float64{80, 100}, 1, 25},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assertClose(t, tc.name, PercentChange(tc.closes, tc.lookback), tc.want, 1e-9)
		})
	}
}

func TestPercentChange_SentinelWhenShort(t *testing.T) {
	inputs := [][]float64{nil, {}, {100}, {100, 50, 25}}
	for _, closes := range inputs {
		if got := PercentChange(closes, len(closes)); got != 0.0 {
			t.Errorf("len=%d lookback=%d: expected exact 0.0 sentinel, got %v", len(closes), len(closes), got)
		}
	}
	if got := PercentChange([]float64{100, 1, 1, 1, 1}, 15); got != 0.0 {
		t.Errorf("expected 0.0 sentinel, got %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// Snapshot
// ────────────────────────────────────────────────────────────

func TestCompute_Snapshot(t *testing.T) {
	closes := ramp(120, -1, 30)
	snap := Compute(closes, Params{RSIPeriod: 14, BBPeriod: 20, BBStd: 2, Lookback: 5})

	if snap.Close != closes[len(closes)-1] {
		t.Errorf("close: got %v", snap.Close)
	}
	if !snap.RSIReady() {
		t.Fatal("expected RSI to be ready")
	}
	if !snap.BandOK {
		t.Fatal("expected bands to be ready")
	}
	assertClose(t, "change", snap.Change, (91.0-96.0)/96.0*100, 1e-9)
}
