package indicator

// PercentChange returns (last - past) / past * 100 where past is the close
// lookback bars before the last one.
//
// It returns exactly 0.0 when fewer than lookback+1 closes exist. That zero is
// a "not enough data" sentinel, not a flat reading; callers must treat it as
// no signal. A zero past price also yields 0.
func PercentChange(closes []float64, lookback int) float64 {
	if lookback < 0 || len(closes) < lookback+1 {
		return 0.0
	}
	last := closes[len(closes)-1]
	past := closes[len(closes)-1-lookback]
	if past == 0 {
		return 0.0
	}
	return (last - past) / past * 100.0
}
