package indicator

import (
	"math"

	"github.com/montanaflynn/stats"
)

// Bands is a Bollinger envelope around a simple moving average.
type Bands struct {
	Middle float64 `json:"middle"`
	Upper  float64 `json:"upper"`
	Lower  float64 `json:"lower"`
}

// Bollinger computes the bands over the last period closes using the sample
// standard deviation (n-1 denominator). ok is false until period closes exist.
func Bollinger(closes []float64, period int, k float64) (Bands, bool) {
	if period <= 0 || len(closes) < period {
		return Bands{}, false
	}
	window := stats.Float64Data(closes[len(closes)-period:])

	mean, err := stats.Mean(window)
	if err != nil {
		return Bands{}, false
	}

	std := 0.0
	if period > 1 {
		std, err = stats.StandardDeviationSample(window)
		if err != nil || math.IsNaN(std) || std < 0 {
			std = 0
		}
	}

	return Bands{
		Middle: mean,
		Upper:  mean + k*std,
		Lower:  mean - k*std,
	}, true
}
