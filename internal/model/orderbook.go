package model

// Level is a single price+volume entry in an order book.
type Level struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// OrderBook is a depth snapshot, bids descending and asks ascending by price.
type OrderBook struct {
	Symbol string  `json:"symbol"`
	Bids   []Level `json:"bids"`
	Asks   []Level `json:"asks"`
}

// Imbalance returns (bidVol - askVol) / (bidVol + askVol) over the top depth
// levels of each side. Positive values mean more resting buy volume.
// An empty book yields 0.
func (b *OrderBook) Imbalance(depth int) float64 {
	bidVol := sumVolume(b.Bids, depth)
	askVol := sumVolume(b.Asks, depth)
	if bidVol+askVol == 0 {
		return 0
	}
	return (bidVol - askVol) / (bidVol + askVol)
}

func sumVolume(levels []Level, depth int) float64 {
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	total := 0.0
	for _, l := range levels {
		total += l.Volume
	}
	return total
}
