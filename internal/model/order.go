package model

import "time"

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Order is a market order request.
type Order struct {
	Symbol string  `json:"symbol"`
	Side   Side    `json:"side"`
	Qty    float64 `json:"qty"`
}

// Fill is the outcome of an accepted order.
// Price is the price the bookkeeping assumes, not necessarily the venue's
// average fill price.
type Fill struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Qty      float64   `json:"qty"`
	Price    float64   `json:"price"`
	Paper    bool      `json:"paper"`
	FilledAt time.Time `json:"filled_at"`
}
