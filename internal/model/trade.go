package model

import json "github.com/goccy/go-json"

// TradeKind distinguishes entry and exit records.
type TradeKind string

const (
	TradeEntry TradeKind = "entry"
	TradeExit  TradeKind = "exit"
)

// TradeRecord is an immutable log entry written once per fill.
// PnL is only set on exits.
type TradeRecord struct {
	Kind       TradeKind `json:"type"`
	Symbol     string    `json:"symbol"`
	PositionID int64     `json:"position_id"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	PnL        float64   `json:"pnl,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	Tick       Tick      `json:"tick"`
}

// JSON returns the JSON-encoded record.
func (r *TradeRecord) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
