package models

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TradeRecord is the immutable fact of one executed fill. Append-only;
// written by an executor immediately after the fill is confirmed.
type TradeRecord struct {
	ID         int64     `json:"id"`
	BotID      int64     `json:"bot_id"`
	Side       Side      `json:"side"`
	Amount     float64   `json:"amount"`   // base quantity
	Price      float64   `json:"price"`    // quote per base
	Notional   float64   `json:"notional"` // quote currency
	OrderID    string    `json:"order_id"` // exchange order id
	ExecutedAt time.Time `json:"executed_at"`
}
