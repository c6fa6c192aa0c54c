package models

import "time"

type Balance struct {
	Free  float64 `json:"free"`
	Used  float64 `json:"used"`
	Total float64 `json:"total"`
}

type BookLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

type OrderBook struct {
	Bids []BookLevel `json:"bids"` // best first
	Asks []BookLevel `json:"asks"` // best first
}

// Mid returns the arithmetic mean of best bid and best ask, and false when
// either side of the book is empty.
func (ob *OrderBook) Mid() (float64, bool) {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return 0, false
	}
	return (ob.Bids[0].Price + ob.Asks[0].Price) / 2, true
}

type Ticker struct {
	Last float64 `json:"last"`
}

// FillResult is the confirmed outcome of an immediate (market) order.
type FillResult struct {
	OrderID  string  `json:"order_id"`
	Amount   float64 `json:"amount"`
	Price    float64 `json:"price"`
	Notional float64 `json:"notional"`
}

type OpenOrder struct {
	ID        string    `json:"id"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// PastTrade is one fill as the exchange reports it. The exchange knows
// nothing about bot ids; callers attribute fills themselves.
type PastTrade struct {
	ID      string    `json:"id"`
	OrderID string    `json:"order_id"`
	Side    Side      `json:"side"`
	Amount  float64   `json:"amount"`
	Price   float64   `json:"price"`
	At      time.Time `json:"at"`
}

// Notional returns the quote-currency value of the fill.
func (t PastTrade) Notional() float64 {
	return t.Amount * t.Price
}
