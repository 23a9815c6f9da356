package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// Quote is the top of book for one outcome token.
type Quote struct {
	TokenID   string
	BestBid   float64
	BestAsk   float64
	Timestamp time.Time
}

// Mid returns the midpoint of the touch.
func (q Quote) Mid() float64 {
	return (q.BestBid + q.BestAsk) / 2
}

// Spread returns ask minus bid.
func (q Quote) Spread() float64 {
	return q.BestAsk - q.BestBid
}

// Complete reports whether both sides of the touch are populated.
func (q Quote) Complete() bool {
	return q.BestBid > 0 && q.BestAsk > 0
}

// TradeTick is one BTC trade print from the spot feed.
type TradeTick struct {
	Price     float64
	Timestamp time.Time
}
