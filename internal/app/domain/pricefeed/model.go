// Package pricefeed defines market price quotes used to derive the ticket
// price from its BTC-denominated face value.
package pricefeed

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one asset/USD market price observation.
type Quote struct {
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	Source    string          `json:"source,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Stale reports whether the quote is older than maxAge at now. A zero maxAge
// disables the check.
func (q *Quote) Stale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(q.Timestamp) > maxAge
}
