// Package treasury defines the token accounting model: named balances for
// the prize vault and supporting accounts plus the transfer records moved
// between them.
package treasury

import (
	"errors"
	"time"
)

// Well-known internal accounts.
const (
	PrizeVault  = "prize_vault"
	RentVault   = "rent_vault"
	VRFFeeVault = "vrf_fee_vault"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the account balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount is returned for zero-amount transfers.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Account is a named token balance in smallest payment-asset units.
type Account struct {
	Name      string    `json:"name"`
	Balance   uint64    `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transfer is the record of one balance movement.
type Transfer struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    uint64    `json:"amount"`
	Memo      string    `json:"memo,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
