// Package treasury implements token accounting over named balances: buyer
// payments into the prize vault, prize and commission payouts, and the
// authority-gated vault operations.
package treasury

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/treasury"
	"github.com/bclot-labs/raffle_layer/internal/app/storage"
	"github.com/bclot-labs/raffle_layer/pkg/logger"
)

// ErrUnauthorized is returned when a vault withdrawal is attempted by
// anyone but the configured authority.
var ErrUnauthorized = errors.New("not authorized")

// Service moves balances between treasury accounts.
type Service struct {
	store     storage.TreasuryStore
	authority string
	log       *logger.Logger
}

// New constructs a treasury service. authority is the only address allowed
// to withdraw from the vaults.
func New(store storage.TreasuryStore, authority string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("treasury")
	}
	return &Service{store: store, authority: authority, log: log}
}

// Move transfers amount between accounts and records the transfer.
func (s *Service) Move(ctx context.Context, from, to string, amount uint64, memo string) error {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" || to == "" {
		return fmt.Errorf("from and to accounts are required")
	}
	if amount == 0 {
		return treasury.ErrInvalidAmount
	}

	if err := s.store.Transfer(ctx, from, to, amount); err != nil {
		return err
	}
	if _, err := s.store.CreateTransferRecord(ctx, treasury.Transfer{
		From:   from,
		To:     to,
		Amount: amount,
		Memo:   memo,
	}); err != nil {
		// the balances moved; a missing audit record is logged, not fatal
		s.log.WithError(err).
			WithField("from", from).
			WithField("to", to).
			Warn("transfer record not written")
	}

	s.log.WithField("from", from).
		WithField("to", to).
		WithField("amount", amount).
		Debug("funds moved")
	return nil
}

// Deposit credits an account from outside the system and returns the new
// balance.
func (s *Service) Deposit(ctx context.Context, account string, amount uint64) (uint64, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return 0, fmt.Errorf("account is required")
	}
	if amount == 0 {
		return 0, treasury.ErrInvalidAmount
	}
	return s.store.Deposit(ctx, account, amount)
}

// Balance returns an account balance, zero for unknown accounts.
func (s *Service) Balance(ctx context.Context, account string) (uint64, error) {
	return s.store.Balance(ctx, account)
}

// FundVault tops up the prize vault from the given account.
func (s *Service) FundVault(ctx context.Context, from string, amount uint64) error {
	return s.Move(ctx, from, treasury.PrizeVault, amount, "vault funding")
}

// WithdrawVault moves vault funds out. Only the authority may call it.
func (s *Service) WithdrawVault(ctx context.Context, actor, to string, amount uint64) error {
	if s.authority == "" || actor != s.authority {
		return ErrUnauthorized
	}
	return s.Move(ctx, treasury.PrizeVault, to, amount, "vault withdrawal")
}

// History returns recent transfers touching the account, newest first.
func (s *Service) History(ctx context.Context, account string, limit int) ([]treasury.Transfer, error) {
	return s.store.ListTransferRecords(ctx, account, limit)
}
