// Package storage declares the persistence interfaces for the raffle engine.
// The memory implementation backs tests and single-node deployments; the
// postgres implementation backs durable deployments.
package storage

import (
	"context"
	"errors"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/directory"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/randomness"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/round"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/treasury"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when a create collides with an
	// existing record. Round ids and purchase indexes are unique keys.
	ErrAlreadyExists = errors.New("record already exists")
)

// RoundStore persists rounds together with their embedded ticket ledgers so
// a single update covers totals and ledger atomically.
type RoundStore interface {
	CreateRound(ctx context.Context, r round.Round) (round.Round, error)
	UpdateRound(ctx context.Context, r round.Round) (round.Round, error)
	GetRound(ctx context.Context, id uint32) (round.Round, error)
	ListRounds(ctx context.Context, limit int) ([]round.Round, error)
	CountRounds(ctx context.Context) (uint32, error)
}

// PurchaseStore persists the per-round purchase records. (roundID,
// purchaseIndex) is the unique key. RecordPurchase commits the updated round
// together with its new purchase record in one atomic operation.
type PurchaseStore interface {
	CreatePurchase(ctx context.Context, p round.Purchase) (round.Purchase, error)
	RecordPurchase(ctx context.Context, r round.Round, p round.Purchase) (round.Round, round.Purchase, error)
	GetPurchase(ctx context.Context, roundID, purchaseIndex uint32) (round.Purchase, error)
	ListPurchases(ctx context.Context, roundID uint32) ([]round.Purchase, error)
}

// DirectoryStore persists the singleton round directory. GetDirectory on an
// empty store returns a zero directory rather than ErrNotFound.
type DirectoryStore interface {
	GetDirectory(ctx context.Context) (directory.Directory, error)
	UpdateDirectory(ctx context.Context, d directory.Directory) (directory.Directory, error)
}

// RandomnessStore persists external randomness requests keyed by their
// delivery token.
type RandomnessStore interface {
	CreateRandomnessRequest(ctx context.Context, req randomness.Request) (randomness.Request, error)
	UpdateRandomnessRequest(ctx context.Context, req randomness.Request) (randomness.Request, error)
	GetRandomnessRequest(ctx context.Context, id string) (randomness.Request, error)
	CountPendingRandomnessRequests(ctx context.Context) (int, error)
}

// TreasuryStore persists named balances and transfer records. Transfer must
// check and move the balance atomically, returning
// treasury.ErrInsufficientFunds when the source cannot cover the amount.
// Balance credits are overflow-checked and fail rather than wrap.
type TreasuryStore interface {
	Deposit(ctx context.Context, account string, amount uint64) (uint64, error)
	Transfer(ctx context.Context, from, to string, amount uint64) error
	Balance(ctx context.Context, account string) (uint64, error)
	CreateTransferRecord(ctx context.Context, t treasury.Transfer) (treasury.Transfer, error)
	ListTransferRecords(ctx context.Context, account string, limit int) ([]treasury.Transfer, error)
}
