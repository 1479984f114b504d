// Package draw implements winner selection: mapping a delivered random value
// onto the round's cumulative ticket ledger and driving the round into its
// terminal state.
package draw

import (
	"context"
	"errors"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/round"
	"github.com/bclot-labs/raffle_layer/internal/app/metrics"
	"github.com/bclot-labs/raffle_layer/internal/app/services/rounds"
	"github.com/bclot-labs/raffle_layer/pkg/logger"
)

// ErrNoTicketsSold is returned when a draw targets a round without tickets.
// It is fatal for manual intervention; the scheduler never requests such
// draws.
var ErrNoTicketsSold = errors.New("no tickets sold")

// RoundCompleter is the slice of the round service the draw depends on.
type RoundCompleter interface {
	GetRound(ctx context.Context, roundID uint32) (round.Round, error)
	CompleteRound(ctx context.Context, roundID, ticketIndex, purchaseIndex uint32) (round.Round, error)
	AssignWinnerAddress(ctx context.Context, roundID, purchaseIndex uint32) (round.Round, error)
}

// Outcome describes one winner selection.
type Outcome struct {
	RoundID             uint32 `json:"round_id"`
	Skipped             bool   `json:"skipped"`
	WinnerTicketIndex   uint32 `json:"winner_ticket_index"`
	WinnerPurchaseIndex uint32 `json:"winner_purchase_index"`
	WinnerAddress       string `json:"winner_address,omitempty"`
}

// Service selects winners for ended rounds.
type Service struct {
	rounds RoundCompleter
	log    *logger.Logger
}

// New constructs a draw service.
func New(completer RoundCompleter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("draw")
	}
	return &Service{rounds: completer, log: log}
}

// SelectWinner consumes one random value for the round. The winning ticket
// is randomValue modulo the ticket total and its owner is resolved through
// the ledger. A round that is already completed makes the call a no-op, so
// redundant randomness deliveries are harmless; the winner address is then
// assigned from the drawn purchase.
func (s *Service) SelectWinner(ctx context.Context, roundID uint32, randomValue uint64) (Outcome, error) {
	r, err := s.rounds.GetRound(ctx, roundID)
	if err != nil {
		return Outcome{}, err
	}
	if r.Completed() {
		s.log.WithField("round_id", roundID).Debug("round already completed, draw skipped")
		metrics.RecordDraw("skipped")
		return Outcome{RoundID: roundID, Skipped: true}, nil
	}
	if r.TotalTickets == 0 {
		metrics.RecordDraw("error")
		return Outcome{}, ErrNoTicketsSold
	}

	ticketIndex := uint32(randomValue % uint64(r.TotalTickets))
	purchaseIndex, err := r.Ledger.LookupOwner(ticketIndex)
	if err != nil {
		metrics.RecordDraw("error")
		return Outcome{}, err
	}

	if _, err := s.rounds.CompleteRound(ctx, roundID, ticketIndex, purchaseIndex); err != nil {
		if errors.Is(err, rounds.ErrRoundCompleted) {
			metrics.RecordDraw("skipped")
			return Outcome{RoundID: roundID, Skipped: true}, nil
		}
		metrics.RecordDraw("error")
		return Outcome{}, err
	}

	outcome := Outcome{
		RoundID:             roundID,
		WinnerTicketIndex:   ticketIndex,
		WinnerPurchaseIndex: purchaseIndex,
	}
	assigned, err := s.rounds.AssignWinnerAddress(ctx, roundID, purchaseIndex)
	if err != nil {
		// the draw itself has landed; the address can be assigned later
		s.log.WithError(err).WithField("round_id", roundID).Warn("winner address assignment failed")
	} else {
		outcome.WinnerAddress = assigned.WinnerAddress
	}

	s.log.WithField("round_id", roundID).
		WithField("winner_ticket_index", ticketIndex).
		WithField("winner_purchase_index", purchaseIndex).
		WithField("winner", outcome.WinnerAddress).
		Info("winner selected")
	metrics.RecordDraw("ok")
	return outcome, nil
}

// ConsumeRandomness adapts SelectWinner to the randomness delivery callback.
func (s *Service) ConsumeRandomness(ctx context.Context, roundID uint32, randomValue uint64) error {
	_, err := s.SelectWinner(ctx, roundID, randomValue)
	return err
}
