// Package claims implements exactly-once prize settlement: validating the
// claimant against the drawn winner and paying the prize and commission out
// of the vault.
package claims

import (
	"context"
	"errors"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/checked"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/round"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/treasury"
	"github.com/bclot-labs/raffle_layer/internal/app/events"
	"github.com/bclot-labs/raffle_layer/internal/app/metrics"
	"github.com/bclot-labs/raffle_layer/internal/app/services/rounds"
	"github.com/bclot-labs/raffle_layer/pkg/logger"
)

// ErrInsufficientVaultBalance is returned when the vault cannot cover the
// prize plus commission.
var ErrInsufficientVaultBalance = errors.New("insufficient vault balance")

// RoundSettler is the slice of the round service claims depend on.
type RoundSettler interface {
	GetRound(ctx context.Context, roundID uint32) (round.Round, error)
	MarkPrizeClaimed(ctx context.Context, roundID uint32, claimant string) (round.Round, error)
}

// FundsMover pays settlements out of the vault.
type FundsMover interface {
	Move(ctx context.Context, from, to string, amount uint64, memo string) error
	Balance(ctx context.Context, account string) (uint64, error)
}

// Settlement describes one paid-out claim.
type Settlement struct {
	RoundID    uint32 `json:"round_id"`
	Winner     string `json:"winner"`
	Prize      uint64 `json:"prize"`
	Commission uint64 `json:"commission"`
}

// Service settles prize claims.
type Service struct {
	rounds      RoundSettler
	funds       FundsMover
	bus         *events.Bus
	beneficiary string
	log         *logger.Logger
}

// New constructs a claims service. beneficiary receives the commission share
// of every settlement.
func New(settler RoundSettler, funds FundsMover, bus *events.Bus, beneficiary string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("claims")
	}
	return &Service{
		rounds:      settler,
		funds:       funds,
		bus:         bus,
		beneficiary: beneficiary,
		log:         log,
	}
}

// Claim settles the prize of a completed round for its winner. Claimant
// state is validated first, then the vault must cover prize and commission;
// only then is the claimed flag taken, so a claim pays out at most once.
func (s *Service) Claim(ctx context.Context, roundID uint32, claimant string) (Settlement, error) {
	r, err := s.rounds.GetRound(ctx, roundID)
	if err != nil {
		metrics.RecordClaim("error", 0)
		return Settlement{}, err
	}

	// MarkPrizeClaimed repeats these checks under the round lock; this pass
	// keeps the rejection order stable regardless of vault funding.
	if !r.Completed() {
		metrics.RecordClaim("rejected", 0)
		return Settlement{}, rounds.ErrRoundNotCompleted
	}
	if r.WinnerAddress == "" || r.WinnerAddress != claimant {
		metrics.RecordClaim("rejected", 0)
		return Settlement{}, rounds.ErrNotTheWinner
	}
	if r.PrizeClaimed {
		metrics.RecordClaim("rejected", 0)
		return Settlement{}, rounds.ErrPrizeAlreadyClaimed
	}

	total, err := checked.Add64(r.PrizeAmount, r.CommissionBalance)
	if err != nil {
		return Settlement{}, err
	}
	vault, err := s.funds.Balance(ctx, treasury.PrizeVault)
	if err != nil {
		return Settlement{}, err
	}
	if vault < total {
		metrics.RecordClaim("rejected", 0)
		return Settlement{}, ErrInsufficientVaultBalance
	}

	r, err = s.rounds.MarkPrizeClaimed(ctx, roundID, claimant)
	if err != nil {
		metrics.RecordClaim("rejected", 0)
		return Settlement{}, err
	}

	if r.PrizeAmount > 0 {
		if err := s.funds.Move(ctx, treasury.PrizeVault, r.WinnerAddress, r.PrizeAmount, "prize payout"); err != nil {
			metrics.RecordClaim("error", 0)
			return Settlement{}, err
		}
	}
	if r.CommissionBalance > 0 && s.beneficiary != "" {
		if err := s.funds.Move(ctx, treasury.PrizeVault, s.beneficiary, r.CommissionBalance, "commission payout"); err != nil {
			metrics.RecordClaim("error", 0)
			return Settlement{}, err
		}
	}

	settlement := Settlement{
		RoundID:    roundID,
		Winner:     r.WinnerAddress,
		Prize:      r.PrizeAmount,
		Commission: r.CommissionBalance,
	}
	s.log.WithField("round_id", roundID).
		WithField("winner", settlement.Winner).
		WithField("prize", settlement.Prize).
		WithField("commission", settlement.Commission).
		Info("prize claimed")
	metrics.RecordClaim("ok", settlement.Prize)
	if s.bus != nil {
		s.bus.Publish(events.TopicPrizeClaimed, map[string]any{
			"round_id":   roundID,
			"winner":     settlement.Winner,
			"prize":      settlement.Prize,
			"commission": settlement.Commission,
		})
	}
	return settlement, nil
}
