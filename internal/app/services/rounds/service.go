// Package rounds implements the raffle round lifecycle: opening rounds,
// recording ticket purchases into the cumulative ledger, rolling the
// directory forward when sales windows close and gating the terminal state
// transitions every other service depends on.
package rounds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/checked"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/directory"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/round"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/treasury"
	"github.com/bclot-labs/raffle_layer/internal/app/events"
	"github.com/bclot-labs/raffle_layer/internal/app/metrics"
	"github.com/bclot-labs/raffle_layer/internal/app/storage"
	"github.com/bclot-labs/raffle_layer/pkg/logger"
)

var (
	// ErrInvalidTicketCount is returned for zero-ticket purchases.
	ErrInvalidTicketCount = errors.New("ticket count must be positive")
	// ErrInvalidTicketPrice is returned when the oracle quotes a zero price.
	ErrInvalidTicketPrice = errors.New("invalid ticket price")
	// ErrInsufficientSlippage is returned when the purchase cost exceeds the
	// buyer's stated maximum.
	ErrInsufficientSlippage = errors.New("cost exceeds max cost")
	// ErrRoundNotAvailable is returned when the target round is neither the
	// current round nor the next round after an elapsed window.
	ErrRoundNotAvailable = errors.New("round not available for purchase")
	// ErrRoundNotCreated is returned before the first round exists.
	ErrRoundNotCreated = errors.New("round not created yet")
	// ErrRoundNotOpen is returned when a draw is requested for a round that
	// is not open.
	ErrRoundNotOpen = errors.New("round not open")
	// ErrRoundNotCompleted is returned when winner assignment or a claim
	// targets a round whose draw has not happened.
	ErrRoundNotCompleted = errors.New("round not completed")
	// ErrRoundNotEndedYet is returned when a draw is requested before the
	// sales window closes.
	ErrRoundNotEndedYet = errors.New("round not ended yet")
	// ErrRoundSequence is returned when an opened round id does not follow
	// the current round.
	ErrRoundSequence = errors.New("round id out of sequence")
	// ErrRoundCompleted is returned by mutations against a completed round.
	ErrRoundCompleted = errors.New("round already completed")
	// ErrWinnerAlreadySet is returned when a winner address is assigned twice.
	ErrWinnerAlreadySet = errors.New("winner address already set")
	// ErrInvalidPurchaseIndex is returned when a winner assignment names a
	// purchase other than the drawn one.
	ErrInvalidPurchaseIndex = errors.New("purchase index does not match winner")
	// ErrNotTheWinner is returned when a claimant is not the recorded winner.
	ErrNotTheWinner = errors.New("claimant is not the winner")
	// ErrPrizeAlreadyClaimed is returned for repeated prize claims.
	ErrPrizeAlreadyClaimed = errors.New("prize already claimed")
)

// PriceQuoter supplies the current ticket price in smallest payment units.
type PriceQuoter interface {
	TicketPrice(ctx context.Context) (uint64, error)
}

// FundsMover moves balances between treasury accounts.
type FundsMover interface {
	Move(ctx context.Context, from, to string, amount uint64, memo string) error
}

// Config carries the round engine parameters.
type Config struct {
	// RoundDuration is the sales window length; rounds close on wall-clock
	// multiples of it.
	RoundDuration time.Duration
	// LedgerCapacity bounds purchases per round, 0 for unbounded.
	LedgerCapacity int
	// FeePercent is the commission share of every purchase, 0..100.
	FeePercent uint8
}

func (c Config) withDefaults() Config {
	if c.RoundDuration <= 0 {
		c.RoundDuration = round.DefaultDuration
	}
	if c.FeePercent > 100 {
		c.FeePercent = 100
	}
	return c
}

// PurchaseRequest describes one ticket purchase.
type PurchaseRequest struct {
	RoundID uint32
	Buyer   string
	Count   uint32
	// MaxCost is the buyer's slippage bound; the purchase fails when the
	// quoted cost exceeds it.
	MaxCost uint64
}

// Service owns all round and directory mutations. Public operations are
// serialised under one mutex so directory, round, ledger and purchase records
// never interleave.
type Service struct {
	mu        sync.Mutex
	rounds    storage.RoundStore
	purchases storage.PurchaseStore
	dirs      storage.DirectoryStore
	prices    PriceQuoter
	funds     FundsMover
	bus       *events.Bus
	cfg       Config
	now       func() time.Time
	log       *logger.Logger
}

// New constructs a round service.
func New(roundStore storage.RoundStore, purchaseStore storage.PurchaseStore, dirStore storage.DirectoryStore, prices PriceQuoter, funds FundsMover, bus *events.Bus, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("rounds")
	}
	return &Service{
		rounds:    roundStore,
		purchases: purchaseStore,
		dirs:      dirStore,
		prices:    prices,
		funds:     funds,
		bus:       bus,
		cfg:       cfg.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// SetTimeSource overrides the clock, for tests.
func (s *Service) SetTimeSource(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// OpenRound creates roundID and makes it current. The id must be the first
// round ever or follow the current round, whose window must already have
// closed.
func (s *Service) OpenRound(ctx context.Context, roundID uint32) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.dirs.GetDirectory(ctx)
	if err != nil {
		return round.Round{}, err
	}
	now := s.now()
	if dir.CurrentRoundID != nil {
		if roundID != *dir.CurrentRoundID+1 {
			return round.Round{}, ErrRoundSequence
		}
		if dir.CurrentRoundEndTime != nil && now.Before(*dir.CurrentRoundEndTime) {
			return round.Round{}, ErrRoundNotEndedYet
		}
	}
	return s.openLocked(ctx, &dir, roundID, now)
}

// openLocked creates a round and rolls the directory forward. A previous
// round left open with tickets goes to the pending queue so its draw is not
// lost.
func (s *Service) openLocked(ctx context.Context, dir *directory.Directory, roundID uint32, now time.Time) (round.Round, error) {
	r := round.Round{
		RoundID:   roundID,
		Status:    round.StatusOpen,
		StartTime: now,
		EndTime:   round.AlignedEnd(now, s.cfg.RoundDuration),
		Ledger:    round.NewTicketLedger(s.cfg.LedgerCapacity),
	}
	created, err := s.rounds.CreateRound(ctx, r)
	if err != nil {
		return round.Round{}, fmt.Errorf("create round %d: %w", roundID, err)
	}

	if dir.CurrentRoundID != nil && dir.CurrentRoundStatus == round.StatusOpen {
		prev, err := s.rounds.GetRound(ctx, *dir.CurrentRoundID)
		if err == nil && prev.TotalTickets > 0 {
			dir.MarkPending(*dir.CurrentRoundID)
		}
	}

	end := created.EndTime
	dir.CurrentRoundID = &created.RoundID
	dir.CurrentRoundStatus = round.StatusOpen
	dir.CurrentRoundEndTime = &end
	total, err := checked.Add32(dir.TotalRounds, 1)
	if err != nil {
		return round.Round{}, err
	}
	dir.TotalRounds = total
	if _, err := s.dirs.UpdateDirectory(ctx, *dir); err != nil {
		return round.Round{}, err
	}

	s.log.WithField("round_id", created.RoundID).
		WithField("end_time", created.EndTime).
		Info("round opened")
	if s.bus != nil {
		s.bus.Publish(events.TopicRoundOpened, map[string]any{
			"round_id": created.RoundID,
			"end_time": created.EndTime,
		})
	}
	return created, nil
}

// RecordPurchase sells tickets into the requested round. The round must be
// the current one with an open window, or the next one once the current
// window has elapsed; in the latter case (and for the very first purchase)
// the round is created as part of the purchase.
func (s *Service) RecordPurchase(ctx context.Context, req PurchaseRequest) (round.Purchase, round.Round, error) {
	req.Buyer = strings.TrimSpace(req.Buyer)
	if req.Buyer == "" {
		return round.Purchase{}, round.Round{}, fmt.Errorf("buyer is required")
	}
	if req.Count == 0 {
		return round.Purchase{}, round.Round{}, ErrInvalidTicketCount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.dirs.GetDirectory(ctx)
	if err != nil {
		return round.Purchase{}, round.Round{}, err
	}
	now := s.now()

	r, err := s.targetRoundLocked(ctx, &dir, req.RoundID, now)
	if err != nil {
		metrics.RecordPurchase("rejected", 0)
		return round.Purchase{}, round.Round{}, err
	}

	price, err := s.prices.TicketPrice(ctx)
	if err != nil {
		metrics.RecordPurchase("error", 0)
		return round.Purchase{}, round.Round{}, fmt.Errorf("quote ticket price: %w", err)
	}
	if price == 0 {
		metrics.RecordPurchase("error", 0)
		return round.Purchase{}, round.Round{}, ErrInvalidTicketPrice
	}

	cost, err := checked.Mul64(price, uint64(req.Count))
	if err != nil {
		return round.Purchase{}, round.Round{}, err
	}
	if cost > req.MaxCost {
		metrics.RecordPurchase("rejected", 0)
		return round.Purchase{}, round.Round{}, ErrInsufficientSlippage
	}

	commissionGross, err := checked.Mul64(cost, uint64(s.cfg.FeePercent))
	if err != nil {
		return round.Purchase{}, round.Round{}, err
	}
	commission := commissionGross / 100
	prizeShare, err := checked.Sub64(cost, commission)
	if err != nil {
		return round.Purchase{}, round.Round{}, err
	}

	// bonus ticket for the round's first purchase
	tickets := req.Count
	bonus := r.PurchasesCount == 0
	if bonus {
		tickets, err = checked.Add32(req.Count, 1)
		if err != nil {
			return round.Purchase{}, round.Round{}, err
		}
	}
	newTotal, err := checked.Add32(r.TotalTickets, tickets)
	if err != nil {
		return round.Purchase{}, round.Round{}, err
	}
	purchasesCount, err := checked.Add32(r.PurchasesCount, 1)
	if err != nil {
		return round.Purchase{}, round.Round{}, err
	}
	newPrize, err := checked.Add64(r.PrizeAmount, prizeShare)
	if err != nil {
		return round.Purchase{}, round.Round{}, err
	}
	newCommission, err := checked.Add64(r.CommissionBalance, commission)
	if err != nil {
		return round.Purchase{}, round.Round{}, err
	}

	// capacity is checked before any funds move
	if r.Ledger.Full() {
		metrics.RecordPurchase("rejected", 0)
		return round.Purchase{}, round.Round{}, round.ErrLedgerFull
	}

	if err := s.funds.Move(ctx, req.Buyer, treasury.PrizeVault, cost, fmt.Sprintf("tickets round %d", r.RoundID)); err != nil {
		if errors.Is(err, treasury.ErrInsufficientFunds) {
			metrics.RecordPurchase("rejected", 0)
		} else {
			metrics.RecordPurchase("error", 0)
		}
		return round.Purchase{}, round.Round{}, err
	}

	idx, err := r.Ledger.Append(newTotal)
	if err != nil {
		return round.Purchase{}, round.Round{}, err
	}
	r.TotalTickets = newTotal
	r.PurchasesCount = purchasesCount
	r.PrizeAmount = newPrize
	r.CommissionBalance = newCommission

	updated, purchase, err := s.purchases.RecordPurchase(ctx, r, round.Purchase{
		RoundID:       r.RoundID,
		PurchaseIndex: idx,
		Buyer:         req.Buyer,
		TicketsCount:  tickets,
		PaidTickets:   req.Count,
		Cost:          cost,
	})
	if err != nil {
		// the buyer's payment is already in the vault; give it back
		if refundErr := s.funds.Move(ctx, treasury.PrizeVault, req.Buyer, cost, fmt.Sprintf("refund round %d", r.RoundID)); refundErr != nil {
			s.log.WithError(refundErr).
				WithField("round_id", r.RoundID).
				WithField("buyer", req.Buyer).
				WithField("cost", cost).
				Error("purchase refund failed")
		}
		metrics.RecordPurchase("error", 0)
		return round.Purchase{}, round.Round{}, fmt.Errorf("record purchase: %w", err)
	}

	s.log.WithField("round_id", r.RoundID).
		WithField("buyer", req.Buyer).
		WithField("tickets", tickets).
		WithField("cost", cost).
		Info("tickets purchased")
	metrics.RecordPurchase("ok", tickets)
	if s.bus != nil {
		s.bus.Publish(events.TopicTicketPurchased, map[string]any{
			"round_id":       r.RoundID,
			"buyer":          req.Buyer,
			"purchase_index": idx,
			"tickets":        tickets,
			"cost":           cost,
		})
		if bonus {
			s.bus.Publish(events.TopicBonusAwarded, map[string]any{
				"round_id": r.RoundID,
				"buyer":    req.Buyer,
			})
		}
	}
	return purchase, updated, nil
}

// targetRoundLocked resolves a purchase's round, creating it lazily when the
// purchase legitimately starts a new round.
func (s *Service) targetRoundLocked(ctx context.Context, dir *directory.Directory, roundID uint32, now time.Time) (round.Round, error) {
	if dir.CurrentRoundID == nil {
		// first purchase ever opens the first round
		return s.openLocked(ctx, dir, roundID, now)
	}

	cur := *dir.CurrentRoundID
	elapsed := dir.CurrentRoundEndTime == nil || !now.Before(*dir.CurrentRoundEndTime)
	completed := dir.CurrentRoundStatus == round.StatusCompleted

	switch {
	case roundID == cur && !elapsed && !completed:
		r, err := s.rounds.GetRound(ctx, cur)
		if err != nil {
			return round.Round{}, err
		}
		if r.Status != round.StatusOpen {
			return round.Round{}, ErrRoundNotAvailable
		}
		return r, nil
	case roundID == cur+1 && (elapsed || completed):
		return s.openLocked(ctx, dir, roundID, now)
	default:
		return round.Round{}, ErrRoundNotAvailable
	}
}

// AdvanceIfElapsed rolls the directory onto the next round when the current
// window has closed and the round needs no draw (already completed, or no
// tickets were sold). Rounds awaiting a draw are left in place for the draw
// pipeline. It reports whether a new round was opened.
func (s *Service) AdvanceIfElapsed(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.dirs.GetDirectory(ctx)
	if err != nil {
		return false, err
	}
	if dir.CurrentRoundID == nil {
		return false, nil
	}
	now := s.now()
	if dir.CurrentRoundEndTime != nil && now.Before(*dir.CurrentRoundEndTime) {
		return false, nil
	}

	cur := *dir.CurrentRoundID
	r, err := s.rounds.GetRound(ctx, cur)
	if err != nil {
		return false, err
	}
	if r.Status == round.StatusOpen && r.TotalTickets > 0 {
		// a draw is still owed; the directory stays put until it lands
		return false, nil
	}
	if _, err := s.openLocked(ctx, &dir, cur+1, now); err != nil {
		return false, err
	}
	return true, nil
}

// SelectRoundToProcess picks the round whose draw should run next: the
// oldest pending round first, otherwise the current round once it is open
// and its window has closed.
func (s *Service) SelectRoundToProcess(ctx context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.dirs.GetDirectory(ctx)
	if err != nil {
		return 0, err
	}
	if head, ok := dir.PendingHead(); ok {
		return head, nil
	}
	if dir.CurrentRoundID == nil {
		return 0, ErrRoundNotCreated
	}
	r, err := s.rounds.GetRound(ctx, *dir.CurrentRoundID)
	if err != nil {
		return 0, err
	}
	if r.Status != round.StatusOpen {
		return 0, ErrRoundNotOpen
	}
	if !r.Ended(s.now()) {
		return 0, ErrRoundNotEndedYet
	}
	return r.RoundID, nil
}

// CompleteRound records the drawn winner indexes and moves the round to its
// terminal state. The round leaves the pending queue either way; a round
// already completed returns ErrRoundCompleted so redundant draws stay
// harmless.
func (s *Service) CompleteRound(ctx context.Context, roundID, ticketIndex, purchaseIndex uint32) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.dirs.GetDirectory(ctx)
	if err != nil {
		return round.Round{}, err
	}
	r, err := s.rounds.GetRound(ctx, roundID)
	if err != nil {
		return round.Round{}, err
	}
	if r.Completed() {
		dir.RemovePending(roundID)
		if _, err := s.dirs.UpdateDirectory(ctx, dir); err != nil {
			return round.Round{}, err
		}
		return r, ErrRoundCompleted
	}

	r.Status = round.StatusCompleted
	r.WinnerTicketIndex = &ticketIndex
	r.WinnerPurchaseIndex = &purchaseIndex
	updated, err := s.rounds.UpdateRound(ctx, r)
	if err != nil {
		return round.Round{}, err
	}

	// the directory status mirror tracks the current round only
	if dir.IsCurrent(roundID) {
		dir.CurrentRoundStatus = round.StatusCompleted
	}
	dir.RemovePending(roundID)
	if _, err := s.dirs.UpdateDirectory(ctx, dir); err != nil {
		return round.Round{}, err
	}

	s.log.WithField("round_id", roundID).
		WithField("winner_ticket_index", ticketIndex).
		WithField("winner_purchase_index", purchaseIndex).
		Info("round completed")
	if s.bus != nil {
		s.bus.Publish(events.TopicWinnerPicked, map[string]any{
			"round_id":              roundID,
			"winner_ticket_index":   ticketIndex,
			"winner_purchase_index": purchaseIndex,
		})
	}
	return updated, nil
}

// AssignWinnerAddress resolves the drawn purchase to its buyer and records
// the address, exactly once.
func (s *Service) AssignWinnerAddress(ctx context.Context, roundID, purchaseIndex uint32) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.rounds.GetRound(ctx, roundID)
	if err != nil {
		return round.Round{}, err
	}
	if !r.Completed() {
		return round.Round{}, ErrRoundNotCompleted
	}
	if r.WinnerAddress != "" {
		return round.Round{}, ErrWinnerAlreadySet
	}
	if r.WinnerPurchaseIndex == nil || *r.WinnerPurchaseIndex != purchaseIndex {
		return round.Round{}, ErrInvalidPurchaseIndex
	}

	p, err := s.purchases.GetPurchase(ctx, roundID, purchaseIndex)
	if err != nil {
		return round.Round{}, fmt.Errorf("resolve winner purchase: %w", err)
	}
	r.WinnerAddress = p.Buyer
	updated, err := s.rounds.UpdateRound(ctx, r)
	if err != nil {
		return round.Round{}, err
	}

	s.log.WithField("round_id", roundID).
		WithField("winner", p.Buyer).
		Info("winner address assigned")
	if s.bus != nil {
		s.bus.Publish(events.TopicWinnerAssigned, map[string]any{
			"round_id": roundID,
			"winner":   p.Buyer,
		})
	}
	return updated, nil
}

// MarkPrizeClaimed validates the claimant and flips the claimed flag, exactly
// once. The ledger is released afterwards; its draw is done.
func (s *Service) MarkPrizeClaimed(ctx context.Context, roundID uint32, claimant string) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.rounds.GetRound(ctx, roundID)
	if err != nil {
		return round.Round{}, err
	}
	if !r.Completed() {
		return round.Round{}, ErrRoundNotCompleted
	}
	if r.WinnerAddress == "" || r.WinnerAddress != claimant {
		return round.Round{}, ErrNotTheWinner
	}
	if r.PrizeClaimed {
		return round.Round{}, ErrPrizeAlreadyClaimed
	}

	r.PrizeClaimed = true
	r.Ledger.Cumulative = nil
	return s.rounds.UpdateRound(ctx, r)
}

// Directory returns the global round directory.
func (s *Service) Directory(ctx context.Context) (directory.Directory, error) {
	return s.dirs.GetDirectory(ctx)
}

// GetRound returns one round by id.
func (s *Service) GetRound(ctx context.Context, roundID uint32) (round.Round, error) {
	return s.rounds.GetRound(ctx, roundID)
}

// ListRounds returns rounds ordered by id.
func (s *Service) ListRounds(ctx context.Context, limit int) ([]round.Round, error) {
	return s.rounds.ListRounds(ctx, limit)
}

// RoundResult returns the settled outcome view of a round.
func (s *Service) RoundResult(ctx context.Context, roundID uint32) (round.Result, error) {
	r, err := s.rounds.GetRound(ctx, roundID)
	if err != nil {
		return round.Result{}, err
	}
	return r.ResultView(), nil
}

// ListPurchases returns a round's purchases ordered by index.
func (s *Service) ListPurchases(ctx context.Context, roundID uint32) ([]round.Purchase, error) {
	return s.purchases.ListPurchases(ctx, roundID)
}

// CurrentRoundID returns the round id purchases should target right now: the
// current round, or its successor once the window has elapsed even though
// the successor is only created on first use.
func (s *Service) CurrentRoundID(ctx context.Context) (uint32, error) {
	dir, err := s.dirs.GetDirectory(ctx)
	if err != nil {
		return 0, err
	}
	if dir.CurrentRoundID == nil {
		return 0, ErrRoundNotCreated
	}
	cur := *dir.CurrentRoundID
	if dir.CurrentRoundEndTime != nil && !s.nowSafe().Before(*dir.CurrentRoundEndTime) {
		return cur + 1, nil
	}
	return cur, nil
}

// RoundCount returns the lifetime number of rounds opened.
func (s *Service) RoundCount(ctx context.Context) (uint32, error) {
	dir, err := s.dirs.GetDirectory(ctx)
	if err != nil {
		return 0, err
	}
	return dir.TotalRounds, nil
}

func (s *Service) nowSafe() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}
