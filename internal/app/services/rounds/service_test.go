package rounds

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/round"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/treasury"
	"github.com/bclot-labs/raffle_layer/internal/app/events"
	"github.com/bclot-labs/raffle_layer/internal/app/storage"
	"github.com/bclot-labs/raffle_layer/internal/app/storage/memory"
)

type staticQuoter struct {
	price uint64
	err   error
}

func (q *staticQuoter) TicketPrice(context.Context) (uint64, error) { return q.price, q.err }

type fakeFunds struct {
	balances map[string]uint64
}

func newFakeFunds() *fakeFunds { return &fakeFunds{balances: make(map[string]uint64)} }

func (f *fakeFunds) Move(_ context.Context, from, to string, amount uint64, _ string) error {
	if f.balances[from] < amount {
		return treasury.ErrInsufficientFunds
	}
	f.balances[from] -= amount
	f.balances[to] += amount
	return nil
}

type fixture struct {
	svc   *Service
	funds *fakeFunds
	now   time.Time
}

func newFixture(t *testing.T, price uint64) *fixture {
	t.Helper()
	store := memory.New()
	f := &fixture{funds: newFakeFunds(), now: time.Unix(0, 0).UTC()}
	f.svc = New(store, store, store, &staticQuoter{price: price}, f.funds, events.NewBus(), Config{
		RoundDuration: 10 * time.Minute,
		FeePercent:    10,
	}, nil)
	f.svc.SetTimeSource(func() time.Time { return f.now })
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func TestFirstPurchaseOpensRoundWithBonus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.funds.balances["alice"] = 1000
	f.advance(10 * time.Second)

	p, r, err := f.svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 1, Buyer: "alice", Count: 3, MaxCost: 300})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if p.TicketsCount != 4 || p.PaidTickets != 3 {
		t.Fatalf("expected bonus ticket, got %+v", p)
	}
	if p.Cost != 300 {
		t.Fatalf("expected cost 300, got %d", p.Cost)
	}
	if r.TotalTickets != 4 || r.PurchasesCount != 1 {
		t.Fatalf("unexpected round totals: %+v", r)
	}
	if r.PrizeAmount != 270 || r.CommissionBalance != 30 {
		t.Fatalf("commission split wrong: prize=%d commission=%d", r.PrizeAmount, r.CommissionBalance)
	}
	if r.Ledger.Len() != 1 || r.Ledger.At(0) != 4 {
		t.Fatalf("ledger wrong: %+v", r.Ledger)
	}
	if r.EndTime.Unix() != 600 {
		t.Fatalf("expected aligned end 600, got %d", r.EndTime.Unix())
	}
	if f.funds.balances[treasury.PrizeVault] != 300 || f.funds.balances["alice"] != 700 {
		t.Fatalf("funds not moved: %+v", f.funds.balances)
	}

	dir, _ := f.svc.Directory(ctx)
	if dir.CurrentRoundID == nil || *dir.CurrentRoundID != 1 || dir.TotalRounds != 1 {
		t.Fatalf("directory not rolled: %+v", dir)
	}
}

func TestSecondPurchaseNoBonus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.funds.balances["alice"] = 1000
	f.funds.balances["bob"] = 1000

	if _, _, err := f.svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 1, Buyer: "alice", Count: 3, MaxCost: 300}); err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	p, r, err := f.svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 1, Buyer: "bob", Count: 6, MaxCost: 600})
	if err != nil {
		t.Fatalf("second purchase: %v", err)
	}
	if p.TicketsCount != 6 || p.PurchaseIndex != 1 {
		t.Fatalf("unexpected purchase: %+v", p)
	}
	if r.TotalTickets != 10 {
		t.Fatalf("expected 10 tickets, got %d", r.TotalTickets)
	}
	if r.Ledger.Len() != 2 || r.Ledger.At(0) != 4 || r.Ledger.At(1) != 10 {
		t.Fatalf("ledger wrong: %+v", r.Ledger)
	}
}

func TestPurchaseValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.funds.balances["alice"] = 1000

	if _, _, err := f.svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 1, Buyer: "alice", Count: 0, MaxCost: 100}); !errors.Is(err, ErrInvalidTicketCount) {
		t.Fatalf("expected ErrInvalidTicketCount, got %v", err)
	}
	if _, _, err := f.svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 1, Buyer: "alice", Count: 3, MaxCost: 299}); !errors.Is(err, ErrInsufficientSlippage) {
		t.Fatalf("expected ErrInsufficientSlippage, got %v", err)
	}
	if _, _, err := f.svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 1, Buyer: "broke", Count: 1, MaxCost: 100}); !errors.Is(err, treasury.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestPurchaseZeroPriceRejected(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	funds := newFakeFunds()
	svc := New(store, store, store, &staticQuoter{price: 0}, funds, nil, Config{}, nil)

	if _, _, err := svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 1, Buyer: "alice", Count: 1, MaxCost: 100}); !errors.Is(err, ErrInvalidTicketPrice) {
		t.Fatalf("expected ErrInvalidTicketPrice, got %v", err)
	}
}

func TestPurchaseWrongRoundRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.funds.balances["alice"] = 10000

	if _, _, err := f.svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 1, Buyer: "alice", Count: 1, MaxCost: 100}); err != nil {
		t.Fatalf("open purchase: %v", err)
	}
	// round 2 is not available while round 1's window is open
	if _, _, err := f.svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 2, Buyer: "alice", Count: 1, MaxCost: 100}); !errors.Is(err, ErrRoundNotAvailable) {
		t.Fatalf("expected ErrRoundNotAvailable, got %v", err)
	}
	// stale round ids are rejected after the window closes
	f.advance(11 * time.Minute)
	if _, _, err := f.svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 1, Buyer: "alice", Count: 1, MaxCost: 100}); !errors.Is(err, ErrRoundNotAvailable) {
		t.Fatalf("expected ErrRoundNotAvailable for elapsed round, got %v", err)
	}
}

func TestPurchaseIntoNextRoundMarksPreviousPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.funds.balances["alice"] = 10000

	if _, _, err := f.svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 1, Buyer: "alice", Count: 2, MaxCost: 200}); err != nil {
		t.Fatalf("round 1 purchase: %v", err)
	}
	f.advance(11 * time.Minute)
	_, r2, err := f.svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 2, Buyer: "alice", Count: 1, MaxCost: 100})
	if err != nil {
		t.Fatalf("round 2 purchase: %v", err)
	}
	if r2.RoundID != 2 {
		t.Fatalf("expected round 2, got %d", r2.RoundID)
	}

	dir, _ := f.svc.Directory(ctx)
	if len(dir.PendingRounds) != 1 || dir.PendingRounds[0] != 1 {
		t.Fatalf("round 1 not pending: %+v", dir)
	}
	if *dir.CurrentRoundID != 2 || dir.TotalRounds != 2 {
		t.Fatalf("directory not advanced: %+v", dir)
	}
}

func TestSelectRoundToProcess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.funds.balances["alice"] = 10000

	if _, err := f.svc.SelectRoundToProcess(ctx); !errors.Is(err, ErrRoundNotCreated) {
		t.Fatalf("expected ErrRoundNotCreated, got %v", err)
	}

	if _, _, err := f.svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 1, Buyer: "alice", Count: 2, MaxCost: 200}); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := f.svc.SelectRoundToProcess(ctx); !errors.Is(err, ErrRoundNotEndedYet) {
		t.Fatalf("expected ErrRoundNotEndedYet, got %v", err)
	}

	f.advance(11 * time.Minute)
	id, err := f.svc.SelectRoundToProcess(ctx)
	if err != nil || id != 1 {
		t.Fatalf("expected round 1, got %d, %v", id, err)
	}

	// pending head wins over the current round
	if _, _, err := f.svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 2, Buyer: "alice", Count: 1, MaxCost: 100}); err != nil {
		t.Fatalf("round 2 purchase: %v", err)
	}
	id, err = f.svc.SelectRoundToProcess(ctx)
	if err != nil || id != 1 {
		t.Fatalf("expected pending round 1 first, got %d, %v", id, err)
	}
}

func TestCompleteRoundIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.funds.balances["alice"] = 10000

	if _, _, err := f.svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 1, Buyer: "alice", Count: 2, MaxCost: 200}); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	f.advance(11 * time.Minute)

	r, err := f.svc.CompleteRound(ctx, 1, 2, 0)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !r.Completed() || *r.WinnerTicketIndex != 2 || *r.WinnerPurchaseIndex != 0 {
		t.Fatalf("round not completed: %+v", r)
	}

	dir, _ := f.svc.Directory(ctx)
	if dir.CurrentRoundStatus != round.StatusCompleted {
		t.Fatalf("directory mirror not updated: %+v", dir)
	}

	// a second draw for the same round is a no-op
	if _, err := f.svc.CompleteRound(ctx, 1, 1, 0); !errors.Is(err, ErrRoundCompleted) {
		t.Fatalf("expected ErrRoundCompleted, got %v", err)
	}
	got, _ := f.svc.GetRound(ctx, 1)
	if *got.WinnerTicketIndex != 2 {
		t.Fatalf("winner overwritten: %+v", got)
	}
}

func TestAssignWinnerAddress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.funds.balances["alice"] = 10000
	f.funds.balances["bob"] = 10000

	f.mustBuy(t, 1, "alice", 3)
	f.mustBuy(t, 1, "bob", 6)
	f.advance(11 * time.Minute)

	if _, err := f.svc.AssignWinnerAddress(ctx, 1, 1); !errors.Is(err, ErrRoundNotCompleted) {
		t.Fatalf("expected assignment before draw to fail, got %v", err)
	}
	if _, err := f.svc.CompleteRound(ctx, 1, 7, 1); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.svc.AssignWinnerAddress(ctx, 1, 0); !errors.Is(err, ErrInvalidPurchaseIndex) {
		t.Fatalf("expected ErrInvalidPurchaseIndex, got %v", err)
	}
	r, err := f.svc.AssignWinnerAddress(ctx, 1, 1)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if r.WinnerAddress != "bob" {
		t.Fatalf("expected bob, got %q", r.WinnerAddress)
	}
	if _, err := f.svc.AssignWinnerAddress(ctx, 1, 1); !errors.Is(err, ErrWinnerAlreadySet) {
		t.Fatalf("expected ErrWinnerAlreadySet, got %v", err)
	}
}

func TestMarkPrizeClaimedGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.funds.balances["alice"] = 10000
	f.funds.balances["bob"] = 10000

	f.mustBuy(t, 1, "alice", 3)
	f.mustBuy(t, 1, "bob", 6)
	f.advance(11 * time.Minute)
	if _, err := f.svc.MarkPrizeClaimed(ctx, 1, "bob"); !errors.Is(err, ErrRoundNotCompleted) {
		t.Fatalf("expected claim before draw to fail, got %v", err)
	}
	if _, err := f.svc.CompleteRound(ctx, 1, 7, 1); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.svc.AssignWinnerAddress(ctx, 1, 1); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if _, err := f.svc.MarkPrizeClaimed(ctx, 1, "alice"); !errors.Is(err, ErrNotTheWinner) {
		t.Fatalf("expected ErrNotTheWinner, got %v", err)
	}
	r, err := f.svc.MarkPrizeClaimed(ctx, 1, "bob")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !r.PrizeClaimed {
		t.Fatalf("claimed flag not set")
	}
	if r.Ledger.Len() != 0 {
		t.Fatalf("ledger not released after claim")
	}
	if _, err := f.svc.MarkPrizeClaimed(ctx, 1, "bob"); !errors.Is(err, ErrPrizeAlreadyClaimed) {
		t.Fatalf("expected ErrPrizeAlreadyClaimed, got %v", err)
	}
}

func TestCurrentRoundIDVirtualIncrement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.funds.balances["alice"] = 10000

	if _, err := f.svc.CurrentRoundID(ctx); !errors.Is(err, ErrRoundNotCreated) {
		t.Fatalf("expected ErrRoundNotCreated, got %v", err)
	}

	f.mustBuy(t, 1, "alice", 1)
	id, err := f.svc.CurrentRoundID(ctx)
	if err != nil || id != 1 {
		t.Fatalf("expected 1, got %d, %v", id, err)
	}

	// the successor becomes the purchase target once the window elapses,
	// even though it does not exist yet
	f.advance(11 * time.Minute)
	id, err = f.svc.CurrentRoundID(ctx)
	if err != nil || id != 2 {
		t.Fatalf("expected virtual 2, got %d, %v", id, err)
	}
}

func TestAdvanceIfElapsed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.funds.balances["alice"] = 10000

	advanced, err := f.svc.AdvanceIfElapsed(ctx)
	if err != nil || advanced {
		t.Fatalf("advance on empty directory: %v, %v", advanced, err)
	}

	f.mustBuy(t, 1, "alice", 2)
	advanced, _ = f.svc.AdvanceIfElapsed(ctx)
	if advanced {
		t.Fatalf("advanced before window closed")
	}

	// elapsed with tickets: the round still owes a draw, stay put
	f.advance(11 * time.Minute)
	advanced, _ = f.svc.AdvanceIfElapsed(ctx)
	if advanced {
		t.Fatalf("advanced past an undrawn round")
	}

	if _, err := f.svc.CompleteRound(ctx, 1, 0, 0); err != nil {
		t.Fatalf("complete: %v", err)
	}
	advanced, err = f.svc.AdvanceIfElapsed(ctx)
	if err != nil || !advanced {
		t.Fatalf("expected advance after draw: %v, %v", advanced, err)
	}

	dir, _ := f.svc.Directory(ctx)
	if *dir.CurrentRoundID != 2 {
		t.Fatalf("directory not on round 2: %+v", dir)
	}
	if len(dir.PendingRounds) != 0 {
		t.Fatalf("completed round must not be pending: %+v", dir)
	}
}

func TestOpenRoundSequenceGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.funds.balances["alice"] = 10000

	f.mustBuy(t, 1, "alice", 1)
	if _, err := f.svc.OpenRound(ctx, 3); !errors.Is(err, ErrRoundSequence) {
		t.Fatalf("expected ErrRoundSequence, got %v", err)
	}
	if _, err := f.svc.OpenRound(ctx, 2); !errors.Is(err, ErrRoundNotEndedYet) {
		t.Fatalf("expected ErrRoundNotEndedYet, got %v", err)
	}

	f.advance(11 * time.Minute)
	r, err := f.svc.OpenRound(ctx, 2)
	if err != nil || r.RoundID != 2 {
		t.Fatalf("open round 2: %+v, %v", r, err)
	}
}

func (f *fixture) mustBuy(t *testing.T, roundID uint32, buyer string, count uint32) {
	t.Helper()
	if _, _, err := f.svc.RecordPurchase(context.Background(), PurchaseRequest{RoundID: roundID, Buyer: buyer, Count: count, MaxCost: 1 << 40}); err != nil {
		t.Fatalf("purchase for %s: %v", buyer, err)
	}
}

func TestLedgerCapacityZeroIsUnbounded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.funds.balances["alice"] = 10000

	f.mustBuy(t, 1, "alice", 1)
	r, err := f.svc.GetRound(ctx, 1)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if r.Ledger.Capacity != 0 {
		t.Fatalf("expected unbounded ledger, got capacity %d", r.Ledger.Capacity)
	}
	if r.Ledger.Full() {
		t.Fatalf("unbounded ledger reported full")
	}
}

func TestLedgerCapacityBoundRejectsBeforeFundsMove(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	funds := newFakeFunds()
	funds.balances["alice"] = 10000
	funds.balances["bob"] = 10000
	svc := New(store, store, store, &staticQuoter{price: 100}, funds, events.NewBus(), Config{
		RoundDuration:  10 * time.Minute,
		LedgerCapacity: 1,
		FeePercent:     10,
	}, nil)
	now := time.Unix(10, 0).UTC()
	svc.SetTimeSource(func() time.Time { return now })

	if _, _, err := svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 1, Buyer: "alice", Count: 3, MaxCost: 300}); err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	if _, _, err := svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 1, Buyer: "bob", Count: 2, MaxCost: 200}); !errors.Is(err, round.ErrLedgerFull) {
		t.Fatalf("expected ErrLedgerFull, got %v", err)
	}
	if funds.balances["bob"] != 10000 {
		t.Fatalf("rejected purchase moved funds: %d", funds.balances["bob"])
	}
}

type failingPurchaseStore struct {
	storage.PurchaseStore
}

func (s *failingPurchaseStore) RecordPurchase(context.Context, round.Round, round.Purchase) (round.Round, round.Purchase, error) {
	return round.Round{}, round.Purchase{}, errors.New("store offline")
}

func TestPurchaseRefundedWhenRecordFails(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	funds := newFakeFunds()
	funds.balances["alice"] = 1000
	svc := New(store, &failingPurchaseStore{PurchaseStore: store}, store, &staticQuoter{price: 100}, funds, events.NewBus(), Config{
		RoundDuration: 10 * time.Minute,
		FeePercent:    10,
	}, nil)
	now := time.Unix(10, 0).UTC()
	svc.SetTimeSource(func() time.Time { return now })

	_, _, err := svc.RecordPurchase(ctx, PurchaseRequest{RoundID: 1, Buyer: "alice", Count: 3, MaxCost: 300})
	if err == nil {
		t.Fatalf("expected record failure to surface")
	}
	if funds.balances["alice"] != 1000 {
		t.Fatalf("buyer not refunded: %d", funds.balances["alice"])
	}
	if funds.balances[treasury.PrizeVault] != 0 {
		t.Fatalf("vault kept the payment: %d", funds.balances[treasury.PrizeVault])
	}
	items, _ := svc.ListPurchases(ctx, 1)
	if len(items) != 0 {
		t.Fatalf("purchase recorded despite failure: %+v", items)
	}
	r, err := svc.GetRound(ctx, 1)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if r.TotalTickets != 0 || r.PurchasesCount != 0 {
		t.Fatalf("round mutated despite failure: %+v", r)
	}
}
