package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/checked"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/directory"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/randomness"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/round"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/treasury"
	"github.com/bclot-labs/raffle_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and single-node
// deployments.
type Store struct {
	mu        sync.RWMutex
	rounds    map[uint32]round.Round
	purchases map[uint32][]round.Purchase
	dir       directory.Directory
	requests  map[string]randomness.Request
	accounts  map[string]treasury.Account
	transfers []treasury.Transfer
}

var _ storage.RoundStore = (*Store)(nil)
var _ storage.PurchaseStore = (*Store)(nil)
var _ storage.DirectoryStore = (*Store)(nil)
var _ storage.RandomnessStore = (*Store)(nil)
var _ storage.TreasuryStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		rounds:    make(map[uint32]round.Round),
		purchases: make(map[uint32][]round.Purchase),
		requests:  make(map[string]randomness.Request),
		accounts:  make(map[string]treasury.Account),
	}
}

// RoundStore implementation ---------------------------------------------------

func (s *Store) CreateRound(_ context.Context, r round.Round) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rounds[r.RoundID]; exists {
		return round.Round{}, storage.ErrAlreadyExists
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rounds[r.RoundID] = r.Clone()
	return r, nil
}

func (s *Store) UpdateRound(_ context.Context, r round.Round) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rounds[r.RoundID]
	if !exists {
		return round.Round{}, storage.ErrNotFound
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	s.rounds[r.RoundID] = r.Clone()
	return r, nil
}

func (s *Store) GetRound(_ context.Context, id uint32) (round.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.rounds[id]
	if !exists {
		return round.Round{}, storage.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *Store) ListRounds(_ context.Context, limit int) ([]round.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]round.Round, 0, len(s.rounds))
	for _, r := range s.rounds {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundID < out[j].RoundID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountRounds(_ context.Context) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(len(s.rounds)), nil
}

// PurchaseStore implementation ------------------------------------------------

func (s *Store) CreatePurchase(_ context.Context, p round.Purchase) (round.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.purchases[p.RoundID] {
		if existing.PurchaseIndex == p.PurchaseIndex {
			return round.Purchase{}, storage.ErrAlreadyExists
		}
	}
	p.CreatedAt = time.Now().UTC()
	s.purchases[p.RoundID] = append(s.purchases[p.RoundID], p)
	return p, nil
}

func (s *Store) RecordPurchase(_ context.Context, r round.Round, p round.Purchase) (round.Round, round.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rounds[r.RoundID]
	if !exists {
		return round.Round{}, round.Purchase{}, storage.ErrNotFound
	}
	for _, prev := range s.purchases[p.RoundID] {
		if prev.PurchaseIndex == p.PurchaseIndex {
			return round.Round{}, round.Purchase{}, storage.ErrAlreadyExists
		}
	}

	now := time.Now().UTC()
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = now
	p.CreatedAt = now
	s.rounds[r.RoundID] = r.Clone()
	s.purchases[p.RoundID] = append(s.purchases[p.RoundID], p)
	return r, p, nil
}

func (s *Store) GetPurchase(_ context.Context, roundID, purchaseIndex uint32) (round.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.purchases[roundID] {
		if p.PurchaseIndex == purchaseIndex {
			return p, nil
		}
	}
	return round.Purchase{}, storage.ErrNotFound
}

func (s *Store) ListPurchases(_ context.Context, roundID uint32) ([]round.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.purchases[roundID]
	out := make([]round.Purchase, len(items))
	copy(out, items)
	sort.Slice(out, func(i, j int) bool { return out[i].PurchaseIndex < out[j].PurchaseIndex })
	return out, nil
}

// DirectoryStore implementation -----------------------------------------------

func (s *Store) GetDirectory(_ context.Context) (directory.Directory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dir.Clone(), nil
}

func (s *Store) UpdateDirectory(_ context.Context, d directory.Directory) (directory.Directory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d.UpdatedAt = time.Now().UTC()
	s.dir = d.Clone()
	return d, nil
}

// RandomnessStore implementation ----------------------------------------------

func (s *Store) CreateRandomnessRequest(_ context.Context, req randomness.Request) (randomness.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	} else if _, exists := s.requests[req.ID]; exists {
		return randomness.Request{}, storage.ErrAlreadyExists
	}
	req.CreatedAt = time.Now().UTC()
	s.requests[req.ID] = req.Clone()
	return req, nil
}

func (s *Store) UpdateRandomnessRequest(_ context.Context, req randomness.Request) (randomness.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.requests[req.ID]
	if !exists {
		return randomness.Request{}, storage.ErrNotFound
	}
	req.CreatedAt = existing.CreatedAt
	s.requests[req.ID] = req.Clone()
	return req, nil
}

func (s *Store) GetRandomnessRequest(_ context.Context, id string) (randomness.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, exists := s.requests[id]
	if !exists {
		return randomness.Request{}, storage.ErrNotFound
	}
	return req.Clone(), nil
}

func (s *Store) CountPendingRandomnessRequests(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, req := range s.requests {
		if req.Status == randomness.StatusPending {
			count++
		}
	}
	return count, nil
}

// TreasuryStore implementation ------------------------------------------------

func (s *Store) Deposit(_ context.Context, account string, amount uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.accounts[account]
	balance, err := checked.Add64(acct.Balance, amount)
	if err != nil {
		return 0, err
	}
	acct.Name = account
	acct.Balance = balance
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[account] = acct
	return acct.Balance, nil
}

func (s *Store) Transfer(_ context.Context, from, to string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.accounts[from]
	if src.Balance < amount {
		return treasury.ErrInsufficientFunds
	}
	dst := s.accounts[to]
	credited, err := checked.Add64(dst.Balance, amount)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	src.Name = from
	src.Balance -= amount
	src.UpdatedAt = now
	s.accounts[from] = src

	dst.Name = to
	dst.Balance = credited
	dst.UpdatedAt = now
	s.accounts[to] = dst
	return nil
}

func (s *Store) Balance(_ context.Context, account string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts[account].Balance, nil
}

func (s *Store) CreateTransferRecord(_ context.Context, t treasury.Transfer) (treasury.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()
	s.transfers = append(s.transfers, t)
	return t, nil
}

func (s *Store) ListTransferRecords(_ context.Context, account string, limit int) ([]treasury.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]treasury.Transfer, 0)
	for i := len(s.transfers) - 1; i >= 0; i-- {
		t := s.transfers[i]
		if account != "" && t.From != account && t.To != account {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
