// Package postgres implements the storage interfaces on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/directory"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/randomness"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/round"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/treasury"
	"github.com/bclot-labs/raffle_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.RoundStore = (*Store)(nil)
var _ storage.PurchaseStore = (*Store)(nil)
var _ storage.DirectoryStore = (*Store)(nil)
var _ storage.RandomnessStore = (*Store)(nil)
var _ storage.TreasuryStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the raffle tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS raffle_rounds (
			round_id BIGINT PRIMARY KEY,
			status TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			prize_amount BIGINT NOT NULL DEFAULT 0,
			commission_balance BIGINT NOT NULL DEFAULT 0,
			purchases_count BIGINT NOT NULL DEFAULT 0,
			total_tickets BIGINT NOT NULL DEFAULT 0,
			winner_ticket_index BIGINT,
			winner_purchase_index BIGINT,
			winner_address TEXT NOT NULL DEFAULT '',
			prize_claimed BOOLEAN NOT NULL DEFAULT FALSE,
			ledger_capacity BIGINT NOT NULL DEFAULT 0,
			ledger BIGINT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS raffle_purchases (
			round_id BIGINT NOT NULL,
			purchase_index BIGINT NOT NULL,
			buyer TEXT NOT NULL,
			tickets_count BIGINT NOT NULL,
			paid_tickets BIGINT NOT NULL,
			cost BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (round_id, purchase_index)
		)`,
		`CREATE TABLE IF NOT EXISTS raffle_directory (
			id INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			current_round_id BIGINT,
			current_round_status TEXT NOT NULL DEFAULT '',
			current_round_end_time TIMESTAMPTZ,
			total_rounds BIGINT NOT NULL DEFAULT 0,
			pending_rounds BIGINT[] NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS randomness_requests (
			id UUID PRIMARY KEY,
			round_id BIGINT NOT NULL,
			seed BYTEA,
			status TEXT NOT NULL,
			random_value NUMERIC(20) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			fulfilled_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS treasury_accounts (
			name TEXT PRIMARY KEY,
			balance NUMERIC(20) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS treasury_transfers (
			id UUID PRIMARY KEY,
			from_account TEXT NOT NULL,
			to_account TEXT NOT NULL,
			amount NUMERIC(20) NOT NULL,
			memo TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return storage.ErrAlreadyExists
	}
	return err
}

func ledgerToArray(l round.TicketLedger) pq.Int64Array {
	out := make(pq.Int64Array, len(l.Cumulative))
	for i, v := range l.Cumulative {
		out[i] = int64(v)
	}
	return out
}

func arrayToLedger(arr pq.Int64Array, capacity int64) round.TicketLedger {
	l := round.TicketLedger{Capacity: int(capacity)}
	if len(arr) > 0 {
		l.Cumulative = make([]uint32, len(arr))
		for i, v := range arr {
			l.Cumulative[i] = uint32(v)
		}
	}
	return l
}

// --- RoundStore --------------------------------------------------------------

func (s *Store) CreateRound(ctx context.Context, r round.Round) (round.Round, error) {
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raffle_rounds (
			round_id, status, start_time, end_time, prize_amount,
			commission_balance, purchases_count, total_tickets,
			winner_ticket_index, winner_purchase_index, winner_address,
			prize_claimed, ledger_capacity, ledger, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, r.RoundID, r.Status, r.StartTime, r.EndTime, int64(r.PrizeAmount),
		int64(r.CommissionBalance), r.PurchasesCount, r.TotalTickets,
		nullableUint32(r.WinnerTicketIndex), nullableUint32(r.WinnerPurchaseIndex), r.WinnerAddress,
		r.PrizeClaimed, r.Ledger.Capacity, ledgerToArray(r.Ledger), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return round.Round{}, translateErr(err)
	}
	return r, nil
}

func (s *Store) UpdateRound(ctx context.Context, r round.Round) (round.Round, error) {
	r.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE raffle_rounds
		SET status = $2, start_time = $3, end_time = $4, prize_amount = $5,
			commission_balance = $6, purchases_count = $7, total_tickets = $8,
			winner_ticket_index = $9, winner_purchase_index = $10,
			winner_address = $11, prize_claimed = $12, ledger_capacity = $13,
			ledger = $14, updated_at = $15
		WHERE round_id = $1
	`, r.RoundID, r.Status, r.StartTime, r.EndTime, int64(r.PrizeAmount),
		int64(r.CommissionBalance), r.PurchasesCount, r.TotalTickets,
		nullableUint32(r.WinnerTicketIndex), nullableUint32(r.WinnerPurchaseIndex),
		r.WinnerAddress, r.PrizeClaimed, r.Ledger.Capacity,
		ledgerToArray(r.Ledger), r.UpdatedAt)
	if err != nil {
		return round.Round{}, translateErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return round.Round{}, storage.ErrNotFound
	}
	return r, nil
}

func (s *Store) GetRound(ctx context.Context, id uint32) (round.Round, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT round_id, status, start_time, end_time, prize_amount,
			commission_balance, purchases_count, total_tickets,
			winner_ticket_index, winner_purchase_index, winner_address,
			prize_claimed, ledger_capacity, ledger, created_at, updated_at
		FROM raffle_rounds
		WHERE round_id = $1
	`, id)
	return scanRound(row)
}

func (s *Store) ListRounds(ctx context.Context, limit int) ([]round.Round, error) {
	query := `
		SELECT round_id, status, start_time, end_time, prize_amount,
			commission_balance, purchases_count, total_tickets,
			winner_ticket_index, winner_purchase_index, winner_address,
			prize_claimed, ledger_capacity, ledger, created_at, updated_at
		FROM raffle_rounds
		ORDER BY round_id`
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query+` LIMIT $1`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []round.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CountRounds(ctx context.Context) (uint32, error) {
	var count uint32
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raffle_rounds`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (round.Round, error) {
	var (
		r              round.Round
		prize          int64
		commission     int64
		winTicket      sql.NullInt64
		winPurchase    sql.NullInt64
		ledgerCapacity int64
		ledger         pq.Int64Array
	)
	err := row.Scan(&r.RoundID, &r.Status, &r.StartTime, &r.EndTime, &prize,
		&commission, &r.PurchasesCount, &r.TotalTickets, &winTicket,
		&winPurchase, &r.WinnerAddress, &r.PrizeClaimed, &ledgerCapacity,
		&ledger, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return round.Round{}, translateErr(err)
	}
	r.PrizeAmount = uint64(prize)
	r.CommissionBalance = uint64(commission)
	if winTicket.Valid {
		v := uint32(winTicket.Int64)
		r.WinnerTicketIndex = &v
	}
	if winPurchase.Valid {
		v := uint32(winPurchase.Int64)
		r.WinnerPurchaseIndex = &v
	}
	r.Ledger = arrayToLedger(ledger, ledgerCapacity)
	return r, nil
}

func nullableUint32(v *uint32) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

// --- PurchaseStore -----------------------------------------------------------

func (s *Store) CreatePurchase(ctx context.Context, p round.Purchase) (round.Purchase, error) {
	p.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raffle_purchases (round_id, purchase_index, buyer, tickets_count, paid_tickets, cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.RoundID, p.PurchaseIndex, p.Buyer, p.TicketsCount, p.PaidTickets, int64(p.Cost), p.CreatedAt)
	if err != nil {
		return round.Purchase{}, translateErr(err)
	}
	return p, nil
}

func (s *Store) RecordPurchase(ctx context.Context, r round.Round, p round.Purchase) (round.Round, round.Purchase, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return round.Round{}, round.Purchase{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	r.UpdatedAt = now
	p.CreatedAt = now

	result, err := tx.ExecContext(ctx, `
		UPDATE raffle_rounds
		SET status = $2, start_time = $3, end_time = $4, prize_amount = $5,
			commission_balance = $6, purchases_count = $7, total_tickets = $8,
			winner_ticket_index = $9, winner_purchase_index = $10,
			winner_address = $11, prize_claimed = $12, ledger_capacity = $13,
			ledger = $14, updated_at = $15
		WHERE round_id = $1
	`, r.RoundID, r.Status, r.StartTime, r.EndTime, int64(r.PrizeAmount),
		int64(r.CommissionBalance), r.PurchasesCount, r.TotalTickets,
		nullableUint32(r.WinnerTicketIndex), nullableUint32(r.WinnerPurchaseIndex),
		r.WinnerAddress, r.PrizeClaimed, r.Ledger.Capacity,
		ledgerToArray(r.Ledger), r.UpdatedAt)
	if err != nil {
		return round.Round{}, round.Purchase{}, translateErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return round.Round{}, round.Purchase{}, storage.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO raffle_purchases (round_id, purchase_index, buyer, tickets_count, paid_tickets, cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.RoundID, p.PurchaseIndex, p.Buyer, p.TicketsCount, p.PaidTickets, int64(p.Cost), p.CreatedAt); err != nil {
		return round.Round{}, round.Purchase{}, translateErr(err)
	}

	if err := tx.Commit(); err != nil {
		return round.Round{}, round.Purchase{}, err
	}
	return r, p, nil
}

func (s *Store) GetPurchase(ctx context.Context, roundID, purchaseIndex uint32) (round.Purchase, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT round_id, purchase_index, buyer, tickets_count, paid_tickets, cost, created_at
		FROM raffle_purchases
		WHERE round_id = $1 AND purchase_index = $2
	`, roundID, purchaseIndex)

	var (
		p    round.Purchase
		cost int64
	)
	if err := row.Scan(&p.RoundID, &p.PurchaseIndex, &p.Buyer, &p.TicketsCount, &p.PaidTickets, &cost, &p.CreatedAt); err != nil {
		return round.Purchase{}, translateErr(err)
	}
	p.Cost = uint64(cost)
	return p, nil
}

func (s *Store) ListPurchases(ctx context.Context, roundID uint32) ([]round.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT round_id, purchase_index, buyer, tickets_count, paid_tickets, cost, created_at
		FROM raffle_purchases
		WHERE round_id = $1
		ORDER BY purchase_index
	`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []round.Purchase
	for rows.Next() {
		var (
			p    round.Purchase
			cost int64
		)
		if err := rows.Scan(&p.RoundID, &p.PurchaseIndex, &p.Buyer, &p.TicketsCount, &p.PaidTickets, &cost, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Cost = uint64(cost)
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- DirectoryStore ----------------------------------------------------------

func (s *Store) GetDirectory(ctx context.Context) (directory.Directory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT current_round_id, current_round_status, current_round_end_time,
			total_rounds, pending_rounds, updated_at
		FROM raffle_directory
		WHERE id = 1
	`)

	var (
		d       directory.Directory
		current sql.NullInt64
		status  string
		endTime sql.NullTime
		pending pq.Int64Array
	)
	err := row.Scan(&current, &status, &endTime, &d.TotalRounds, &pending, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Directory{}, nil
	}
	if err != nil {
		return directory.Directory{}, err
	}
	if current.Valid {
		v := uint32(current.Int64)
		d.CurrentRoundID = &v
	}
	d.CurrentRoundStatus = round.Status(status)
	if endTime.Valid {
		t := endTime.Time.UTC()
		d.CurrentRoundEndTime = &t
	}
	for _, p := range pending {
		d.PendingRounds = append(d.PendingRounds, uint32(p))
	}
	return d, nil
}

func (s *Store) UpdateDirectory(ctx context.Context, d directory.Directory) (directory.Directory, error) {
	d.UpdatedAt = time.Now().UTC()

	pending := make(pq.Int64Array, len(d.PendingRounds))
	for i, p := range d.PendingRounds {
		pending[i] = int64(p)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raffle_directory (id, current_round_id, current_round_status, current_round_end_time, total_rounds, pending_rounds, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			current_round_id = EXCLUDED.current_round_id,
			current_round_status = EXCLUDED.current_round_status,
			current_round_end_time = EXCLUDED.current_round_end_time,
			total_rounds = EXCLUDED.total_rounds,
			pending_rounds = EXCLUDED.pending_rounds,
			updated_at = EXCLUDED.updated_at
	`, nullableUint32(d.CurrentRoundID), string(d.CurrentRoundStatus),
		nullableTime(d.CurrentRoundEndTime), d.TotalRounds, pending, d.UpdatedAt)
	if err != nil {
		return directory.Directory{}, err
	}
	return d, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// --- RandomnessStore ---------------------------------------------------------

func (s *Store) CreateRandomnessRequest(ctx context.Context, req randomness.Request) (randomness.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO randomness_requests (id, round_id, seed, status, random_value, created_at, fulfilled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, req.ID, req.RoundID, req.Seed, req.Status, req.RandomValue, req.CreatedAt, nullableTime(req.FulfilledAt))
	if err != nil {
		return randomness.Request{}, translateErr(err)
	}
	return req, nil
}

func (s *Store) UpdateRandomnessRequest(ctx context.Context, req randomness.Request) (randomness.Request, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE randomness_requests
		SET status = $2, random_value = $3, fulfilled_at = $4
		WHERE id = $1
	`, req.ID, req.Status, req.RandomValue, nullableTime(req.FulfilledAt))
	if err != nil {
		return randomness.Request{}, translateErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return randomness.Request{}, storage.ErrNotFound
	}
	return req, nil
}

func (s *Store) GetRandomnessRequest(ctx context.Context, id string) (randomness.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, round_id, seed, status, random_value, created_at, fulfilled_at
		FROM randomness_requests
		WHERE id = $1
	`, id)

	var (
		req       randomness.Request
		fulfilled sql.NullTime
	)
	if err := row.Scan(&req.ID, &req.RoundID, &req.Seed, &req.Status, &req.RandomValue, &req.CreatedAt, &fulfilled); err != nil {
		return randomness.Request{}, translateErr(err)
	}
	if fulfilled.Valid {
		t := fulfilled.Time.UTC()
		req.FulfilledAt = &t
	}
	return req, nil
}

func (s *Store) CountPendingRandomnessRequests(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM randomness_requests WHERE status = $1
	`, randomness.StatusPending).Scan(&count)
	return count, err
}

// --- TreasuryStore -----------------------------------------------------------

func (s *Store) Deposit(ctx context.Context, account string, amount uint64) (uint64, error) {
	var balance uint64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO treasury_accounts (name, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			balance = treasury_accounts.balance + EXCLUDED.balance,
			updated_at = EXCLUDED.updated_at
		RETURNING balance
	`, account, amount, time.Now().UTC()).Scan(&balance)
	return balance, err
}

func (s *Store) Transfer(ctx context.Context, from, to string, amount uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var balance uint64
	err = tx.QueryRowContext(ctx, `
		SELECT balance FROM treasury_accounts WHERE name = $1 FOR UPDATE
	`, from).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return treasury.ErrInsufficientFunds
	}
	if err != nil {
		return err
	}
	if balance < amount {
		return treasury.ErrInsufficientFunds
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE treasury_accounts SET balance = balance - $2, updated_at = $3 WHERE name = $1
	`, from, amount, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO treasury_accounts (name, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			balance = treasury_accounts.balance + EXCLUDED.balance,
			updated_at = EXCLUDED.updated_at
	`, to, amount, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Balance(ctx context.Context, account string) (uint64, error) {
	var balance uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT balance FROM treasury_accounts WHERE name = $1
	`, account).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (s *Store) CreateTransferRecord(ctx context.Context, t treasury.Transfer) (treasury.Transfer, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO treasury_transfers (id, from_account, to_account, amount, memo, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.From, t.To, t.Amount, t.Memo, t.CreatedAt)
	if err != nil {
		return treasury.Transfer{}, translateErr(err)
	}
	return t, nil
}

func (s *Store) ListTransferRecords(ctx context.Context, account string, limit int) ([]treasury.Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_account, to_account, amount, memo, created_at
		FROM treasury_transfers
		WHERE $1 = '' OR from_account = $1 OR to_account = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []treasury.Transfer
	for rows.Next() {
		var t treasury.Transfer
		if err := rows.Scan(&t.ID, &t.From, &t.To, &t.Amount, &t.Memo, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
