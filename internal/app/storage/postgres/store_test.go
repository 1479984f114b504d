package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/round"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/treasury"
	"github.com/bclot-labs/raffle_layer/internal/app/storage"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)
	ctx := context.Background()

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	r := round.Round{
		RoundID:   9001,
		Status:    round.StatusOpen,
		StartTime: time.Now().UTC().Truncate(time.Second),
		EndTime:   time.Now().UTC().Add(10 * time.Minute).Truncate(time.Second),
		Ledger:    round.NewTicketLedger(round.DefaultLedgerCapacity),
	}
	if _, err := store.CreateRound(ctx, r); err != nil {
		t.Fatalf("create round: %v", err)
	}
	defer db.ExecContext(ctx, `DELETE FROM raffle_rounds WHERE round_id = 9001`)

	r.TotalTickets = 4
	if _, err := r.Ledger.Append(4); err != nil {
		t.Fatalf("append ledger: %v", err)
	}
	if _, err := store.UpdateRound(ctx, r); err != nil {
		t.Fatalf("update round: %v", err)
	}

	got, err := store.GetRound(ctx, 9001)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if got.TotalTickets != 4 || got.Ledger.Len() != 1 || got.Ledger.At(0) != 4 {
		t.Fatalf("round did not survive round trip: %+v", got)
	}

	if _, err := store.Deposit(ctx, "itest_buyer", 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	defer db.ExecContext(ctx, `DELETE FROM treasury_accounts WHERE name IN ('itest_buyer', 'itest_vault')`)

	if err := store.Transfer(ctx, "itest_buyer", "itest_vault", 200); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := store.Transfer(ctx, "itest_buyer", "itest_vault", 400); !errors.Is(err, treasury.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestGetRoundScansLedger(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	cols := []string{
		"round_id", "status", "start_time", "end_time", "prize_amount",
		"commission_balance", "purchases_count", "total_tickets",
		"winner_ticket_index", "winner_purchase_index", "winner_address",
		"prize_claimed", "ledger_capacity", "ledger", "created_at", "updated_at",
	}
	mock.ExpectQuery(`SELECT .* FROM raffle_rounds`).
		WithArgs(uint32(1)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			1, "completed", now, now, int64(450), int64(50), 2, 10,
			int64(7), int64(1), "bob", false, 2048, "{4,10}", now, now,
		))

	store := New(db)
	got, err := store.GetRound(context.Background(), 1)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if got.Status != round.StatusCompleted || got.PrizeAmount != 450 {
		t.Fatalf("unexpected round: %+v", got)
	}
	if got.Ledger.Len() != 2 || got.Ledger.At(0) != 4 || got.Ledger.At(1) != 10 {
		t.Fatalf("ledger not decoded: %+v", got.Ledger)
	}
	if got.WinnerTicketIndex == nil || *got.WinnerTicketIndex != 7 {
		t.Fatalf("winner ticket index not decoded: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetRoundNotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM raffle_rounds`).
		WithArgs(uint32(404)).
		WillReturnError(sql.ErrNoRows)

	store := New(db)
	if _, err := store.GetRound(context.Background(), 404); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordPurchaseCommitsInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE raffle_rounds`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO raffle_purchases`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := New(db)
	r := round.Round{RoundID: 1, Status: round.StatusOpen, TotalTickets: 4, PurchasesCount: 1}
	if _, err := r.Ledger.Append(4); err != nil {
		t.Fatalf("append ledger: %v", err)
	}
	_, _, err = store.RecordPurchase(context.Background(), r, round.Purchase{
		RoundID: 1, PurchaseIndex: 0, Buyer: "alice", TicketsCount: 4, PaidTickets: 3, Cost: 300,
	})
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordPurchaseRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE raffle_rounds`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO raffle_purchases`).
		WillReturnError(errors.New("insert failed"))
	mock.ExpectRollback()

	store := New(db)
	_, _, err = store.RecordPurchase(context.Background(), round.Round{RoundID: 1, Status: round.StatusOpen}, round.Purchase{
		RoundID: 1, PurchaseIndex: 0, Buyer: "alice",
	})
	if err == nil {
		t.Fatalf("expected insert failure to surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
