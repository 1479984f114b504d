package pricefeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/pricefeed"
)

func TestTicketPriceDerivation(t *testing.T) {
	fetcher := &StaticFetcher{Prices: map[string]decimal.Decimal{
		"BTC/USD": decimal.NewFromInt(100000),
		"SOL/USD": decimal.NewFromInt(200),
	}}
	svc := New(fetcher, Config{}, nil)

	// 5000 sats = 0.00005 BTC = 5 USD = 0.025 SOL = 25_000_000 lamports
	price, err := svc.TicketPrice(context.Background())
	if err != nil {
		t.Fatalf("ticket price: %v", err)
	}
	if price != 25_000_000 {
		t.Fatalf("expected 25000000, got %d", price)
	}
}

func TestTicketPriceRounding(t *testing.T) {
	fetcher := &StaticFetcher{Prices: map[string]decimal.Decimal{
		"BTC/USD": decimal.NewFromInt(100000),
		"SOL/USD": decimal.NewFromInt(300),
	}}
	svc := New(fetcher, Config{}, nil)

	// 5 USD / 300 = 0.01666... SOL; rounded to the nearest lamport
	price, err := svc.TicketPrice(context.Background())
	if err != nil {
		t.Fatalf("ticket price: %v", err)
	}
	if price != 16_666_667 {
		t.Fatalf("expected 16666667, got %d", price)
	}
}

func TestTestTicketPriceOverride(t *testing.T) {
	svc := New(nil, Config{}, nil)

	override := uint64(100)
	svc.SetTestTicketPrice(&override)
	price, err := svc.TicketPrice(context.Background())
	if err != nil || price != 100 {
		t.Fatalf("expected override 100, got %d, %v", price, err)
	}

	got, ok := svc.TestTicketPrice()
	if !ok || got != 100 {
		t.Fatalf("override not reported: %d, %v", got, ok)
	}

	svc.SetTestTicketPrice(nil)
	if _, err := svc.TicketPrice(context.Background()); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable without fetcher, got %v", err)
	}
}

func TestQuoteCaching(t *testing.T) {
	calls := 0
	fetcher := FetcherFunc(func(_ context.Context, base, quote string) (pricefeed.Quote, error) {
		calls++
		return pricefeed.Quote{
			Pair:      base + "/" + quote,
			Price:     decimal.NewFromInt(100),
			Timestamp: time.Now().UTC(),
		}, nil
	})
	svc := New(fetcher, Config{MaxQuoteAge: time.Minute}, nil)

	if _, err := svc.Quote(context.Background(), "BTC"); err != nil {
		t.Fatalf("quote: %v", err)
	}
	if _, err := svc.Quote(context.Background(), "BTC"); err != nil {
		t.Fatalf("cached quote: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", calls)
	}
}

func TestStaleQuoteRejected(t *testing.T) {
	fetcher := FetcherFunc(func(_ context.Context, base, quote string) (pricefeed.Quote, error) {
		return pricefeed.Quote{
			Pair:      base + "/" + quote,
			Price:     decimal.NewFromInt(100),
			Timestamp: time.Now().UTC().Add(-time.Hour),
		}, nil
	})
	svc := New(fetcher, Config{MaxQuoteAge: time.Minute}, nil)

	if _, err := svc.Quote(context.Background(), "BTC"); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
}

func TestNonPositivePriceRejected(t *testing.T) {
	fetcher := &StaticFetcher{Prices: map[string]decimal.Decimal{
		"BTC/USD": decimal.Zero,
		"SOL/USD": decimal.NewFromInt(200),
	}}
	svc := New(fetcher, Config{}, nil)

	if _, err := svc.TicketPrice(context.Background()); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}
