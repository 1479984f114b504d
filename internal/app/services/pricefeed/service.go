// Package pricefeed derives the ticket price from market quotes. A ticket
// has a fixed face value denominated in satoshis; the oracle converts it
// into the payment asset's smallest units at current prices.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/pricefeed"
	"github.com/bclot-labs/raffle_layer/pkg/logger"
)

// DefaultTicketSatoshis is the ticket face value: 5000 sats.
const DefaultTicketSatoshis = 5000

var (
	// ErrOracleUnavailable is returned when quotes cannot be fetched.
	ErrOracleUnavailable = errors.New("price oracle unavailable")
	// ErrStalePrice is returned when a quote is older than the allowed age.
	ErrStalePrice = errors.New("stale price")
	// ErrInvalidPrice is returned for non-positive or non-representable
	// derived prices.
	ErrInvalidPrice = errors.New("invalid price")
)

// Config carries the price derivation parameters.
type Config struct {
	// PaymentAsset is the asset tickets are paid in, e.g. "SOL".
	PaymentAsset string
	// PaymentDecimals is the smallest-unit exponent of the payment asset.
	PaymentDecimals int32
	// TicketSatoshis is the ticket face value in satoshis.
	TicketSatoshis int64
	// MaxQuoteAge rejects quotes older than this; it also bounds how long
	// fetched quotes are served from cache. Zero disables both.
	MaxQuoteAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.PaymentAsset == "" {
		c.PaymentAsset = "SOL"
	}
	if c.PaymentDecimals == 0 {
		c.PaymentDecimals = 9
	}
	if c.TicketSatoshis <= 0 {
		c.TicketSatoshis = DefaultTicketSatoshis
	}
	return c
}

// Service quotes ticket prices.
type Service struct {
	mu        sync.Mutex
	fetcher   Fetcher
	cfg       Config
	testPrice *uint64
	cache     map[string]pricefeed.Quote
	now       func() time.Time
	log       *logger.Logger
}

// New constructs a pricefeed service.
func New(fetcher Fetcher, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("pricefeed")
	}
	return &Service{
		fetcher: fetcher,
		cfg:     cfg.withDefaults(),
		cache:   make(map[string]pricefeed.Quote),
		now:     func() time.Time { return time.Now().UTC() },
		log:     log,
	}
}

// SetTestTicketPrice overrides the derived price with a fixed value; nil
// removes the override. Meant for test deployments without an oracle.
func (s *Service) SetTestTicketPrice(price *uint64) {
	s.mu.Lock()
	if price == nil {
		s.testPrice = nil
	} else {
		v := *price
		s.testPrice = &v
	}
	s.mu.Unlock()
}

// TestTicketPrice reports the active override, if any.
func (s *Service) TestTicketPrice() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.testPrice == nil {
		return 0, false
	}
	return *s.testPrice, true
}

// TicketPrice returns the current price of one ticket in smallest payment
// units: face value in BTC converted through the BTC and payment asset USD
// quotes, rounded half up.
func (s *Service) TicketPrice(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	if s.testPrice != nil {
		price := *s.testPrice
		s.mu.Unlock()
		return price, nil
	}
	s.mu.Unlock()

	btc, err := s.quote(ctx, "BTC", "USD")
	if err != nil {
		return 0, err
	}
	pay, err := s.quote(ctx, s.cfg.PaymentAsset, "USD")
	if err != nil {
		return 0, err
	}
	if !btc.Price.IsPositive() || !pay.Price.IsPositive() {
		return 0, ErrInvalidPrice
	}

	ticketBTC := decimal.New(s.cfg.TicketSatoshis, -8)
	usd := btc.Price.Mul(ticketBTC)
	units := usd.Div(pay.Price).Mul(decimal.New(1, s.cfg.PaymentDecimals)).Round(0)
	if !units.IsPositive() {
		return 0, ErrInvalidPrice
	}
	big := units.BigInt()
	if !big.IsUint64() {
		return 0, ErrInvalidPrice
	}
	price := big.Uint64()

	s.log.WithField("btc_usd", btc.Price).
		WithField(s.cfg.PaymentAsset+"_usd", pay.Price).
		WithField("ticket_price", price).
		Debug("ticket price derived")
	return price, nil
}

// Quote returns the asset's USD quote, served from cache while fresh.
func (s *Service) Quote(ctx context.Context, base string) (pricefeed.Quote, error) {
	return s.quote(ctx, base, "USD")
}

func (s *Service) quote(ctx context.Context, base, quoteAsset string) (pricefeed.Quote, error) {
	pair := base + "/" + quoteAsset

	s.mu.Lock()
	cached, ok := s.cache[pair]
	now := s.now()
	s.mu.Unlock()
	if ok && !cached.Stale(now, s.cfg.MaxQuoteAge) {
		return cached, nil
	}

	if s.fetcher == nil {
		return pricefeed.Quote{}, ErrOracleUnavailable
	}
	q, err := s.fetcher.Fetch(ctx, base, quoteAsset)
	if err != nil {
		return pricefeed.Quote{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	if q.Stale(now, s.cfg.MaxQuoteAge) {
		return pricefeed.Quote{}, ErrStalePrice
	}

	s.mu.Lock()
	s.cache[pair] = q
	s.mu.Unlock()
	return q, nil
}
