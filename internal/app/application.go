// Package app wires the raffle services together and manages their
// lifecycle.
package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bclot-labs/raffle_layer/internal/app/events"
	claimssvc "github.com/bclot-labs/raffle_layer/internal/app/services/claims"
	drawsvc "github.com/bclot-labs/raffle_layer/internal/app/services/draw"
	pricefeedsvc "github.com/bclot-labs/raffle_layer/internal/app/services/pricefeed"
	randomnesssvc "github.com/bclot-labs/raffle_layer/internal/app/services/randomness"
	roundssvc "github.com/bclot-labs/raffle_layer/internal/app/services/rounds"
	treasurysvc "github.com/bclot-labs/raffle_layer/internal/app/services/treasury"
	"github.com/bclot-labs/raffle_layer/internal/app/storage"
	"github.com/bclot-labs/raffle_layer/internal/app/storage/memory"
	"github.com/bclot-labs/raffle_layer/internal/app/system"
	"github.com/bclot-labs/raffle_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to a
// shared in-memory implementation.
type Stores struct {
	Rounds     storage.RoundStore
	Purchases  storage.PurchaseStore
	Directory  storage.DirectoryStore
	Randomness storage.RandomnessStore
	Treasury   storage.TreasuryStore
}

// Config carries the application parameters.
type Config struct {
	// RoundDuration is the sales window length.
	RoundDuration time.Duration
	// LedgerCapacity bounds purchases per round, 0 for unbounded.
	LedgerCapacity int
	// FeePercent is the commission share of every purchase.
	FeePercent uint8
	// Beneficiary receives the commission on settlement.
	Beneficiary string
	// Authority may withdraw from the vaults.
	Authority string
	// RandomnessSlots bounds concurrently pending randomness requests.
	RandomnessSlots int
	// AutoFulfillRandomness settles randomness locally instead of waiting
	// for an external provider.
	AutoFulfillRandomness bool
	// DrawInterval is the scheduler tick.
	DrawInterval time.Duration
	// PriceFeedURL and PriceFeedKey configure the external price oracle.
	PriceFeedURL string
	PriceFeedKey string
	// PaymentAsset is the asset tickets are paid in.
	PaymentAsset string
	// TicketSatoshis is the ticket face value in satoshis.
	TicketSatoshis int64
	// MaxQuoteAge bounds oracle quote freshness.
	MaxQuoteAge time.Duration
	// TestTicketPrice fixes the ticket price, bypassing the oracle.
	TestTicketPrice *uint64
}

// Application ties the raffle services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Bus        *events.Bus
	Rounds     *roundssvc.Service
	Draw       *drawsvc.Service
	Claims     *claimssvc.Service
	Randomness *randomnesssvc.Service
	Treasury   *treasurysvc.Service
	Prices     *pricefeedsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, cfg Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Rounds == nil {
		stores.Rounds = mem
	}
	if stores.Purchases == nil {
		stores.Purchases = mem
	}
	if stores.Directory == nil {
		stores.Directory = mem
	}
	if stores.Randomness == nil {
		stores.Randomness = mem
	}
	if stores.Treasury == nil {
		stores.Treasury = mem
	}

	bus := events.NewBus()
	manager := system.NewManager(log)

	var fetcher pricefeedsvc.Fetcher
	if endpoint := strings.TrimSpace(cfg.PriceFeedURL); endpoint != "" {
		httpClient := &http.Client{Timeout: 10 * time.Second}
		f, err := pricefeedsvc.NewHTTPFetcher(httpClient, endpoint, cfg.PriceFeedKey, log)
		if err != nil {
			return nil, err
		}
		fetcher = f
	} else if cfg.TestTicketPrice == nil {
		log.Warn("no price feed url configured and no test ticket price set")
	}

	priceService := pricefeedsvc.New(fetcher, pricefeedsvc.Config{
		PaymentAsset:   cfg.PaymentAsset,
		TicketSatoshis: cfg.TicketSatoshis,
		MaxQuoteAge:    cfg.MaxQuoteAge,
	}, log)
	if cfg.TestTicketPrice != nil {
		priceService.SetTestTicketPrice(cfg.TestTicketPrice)
	}

	treasuryService := treasurysvc.New(stores.Treasury, cfg.Authority, log)

	roundService := roundssvc.New(stores.Rounds, stores.Purchases, stores.Directory,
		priceService, treasuryService, bus, roundssvc.Config{
			RoundDuration:  cfg.RoundDuration,
			LedgerCapacity: cfg.LedgerCapacity,
			FeePercent:     cfg.FeePercent,
		}, log)

	drawService := drawsvc.New(roundService, log)

	randomnessService := randomnesssvc.New(stores.Randomness, randomnesssvc.Config{
		Slots:       cfg.RandomnessSlots,
		AutoFulfill: cfg.AutoFulfillRandomness,
	}, log)
	randomnessService.SetConsumer(drawService)

	claimsService := claimssvc.New(roundService, treasuryService, bus, cfg.Beneficiary, log)

	scheduler := drawsvc.NewScheduler(roundService, randomnessService, cfg.DrawInterval, log)
	manager.Register(scheduler)

	return &Application{
		manager:    manager,
		log:        log,
		Bus:        bus,
		Rounds:     roundService,
		Draw:       drawService,
		Claims:     claimsService,
		Randomness: randomnessService,
		Treasury:   treasuryService,
		Prices:     priceService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) {
	a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
