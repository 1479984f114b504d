// Command server runs the raffle layer HTTP service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/bclot-labs/raffle_layer/internal/app"
	"github.com/bclot-labs/raffle_layer/internal/app/httpapi"
	"github.com/bclot-labs/raffle_layer/internal/app/storage/postgres"
	"github.com/bclot-labs/raffle_layer/internal/config"
	"github.com/bclot-labs/raffle_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// Missing .env is fine, environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("server").WithError(err).Error("load configuration")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Component: "server",
		Level:     cfg.Logging.Level,
		JSON:      cfg.Logging.Format != "text",
	})

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("server exited")
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores := app.Stores{}
	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return err
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		if err := db.PingContext(ctx); err != nil {
			return err
		}

		store := postgres.New(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		stores = app.Stores{
			Rounds:     store,
			Purchases:  store,
			Directory:  store,
			Randomness: store,
			Treasury:   store,
		}
		log.Info("using postgres storage")
	} else {
		log.Info("no database url configured, using in-memory storage")
	}

	application, err := app.New(stores, app.Config{
		RoundDuration:         cfg.Raffle.RoundDuration,
		LedgerCapacity:        cfg.Raffle.LedgerCapacity,
		FeePercent:            cfg.Raffle.FeePercent,
		Beneficiary:           cfg.Raffle.Beneficiary,
		Authority:             cfg.Raffle.Authority,
		RandomnessSlots:       cfg.Randomness.Slots,
		AutoFulfillRandomness: cfg.Randomness.AutoFulfill,
		DrawInterval:          cfg.Raffle.DrawInterval,
		PriceFeedURL:          cfg.PriceFeed.URL,
		PriceFeedKey:          cfg.PriceFeed.APIKey,
		PaymentAsset:          cfg.PriceFeed.PaymentAsset,
		TicketSatoshis:        cfg.PriceFeed.TicketSatoshis,
		MaxQuoteAge:           cfg.PriceFeed.MaxQuoteAge,
		TestTicketPrice:       cfg.PriceFeed.TestTicketPrice,
	}, log)
	if err != nil {
		return err
	}

	if err := application.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      httpapi.NewHandler(application),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.ListenAddr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	return application.Stop(shutdownCtx)
}
