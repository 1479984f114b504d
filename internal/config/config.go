// Package config loads the server configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/round"
)

// Config is the top level server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Raffle     RaffleConfig     `yaml:"raffle"`
	Randomness RandomnessConfig `yaml:"randomness"`
	PriceFeed  PriceFeedConfig  `yaml:"price_feed"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures persistence. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RaffleConfig carries the round parameters.
type RaffleConfig struct {
	RoundDuration  time.Duration `yaml:"round_duration"`
	LedgerCapacity int           `yaml:"ledger_capacity"`
	FeePercent     uint8         `yaml:"fee_percent"`
	Beneficiary    string        `yaml:"beneficiary"`
	Authority      string        `yaml:"authority"`
	DrawInterval   time.Duration `yaml:"draw_interval"`
}

// RandomnessConfig bounds and configures randomness requests.
type RandomnessConfig struct {
	Slots       int  `yaml:"slots"`
	AutoFulfill bool `yaml:"auto_fulfill"`
}

// PriceFeedConfig configures the ticket price oracle.
type PriceFeedConfig struct {
	URL             string        `yaml:"url"`
	APIKey          string        `yaml:"api_key"`
	PaymentAsset    string        `yaml:"payment_asset"`
	TicketSatoshis  int64         `yaml:"ticket_satoshis"`
	MaxQuoteAge     time.Duration `yaml:"max_quote_age"`
	TestTicketPrice *uint64       `yaml:"test_ticket_price"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 20,
			MaxIdleConns: 5,
		},
		Raffle: RaffleConfig{
			RoundDuration:  10 * time.Minute,
			LedgerCapacity: round.DefaultLedgerCapacity,
			FeePercent:     10,
			Beneficiary:    "house",
			DrawInterval:   10 * time.Second,
		},
		Randomness: RandomnessConfig{
			Slots: 16,
		},
		PriceFeed: PriceFeedConfig{
			PaymentAsset:   "SOL",
			TicketSatoshis: 5000,
			MaxQuoteAge:    5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration file at path, falling back to defaults when
// the file does not exist, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment only.
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.ListenAddr, "LISTEN_ADDR")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Raffle.Beneficiary, "RAFFLE_BENEFICIARY")
	setString(&c.Raffle.Authority, "RAFFLE_AUTHORITY")
	setString(&c.PriceFeed.URL, "PRICE_FEED_URL")
	setString(&c.PriceFeed.APIKey, "PRICE_FEED_API_KEY")
	setString(&c.Logging.Level, "LOG_LEVEL")

	setDuration(&c.Raffle.RoundDuration, "RAFFLE_ROUND_DURATION")
	setDuration(&c.Raffle.DrawInterval, "RAFFLE_DRAW_INTERVAL")

	if raw := os.Getenv("RAFFLE_FEE_PERCENT"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 8); err == nil {
			c.Raffle.FeePercent = uint8(v)
		}
	}
	if raw := os.Getenv("TEST_TICKET_PRICE"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil && v > 0 {
			c.PriceFeed.TestTicketPrice = &v
		}
	}
	if raw := os.Getenv("RANDOMNESS_AUTO_FULFILL"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			c.Randomness.AutoFulfill = v
		}
	}
}

func (c Config) validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Raffle.FeePercent > 100 {
		return fmt.Errorf("raffle.fee_percent must be at most 100, got %d", c.Raffle.FeePercent)
	}
	if c.Raffle.RoundDuration < time.Second {
		return fmt.Errorf("raffle.round_duration must be at least 1s, got %s", c.Raffle.RoundDuration)
	}
	if c.Raffle.Beneficiary == "" {
		return fmt.Errorf("raffle.beneficiary is required")
	}
	if c.Randomness.Slots < 0 {
		return fmt.Errorf("randomness.slots must not be negative")
	}
	if c.PriceFeed.TicketSatoshis <= 0 {
		return fmt.Errorf("price_feed.ticket_satoshis must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	if raw := os.Getenv(key); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil {
			*dst = v
		}
	}
}
