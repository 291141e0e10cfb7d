// Package config handles configuration loading and validation.
//
// Configuration comes from an optional YAML file with environment
// variable overrides for the deployment-specific values (PORT,
// DATABASE_URL, REDIS_URL, STARTING_BALANCE).
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Account     AccountConfig     `yaml:"account"`
	Quotes      QuotesConfig      `yaml:"quotes"`
	Risk        RiskConfig        `yaml:"risk"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Ledger      LedgerConfig      `yaml:"ledger"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port              string `yaml:"port"`
	ReadTimeoutSec    int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec   int    `yaml:"write_timeout_sec"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

// AccountConfig holds account provisioning settings. Monetary values
// are YAML strings, parsed to decimals on access.
type AccountConfig struct {
	StartingBalance string `yaml:"starting_balance"`
}

// QuotesConfig holds mock quote source settings. BasePrices maps
// symbol → base price; fluctuation is applied around these.
type QuotesConfig struct {
	Seed       int64             `yaml:"seed"`
	BasePrices map[string]string `yaml:"base_prices"`
}

// RiskConfig holds per-user position limit settings. Zero disables a check.
type RiskConfig struct {
	MaxOpenPositions  int    `yaml:"max_open_positions"`
	MaxSymbolNotional string `yaml:"max_symbol_notional"`
}

// RateLimitConfig holds order-endpoint throttling settings.
type RateLimitConfig struct {
	OrdersPerSecond float64 `yaml:"orders_per_second"`
	Burst           int     `yaml:"burst"`
}

// PersistenceConfig holds store settings. An empty DatabaseURL selects
// the in-memory store.
type PersistenceConfig struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
}

// LedgerConfig holds core operation settings.
type LedgerConfig struct {
	OperationTimeoutSec int `yaml:"operation_timeout_sec"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              "8080",
			ReadTimeoutSec:    10,
			WriteTimeoutSec:   10,
			RequestTimeoutSec: 30,
		},
		Account: AccountConfig{
			StartingBalance: "10000",
		},
		Quotes: QuotesConfig{},
		Risk: RiskConfig{
			MaxOpenPositions: 100,
		},
		RateLimit: RateLimitConfig{
			OrdersPerSecond: 10,
			Burst:           20,
		},
		Persistence: PersistenceConfig{
			CacheTTLSec: 30,
		},
		Ledger: LedgerConfig{
			OperationTimeoutSec: 5,
		},
	}
}

// Load reads configuration from path (optional), applies environment
// overrides, and validates. An empty path or missing file yields the
// defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Persistence.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Persistence.RedisURL = v
	}
	if v := os.Getenv("STARTING_BALANCE"); v != "" {
		cfg.Account.StartingBalance = v
	}
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("config: server port is required")
	}
	if b, err := decimal.NewFromString(c.Account.StartingBalance); err != nil || b.IsNegative() {
		return fmt.Errorf("config: invalid starting balance %q", c.Account.StartingBalance)
	}
	if c.Risk.MaxSymbolNotional != "" {
		if n, err := decimal.NewFromString(c.Risk.MaxSymbolNotional); err != nil || n.IsNegative() {
			return fmt.Errorf("config: invalid max symbol notional %q", c.Risk.MaxSymbolNotional)
		}
	}
	if c.Risk.MaxOpenPositions < 0 {
		return fmt.Errorf("config: max open positions must not be negative")
	}
	if c.RateLimit.OrdersPerSecond <= 0 {
		return fmt.Errorf("config: orders per second must be positive")
	}
	if c.Ledger.OperationTimeoutSec <= 0 {
		return fmt.Errorf("config: operation timeout must be positive")
	}
	for sym, price := range c.Quotes.BasePrices {
		p, err := decimal.NewFromString(price)
		if err != nil || !p.IsPositive() {
			return fmt.Errorf("config: invalid base price for %s: %q", sym, price)
		}
	}
	return nil
}

// StartingBalance returns the starting balance as a decimal. Call
// after Validate.
func (c Config) StartingBalance() decimal.Decimal {
	b, _ := decimal.NewFromString(c.Account.StartingBalance)
	return b
}

// MaxSymbolNotional returns the per-symbol notional cap as a decimal;
// zero when unset. Call after Validate.
func (c Config) MaxSymbolNotional() decimal.Decimal {
	if c.Risk.MaxSymbolNotional == "" {
		return decimal.Zero
	}
	n, _ := decimal.NewFromString(c.Risk.MaxSymbolNotional)
	return n
}

// BasePrices converts the configured base price table to decimals.
// Returns nil when no table is configured (the caller falls back to
// the built-in defaults).
func (c Config) BasePrices() map[string]decimal.Decimal {
	if len(c.Quotes.BasePrices) == 0 {
		return nil
	}
	prices := make(map[string]decimal.Decimal, len(c.Quotes.BasePrices))
	for sym, raw := range c.Quotes.BasePrices {
		p, _ := decimal.NewFromString(raw)
		prices[sym] = p
	}
	return prices
}
