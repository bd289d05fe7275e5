// Package config loads service and CLI settings from the environment, with
// an optional .env file in the working directory.
package config

import (
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/ethlots/tax-engine/internal/schedule"
	"github.com/ethlots/tax-engine/internal/subunit"
)

type Config struct {
	Port        string        `env:"PORT" envDefault:"8080"`
	DatabaseURL string        `env:"DATABASE_URL"`
	RedisURL    string        `env:"REDIS_URL"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`

	// TaxPolicies is the default schedule, e.g. "2019-2021=fifo,2022=lower-tax-bracket".
	TaxPolicies string `env:"TAX_POLICIES"`

	Asset Asset
}

type Asset struct {
	Symbol           string `env:"ASSET_SYMBOL" envDefault:"ETH"`
	Decimals         int32  `env:"ASSET_DECIMALS" envDefault:"18"`
	CurrencyDecimals int32  `env:"CURRENCY_DECIMALS" envDefault:"2"`
}

// Load reads .env if present, then parses the environment. The schedule and
// asset are validated here so a bad value fails at startup.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if _, err := cfg.Schedule(); err != nil {
		return nil, fmt.Errorf("TAX_POLICIES: %w", err)
	}
	if err := cfg.AssetSpec().Validate(); err != nil {
		return nil, fmt.Errorf("asset: %w", err)
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("config error: %s", err)
	}
	return cfg
}

// Schedule parses TaxPolicies. An empty value is an empty schedule.
func (c *Config) Schedule() (schedule.Schedule, error) {
	return schedule.Parse(c.TaxPolicies)
}

func (c *Config) AssetSpec() subunit.Asset {
	return subunit.Asset{
		Symbol:           c.Asset.Symbol,
		Decimals:         c.Asset.Decimals,
		CurrencyDecimals: c.Asset.CurrencyDecimals,
	}
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
