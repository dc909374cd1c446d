package starmint

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/starmint/starmint/starmint/api"
	"github.com/starmint/starmint/starmint/database"
	"github.com/starmint/starmint/starmint/economy/auction"
	"github.com/starmint/starmint/starmint/economy/pricing"
	"github.com/starmint/starmint/starmint/economy/scoring"
	"github.com/starmint/starmint/starmint/economy/tiers"
	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/starmint/starmint/starmint/notify"
	"github.com/starmint/starmint/starmint/scheduler"
)

// EnvPrefix prefixes every environment override, e.g. STARMINT_DB_HOST.
const EnvPrefix = "STARMINT_"

// LoadConfig reads path (optional), then applies .env and environment
// overrides, then validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config: %w", err)
		}
		defer file.Close()
		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

type Config struct {
	Log       LogConfig         `toml:"log" envPrefix:"LOG_"`
	DB        database.DBConfig `toml:"db" envPrefix:"DB_"`
	HTTP      api.Config        `toml:"http" envPrefix:"HTTP_"`
	Scheduler scheduler.Config  `toml:"scheduler" envPrefix:"SCHEDULER_"`
	Pricing   PricingConfig     `toml:"pricing" envPrefix:"PRICING_"`
	Tiers     TiersConfig       `toml:"tiers" envPrefix:"TIERS_"`
	Scoring   ScoringConfig     `toml:"scoring" envPrefix:"SCORING_"`
	Auction   auction.Config    `toml:"auction" envPrefix:"AUCTION_"`
	Notify    NotifyConfig      `toml:"notify" envPrefix:"NOTIFY_"`
}

type LogConfig struct {
	Level   slog.Level `toml:"level" env:"LEVEL"`
	NoColor bool       `toml:"no_color" env:"NO_COLOR"`
}

type PricingConfig struct {
	BasePricePerPoint    float64             `toml:"base_price_per_point" env:"BASE_PRICE_PER_POINT"`
	FloorMultiplier      float64             `toml:"floor_multiplier" env:"FLOOR_MULTIPLIER"`
	Thresholds           []pricing.Threshold `toml:"thresholds"`
	CacheSize            int                 `toml:"cache_size" env:"CACHE_SIZE"`
	CacheExpiry          time.Duration       `toml:"cache_expiry" env:"CACHE_EXPIRY"`
	BatchSize            int                 `toml:"batch_size" env:"BATCH_SIZE"`
	MaxConcurrentBatches int64               `toml:"max_concurrent_batches" env:"MAX_CONCURRENT_BATCHES"`
}

func (c PricingConfig) Formula() pricing.Config {
	return pricing.Config{
		BasePricePerPoint: c.BasePricePerPoint,
		Thresholds:        c.Thresholds,
		FloorMultiplier:   c.FloorMultiplier,
	}
}

func (c PricingConfig) Options() pricing.Options {
	return pricing.Options{
		BatchSize:            c.BatchSize,
		MaxConcurrentBatches: c.MaxConcurrentBatches,
		CacheSize:            c.CacheSize,
		CacheExpiry:          c.CacheExpiry,
	}
}

// TiersConfig holds the target count of each tier, keyed by tier name.
type TiersConfig struct {
	Quotas map[string]int `toml:"quotas" env:"QUOTAS"`
}

// ScoringConfig selects the scoring system: File when set, otherwise the
// built-in System.
type ScoringConfig struct {
	System string `toml:"system" env:"SYSTEM"`
	File   string `toml:"file" env:"FILE"`
}

func (c ScoringConfig) Load() (*scoring.System, error) {
	if c.File != "" {
		return scoring.LoadSystem(c.File)
	}
	return scoring.Builtin(c.System)
}

type NotifyConfig struct {
	QueueSize int                  `toml:"queue_size" env:"QUEUE_SIZE"`
	Timeout   time.Duration        `toml:"timeout" env:"TIMEOUT"`
	Discord   notify.DiscordConfig `toml:"discord" envPrefix:"DISCORD_"`
}

func DefaultConfig() Config {
	formula := pricing.DefaultConfig()
	opts := pricing.DefaultOptions()

	quotas := make(map[string]int)
	for tier, n := range tiers.DefaultQuotas() {
		quotas[string(tier)] = n
	}

	return Config{
		Log: LogConfig{Level: slog.LevelInfo},
		DB: database.DBConfig{
			Driver:   database.DriverPostgres,
			Host:     "localhost",
			Port:     5432,
			User:     "starmint",
			Database: "starmint",
			PoolSize: 20,
		},
		HTTP:      api.DefaultConfig(),
		Scheduler: scheduler.DefaultConfig(),
		Pricing: PricingConfig{
			BasePricePerPoint:    formula.BasePricePerPoint,
			FloorMultiplier:      formula.FloorMultiplier,
			Thresholds:           formula.Thresholds,
			CacheSize:            opts.CacheSize,
			CacheExpiry:          opts.CacheExpiry,
			BatchSize:            opts.BatchSize,
			MaxConcurrentBatches: opts.MaxConcurrentBatches,
		},
		Tiers:   TiersConfig{Quotas: quotas},
		Scoring: ScoringConfig{System: scoring.DefaultSystemName},
		Auction: auction.DefaultConfig(),
		Notify: NotifyConfig{
			QueueSize: utils.NotifyQueueSize,
			Timeout:   utils.NotifyTimeout,
		},
	}
}

// Validate checks every section so a bad value fails at startup rather than
// on first use.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case database.DriverPostgres:
		if c.DB.Host == "" || c.DB.Database == "" {
			return fmt.Errorf("db: host and database are required for postgres")
		}
	case database.DriverSQLite:
	default:
		return fmt.Errorf("db: unknown driver %q", c.DB.Driver)
	}

	if err := c.Pricing.Formula().Validate(); err != nil {
		return fmt.Errorf("pricing: %w", err)
	}
	if c.Pricing.CacheSize < 0 || c.Pricing.BatchSize < 0 || c.Pricing.MaxConcurrentBatches < 0 {
		return fmt.Errorf("pricing: cache size, batch size and concurrency cannot be negative")
	}
	if _, err := tiers.ParseQuotas(c.Tiers.Quotas); err != nil {
		return fmt.Errorf("tiers: %w", err)
	}
	if _, err := c.Scoring.Load(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if c.Auction.AntiSnipeWindow < 0 {
		return fmt.Errorf("auction: anti-snipe window cannot be negative")
	}
	if c.Notify.QueueSize < 0 {
		return fmt.Errorf("notify: queue size cannot be negative")
	}
	if c.Notify.Discord.RatePerSecond < 0 {
		return fmt.Errorf("notify: discord rate cannot be negative")
	}
	return nil
}
