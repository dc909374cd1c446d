package pricing

import (
	"fmt"
	"math"

	"github.com/starmint/starmint/starmint/database/models"
	"github.com/starmint/starmint/starmint/economy/utils"
)

// Threshold maps a minimum sell-through rate to the next series' step
// multiplier.
type Threshold struct {
	MinRate    float64 `toml:"min_rate"`
	Multiplier float64 `toml:"multiplier"`
}

// Config is the pricing formula configuration, validated at load.
type Config struct {
	BasePricePerPoint float64     `toml:"base_price_per_point"`
	Thresholds        []Threshold `toml:"thresholds"`
	FloorMultiplier   float64     `toml:"floor_multiplier"`
}

func DefaultConfig() Config {
	return Config{
		BasePricePerPoint: utils.DefaultBasePricePerPoint,
		Thresholds: []Threshold{
			{MinRate: 0.90, Multiplier: 3.0},
			{MinRate: 0.75, Multiplier: 2.5},
			{MinRate: 0.50, Multiplier: 2.0},
			{MinRate: 0.25, Multiplier: 1.5},
		},
		FloorMultiplier: 1.0,
	}
}

// Validate requires thresholds strictly descending with non-increasing
// multipliers, none below a floor of at least 1.0.
func (c Config) Validate() error {
	if c.BasePricePerPoint <= 0 {
		return fmt.Errorf("base price per point must be positive, got %v", c.BasePricePerPoint)
	}
	if c.FloorMultiplier < 1.0 {
		return fmt.Errorf("floor multiplier must be at least 1.0, got %v", c.FloorMultiplier)
	}
	for i, t := range c.Thresholds {
		if t.MinRate < 0 || t.MinRate > 1 {
			return fmt.Errorf("threshold %d: rate %v outside [0, 1]", i, t.MinRate)
		}
		if t.Multiplier < c.FloorMultiplier {
			return fmt.Errorf("threshold %d: multiplier %v below floor %v", i, t.Multiplier, c.FloorMultiplier)
		}
		if i == 0 {
			continue
		}
		prev := c.Thresholds[i-1]
		if t.MinRate >= prev.MinRate {
			return fmt.Errorf("threshold %d: rates must be strictly descending", i)
		}
		if t.Multiplier > prev.Multiplier {
			return fmt.Errorf("threshold %d: multipliers must not increase as rates fall", i)
		}
	}
	return nil
}

// Breakdown shows every factor of a quote.
type Breakdown struct {
	BasePricePerPoint float64     `json:"base_price_per_point"`
	Score             float64     `json:"score"`
	Tier              models.Tier `json:"tier"`
	TierMultiplier    float64     `json:"tier_multiplier"`
	SeriesMultiplier  float64     `json:"series_multiplier"`
	Formula           string      `json:"formula"`
}

type Quote struct {
	PriceUSD   float64   `json:"price_usd"`
	PriceCents int64     `json:"price_cents"`
	Breakdown  Breakdown `json:"breakdown"`
}

// Calculator is the pure pricing formula. It has no state beyond its
// configuration and is safe for concurrent use.
type Calculator struct {
	config Config
}

func NewCalculator(config Config) (*Calculator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pricing config: %w", err)
	}
	return &Calculator{config: config}, nil
}

func (c *Calculator) Config() Config {
	return c.config
}

// Price rounds once, after every multiplication.
func (c *Calculator) Price(score float64, tier models.Tier, seriesMultiplier float64) Quote {
	score = math.Max(score, 0)
	tierMultiplier := tier.Multiplier()

	usd := utils.Round2(c.config.BasePricePerPoint * score * tierMultiplier * seriesMultiplier)
	return Quote{
		PriceUSD:   usd,
		PriceCents: utils.ToCents(usd),
		Breakdown: Breakdown{
			BasePricePerPoint: c.config.BasePricePerPoint,
			Score:             score,
			Tier:              tier,
			TierMultiplier:    tierMultiplier,
			SeriesMultiplier:  seriesMultiplier,
			Formula: fmt.Sprintf("%.2f x %.2f x %.0f x %.4g = $%.2f",
				c.config.BasePricePerPoint, score, tierMultiplier, seriesMultiplier, usd),
		},
	}
}

// SeriesMultiplier scans the thresholds highest first; the first satisfied
// bound wins and anything below every bound takes the floor.
func (c *Calculator) SeriesMultiplier(sellThroughRate float64) float64 {
	if math.IsNaN(sellThroughRate) {
		return c.config.FloorMultiplier
	}
	for _, t := range c.config.Thresholds {
		if sellThroughRate >= t.MinRate {
			return t.Multiplier
		}
	}
	return c.config.FloorMultiplier
}

// CumulativeMultiplier is the product of the given series step
// multipliers. Series 1 carries 1.0 and contributes no factor.
func CumulativeMultiplier(steps []float64) float64 {
	total := 1.0
	for _, m := range steps {
		if m > 0 {
			total *= m
		}
	}
	return total
}
