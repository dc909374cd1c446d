package pricing

import (
	"testing"

	"github.com/starmint/starmint/starmint/database/models"
)

func defaultCalculator(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCalculator() error = %v", err)
	}
	return c
}

func Test_Calculator_Price(t *testing.T) {
	c := defaultCalculator(t)

	tests := []struct {
		name       string
		score      float64
		tier       models.Tier
		multiplier float64
		wantUSD    float64
		wantCents  int64
	}{
		{name: "Mythic at series one", score: 275, tier: models.TierMythic, multiplier: 1.0, wantUSD: 5500.00, wantCents: 550000},
		{name: "Standard", score: 123.45, tier: models.TierStandard, multiplier: 1.0, wantUSD: 12.35, wantCents: 1235},
		{name: "Half cent rounds up", score: 10.05, tier: models.TierStandard, multiplier: 1.0, wantUSD: 1.01, wantCents: 101},
		{name: "Elite with cumulative multiplier", score: 300, tier: models.TierElite, multiplier: 3.75, wantUSD: 5625.00, wantCents: 562500},
		{name: "Missing score prices at zero", score: 0, tier: models.TierLegendary, multiplier: 2.0, wantUSD: 0, wantCents: 0},
		{name: "Negative score clamps to zero", score: -10, tier: models.TierPremium, multiplier: 1.0, wantUSD: 0, wantCents: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Price(tt.score, tt.tier, tt.multiplier)
			if got.PriceUSD != tt.wantUSD {
				t.Errorf("Calculator.Price() usd = %v, want %v", got.PriceUSD, tt.wantUSD)
			}
			if got.PriceCents != tt.wantCents {
				t.Errorf("Calculator.Price() cents = %v, want %v", got.PriceCents, tt.wantCents)
			}
			if again := c.Price(tt.score, tt.tier, tt.multiplier); again != got {
				t.Errorf("Calculator.Price() not idempotent: %+v != %+v", again, got)
			}
		})
	}
}

func Test_Calculator_Price_Monotonic(t *testing.T) {
	c := defaultCalculator(t)

	scores := []float64{0, 0.5, 1, 12.34, 99.99, 100, 275, 499.99, 500}
	multipliers := []float64{1.0, 1.5, 2.0, 2.5, 3.0, 3.75, 9}

	for _, m := range multipliers {
		for _, tier := range models.Tiers {
			prev := int64(-1)
			for _, s := range scores {
				got := c.Price(s, tier, m).PriceCents
				if got < prev {
					t.Fatalf("price not monotonic in score: tier %s m %v score %v -> %d < %d", tier, m, s, got, prev)
				}
				prev = got
			}
		}
	}

	for _, s := range scores {
		for _, m := range multipliers {
			prev := int64(-1)
			for i := len(models.Tiers) - 1; i >= 0; i-- {
				got := c.Price(s, models.Tiers[i], m).PriceCents
				if got < prev {
					t.Fatalf("price not monotonic in tier: score %v tier %s -> %d < %d", s, models.Tiers[i], got, prev)
				}
				prev = got
			}
		}
	}

	for _, s := range scores {
		prev := int64(-1)
		for _, m := range multipliers {
			got := c.Price(s, models.TierElite, m).PriceCents
			if got < prev {
				t.Fatalf("price not monotonic in multiplier: score %v m %v -> %d < %d", s, m, got, prev)
			}
			prev = got
		}
	}
}

func Test_Calculator_SeriesMultiplier(t *testing.T) {
	c := defaultCalculator(t)

	tests := []struct {
		rate float64
		want float64
	}{
		{rate: 0, want: 1.0},
		{rate: 0.2499, want: 1.0},
		{rate: 0.25, want: 1.5},
		{rate: 0.5, want: 2.0},
		{rate: 0.74, want: 2.0},
		{rate: 0.75, want: 2.5},
		{rate: 0.82, want: 2.5},
		{rate: 0.8999, want: 2.5},
		{rate: 0.90, want: 3.0},
		{rate: 1.0, want: 3.0},
	}

	for _, tt := range tests {
		if got := c.SeriesMultiplier(tt.rate); got != tt.want {
			t.Errorf("Calculator.SeriesMultiplier(%v) = %v, want %v", tt.rate, got, tt.want)
		}
	}

	prev := 0.0
	for rate := 0.0; rate <= 1.0; rate += 0.001 {
		got := c.SeriesMultiplier(rate)
		if got < prev {
			t.Fatalf("SeriesMultiplier not monotonic at %v: %v < %v", rate, got, prev)
		}
		prev = got
	}
}

func Test_CumulativeMultiplier(t *testing.T) {
	tests := []struct {
		name  string
		steps []float64
		want  float64
	}{
		{name: "No completed series", steps: nil, want: 1.0},
		{name: "Series one only", steps: []float64{1.0}, want: 1.0},
		{name: "Two steps", steps: []float64{1.0, 2.5, 1.5}, want: 3.75},
		{name: "Three steps", steps: []float64{3.0, 2.0, 1.0}, want: 6.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CumulativeMultiplier(tt.steps); got != tt.want {
				t.Errorf("CumulativeMultiplier() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_Config_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "Default", mutate: func(c *Config) {}},
		{
			name:    "Rates not descending",
			mutate:  func(c *Config) { c.Thresholds[1].MinRate = 0.95 },
			wantErr: true,
		},
		{
			name:    "Multiplier increases as rate falls",
			mutate:  func(c *Config) { c.Thresholds[2].Multiplier = 2.8 },
			wantErr: true,
		},
		{
			name:    "Floor below one",
			mutate:  func(c *Config) { c.FloorMultiplier = 0.9 },
			wantErr: true,
		},
		{
			name:    "Zero base price",
			mutate:  func(c *Config) { c.BasePricePerPoint = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
