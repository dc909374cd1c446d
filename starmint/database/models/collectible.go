package models

import (
	"time"

	"github.com/uptrace/bun"
)

type CollectibleStatus string

const (
	CollectibleStatusAvailable CollectibleStatus = "AVAILABLE"
	CollectibleStatusReserved  CollectibleStatus = "RESERVED"
	CollectibleStatusSold      CollectibleStatus = "SOLD"
	CollectibleStatusMinted    CollectibleStatus = "MINTED"
)

// Tier is one of the six fixed rank bands.
type Tier string

const (
	TierMythic      Tier = "MYTHIC"
	TierLegendary   Tier = "LEGENDARY"
	TierElite       Tier = "ELITE"
	TierPremium     Tier = "PREMIUM"
	TierExceptional Tier = "EXCEPTIONAL"
	TierStandard    Tier = "STANDARD"
)

// Tiers lists every tier from highest to lowest.
var Tiers = []Tier{TierMythic, TierLegendary, TierElite, TierPremium, TierExceptional, TierStandard}

var tierMultipliers = map[Tier]float64{
	TierMythic:      200,
	TierLegendary:   100,
	TierElite:       50,
	TierPremium:     20,
	TierExceptional: 5,
	TierStandard:    1,
}

// Multiplier is the fixed price multiplier of the tier. Unknown tiers price
// like STANDARD.
func (t Tier) Multiplier() float64 {
	if m, ok := tierMultipliers[t]; ok {
		return m
	}
	return 1
}

// Rank is the tier's position from the top, 0 for MYTHIC.
func (t Tier) Rank() int {
	for i, tier := range Tiers {
		if tier == t {
			return i
		}
	}
	return len(Tiers)
}

func (t Tier) Valid() bool {
	_, ok := tierMultipliers[t]
	return ok
}

func ParseTier(s string) (Tier, bool) {
	t := Tier(s)
	return t, t.Valid()
}

// Collectible is a catalogued object. Score is nil until the object has been
// scored; tier and tier_rank are only written by a full tiering pass.
type Collectible struct {
	bun.BaseModel `bun:"table:collectibles,alias:c"`

	ID                int64             `bun:"id,pk" json:"id"`
	Name              string            `bun:"name,notnull" json:"name"`
	Category          string            `bun:"category,notnull" json:"category"`
	Attributes        map[string]any    `bun:"attributes" json:"attributes"`
	Score             *float64          `bun:"score" json:"score"`
	Tier              Tier              `bun:"tier,notnull,default:'STANDARD'" json:"tier"`
	TierRank          int               `bun:"tier_rank,notnull,default:0" json:"tier_rank"`
	Status            CollectibleStatus `bun:"status,notnull,default:'AVAILABLE'" json:"status"`
	CurrentPriceCents int64             `bun:"current_price_cents,notnull,default:0" json:"current_price_cents"`
	OwnerID           string            `bun:"owner_id,nullzero" json:"owner_id"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// ScoreOrZero returns the score, treating missing score data as 0.
func (c *Collectible) ScoreOrZero() float64 {
	if c.Score == nil {
		return 0
	}
	return *c.Score
}
