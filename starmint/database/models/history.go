package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OwnershipSource string

const (
	OwnershipSourceAuction  OwnershipSource = "auction"
	OwnershipSourcePurchase OwnershipSource = "purchase"
)

// OwnershipHistory records every transfer of a collectible to an owner.
// AuctionID is unique when set so a repeated finalization cannot write twice.
type OwnershipHistory struct {
	bun.BaseModel `bun:"table:ownership_history,alias:oh"`

	ID            string          `bun:"id,pk" json:"id"`
	CollectibleID int64           `bun:"collectible_id,notnull" json:"collectible_id"`
	OwnerID       string          `bun:"owner_id,notnull" json:"owner_id"`
	AuctionID     string          `bun:"auction_id,nullzero,unique" json:"auction_id"`
	PriceCents    int64           `bun:"price_cents,notnull" json:"price_cents"`
	Source        OwnershipSource `bun:"source,notnull" json:"source"`
	RecordedAt    time.Time       `bun:"recorded_at,notnull" json:"recorded_at"`
}

// PriceHistory is a snapshot of a collectible price change.
type PriceHistory struct {
	bun.BaseModel `bun:"table:price_history,alias:ph"`

	ID               string    `bun:"id,pk" json:"id"`
	CollectibleID    int64     `bun:"collectible_id,notnull" json:"collectible_id"`
	PriceCents       int64     `bun:"price_cents,notnull" json:"price_cents"`
	PreviousCents    int64     `bun:"previous_cents,notnull" json:"previous_cents"`
	SeriesMultiplier float64   `bun:"series_multiplier,notnull" json:"series_multiplier"`
	RecordedAt       time.Time `bun:"recorded_at,notnull" json:"recorded_at"`
}
