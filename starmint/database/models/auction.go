package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AuctionStatus string

const (
	AuctionStatusPending   AuctionStatus = "PENDING"
	AuctionStatusActive    AuctionStatus = "ACTIVE"
	AuctionStatusEnded     AuctionStatus = "ENDED"
	AuctionStatusFinalized AuctionStatus = "FINALIZED"
)

// Terminated reports whether the auction can never accept bids again.
func (s AuctionStatus) Terminated() bool {
	return s == AuctionStatusEnded || s == AuctionStatusFinalized
}

// Auction is the live bidding state of one collectible. CurrentBidCents and
// HighestBidder mirror the highest CONFIRMED bid.
type Auction struct {
	bun.BaseModel `bun:"table:auctions,alias:a"`

	ID               string        `bun:"id,pk" json:"id"`
	CollectibleID    int64         `bun:"collectible_id,notnull" json:"collectible_id"`
	StartTime        time.Time     `bun:"start_time,notnull" json:"start_time"`
	EndTime          time.Time     `bun:"end_time,notnull" json:"end_time"`
	StartingBidCents int64         `bun:"starting_bid_cents,notnull" json:"starting_bid_cents"`
	CurrentBidCents  int64         `bun:"current_bid_cents,notnull" json:"current_bid_cents"`
	HighestBidder    string        `bun:"highest_bidder,nullzero" json:"highest_bidder"`
	BidCount         int           `bun:"bid_count,notnull,default:0" json:"bid_count"`
	Status           AuctionStatus `bun:"status,notnull" json:"status"`
	Cancelled        bool          `bun:"cancelled,notnull,default:false" json:"cancelled"`
	EndedAt          time.Time     `bun:"ended_at,nullzero" json:"ended_at"`
	LastBidTime      time.Time     `bun:"last_bid_time,nullzero" json:"last_bid_time"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// HasBids reports whether a winning bid exists.
func (a *Auction) HasBids() bool {
	return a.HighestBidder != ""
}

type BidStatus string

const (
	BidStatusConfirmed BidStatus = "CONFIRMED"
	BidStatusRejected  BidStatus = "REJECTED"
)

// AuctionBid is an append-only bid record.
type AuctionBid struct {
	bun.BaseModel `bun:"table:auction_bids,alias:ab"`

	ID          string    `bun:"id,pk" json:"id"`
	AuctionID   string    `bun:"auction_id,notnull" json:"auction_id"`
	BidderID    string    `bun:"bidder_id,notnull" json:"bidder_id"`
	AmountCents int64     `bun:"amount_cents,notnull" json:"amount_cents"`
	Status      BidStatus `bun:"status,notnull" json:"status"`
	Timestamp   time.Time `bun:"placed_at,notnull" json:"placed_at"`
}
