package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starmint/starmint/starmint/database/models"
	"github.com/uptrace/bun"
)

type AuctionRepository interface {
	DB() *bun.DB
	Create(ctx context.Context, idb bun.IDB, auction *models.Auction) error
	GetByID(ctx context.Context, idb bun.IDB, id string) (*models.Auction, error)
	GetForUpdate(ctx context.Context, idb bun.IDB, id string) (*models.Auction, error)
	ListByStatus(ctx context.Context, idb bun.IDB, statuses ...models.AuctionStatus) ([]*models.Auction, error)
	GetOpenForCollectible(ctx context.Context, idb bun.IDB, collectibleID int64) (*models.Auction, error)
	ApplyBid(ctx context.Context, idb bun.IDB, auction *models.Auction, expectedBidCents int64, expectedBidCount int) (bool, error)
	Transition(ctx context.Context, idb bun.IDB, auction *models.Auction, from ...models.AuctionStatus) (bool, error)
	SetBidPointers(ctx context.Context, idb bun.IDB, id string, currentBidCents int64, highestBidder string, bidCount int) error

	InsertBid(ctx context.Context, idb bun.IDB, bid *models.AuctionBid) error
	GetAuctionBids(ctx context.Context, idb bun.IDB, auctionID string) ([]*models.AuctionBid, error)
	GetUserBids(ctx context.Context, idb bun.IDB, bidderID string) ([]*models.AuctionBid, error)
	HighestConfirmedBid(ctx context.Context, idb bun.IDB, auctionID string) (*models.AuctionBid, error)
	CountConfirmedBids(ctx context.Context, idb bun.IDB, auctionID string) (int, error)
}

type auctionRepository struct {
	*BaseRepository
}

func NewAuctionRepository(db *bun.DB) AuctionRepository {
	return &auctionRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *auctionRepository) Create(ctx context.Context, idb bun.IDB, auction *models.Auction) error {
	now := time.Now().UTC()
	auction.CreatedAt = now
	auction.UpdatedAt = now
	auction.BidCount = 0
	if auction.Status == "" {
		auction.Status = models.AuctionStatusPending
	}

	_, err := idb.NewInsert().Model(auction).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create auction: %w", err)
	}
	return nil
}

func (r *auctionRepository) GetByID(ctx context.Context, idb bun.IDB, id string) (*models.Auction, error) {
	auction := new(models.Auction)
	err := idb.NewSelect().
		Model(auction).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleError("get", "auction", id, err)
	}
	return auction, nil
}

func (r *auctionRepository) GetForUpdate(ctx context.Context, idb bun.IDB, id string) (*models.Auction, error) {
	auction := new(models.Auction)
	err := lockRow(idb, idb.NewSelect().
		Model(auction).
		Where("id = ?", id)).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleError("lock", "auction", id, err)
	}
	return auction, nil
}

// ListByStatus returns every auction when no status is given.
func (r *auctionRepository) ListByStatus(ctx context.Context, idb bun.IDB, statuses ...models.AuctionStatus) ([]*models.Auction, error) {
	var auctions []*models.Auction
	q := idb.NewSelect().
		Model(&auctions).
		Order("end_time ASC", "id ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(statuses))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	return auctions, nil
}

// GetOpenForCollectible returns the PENDING or ACTIVE auction of a
// collectible, or nil, nil when there is none.
func (r *auctionRepository) GetOpenForCollectible(ctx context.Context, idb bun.IDB, collectibleID int64) (*models.Auction, error) {
	auction := new(models.Auction)
	err := idb.NewSelect().
		Model(auction).
		Where("collectible_id = ?", collectibleID).
		Where("status IN (?)", bun.In([]models.AuctionStatus{models.AuctionStatusPending, models.AuctionStatusActive})).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open auction for collectible %d: %w", collectibleID, err)
	}
	return auction, nil
}

// ApplyBid writes the new bid pointers and end time only if the stored
// pointers still match what the caller read. It reports false on a lost race.
func (r *auctionRepository) ApplyBid(ctx context.Context, idb bun.IDB, auction *models.Auction, expectedBidCents int64, expectedBidCount int) (bool, error) {
	auction.UpdatedAt = time.Now().UTC()
	res, err := idb.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("current_bid_cents = ?", auction.CurrentBidCents).
		Set("highest_bidder = ?", auction.HighestBidder).
		Set("bid_count = ?", auction.BidCount).
		Set("end_time = ?", auction.EndTime).
		Set("last_bid_time = ?", auction.LastBidTime).
		Set("status = ?", auction.Status).
		Set("updated_at = ?", auction.UpdatedAt).
		Where("id = ?", auction.ID).
		Where("current_bid_cents = ?", expectedBidCents).
		Where("bid_count = ?", expectedBidCount).
		Where("status IN (?)", bun.In([]models.AuctionStatus{models.AuctionStatusPending, models.AuctionStatusActive})).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to update auction bid: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// Transition persists the auction's status fields if its stored status is
// one of from.
func (r *auctionRepository) Transition(ctx context.Context, idb bun.IDB, auction *models.Auction, from ...models.AuctionStatus) (bool, error) {
	auction.UpdatedAt = time.Now().UTC()
	res, err := idb.NewUpdate().
		Model(auction).
		Column("status", "cancelled", "ended_at", "updated_at").
		WherePK().
		Where("status IN (?)", bun.In(from)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to move auction %s to %s: %w", auction.ID, auction.Status, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *auctionRepository) SetBidPointers(ctx context.Context, idb bun.IDB, id string, currentBidCents int64, highestBidder string, bidCount int) error {
	q := idb.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("current_bid_cents = ?", currentBidCents).
		Set("bid_count = ?", bidCount).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	if highestBidder == "" {
		q = q.Set("highest_bidder = NULL")
	} else {
		q = q.Set("highest_bidder = ?", highestBidder)
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to rebuild bid pointers of auction %s: %w", id, err)
	}
	return nil
}

func (r *auctionRepository) InsertBid(ctx context.Context, idb bun.IDB, bid *models.AuctionBid) error {
	if bid.Timestamp.IsZero() {
		bid.Timestamp = time.Now().UTC()
	}
	if _, err := idb.NewInsert().Model(bid).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

func (r *auctionRepository) GetAuctionBids(ctx context.Context, idb bun.IDB, auctionID string) ([]*models.AuctionBid, error) {
	var bids []*models.AuctionBid
	err := idb.NewSelect().
		Model(&bids).
		Where("auction_id = ?", auctionID).
		Order("amount_cents DESC", "placed_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get auction bids: %w", err)
	}
	return bids, nil
}

func (r *auctionRepository) GetUserBids(ctx context.Context, idb bun.IDB, bidderID string) ([]*models.AuctionBid, error) {
	var bids []*models.AuctionBid
	err := idb.NewSelect().
		Model(&bids).
		Where("bidder_id = ?", bidderID).
		Order("placed_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get user bids: %w", err)
	}
	return bids, nil
}

// HighestConfirmedBid returns nil, nil for an auction without confirmed bids.
func (r *auctionRepository) HighestConfirmedBid(ctx context.Context, idb bun.IDB, auctionID string) (*models.AuctionBid, error) {
	bid := new(models.AuctionBid)
	err := idb.NewSelect().
		Model(bid).
		Where("auction_id = ?", auctionID).
		Where("status = ?", models.BidStatusConfirmed).
		Order("amount_cents DESC", "placed_at ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get highest bid: %w", err)
	}
	return bid, nil
}

func (r *auctionRepository) CountConfirmedBids(ctx context.Context, idb bun.IDB, auctionID string) (int, error) {
	count, err := idb.NewSelect().
		Model((*models.AuctionBid)(nil)).
		Where("auction_id = ?", auctionID).
		Where("status = ?", models.BidStatusConfirmed).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count bids: %w", err)
	}
	return count, nil
}
