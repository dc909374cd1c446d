package repositories

import (
	"context"
	"fmt"

	"github.com/starmint/starmint/starmint/database/models"
	"github.com/uptrace/bun"
)

type HistoryRepository interface {
	DB() *bun.DB
	InsertOwnership(ctx context.Context, idb bun.IDB, entry *models.OwnershipHistory) (bool, error)
	CountOwnershipForAuction(ctx context.Context, idb bun.IDB, auctionID string) (int, error)
	GetOwnershipHistory(ctx context.Context, idb bun.IDB, collectibleID int64) ([]*models.OwnershipHistory, error)
	InsertPriceHistory(ctx context.Context, idb bun.IDB, entries []*models.PriceHistory) error
	GetPriceHistory(ctx context.Context, idb bun.IDB, collectibleID int64, limit int) ([]*models.PriceHistory, error)
}

type historyRepository struct {
	*BaseRepository
}

func NewHistoryRepository(db *bun.DB) HistoryRepository {
	return &historyRepository{BaseRepository: NewBaseRepository(db)}
}

// InsertOwnership writes a transfer record. Auction transfers are unique per
// auction; a repeat reports false and writes nothing.
func (r *historyRepository) InsertOwnership(ctx context.Context, idb bun.IDB, entry *models.OwnershipHistory) (bool, error) {
	q := idb.NewInsert().Model(entry)
	if entry.AuctionID != "" {
		q = q.On("CONFLICT (auction_id) DO NOTHING")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to insert ownership history: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *historyRepository) CountOwnershipForAuction(ctx context.Context, idb bun.IDB, auctionID string) (int, error) {
	count, err := idb.NewSelect().
		Model((*models.OwnershipHistory)(nil)).
		Where("auction_id = ?", auctionID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count ownership history: %w", err)
	}
	return count, nil
}

func (r *historyRepository) GetOwnershipHistory(ctx context.Context, idb bun.IDB, collectibleID int64) ([]*models.OwnershipHistory, error) {
	var entries []*models.OwnershipHistory
	err := idb.NewSelect().
		Model(&entries).
		Where("collectible_id = ?", collectibleID).
		Order("recorded_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ownership history: %w", err)
	}
	return entries, nil
}

func (r *historyRepository) InsertPriceHistory(ctx context.Context, idb bun.IDB, entries []*models.PriceHistory) error {
	if len(entries) == 0 {
		return nil
	}
	if _, err := idb.NewInsert().Model(&entries).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert price history: %w", err)
	}
	return nil
}

func (r *historyRepository) GetPriceHistory(ctx context.Context, idb bun.IDB, collectibleID int64, limit int) ([]*models.PriceHistory, error) {
	var entries []*models.PriceHistory
	err := idb.NewSelect().
		Model(&entries).
		Where("collectible_id = ?", collectibleID).
		Order("recorded_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get price history: %w", err)
	}
	return entries, nil
}
