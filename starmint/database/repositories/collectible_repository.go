package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/starmint/starmint/starmint/database/models"
	"github.com/uptrace/bun"
)

// ScoreEntry is the slice of a collectible a tiering pass needs.
type ScoreEntry struct {
	ID       int64       `bun:"id"`
	Score    *float64    `bun:"score"`
	Tier     models.Tier `bun:"tier"`
	TierRank int         `bun:"tier_rank"`
}

// TierStatRow is one aggregated row of the tier statistics query.
type TierStatRow struct {
	Tier     models.Tier `bun:"tier"`
	Count    int         `bun:"count"`
	MinScore float64     `bun:"min_score"`
	MaxScore float64     `bun:"max_score"`
	AvgScore float64     `bun:"avg_score"`
}

type CollectibleRepository interface {
	DB() *bun.DB
	Upsert(ctx context.Context, idb bun.IDB, c *models.Collectible) error
	GetByID(ctx context.Context, idb bun.IDB, id int64) (*models.Collectible, error)
	GetForUpdate(ctx context.Context, idb bun.IDB, id int64) (*models.Collectible, error)
	GetAll(ctx context.Context, idb bun.IDB) ([]*models.Collectible, error)
	ListBatch(ctx context.Context, idb bun.IDB, afterID int64, limit int) ([]*models.Collectible, error)
	ListScores(ctx context.Context, idb bun.IDB) ([]ScoreEntry, error)
	Count(ctx context.Context, idb bun.IDB) (int, error)
	UpdateScore(ctx context.Context, idb bun.IDB, id int64, score float64) error
	UpdateTier(ctx context.Context, idb bun.IDB, id int64, tier models.Tier, rank int) error
	UpdatePrice(ctx context.Context, idb bun.IDB, id int64, priceCents int64) error
	TransitionStatus(ctx context.Context, idb bun.IDB, id int64, from []models.CollectibleStatus, to models.CollectibleStatus, ownerID string) (bool, error)
	TierStats(ctx context.Context, idb bun.IDB) ([]TierStatRow, error)
}

type collectibleRepository struct {
	*BaseRepository
}

func NewCollectibleRepository(db *bun.DB) CollectibleRepository {
	return &collectibleRepository{BaseRepository: NewBaseRepository(db)}
}

// Upsert inserts a catalog entry or refreshes its descriptive fields and
// score. Tier, rank, status and price are left to their owning engines.
func (r *collectibleRepository) Upsert(ctx context.Context, idb bun.IDB, c *models.Collectible) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Tier == "" {
		c.Tier = models.TierStandard
	}
	if c.Status == "" {
		c.Status = models.CollectibleStatusAvailable
	}

	_, err := idb.NewInsert().
		Model(c).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("category = EXCLUDED.category").
		Set("attributes = EXCLUDED.attributes").
		Set("score = EXCLUDED.score").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert collectible %d: %w", c.ID, err)
	}
	return nil
}

func (r *collectibleRepository) GetByID(ctx context.Context, idb bun.IDB, id int64) (*models.Collectible, error) {
	c := new(models.Collectible)
	err := idb.NewSelect().
		Model(c).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleError("get", "collectible", id, err)
	}
	return c, nil
}

func (r *collectibleRepository) GetForUpdate(ctx context.Context, idb bun.IDB, id int64) (*models.Collectible, error) {
	c := new(models.Collectible)
	err := lockRow(idb, idb.NewSelect().
		Model(c).
		Where("id = ?", id)).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleError("lock", "collectible", id, err)
	}
	return c, nil
}

func (r *collectibleRepository) GetAll(ctx context.Context, idb bun.IDB) ([]*models.Collectible, error) {
	var collectibles []*models.Collectible
	err := idb.NewSelect().
		Model(&collectibles).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get collectibles: %w", err)
	}
	return collectibles, nil
}

// ListBatch pages through the catalog by primary key.
func (r *collectibleRepository) ListBatch(ctx context.Context, idb bun.IDB, afterID int64, limit int) ([]*models.Collectible, error) {
	var collectibles []*models.Collectible
	err := idb.NewSelect().
		Model(&collectibles).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collectibles after %d: %w", afterID, err)
	}
	return collectibles, nil
}

func (r *collectibleRepository) ListScores(ctx context.Context, idb bun.IDB) ([]ScoreEntry, error) {
	var entries []ScoreEntry
	err := idb.NewSelect().
		Model((*models.Collectible)(nil)).
		Column("id", "score", "tier", "tier_rank").
		Order("id ASC").
		Scan(ctx, &entries)
	if err != nil {
		return nil, fmt.Errorf("failed to list collectible scores: %w", err)
	}
	return entries, nil
}

func (r *collectibleRepository) Count(ctx context.Context, idb bun.IDB) (int, error) {
	count, err := idb.NewSelect().
		Model((*models.Collectible)(nil)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count collectibles: %w", err)
	}
	return count, nil
}

func (r *collectibleRepository) UpdateScore(ctx context.Context, idb bun.IDB, id int64, score float64) error {
	_, err := idb.NewUpdate().
		Model((*models.Collectible)(nil)).
		Set("score = ?", score).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update score of collectible %d: %w", id, err)
	}
	return nil
}

func (r *collectibleRepository) UpdateTier(ctx context.Context, idb bun.IDB, id int64, tier models.Tier, rank int) error {
	_, err := idb.NewUpdate().
		Model((*models.Collectible)(nil)).
		Set("tier = ?", tier).
		Set("tier_rank = ?", rank).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update tier of collectible %d: %w", id, err)
	}
	return nil
}

func (r *collectibleRepository) UpdatePrice(ctx context.Context, idb bun.IDB, id int64, priceCents int64) error {
	_, err := idb.NewUpdate().
		Model((*models.Collectible)(nil)).
		Set("current_price_cents = ?", priceCents).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update price of collectible %d: %w", id, err)
	}
	return nil
}

// TransitionStatus moves a collectible to status to, only if its current
// status is one of from. An empty ownerID clears the owner.
func (r *collectibleRepository) TransitionStatus(ctx context.Context, idb bun.IDB, id int64, from []models.CollectibleStatus, to models.CollectibleStatus, ownerID string) (bool, error) {
	q := idb.NewUpdate().
		Model((*models.Collectible)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from))
	if ownerID != "" {
		q = q.Set("owner_id = ?", ownerID)
	} else if to == models.CollectibleStatusAvailable {
		q = q.Set("owner_id = NULL")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to transition collectible %d to %s: %w", id, to, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *collectibleRepository) TierStats(ctx context.Context, idb bun.IDB) ([]TierStatRow, error) {
	var rows []TierStatRow
	err := idb.NewSelect().
		Model((*models.Collectible)(nil)).
		ColumnExpr("tier").
		ColumnExpr("COUNT(*) AS count").
		ColumnExpr("MIN(COALESCE(score, 0)) AS min_score").
		ColumnExpr("MAX(COALESCE(score, 0)) AS max_score").
		ColumnExpr("AVG(COALESCE(score, 0)) AS avg_score").
		Group("tier").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate tier stats: %w", err)
	}
	return rows, nil
}
