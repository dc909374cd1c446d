package catalog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sahilm/fuzzy"
	"github.com/starmint/starmint/starmint/database/models"
	"github.com/starmint/starmint/starmint/database/repositories"
	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/uptrace/bun"
)

const (
	DefaultSearchLimit = 25
	MaxSearchLimit     = 100

	DefaultPriceHistoryLimit = 50
	MaxPriceHistoryLimit     = 500
)

// PriceCache is the part of the pricing service the catalog keeps in step.
type PriceCache interface {
	InvalidateCache()
	InvalidateCollectible(collectibleID int64)
}

// SaleRecorder counts a completed sale against the active series.
type SaleRecorder interface {
	RecordSale(ctx context.Context, idb bun.IDB) error
}

// PurchaseReport is a direct sale reported by the storefront after payment.
// Zero PriceCents means the collectible's stored price.
type PurchaseReport struct {
	CollectibleID int64  `json:"collectible_id"`
	BuyerID       string `json:"buyer_id"`
	PriceCents    int64  `json:"price_cents"`
}

// SearchResult pairs a collectible with its match score.
type SearchResult struct {
	Collectible *models.Collectible `json:"collectible"`
	Score       int                 `json:"score"`
}

type Service struct {
	collectibles repositories.CollectibleRepository
	history      repositories.HistoryRepository
	sales        SaleRecorder
	prices       PriceCache
	txManager    *utils.TransactionManager
	clock        clockwork.Clock
}

func NewService(
	collectibles repositories.CollectibleRepository,
	history repositories.HistoryRepository,
	sales SaleRecorder,
	prices PriceCache,
	txManager *utils.TransactionManager,
	clock clockwork.Clock,
) *Service {
	return &Service{
		collectibles: collectibles,
		history:      history,
		sales:        sales,
		prices:       prices,
		txManager:    txManager,
		clock:        clock,
	}
}

type searchItems []*models.Collectible

func (items searchItems) Len() int {
	return len(items)
}

func (items searchItems) String(i int) string {
	return normalizeName(items[i].Name)
}

// Search matches query against collectible names, best match first.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	query = normalizeName(query)
	if query == "" {
		return nil, utils.Validation(utils.CodeInvalidInput, "search query is required")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	limit = min(limit, MaxSearchLimit)

	all, err := s.collectibles.GetAll(ctx, s.collectibles.DB())
	if err != nil {
		return nil, utils.OperationFailed(err)
	}

	items := searchItems(all)
	matches := fuzzy.FindFrom(query, items)
	if len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, SearchResult{Collectible: items[m.Index], Score: m.Score})
	}
	return results, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Collectible, error) {
	c, err := s.collectibles.GetByID(ctx, s.collectibles.DB(), id)
	if err != nil {
		return nil, utils.AsEconomyError(err)
	}
	return c, nil
}

func (s *Service) OwnershipHistory(ctx context.Context, id int64) ([]*models.OwnershipHistory, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.history.GetOwnershipHistory(ctx, s.history.DB(), id)
	if err != nil {
		return nil, utils.OperationFailed(err)
	}
	return entries, nil
}

// PriceHistory returns the latest stored price changes, newest first.
func (s *Service) PriceHistory(ctx context.Context, id int64, limit int) ([]*models.PriceHistory, error) {
	if limit <= 0 {
		limit = DefaultPriceHistoryLimit
	}
	limit = min(limit, MaxPriceHistoryLimit)
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.history.GetPriceHistory(ctx, s.history.DB(), id, limit)
	if err != nil {
		return nil, utils.OperationFailed(err)
	}
	return entries, nil
}

// RecordPurchase transfers an AVAILABLE collectible to its buyer and counts
// the sale against the active series.
func (s *Service) RecordPurchase(ctx context.Context, report PurchaseReport) (*models.OwnershipHistory, error) {
	report.BuyerID = strings.TrimSpace(report.BuyerID)
	if report.BuyerID == "" {
		return nil, utils.Validation(utils.CodeInvalidInput, "buyer id is required")
	}
	if report.PriceCents < 0 {
		return nil, utils.Validation(utils.CodeInvalidInput, "price cannot be negative").
			WithDetail("price_cents", report.PriceCents)
	}

	var entry *models.OwnershipHistory
	err := s.txManager.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
		c, err := s.collectibles.GetForUpdate(ctx, tx, report.CollectibleID)
		if err != nil {
			return err
		}
		if c.Status != models.CollectibleStatusAvailable {
			return utils.Conflict(utils.CodeInvalidState, "collectible %d is %s", c.ID, c.Status).
				WithDetail("status", c.Status)
		}

		price := report.PriceCents
		if price == 0 {
			price = c.CurrentPriceCents
		}

		ok, err := s.collectibles.TransitionStatus(ctx, tx, c.ID,
			[]models.CollectibleStatus{models.CollectibleStatusAvailable}, models.CollectibleStatusSold, report.BuyerID)
		if err != nil {
			return err
		}
		if !ok {
			return utils.ErrTxConflict
		}

		entry = &models.OwnershipHistory{
			ID:            uuid.NewString(),
			CollectibleID: c.ID,
			OwnerID:       report.BuyerID,
			PriceCents:    price,
			Source:        models.OwnershipSourcePurchase,
			RecordedAt:    utils.Now(s.clock),
		}
		if _, err := s.history.InsertOwnership(ctx, tx, entry); err != nil {
			return err
		}
		if s.sales != nil {
			return s.sales.RecordSale(ctx, tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(report.CollectibleID)
	slog.Info("Purchase recorded",
		slog.String("type", "sys"),
		slog.String("component", "catalog"),
		slog.Int64("collectible_id", report.CollectibleID),
		slog.String("buyer_id", report.BuyerID),
		slog.Int64("price_cents", entry.PriceCents))
	return entry, nil
}

// MarkMinted records that a SOLD collectible has been minted for its owner.
// Marking an already minted collectible is a no-op.
func (s *Service) MarkMinted(ctx context.Context, id int64) (*models.Collectible, error) {
	var c *models.Collectible
	err := s.txManager.WithTransaction(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		c, err = s.collectibles.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		switch c.Status {
		case models.CollectibleStatusMinted:
			return nil
		case models.CollectibleStatusSold:
		default:
			return utils.Conflict(utils.CodeInvalidState, "collectible %d is %s", c.ID, c.Status).
				WithDetail("status", c.Status)
		}

		ok, err := s.collectibles.TransitionStatus(ctx, tx, id,
			[]models.CollectibleStatus{models.CollectibleStatusSold}, models.CollectibleStatusMinted, c.OwnerID)
		if err != nil {
			return err
		}
		if !ok {
			return utils.ErrTxConflict
		}
		c.Status = models.CollectibleStatusMinted
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(id)
	return c, nil
}

func (s *Service) invalidate(id int64) {
	if s.prices != nil {
		s.prices.InvalidateCollectible(id)
	}
}

func normalizeName(name string) string {
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
