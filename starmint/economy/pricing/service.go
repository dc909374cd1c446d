package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/starmint/starmint/starmint/database/models"
	"github.com/starmint/starmint/starmint/database/repositories"
	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/starmint/starmint/starmint/metrics"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// MultiplierSource reports the cumulative series multiplier in force now.
type MultiplierSource interface {
	ActiveMultiplier(ctx context.Context) (float64, error)
}

// PriceInfo is a collectible's live quote.
type PriceInfo struct {
	CollectibleID    int64                    `json:"collectible_id"`
	Name             string                   `json:"name"`
	Tier             models.Tier              `json:"tier"`
	TierRank         int                      `json:"tier_rank"`
	Status           models.CollectibleStatus `json:"status"`
	StoredPriceCents int64                    `json:"stored_price_cents"`
	Quote            Quote                    `json:"quote"`
}

// RecalcSummary reports a full recalculation run.
type RecalcSummary struct {
	Total            int           `json:"total"`
	Updated          int           `json:"updated"`
	Unchanged        int           `json:"unchanged"`
	Batches          int           `json:"batches"`
	SeriesMultiplier float64       `json:"series_multiplier"`
	Took             time.Duration `json:"took"`
}

type Options struct {
	BatchSize            int
	MaxConcurrentBatches int64
	CacheSize            int
	CacheExpiry          time.Duration
}

func DefaultOptions() Options {
	return Options{
		BatchSize:            utils.PriceBatchSize,
		MaxConcurrentBatches: utils.MaxConcurrentBatches,
		CacheSize:            utils.PriceCacheSize,
		CacheExpiry:          utils.PriceCacheExpiration,
	}
}

// Service is the stateful side of pricing: cached quotes and the batch
// recalculation that keeps current_price_cents in step with the formula.
type Service struct {
	calculator   *Calculator
	collectibles repositories.CollectibleRepository
	history      repositories.HistoryRepository
	multipliers  MultiplierSource
	txManager    *utils.TransactionManager
	store        *PriceStore
	sem          *semaphore.Weighted
	batchSize    int
	clock        clockwork.Clock
	metrics      *metrics.Registry

	recalculating atomic.Bool
}

func NewService(
	calculator *Calculator,
	collectibles repositories.CollectibleRepository,
	history repositories.HistoryRepository,
	multipliers MultiplierSource,
	txManager *utils.TransactionManager,
	opts Options,
	clock clockwork.Clock,
	m *metrics.Registry,
) (*Service, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = utils.PriceBatchSize
	}
	if opts.MaxConcurrentBatches <= 0 {
		opts.MaxConcurrentBatches = utils.MaxConcurrentBatches
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = utils.PriceCacheSize
	}
	if opts.CacheExpiry <= 0 {
		opts.CacheExpiry = utils.PriceCacheExpiration
	}
	store, err := NewPriceStore(opts.CacheSize, opts.CacheExpiry, clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create price cache: %w", err)
	}
	return &Service{
		calculator:   calculator,
		collectibles: collectibles,
		history:      history,
		multipliers:  multipliers,
		txManager:    txManager,
		store:        store,
		sem:          semaphore.NewWeighted(opts.MaxConcurrentBatches),
		batchSize:    opts.BatchSize,
		clock:        clock,
		metrics:      m,
	}, nil
}

func (s *Service) Calculator() *Calculator {
	return s.calculator
}

// GetPrice quotes a collectible under the active cumulative multiplier.
func (s *Service) GetPrice(ctx context.Context, collectibleID int64) (*PriceInfo, error) {
	multiplier, err := s.multipliers.ActiveMultiplier(ctx)
	if err != nil {
		return nil, utils.AsEconomyError(err)
	}

	if info, ok := s.store.Get(collectibleID, multiplier); ok {
		s.metrics.RecordCacheLookup(true)
		return &info, nil
	}
	s.metrics.RecordCacheLookup(false)

	c, err := s.collectibles.GetByID(ctx, s.collectibles.DB(), collectibleID)
	if err != nil {
		return nil, utils.AsEconomyError(err)
	}

	info := PriceInfo{
		CollectibleID:    c.ID,
		Name:             c.Name,
		Tier:             c.Tier,
		TierRank:         c.TierRank,
		Status:           c.Status,
		StoredPriceCents: c.CurrentPriceCents,
		Quote:            s.calculator.Price(c.ScoreOrZero(), c.Tier, multiplier),
	}
	s.store.Put(info)
	return &info, nil
}

// InvalidateCache drops every cached quote.
func (s *Service) InvalidateCache() {
	s.store.Purge()
}

// InvalidateCollectible drops the cached quote of one collectible.
func (s *Service) InvalidateCollectible(collectibleID int64) {
	s.store.Invalidate(collectibleID)
}

// RecalculateAllPrices recomputes every collectible's price under the active
// multiplier. Batches run concurrently up to the configured limit; each
// batch commits its price changes and history rows in one transaction.
func (s *Service) RecalculateAllPrices(ctx context.Context) (*RecalcSummary, error) {
	if !s.recalculating.CompareAndSwap(false, true) {
		return nil, utils.Conflict(utils.CodeInvalidState, "price recalculation already running")
	}
	defer s.recalculating.Store(false)

	start := s.clock.Now()
	multiplier, err := s.multipliers.ActiveMultiplier(ctx)
	if err != nil {
		return nil, utils.AsEconomyError(err)
	}

	var total, updated atomic.Int64
	batches := 0

	g, gctx := errgroup.WithContext(ctx)
	var afterID int64
	for {
		batch, err := s.collectibles.ListBatch(gctx, s.collectibles.DB(), afterID, s.batchSize)
		if err != nil {
			_ = g.Wait()
			return nil, utils.OperationFailed(err)
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID
		batches++
		batchNum := batches

		if err := s.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer s.sem.Release(1)
			n, err := s.processBatch(gctx, batch, multiplier)
			if err != nil {
				return fmt.Errorf("batch %d: %w", batchNum, err)
			}
			total.Add(int64(len(batch)))
			updated.Add(int64(n))
			return nil
		})

		if len(batch) < s.batchSize {
			break
		}
	}

	if err := g.Wait(); err != nil {
		return nil, utils.AsEconomyError(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, utils.OperationFailed(err)
	}

	s.store.Purge()

	summary := &RecalcSummary{
		Total:            int(total.Load()),
		Updated:          int(updated.Load()),
		Batches:          batches,
		SeriesMultiplier: multiplier,
		Took:             s.clock.Since(start),
	}
	summary.Unchanged = summary.Total - summary.Updated
	s.metrics.RecordRecalculation(summary.Took, summary.Updated)

	slog.Info("Price recalculation completed",
		slog.String("type", "sys"),
		slog.String("component", "pricing"),
		slog.Int("total", summary.Total),
		slog.Int("updated", summary.Updated),
		slog.Int("batches", summary.Batches),
		slog.Float64("series_multiplier", multiplier),
		slog.Duration("took", summary.Took))
	return summary, nil
}

func (s *Service) processBatch(ctx context.Context, batch []*models.Collectible, multiplier float64) (int, error) {
	now := utils.Now(s.clock)

	var changes []*models.PriceHistory
	for _, c := range batch {
		quote := s.calculator.Price(c.ScoreOrZero(), c.Tier, multiplier)
		if quote.PriceCents == c.CurrentPriceCents {
			continue
		}
		changes = append(changes, &models.PriceHistory{
			ID:               uuid.NewString(),
			CollectibleID:    c.ID,
			PriceCents:       quote.PriceCents,
			PreviousCents:    c.CurrentPriceCents,
			SeriesMultiplier: multiplier,
			RecordedAt:       now,
		})
	}
	if len(changes) == 0 {
		return 0, nil
	}

	err := s.txManager.WithTransaction(ctx, utils.StandardTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
		for _, ch := range changes {
			if err := s.collectibles.UpdatePrice(ctx, tx, ch.CollectibleID, ch.PriceCents); err != nil {
				return err
			}
		}
		return s.history.InsertPriceHistory(ctx, tx, changes)
	})
	if err != nil {
		return 0, err
	}
	return len(changes), nil
}
