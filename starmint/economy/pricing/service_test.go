package pricing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/starmint/starmint/starmint/database/dbtest"
	"github.com/starmint/starmint/starmint/database/models"
	"github.com/starmint/starmint/starmint/database/repositories"
	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedMultiplier struct {
	mu sync.Mutex
	m  float64
}

func (f *fixedMultiplier) ActiveMultiplier(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.m, nil
}

func (f *fixedMultiplier) set(m float64) {
	f.mu.Lock()
	f.m = m
	f.mu.Unlock()
}

func score(v float64) *float64 { return &v }

type serviceFixture struct {
	svc          *Service
	collectibles repositories.CollectibleRepository
	history      repositories.HistoryRepository
	multiplier   *fixedMultiplier
	clock        *clockwork.FakeClock
}

func newServiceFixture(t *testing.T, opts Options, items []*models.Collectible) serviceFixture {
	t.Helper()
	ctx := context.Background()
	db := dbtest.Open(t)

	collectibles := repositories.NewCollectibleRepository(db)
	history := repositories.NewHistoryRepository(db)
	for _, c := range items {
		require.NoError(t, collectibles.Upsert(ctx, db, c))
		require.NoError(t, collectibles.UpdateTier(ctx, db, c.ID, c.Tier, 1))
	}

	multiplier := &fixedMultiplier{m: 1.0}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, err := NewService(
		defaultCalculator(t),
		collectibles,
		history,
		multiplier,
		utils.NewTransactionManager(db),
		opts,
		clock,
		nil,
	)
	require.NoError(t, err)

	return serviceFixture{svc: svc, collectibles: collectibles, history: history, multiplier: multiplier, clock: clock}
}

func Test_Service_RecalculateAllPrices(t *testing.T) {
	ctx := context.Background()
	items := []*models.Collectible{
		{ID: 1, Name: "Sirius", Category: "star", Score: score(275), Tier: models.TierMythic},
		{ID: 2, Name: "Vega", Category: "star", Score: score(200), Tier: models.TierLegendary},
		{ID: 3, Name: "Ceres", Category: "asteroid", Score: score(50), Tier: models.TierStandard},
		{ID: 4, Name: "Unscored", Category: "star", Tier: models.TierStandard},
		{ID: 5, Name: "Crab Nebula", Category: "nebula", Score: score(150), Tier: models.TierElite},
	}
	opts := DefaultOptions()
	opts.BatchSize = 2
	opts.MaxConcurrentBatches = 2
	f := newServiceFixture(t, opts, items)

	summary, err := f.svc.RecalculateAllPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 4, summary.Updated, "unscored item already at zero")
	assert.Equal(t, 1, summary.Unchanged)
	assert.Equal(t, 3, summary.Batches)

	want := map[int64]int64{1: 550000, 2: 200000, 3: 500, 4: 0, 5: 75000}
	for id, cents := range want {
		c, err := f.collectibles.GetByID(ctx, f.collectibles.DB(), id)
		require.NoError(t, err)
		assert.Equal(t, cents, c.CurrentPriceCents, "collectible %d", id)
	}

	hist, err := f.history.GetPriceHistory(ctx, f.history.DB(), 1, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, int64(0), hist[0].PreviousCents)
	assert.Equal(t, int64(550000), hist[0].PriceCents)

	// Unchanged formula inputs write nothing the second time.
	summary, err = f.svc.RecalculateAllPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Updated)

	f.multiplier.set(2.5)
	summary, err = f.svc.RecalculateAllPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Updated)
	assert.Equal(t, 2.5, summary.SeriesMultiplier)

	c, err := f.collectibles.GetByID(ctx, f.collectibles.DB(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1375000), c.CurrentPriceCents)

	hist, err = f.history.GetPriceHistory(ctx, f.history.DB(), 1, 10)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func Test_Service_GetPrice(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, DefaultOptions(), []*models.Collectible{
		{ID: 7, Name: "Betelgeuse", Category: "star", Score: score(275), Tier: models.TierMythic},
	})

	info, err := f.svc.GetPrice(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 5500.0, info.Quote.PriceUSD)
	assert.Equal(t, models.TierMythic, info.Tier)
	assert.Equal(t, 200.0, info.Quote.Breakdown.TierMultiplier)
	assert.Equal(t, 1, f.svc.store.Len())

	f.multiplier.set(1.5)
	info, err = f.svc.GetPrice(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 8250.0, info.Quote.PriceUSD, "multiplier change bypasses cached quote")

	f.clock.Advance(utils.PriceCacheExpiration + time.Second)
	_, ok := f.svc.store.Get(7, 1.5)
	assert.False(t, ok, "expired entry is dropped")

	_, err = f.svc.GetPrice(ctx, 404)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func Test_NewService_DefaultsZeroOptions(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, Options{}, []*models.Collectible{
		{ID: 7, Name: "Betelgeuse", Category: "star", Score: score(275), Tier: models.TierMythic},
	})
	assert.Equal(t, utils.PriceBatchSize, f.svc.batchSize)
	assert.Equal(t, utils.PriceCacheExpiration, f.svc.store.expiry)

	_, err := f.svc.GetPrice(ctx, 7)
	require.NoError(t, err)
	_, ok := f.svc.store.Get(7, 1.0)
	assert.True(t, ok, "zero cache size falls back to the default capacity")
}
