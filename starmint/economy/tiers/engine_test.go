package tiers

import (
	"context"
	"testing"

	"github.com/starmint/starmint/starmint/database/dbtest"
	"github.com/starmint/starmint/starmint/database/models"
	"github.com/starmint/starmint/starmint/database/repositories"
	"github.com/starmint/starmint/starmint/economy/scoring"
	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) InvalidateCache() { c.calls++ }

func seedCollectibles(t *testing.T, repo repositories.CollectibleRepository, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		c := &models.Collectible{
			ID:       int64(i),
			Name:     "Object",
			Category: "star",
			Score:    f(float64(i * 10)),
			Attributes: map[string]any{
				"distance_ly": float64(i * 100),
			},
		}
		require.NoError(t, repo.Upsert(ctx, repo.DB(), c))
	}
}

func Test_Engine_AssignTiers(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := repositories.NewCollectibleRepository(db)
	seedCollectibles(t, repo, 10)

	inv := &countingInvalidator{}
	engine := NewEngine(repo, utils.NewTransactionManager(db), smallQuotas(), inv, nil)

	dry, err := engine.AssignTiers(ctx, true)
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Equal(t, 10, dry.Total)
	assert.Greater(t, dry.Changed, 0)
	assert.Empty(t, dry.Warnings)

	top, err := repo.GetByID(ctx, db, 10)
	require.NoError(t, err)
	assert.Equal(t, models.TierStandard, top.Tier, "dry run writes nothing")
	assert.Equal(t, 0, inv.calls)

	res, err := engine.AssignTiers(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, dry.Changed, res.Changed)
	assert.Equal(t, 1, inv.calls)

	want := map[int64]struct {
		tier models.Tier
		rank int
	}{
		10: {models.TierMythic, 1},
		9:  {models.TierLegendary, 1},
		8:  {models.TierElite, 1},
		7:  {models.TierElite, 2},
		2:  {models.TierStandard, 1},
		1:  {models.TierStandard, 2},
	}
	for id, w := range want {
		c, err := repo.GetByID(ctx, db, id)
		require.NoError(t, err)
		assert.Equal(t, w.tier, c.Tier, "collectible %d", id)
		assert.Equal(t, w.rank, c.TierRank, "collectible %d", id)
	}

	again, err := engine.AssignTiers(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Changed, "second pass is idempotent")

	stats, err := engine.GetTierStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, len(models.Tiers))
	assert.Equal(t, TierStat{Tier: models.TierMythic, Target: 1, Count: 1, MinScore: 100, MaxScore: 100, AvgScore: 100}, stats[0])
	assert.Equal(t, TierStat{Tier: models.TierElite, Target: 2, Count: 2, MinScore: 70, MaxScore: 80, AvgScore: 75}, stats[2])
}

func Test_Engine_AssignTiers_Warnings(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := repositories.NewCollectibleRepository(db)
	seedCollectibles(t, repo, 12)

	engine := NewEngine(repo, utils.NewTransactionManager(db), smallQuotas(), nil, nil)
	res, err := engine.AssignTiers(ctx, false)
	require.NoError(t, err)

	codes := warningCodes(res.Warnings)
	assert.Contains(t, codes, utils.WarningQuotaOverflow)
	assert.Contains(t, codes, utils.WarningTierCountMismatch)

	c, err := repo.GetByID(ctx, db, 1)
	require.NoError(t, err)
	assert.Equal(t, models.TierStandard, c.Tier)
	assert.Equal(t, 4, c.TierRank)
}

func Test_Engine_Rescore(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := repositories.NewCollectibleRepository(db)
	seedCollectibles(t, repo, 3)

	system, err := scoring.Builtin(scoring.DefaultSystemName)
	require.NoError(t, err)
	scorer, err := scoring.NewEngine(system)
	require.NoError(t, err)

	inv := &countingInvalidator{}
	engine := NewEngine(repo, utils.NewTransactionManager(db), smallQuotas(), inv, nil)

	res, err := engine.Rescore(ctx, scorer)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Changed)
	assert.Equal(t, "celestial-v2@2", res.System)
	assert.Equal(t, 1, inv.calls)

	c, err := repo.GetByID(ctx, db, 2)
	require.NoError(t, err)
	want := scorer.Score(map[string]any{"distance_ly": 200.0}, "star").Total
	require.NotNil(t, c.Score)
	assert.Equal(t, want, *c.Score)

	res, err = engine.Rescore(ctx, scorer)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Changed)
}
