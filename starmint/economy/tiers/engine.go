package tiers

import (
	"context"
	"log/slog"

	"github.com/starmint/starmint/starmint/database/models"
	"github.com/starmint/starmint/starmint/database/repositories"
	"github.com/starmint/starmint/starmint/economy/scoring"
	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/starmint/starmint/starmint/metrics"
	"github.com/uptrace/bun"
)

// PriceInvalidator drops cached prices once tiers or scores move.
type PriceInvalidator interface {
	InvalidateCache()
}

type AssignResult struct {
	Total    int             `json:"total"`
	Changed  int             `json:"changed"`
	DryRun   bool            `json:"dry_run"`
	Counts   []TierCount     `json:"counts"`
	Warnings []utils.Warning `json:"warnings"`
}

type TierStat struct {
	Tier     models.Tier `json:"tier"`
	Target   int         `json:"target"`
	Count    int         `json:"count"`
	MinScore float64     `json:"min_score"`
	MaxScore float64     `json:"max_score"`
	AvgScore float64     `json:"avg_score"`
}

type RescoreResult struct {
	System  string `json:"system"`
	Total   int    `json:"total"`
	Changed int    `json:"changed"`
}

type Engine struct {
	collectibles repositories.CollectibleRepository
	txManager    *utils.TransactionManager
	quotas       Quotas
	prices       PriceInvalidator
	metrics      *metrics.Registry
	batchSize    int
}

func NewEngine(
	collectibles repositories.CollectibleRepository,
	txManager *utils.TransactionManager,
	quotas Quotas,
	prices PriceInvalidator,
	m *metrics.Registry,
) *Engine {
	return &Engine{
		collectibles: collectibles,
		txManager:    txManager,
		quotas:       quotas,
		prices:       prices,
		metrics:      m,
		batchSize:    utils.PriceBatchSize,
	}
}

func (e *Engine) Quotas() Quotas {
	return e.quotas
}

// AssignTiers runs one full-population tiering pass. With dryRun nothing is
// written. Otherwise every changed (tier, rank) is written in a single
// transaction. Integrity warnings never fail the pass.
func (e *Engine) AssignTiers(ctx context.Context, dryRun bool) (*AssignResult, error) {
	scores, err := e.collectibles.ListScores(ctx, e.collectibles.DB())
	if err != nil {
		return nil, utils.OperationFailed(err)
	}

	entries := make([]Entry, len(scores))
	current := make(map[int64]repositories.ScoreEntry, len(scores))
	for i, s := range scores {
		entries[i] = Entry{ID: s.ID, Score: s.Score}
		current[s.ID] = s
	}

	plan := Plan(entries, e.quotas)

	var changed []Assignment
	for _, a := range plan.Assignments {
		cur := current[a.ID]
		if cur.Tier != a.Tier || cur.TierRank != a.Rank {
			changed = append(changed, a)
		}
	}

	for _, w := range plan.Warnings {
		e.metrics.RecordTierWarning(w.Code)
		slog.Warn("Tier integrity warning",
			slog.String("type", "sys"),
			slog.String("component", "tiers"),
			slog.String("code", w.Code),
			slog.String("message", w.Message))
	}

	if !dryRun && len(changed) > 0 {
		err := e.txManager.WithTransaction(ctx, utils.StandardTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
			for _, a := range changed {
				if err := e.collectibles.UpdateTier(ctx, tx, a.ID, a.Tier, a.Rank); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if e.prices != nil {
			e.prices.InvalidateCache()
		}
	}

	slog.Info("Tier assignment completed",
		slog.String("type", "sys"),
		slog.String("component", "tiers"),
		slog.Bool("dry_run", dryRun),
		slog.Int("total", len(plan.Assignments)),
		slog.Int("changed", len(changed)),
		slog.Int("warnings", len(plan.Warnings)))

	return &AssignResult{
		Total:    len(plan.Assignments),
		Changed:  len(changed),
		DryRun:   dryRun,
		Counts:   plan.Counts,
		Warnings: plan.Warnings,
	}, nil
}

// GetTierStats returns every tier in order, including empty ones.
func (e *Engine) GetTierStats(ctx context.Context) ([]TierStat, error) {
	rows, err := e.collectibles.TierStats(ctx, e.collectibles.DB())
	if err != nil {
		return nil, utils.OperationFailed(err)
	}

	byTier := make(map[models.Tier]repositories.TierStatRow, len(rows))
	for _, r := range rows {
		byTier[r.Tier] = r
	}

	stats := make([]TierStat, 0, len(models.Tiers))
	for _, tier := range models.Tiers {
		r := byTier[tier]
		stats = append(stats, TierStat{
			Tier:     tier,
			Target:   e.quotas[tier],
			Count:    r.Count,
			MinScore: r.MinScore,
			MaxScore: r.MaxScore,
			AvgScore: utils.Round2(r.AvgScore),
		})
	}
	return stats, nil
}

// Rescore recomputes every collectible's score from its stored attributes.
// Tiers are not touched; run AssignTiers afterwards.
func (e *Engine) Rescore(ctx context.Context, scorer *scoring.Engine) (*RescoreResult, error) {
	res := &RescoreResult{System: scorer.System().ID()}

	var afterID int64
	for {
		batch, err := e.collectibles.ListBatch(ctx, e.collectibles.DB(), afterID, e.batchSize)
		if err != nil {
			return nil, utils.OperationFailed(err)
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID
		res.Total += len(batch)

		type update struct {
			id    int64
			score float64
		}
		var updates []update
		for _, c := range batch {
			total := scorer.Score(c.Attributes, c.Category).Total
			if c.Score == nil || *c.Score != total {
				updates = append(updates, update{id: c.ID, score: total})
			}
		}
		if len(updates) > 0 {
			err := e.txManager.WithTransaction(ctx, utils.StandardTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
				for _, u := range updates {
					if err := e.collectibles.UpdateScore(ctx, tx, u.id, u.score); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			res.Changed += len(updates)
		}
		if len(batch) < e.batchSize {
			break
		}
	}

	if res.Changed > 0 && e.prices != nil {
		e.prices.InvalidateCache()
	}

	slog.Info("Rescore completed",
		slog.String("type", "sys"),
		slog.String("component", "tiers"),
		slog.String("system", res.System),
		slog.Int("total", res.Total),
		slog.Int("changed", res.Changed))
	return res, nil
}
