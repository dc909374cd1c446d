package tiers

import (
	"fmt"
	"sort"

	"github.com/starmint/starmint/starmint/database/models"
	"github.com/starmint/starmint/starmint/economy/utils"
)

// Quotas is the target population of each tier. The quotas are meant to sum
// to the catalog size.
type Quotas map[models.Tier]int

func DefaultQuotas() Quotas {
	return Quotas{
		models.TierMythic:      10,
		models.TierLegendary:   90,
		models.TierElite:       400,
		models.TierPremium:     1500,
		models.TierExceptional: 3000,
		models.TierStandard:    5000,
	}
}

// ParseQuotas converts configuration keys to tiers, rejecting unknown names.
func ParseQuotas(raw map[string]int) (Quotas, error) {
	q := make(Quotas, len(raw))
	for name, n := range raw {
		tier, ok := models.ParseTier(name)
		if !ok {
			return nil, fmt.Errorf("unknown tier %q in quotas", name)
		}
		q[tier] = n
	}
	return q, q.Validate()
}

func (q Quotas) Validate() error {
	for _, tier := range models.Tiers {
		n, ok := q[tier]
		if !ok {
			return fmt.Errorf("missing quota for tier %s", tier)
		}
		if n < 0 {
			return fmt.Errorf("negative quota %d for tier %s", n, tier)
		}
	}
	return nil
}

func (q Quotas) Sum() int {
	total := 0
	for _, tier := range models.Tiers {
		total += q[tier]
	}
	return total
}

// Entry is one collectible's input to a tiering pass.
type Entry struct {
	ID    int64
	Score *float64
}

type Assignment struct {
	ID    int64
	Score float64
	Tier  models.Tier
	Rank  int
}

type TierCount struct {
	Tier   models.Tier `json:"tier"`
	Target int         `json:"target"`
	Actual int         `json:"actual"`
}

// TierPlan is the outcome of a tiering pass before anything is written.
type TierPlan struct {
	Assignments []Assignment
	Counts      []TierCount
	Warnings    []utils.Warning
}

// Plan orders entries by score descending then ID ascending and consumes
// the tier quotas from MYTHIC down. Missing scores count as 0. Positions past
// the quota sum land in STANDARD and are reported, as are tiers whose actual
// size differs from the target.
func Plan(entries []Entry, quotas Quotas) TierPlan {
	assignments := make([]Assignment, len(entries))
	missing := 0
	for i, e := range entries {
		s := 0.0
		if e.Score != nil {
			s = *e.Score
		} else {
			missing++
		}
		assignments[i] = Assignment{ID: e.ID, Score: s}
	}
	sort.SliceStable(assignments, func(i, j int) bool {
		if assignments[i].Score != assignments[j].Score {
			return assignments[i].Score > assignments[j].Score
		}
		return assignments[i].ID < assignments[j].ID
	})

	var plan TierPlan
	if missing > 0 {
		plan.Warnings = append(plan.Warnings, utils.Warning{
			Code:    utils.WarningMissingScore,
			Message: fmt.Sprintf("%d collectibles have no score and were ranked as 0", missing),
			Details: map[string]any{"count": missing},
		})
	}

	actual := make(map[models.Tier]int, len(models.Tiers))
	tierIdx, used, overflow := 0, 0, 0
	standardRank := 0
	for i := range assignments {
		for tierIdx < len(models.Tiers) && used >= quotas[models.Tiers[tierIdx]] {
			tierIdx++
			used = 0
		}

		var tier models.Tier
		if tierIdx < len(models.Tiers) {
			tier = models.Tiers[tierIdx]
			used++
			if tier == models.TierStandard {
				standardRank = used
			}
		} else {
			tier = models.TierStandard
			overflow++
			standardRank++
		}

		rank := used
		if tier == models.TierStandard {
			rank = standardRank
		}
		assignments[i].Tier = tier
		assignments[i].Rank = rank
		actual[tier]++
	}

	if overflow > 0 {
		plan.Warnings = append(plan.Warnings, utils.Warning{
			Code:    utils.WarningQuotaOverflow,
			Message: fmt.Sprintf("%d collectibles exceed the quota total of %d and were placed in %s", overflow, quotas.Sum(), models.TierStandard),
			Details: map[string]any{"overflow": overflow, "quota_total": quotas.Sum(), "population": len(assignments)},
		})
	}

	for _, tier := range models.Tiers {
		tc := TierCount{Tier: tier, Target: quotas[tier], Actual: actual[tier]}
		plan.Counts = append(plan.Counts, tc)
		if tc.Actual != tc.Target {
			plan.Warnings = append(plan.Warnings, utils.Warning{
				Code:    utils.WarningTierCountMismatch,
				Message: fmt.Sprintf("tier %s has %d collectibles, target %d", tier, tc.Actual, tc.Target),
				Details: map[string]any{"tier": tier, "target": tc.Target, "actual": tc.Actual},
			})
		}
	}

	plan.Assignments = assignments
	return plan
}
