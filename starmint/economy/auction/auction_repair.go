package auction

import (
	"context"
	"log/slog"

	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/uptrace/bun"
)

// RepairResult reports a bid pointer rebuild.
type RepairResult struct {
	Checked  int             `json:"checked"`
	Repaired int             `json:"repaired"`
	Warnings []utils.Warning `json:"warnings,omitempty"`
}

// RebuildBidPointers recomputes current_bid_cents, highest_bidder and
// bid_count of every auction from its CONFIRMED bids. Each mismatch is fixed
// and reported as a POINTER_REPAIRED warning.
func (m *Manager) RebuildBidPointers(ctx context.Context) (*RepairResult, error) {
	all, err := m.auctions.ListByStatus(ctx, m.auctions.DB())
	if err != nil {
		return nil, utils.OperationFailed(err)
	}

	result := &RepairResult{}
	for _, a := range all {
		result.Checked++

		var warning *utils.Warning
		err := m.txManager.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
			warning = nil
			auction, err := m.auctions.GetForUpdate(ctx, tx, a.ID)
			if err != nil {
				return err
			}
			top, err := m.auctions.HighestConfirmedBid(ctx, tx, auction.ID)
			if err != nil {
				return err
			}
			count, err := m.auctions.CountConfirmedBids(ctx, tx, auction.ID)
			if err != nil {
				return err
			}

			var wantCents int64
			var wantBidder string
			if top != nil {
				wantCents, wantBidder = top.AmountCents, top.BidderID
			}
			if auction.CurrentBidCents == wantCents && auction.HighestBidder == wantBidder && auction.BidCount == count {
				return nil
			}

			if err := m.auctions.SetBidPointers(ctx, tx, auction.ID, wantCents, wantBidder, count); err != nil {
				return err
			}
			warning = &utils.Warning{
				Code:    utils.WarningPointerRepaired,
				Message: "auction bid pointers did not match confirmed bids",
				Details: map[string]any{
					"auction_id":             auction.ID,
					"stored_bid_cents":       auction.CurrentBidCents,
					"stored_highest_bidder":  auction.HighestBidder,
					"stored_bid_count":       auction.BidCount,
					"rebuilt_bid_cents":      wantCents,
					"rebuilt_highest_bidder": wantBidder,
					"rebuilt_bid_count":      count,
				},
			}
			return nil
		})
		if err != nil {
			return result, err
		}

		if warning != nil {
			result.Repaired++
			result.Warnings = append(result.Warnings, *warning)
			slog.Warn("Repaired auction bid pointers",
				slog.String("type", "sys"),
				slog.String("component", "auction"),
				slog.String("auction_id", a.ID),
				slog.Any("details", warning.Details))
		}
	}
	return result, nil
}
