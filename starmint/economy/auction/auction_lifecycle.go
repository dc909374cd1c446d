package auction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/starmint/starmint/starmint/database/models"
	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/starmint/starmint/starmint/notify"
	"github.com/uptrace/bun"
)

type Outcome string

const (
	OutcomeSold      Outcome = "sold"
	OutcomeUnsold    Outcome = "unsold"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeSettled   Outcome = "settled"
	OutcomeNoop      Outcome = "noop"
)

// FinalizeResult reports what a finalization did. A repeated call on a
// terminated auction comes back as OutcomeNoop with the stored state.
type FinalizeResult struct {
	AuctionID     string               `json:"auction_id"`
	CollectibleID int64                `json:"collectible_id"`
	Status        models.AuctionStatus `json:"status"`
	Outcome       Outcome              `json:"outcome"`
	WinnerID      string               `json:"winner_id,omitempty"`
	PriceCents    int64                `json:"price_cents"`
	EndedAt       time.Time            `json:"ended_at"`

	losers []string
}

// SweepSummary reports one pass of FinalizeExpiredAuctions.
type SweepSummary struct {
	Checked int `json:"checked"`
	Sold    int `json:"sold"`
	Unsold  int `json:"unsold"`
	Failed  int `json:"failed"`
}

// FinalizeAuction closes an expired auction exactly once. The winner gets
// the collectible; with no bids it goes back to AVAILABLE.
func (m *Manager) FinalizeAuction(ctx context.Context, auctionID string) (*FinalizeResult, error) {
	var result *FinalizeResult
	err := m.txManager.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
		var err error
		result, err = m.finalize(ctx, tx, auctionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if result.Outcome == OutcomeNoop {
		return result, nil
	}

	m.invalidatePrice(result.CollectibleID)
	m.metrics.RecordFinalization(string(result.Outcome))
	slog.Info("Auction finalized",
		slog.String("type", "sys"),
		slog.String("component", "auction"),
		slog.String("auction_id", result.AuctionID),
		slog.String("outcome", string(result.Outcome)),
		slog.String("winner_id", result.WinnerID),
		slog.Int64("price_cents", result.PriceCents))

	if result.WinnerID != "" {
		m.publisher.Publish(m.event(notify.EventAuctionWon, result.WinnerID, result))
	}
	for _, loser := range result.losers {
		m.publisher.Publish(m.event(notify.EventAuctionEnded, loser, result))
	}
	return result, nil
}

func (m *Manager) finalize(ctx context.Context, tx bun.Tx, auctionID string) (*FinalizeResult, error) {
	auction, err := m.auctions.GetForUpdate(ctx, tx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction.Status.Terminated() {
		return resultOf(auction, OutcomeNoop), nil
	}

	now := utils.Now(m.clock)
	if now.Before(auction.EndTime) {
		return nil, utils.Conflict(utils.CodeNotExpired, "auction ends at %s", auction.EndTime.Format(time.RFC3339)).
			WithDetail("status", auction.Status).
			WithDetail("end_time", auction.EndTime)
	}

	auction.Status = models.AuctionStatusEnded
	auction.EndedAt = now
	ok, err := m.auctions.Transition(ctx, tx, auction, models.AuctionStatusPending, models.AuctionStatusActive)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, utils.ErrTxConflict
	}

	if !auction.HasBids() {
		if _, err := m.collectibles.TransitionStatus(ctx, tx, auction.CollectibleID,
			[]models.CollectibleStatus{models.CollectibleStatusReserved}, models.CollectibleStatusAvailable, ""); err != nil {
			return nil, err
		}
		return resultOf(auction, OutcomeUnsold), nil
	}

	ok, err = m.collectibles.TransitionStatus(ctx, tx, auction.CollectibleID,
		[]models.CollectibleStatus{models.CollectibleStatusReserved, models.CollectibleStatusAvailable},
		models.CollectibleStatusSold, auction.HighestBidder)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, utils.Conflict(utils.CodeInvalidState, "collectible %d cannot be sold", auction.CollectibleID).
			WithDetail("auction_id", auction.ID)
	}

	if _, err := m.history.InsertOwnership(ctx, tx, &models.OwnershipHistory{
		ID:            uuid.NewString(),
		CollectibleID: auction.CollectibleID,
		OwnerID:       auction.HighestBidder,
		AuctionID:     auction.ID,
		PriceCents:    auction.CurrentBidCents,
		Source:        models.OwnershipSourceAuction,
		RecordedAt:    now,
	}); err != nil {
		return nil, err
	}
	if m.sales != nil {
		if err := m.sales.RecordSale(ctx, tx); err != nil {
			return nil, err
		}
	}

	result := resultOf(auction, OutcomeSold)
	result.losers, err = m.bidders(ctx, tx, auction.ID, auction.HighestBidder)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FinalizeExpiredAuctions finalizes every open auction past its end time.
// One failing auction does not stop the sweep.
func (m *Manager) FinalizeExpiredAuctions(ctx context.Context) (*SweepSummary, error) {
	open, err := m.auctions.ListByStatus(ctx, m.auctions.DB(), models.AuctionStatusPending, models.AuctionStatusActive)
	if err != nil {
		return nil, utils.OperationFailed(err)
	}

	now := utils.Now(m.clock)
	summary := &SweepSummary{}
	for _, a := range open {
		if now.Before(a.EndTime) {
			continue
		}
		summary.Checked++

		result, err := m.FinalizeAuction(ctx, a.ID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return summary, err
			}
			summary.Failed++
			slog.Error("Failed to finalize auction",
				slog.String("type", "error"),
				slog.String("component", "auction"),
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()))
			continue
		}
		switch result.Outcome {
		case OutcomeSold:
			summary.Sold++
		case OutcomeUnsold:
			summary.Unsold++
		}
	}
	return summary, nil
}

// CancelAuction force-ends an open auction without a winner and releases the
// collectible.
func (m *Manager) CancelAuction(ctx context.Context, auctionID string) (*FinalizeResult, error) {
	var result *FinalizeResult
	err := m.txManager.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
		auction, err := m.auctions.GetForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		if auction.Status.Terminated() {
			return utils.Conflict(utils.CodeNotActive, "auction is already %s", auction.Status).
				WithDetail("status", auction.Status)
		}

		auction.Status = models.AuctionStatusEnded
		auction.Cancelled = true
		auction.EndedAt = utils.Now(m.clock)
		ok, err := m.auctions.Transition(ctx, tx, auction, models.AuctionStatusPending, models.AuctionStatusActive)
		if err != nil {
			return err
		}
		if !ok {
			return utils.ErrTxConflict
		}

		if _, err := m.collectibles.TransitionStatus(ctx, tx, auction.CollectibleID,
			[]models.CollectibleStatus{models.CollectibleStatusReserved}, models.CollectibleStatusAvailable, ""); err != nil {
			return err
		}

		result = resultOf(auction, OutcomeCancelled)
		result.losers, err = m.bidders(ctx, tx, auction.ID, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	m.invalidatePrice(result.CollectibleID)
	m.metrics.RecordFinalization(string(OutcomeCancelled))
	slog.Warn("Auction cancelled",
		slog.String("type", "sys"),
		slog.String("component", "auction"),
		slog.String("auction_id", result.AuctionID))
	for _, bidder := range result.losers {
		m.publisher.Publish(m.event(notify.EventAuctionCancelled, bidder, result))
	}
	return result, nil
}

// SettleAuction marks a won auction FINALIZED once payment is reported.
func (m *Manager) SettleAuction(ctx context.Context, auctionID string) (*FinalizeResult, error) {
	var result *FinalizeResult
	err := m.txManager.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
		auction, err := m.auctions.GetForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		switch {
		case auction.Status == models.AuctionStatusFinalized:
			result = resultOf(auction, OutcomeNoop)
			return nil
		case auction.Status != models.AuctionStatusEnded:
			return utils.Conflict(utils.CodeInvalidState, "auction is %s", auction.Status).
				WithDetail("status", auction.Status)
		case auction.Cancelled || !auction.HasBids():
			return utils.Conflict(utils.CodeInvalidState, "auction has no winner to settle").
				WithDetail("status", auction.Status)
		}

		auction.Status = models.AuctionStatusFinalized
		ok, err := m.auctions.Transition(ctx, tx, auction, models.AuctionStatusEnded)
		if err != nil {
			return err
		}
		if !ok {
			return utils.ErrTxConflict
		}
		result = resultOf(auction, OutcomeSettled)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Outcome == OutcomeSettled {
		m.metrics.RecordFinalization(string(OutcomeSettled))
		slog.Info("Auction settled",
			slog.String("type", "sys"),
			slog.String("component", "auction"),
			slog.String("auction_id", result.AuctionID),
			slog.String("winner_id", result.WinnerID))
	}
	return result, nil
}

// bidders lists the distinct confirmed bidders of an auction, except skip.
func (m *Manager) bidders(ctx context.Context, tx bun.Tx, auctionID, skip string) ([]string, error) {
	bids, err := m.auctions.GetAuctionBids(ctx, tx, auctionID)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{skip: {}}
	var out []string
	for _, b := range bids {
		if b.Status != models.BidStatusConfirmed {
			continue
		}
		if _, ok := seen[b.BidderID]; ok {
			continue
		}
		seen[b.BidderID] = struct{}{}
		out = append(out, b.BidderID)
	}
	return out, nil
}

func (m *Manager) event(kind notify.EventKind, recipient string, r *FinalizeResult) notify.Event {
	return notify.Event{
		Kind:          kind,
		RecipientID:   recipient,
		AuctionID:     r.AuctionID,
		CollectibleID: r.CollectibleID,
		AmountCents:   r.PriceCents,
		OccurredAt:    utils.Now(m.clock),
	}
}

func resultOf(a *models.Auction, outcome Outcome) *FinalizeResult {
	r := &FinalizeResult{
		AuctionID:     a.ID,
		CollectibleID: a.CollectibleID,
		Status:        a.Status,
		Outcome:       outcome,
		EndedAt:       a.EndedAt,
	}
	if !a.Cancelled && a.HasBids() {
		r.WinnerID = a.HighestBidder
		r.PriceCents = a.CurrentBidCents
	}
	return r
}
