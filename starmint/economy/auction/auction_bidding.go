package auction

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/starmint/starmint/starmint/database/models"
	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/starmint/starmint/starmint/notify"
	"github.com/uptrace/bun"
)

// BidResult is the auction state right after an accepted bid.
type BidResult struct {
	AuctionID           string    `json:"auction_id"`
	CollectibleID       int64     `json:"collectible_id"`
	BidID               string    `json:"bid_id"`
	CurrentBidCents     int64     `json:"current_bid_cents"`
	MinimumNextBidCents int64     `json:"minimum_next_bid_cents"`
	EndTime             time.Time `json:"end_time"`
	Extended            bool      `json:"extended"`
	PreviousBidder      string    `json:"-"`
}

// PlaceBid validates and applies one bid. Every check runs against the
// committed auction row; a bid that loses a race re-runs from the top and is
// judged against the winning value.
func (m *Manager) PlaceBid(ctx context.Context, auctionID, bidderID string, amountCents int64) (*BidResult, error) {
	bidderID = strings.TrimSpace(bidderID)
	if bidderID == "" {
		return nil, m.rejectBid(utils.Validation(utils.CodeInvalidInput, "bidder id is required"))
	}
	if amountCents <= 0 {
		return nil, m.rejectBid(utils.Validation(utils.CodeInvalidInput, "bid amount must be positive").
			WithDetail("amount_cents", amountCents))
	}

	var result *BidResult
	err := m.txManager.WithTransaction(ctx, utils.BidTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
		var err error
		result, err = m.placeBid(ctx, tx, auctionID, bidderID, amountCents)
		return err
	})
	if err != nil {
		return nil, m.rejectBid(err)
	}

	m.metrics.RecordBid("accepted", result.Extended)
	slog.Info("Bid placed",
		slog.String("type", "sys"),
		slog.String("component", "auction"),
		slog.String("auction_id", auctionID),
		slog.String("bidder_id", bidderID),
		slog.Int64("amount_cents", amountCents),
		slog.Bool("extended", result.Extended),
		slog.Time("end_time", result.EndTime))

	if result.PreviousBidder != "" && result.PreviousBidder != bidderID {
		m.publisher.Publish(notify.Event{
			Kind:          notify.EventOutbid,
			RecipientID:   result.PreviousBidder,
			AuctionID:     auctionID,
			CollectibleID: result.CollectibleID,
			AmountCents:   amountCents,
			NewBidderID:   bidderID,
			OccurredAt:    utils.Now(m.clock),
		})
	}
	return result, nil
}

func (m *Manager) placeBid(ctx context.Context, tx bun.Tx, auctionID, bidderID string, amountCents int64) (*BidResult, error) {
	auction, err := m.auctions.GetForUpdate(ctx, tx, auctionID)
	if err != nil {
		return nil, err
	}
	now := utils.Now(m.clock)

	if err := checkOpen(auction, now); err != nil {
		return nil, err
	}

	minimum := MinimumNextBid(auction)
	if amountCents < minimum {
		return nil, utils.Validation(utils.CodeBidTooLow, "bid must be at least %d cents", minimum).
			WithDetail("amount_cents", amountCents).
			WithDetail("current_bid_cents", auction.CurrentBidCents).
			WithDetail("minimum_bid_cents", minimum).
			WithDetail("status", auction.Status)
	}
	if auction.HighestBidder == bidderID {
		return nil, utils.Conflict(utils.CodeSelfOutbid, "bidder already holds the highest bid").
			WithDetail("current_bid_cents", auction.CurrentBidCents)
	}
	if m.isDenied(bidderID) {
		return nil, utils.Validation(utils.CodeForbidden, "bidder may not bid")
	}

	expectedCents, expectedCount := auction.CurrentBidCents, auction.BidCount
	previous := auction.HighestBidder

	extended := false
	if auction.EndTime.Sub(now) < m.antiSnipe {
		auction.EndTime = now.Add(m.antiSnipe)
		extended = true
	}
	auction.Status = models.AuctionStatusActive
	auction.CurrentBidCents = amountCents
	auction.HighestBidder = bidderID
	auction.BidCount++
	auction.LastBidTime = now

	ok, err := m.auctions.ApplyBid(ctx, tx, auction, expectedCents, expectedCount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, utils.ErrTxConflict
	}

	bid := &models.AuctionBid{
		ID:          uuid.NewString(),
		AuctionID:   auction.ID,
		BidderID:    bidderID,
		AmountCents: amountCents,
		Status:      models.BidStatusConfirmed,
		Timestamp:   now,
	}
	if err := m.auctions.InsertBid(ctx, tx, bid); err != nil {
		return nil, err
	}

	return &BidResult{
		AuctionID:           auction.ID,
		CollectibleID:       auction.CollectibleID,
		BidID:               bid.ID,
		CurrentBidCents:     auction.CurrentBidCents,
		MinimumNextBidCents: MinimumNextBid(auction),
		EndTime:             auction.EndTime,
		Extended:            extended,
		PreviousBidder:      previous,
	}, nil
}

// checkOpen accepts ACTIVE auctions inside their window and PENDING ones
// whose start has passed; the latter are activated by the bid itself.
func checkOpen(a *models.Auction, now time.Time) error {
	switch a.Status {
	case models.AuctionStatusActive, models.AuctionStatusPending:
	default:
		return utils.Conflict(utils.CodeNotActive, "auction is %s", a.Status).
			WithDetail("status", a.Status)
	}
	if now.Before(a.StartTime) {
		return utils.Conflict(utils.CodeNotStarted, "auction starts at %s", a.StartTime.Format(time.RFC3339)).
			WithDetail("status", a.Status).
			WithDetail("start_time", a.StartTime)
	}
	if !now.Before(a.EndTime) {
		return utils.Conflict(utils.CodeEnded, "auction ended at %s", a.EndTime.Format(time.RFC3339)).
			WithDetail("status", a.Status).
			WithDetail("end_time", a.EndTime)
	}
	return nil
}

func (m *Manager) rejectBid(err error) error {
	code := utils.CodeOf(err)
	if code == "" {
		code = utils.CodeOperationFailed
	}
	m.metrics.RecordBid(strings.ToLower(code), false)
	return err
}
