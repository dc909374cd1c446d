package auction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/starmint/starmint/starmint/database/models"
	"github.com/starmint/starmint/starmint/database/repositories"
	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/starmint/starmint/starmint/metrics"
	"github.com/starmint/starmint/starmint/notify"
	"github.com/uptrace/bun"
)

// SaleRecorder counts a completed sale against the active series inside the
// caller's transaction.
type SaleRecorder interface {
	RecordSale(ctx context.Context, idb bun.IDB) error
}

// PriceCache drops a collectible's cached quote after its status moves.
type PriceCache interface {
	InvalidateCollectible(collectibleID int64)
}

type Config struct {
	AntiSnipeWindow time.Duration `toml:"anti_snipe_window" env:"ANTI_SNIPE_WINDOW"`
	DenyList        []string      `toml:"deny_list" env:"DENY_LIST" envSeparator:","`
}

func DefaultConfig() Config {
	return Config{AntiSnipeWindow: utils.AntiSnipeWindow}
}

// AuctionSpec describes an auction to open. Zero StartTime means now; zero
// Duration means the default duration; zero StartingBidCents means the
// collectible's current price.
type AuctionSpec struct {
	CollectibleID    int64         `json:"collectible_id"`
	StartTime        time.Time     `json:"start_time"`
	Duration         time.Duration `json:"duration"`
	StartingBidCents int64         `json:"starting_bid_cents"`
}

// State is the read view of one auction.
type State struct {
	Auction             *models.Auction      `json:"auction"`
	MinimumNextBidCents int64                `json:"minimum_next_bid_cents"`
	TimeRemaining       time.Duration        `json:"time_remaining"`
	Bids                []*models.AuctionBid `json:"bids"`
}

type Manager struct {
	auctions     repositories.AuctionRepository
	collectibles repositories.CollectibleRepository
	history      repositories.HistoryRepository
	sales        SaleRecorder
	txManager    *utils.TransactionManager
	publisher    notify.Publisher
	prices       PriceCache
	clock        clockwork.Clock
	metrics      *metrics.Registry

	antiSnipe time.Duration
	denied    map[string]struct{}
}

func NewManager(
	auctions repositories.AuctionRepository,
	collectibles repositories.CollectibleRepository,
	history repositories.HistoryRepository,
	sales SaleRecorder,
	txManager *utils.TransactionManager,
	publisher notify.Publisher,
	cfg Config,
	clock clockwork.Clock,
	m *metrics.Registry,
) *Manager {
	if publisher == nil {
		publisher = discardPublisher{}
	}
	if cfg.AntiSnipeWindow <= 0 {
		cfg.AntiSnipeWindow = utils.AntiSnipeWindow
	}

	denied := make(map[string]struct{}, len(cfg.DenyList))
	for _, id := range cfg.DenyList {
		if id = strings.TrimSpace(id); id != "" {
			denied[id] = struct{}{}
		}
	}

	return &Manager{
		auctions:     auctions,
		collectibles: collectibles,
		history:      history,
		sales:        sales,
		txManager:    txManager,
		publisher:    publisher,
		clock:        clock,
		metrics:      m,
		antiSnipe:    cfg.AntiSnipeWindow,
		denied:       denied,
	}
}

// SetPriceCache registers the quote cache to invalidate on status changes.
func (m *Manager) SetPriceCache(prices PriceCache) {
	m.prices = prices
}

func (m *Manager) invalidatePrice(collectibleID int64) {
	if m.prices != nil {
		m.prices.InvalidateCollectible(collectibleID)
	}
}

type discardPublisher struct{}

func (discardPublisher) Publish(notify.Event) {}

func (m *Manager) isDenied(bidderID string) bool {
	_, ok := m.denied[bidderID]
	return ok
}

// CreateAuction reserves an AVAILABLE collectible and opens an auction on it.
func (m *Manager) CreateAuction(ctx context.Context, spec AuctionSpec) (*models.Auction, error) {
	now := utils.Now(m.clock)
	start := spec.StartTime.UTC().Truncate(time.Microsecond)
	if spec.StartTime.IsZero() {
		start = now
	}
	duration := spec.Duration
	if duration == 0 {
		duration = utils.DefaultAuctionDuration
	}
	if duration < 0 || duration > utils.MaxAuctionDuration {
		return nil, utils.Validation(utils.CodeInvalidInput, "duration must be between 0 and %s", utils.MaxAuctionDuration).
			WithDetail("duration", duration.String())
	}
	if spec.StartingBidCents < 0 {
		return nil, utils.Validation(utils.CodeInvalidInput, "starting bid cannot be negative").
			WithDetail("starting_bid_cents", spec.StartingBidCents)
	}
	if !start.Add(duration).After(now) {
		return nil, utils.Validation(utils.CodeInvalidInput, "auction would end in the past").
			WithDetail("start_time", start)
	}

	var auction *models.Auction
	err := m.txManager.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
		collectible, err := m.collectibles.GetForUpdate(ctx, tx, spec.CollectibleID)
		if err != nil {
			return err
		}
		if collectible.Status != models.CollectibleStatusAvailable {
			return utils.Conflict(utils.CodeInvalidState, "collectible %d is %s", collectible.ID, collectible.Status).
				WithDetail("status", collectible.Status)
		}

		startingBid := spec.StartingBidCents
		if startingBid == 0 {
			startingBid = collectible.CurrentPriceCents
		}
		if startingBid <= 0 {
			return utils.Validation(utils.CodeInvalidInput, "collectible %d has no price to start from", collectible.ID)
		}

		status := models.AuctionStatusPending
		if !start.After(now) {
			status = models.AuctionStatusActive
		}
		auction = &models.Auction{
			ID:               uuid.NewString(),
			CollectibleID:    collectible.ID,
			StartTime:        start,
			EndTime:          start.Add(duration),
			StartingBidCents: startingBid,
			Status:           status,
		}
		if err := m.auctions.Create(ctx, tx, auction); err != nil {
			return err
		}

		ok, err := m.collectibles.TransitionStatus(ctx, tx, collectible.ID,
			[]models.CollectibleStatus{models.CollectibleStatusAvailable}, models.CollectibleStatusReserved, "")
		if err != nil {
			return err
		}
		if !ok {
			return utils.ErrTxConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.invalidatePrice(auction.CollectibleID)
	slog.Info("Auction created",
		slog.String("type", "sys"),
		slog.String("component", "auction"),
		slog.String("auction_id", auction.ID),
		slog.Int64("collectible_id", auction.CollectibleID),
		slog.Int64("starting_bid_cents", auction.StartingBidCents),
		slog.Time("end_time", auction.EndTime))
	return auction, nil
}

// GetAuctionState reads an auction with its bids, highest first.
func (m *Manager) GetAuctionState(ctx context.Context, auctionID string) (*State, error) {
	auction, err := m.auctions.GetByID(ctx, m.auctions.DB(), auctionID)
	if err != nil {
		return nil, utils.AsEconomyError(err)
	}
	bids, err := m.auctions.GetAuctionBids(ctx, m.auctions.DB(), auctionID)
	if err != nil {
		return nil, utils.OperationFailed(err)
	}

	state := &State{
		Auction:             auction,
		MinimumNextBidCents: MinimumNextBid(auction),
		Bids:                bids,
	}
	if !auction.Status.Terminated() {
		state.TimeRemaining = max(auction.EndTime.Sub(utils.Now(m.clock)), 0)
	}
	return state, nil
}

// ActivateDueAuctions moves PENDING auctions whose start time has passed to
// ACTIVE. Auctions already past their end are left to finalization.
func (m *Manager) ActivateDueAuctions(ctx context.Context) (int, error) {
	pending, err := m.auctions.ListByStatus(ctx, m.auctions.DB(), models.AuctionStatusPending)
	if err != nil {
		return 0, utils.OperationFailed(err)
	}

	now := utils.Now(m.clock)
	activated := 0
	for _, a := range pending {
		if now.Before(a.StartTime) || !now.Before(a.EndTime) {
			continue
		}

		var changed bool
		err := m.txManager.WithTransaction(ctx, utils.SerializableTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
			auction, err := m.auctions.GetForUpdate(ctx, tx, a.ID)
			if err != nil {
				return err
			}
			if auction.Status != models.AuctionStatusPending {
				return nil
			}
			auction.Status = models.AuctionStatusActive
			changed, err = m.auctions.Transition(ctx, tx, auction, models.AuctionStatusPending)
			return err
		})
		if err != nil {
			return activated, fmt.Errorf("failed to activate auction %s: %w", a.ID, err)
		}
		if changed {
			activated++
		}
	}

	if activated > 0 {
		slog.Info("Activated auctions",
			slog.String("type", "sys"),
			slog.String("component", "auction"),
			slog.Int("count", activated))
	}
	return activated, nil
}
