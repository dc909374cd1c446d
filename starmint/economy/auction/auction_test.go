package auction

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/starmint/starmint/starmint/database/dbtest"
	"github.com/starmint/starmint/starmint/database/models"
	"github.com/starmint/starmint/starmint/database/repositories"
	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/starmint/starmint/starmint/notify"
	"github.com/starmint/starmint/starmint/notify/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"go.uber.org/mock/gomock"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(e notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) kinds() map[string]notify.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]notify.EventKind, len(p.events))
	for _, e := range p.events {
		out[e.RecipientID] = e.Kind
	}
	return out
}

type countingSales struct {
	mu    sync.Mutex
	count int
}

func (c *countingSales) RecordSale(context.Context, bun.IDB) error {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	return nil
}

type fixture struct {
	manager      *Manager
	auctions     repositories.AuctionRepository
	collectibles repositories.CollectibleRepository
	history      repositories.HistoryRepository
	publisher    *recordingPublisher
	sales        *countingSales
	clock        *clockwork.FakeClock
	db           *bun.DB
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	db := dbtest.Open(t)
	f := fixture{
		auctions:     repositories.NewAuctionRepository(db),
		collectibles: repositories.NewCollectibleRepository(db),
		history:      repositories.NewHistoryRepository(db),
		publisher:    &recordingPublisher{},
		sales:        &countingSales{},
		clock:        clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)),
		db:           db,
	}
	f.manager = NewManager(f.auctions, f.collectibles, f.history, f.sales,
		utils.NewTransactionManager(db), f.publisher, cfg, f.clock, nil)
	return f
}

func (f fixture) collectible(t *testing.T, id int64, priceCents int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.collectibles.Upsert(ctx, f.db, &models.Collectible{ID: id, Name: fmt.Sprintf("Object %d", id), Category: "star"}))
	require.NoError(t, f.collectibles.UpdatePrice(ctx, f.db, id, priceCents))
}

// open creates a collectible and an auction on it that is live now.
func (f fixture) open(t *testing.T, id int64, startingCents int64, duration time.Duration) *models.Auction {
	t.Helper()
	f.collectible(t, id, startingCents)
	a, err := f.manager.CreateAuction(context.Background(), AuctionSpec{CollectibleID: id, Duration: duration})
	require.NoError(t, err)
	return a
}

func (f fixture) bid(t *testing.T, auctionID, bidder string, cents int64) *BidResult {
	t.Helper()
	res, err := f.manager.PlaceBid(context.Background(), auctionID, bidder, cents)
	require.NoError(t, err)
	return res
}

func Test_IncrementFor(t *testing.T) {
	tests := []struct {
		current int64
		want    int64
	}{
		{0, 500},
		{9999, 500},
		{10000, 1000},
		{49999, 1000},
		{50000, 2500},
		{99999, 2500},
		{100000, 5000},
		{499999, 5000},
		{500000, 10000},
		{5000000, 10000},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.current), func(t *testing.T) {
			assert.Equal(t, tt.want, IncrementFor(tt.current))
		})
	}
}

func Test_MinimumNextBid(t *testing.T) {
	assert.Equal(t, int64(9500), MinimumNextBid(&models.Auction{StartingBidCents: 9500}))
	assert.Equal(t, int64(10000), MinimumNextBid(&models.Auction{StartingBidCents: 100, CurrentBidCents: 9500, HighestBidder: "a"}))
	assert.Equal(t, int64(11000), MinimumNextBid(&models.Auction{StartingBidCents: 100, CurrentBidCents: 10000, HighestBidder: "a"}))
}

func Test_PlaceBid_IncrementScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	a := f.open(t, 1, 9500, time.Hour)

	res := f.bid(t, a.ID, "alice", 9500)
	assert.Equal(t, int64(9500), res.CurrentBidCents)
	assert.Equal(t, int64(10000), res.MinimumNextBidCents)

	_, err := f.manager.PlaceBid(ctx, a.ID, "bob", 9999)
	require.ErrorIs(t, err, utils.ErrValidation)
	assert.Equal(t, utils.CodeBidTooLow, utils.CodeOf(err))
	var ee *utils.EconomyError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, int64(10000), ee.Details["minimum_bid_cents"])
	assert.Equal(t, int64(9500), ee.Details["current_bid_cents"])

	res = f.bid(t, a.ID, "bob", 10000)
	assert.Equal(t, int64(11000), res.MinimumNextBidCents)
	assert.Equal(t, map[string]notify.EventKind{"alice": notify.EventOutbid}, f.publisher.kinds())

	_, err = f.manager.PlaceBid(ctx, a.ID, "alice", 10999)
	assert.Equal(t, utils.CodeBidTooLow, utils.CodeOf(err))

	res = f.bid(t, a.ID, "alice", 11000)
	assert.Equal(t, int64(12000), res.MinimumNextBidCents)

	state, err := f.manager.GetAuctionState(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, state.Auction.BidCount)
	assert.Equal(t, "alice", state.Auction.HighestBidder)
	assert.Len(t, state.Bids, 3)
	assert.Equal(t, int64(11000), state.Bids[0].AmountCents)
	assert.Equal(t, time.Hour, state.TimeRemaining)
}

func Test_PlaceBid_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{DenyList: []string{"mallory"}})

	live := f.open(t, 1, 10000, time.Hour)
	f.bid(t, live.ID, "alice", 10000)

	f.collectible(t, 2, 10000)
	future, err := f.manager.CreateAuction(ctx, AuctionSpec{CollectibleID: 2, StartTime: f.clock.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusPending, future.Status)

	cancelled := f.open(t, 3, 10000, time.Hour)
	_, err = f.manager.CancelAuction(ctx, cancelled.ID)
	require.NoError(t, err)

	short := f.open(t, 4, 10000, time.Minute)

	tests := []struct {
		name     string
		auction  string
		bidder   string
		amount   int64
		wantKind error
		wantCode string
	}{
		{name: "Self outbid", auction: live.ID, bidder: "alice", amount: 20000, wantKind: utils.ErrConflict, wantCode: utils.CodeSelfOutbid},
		{name: "Too low beats self outbid", auction: live.ID, bidder: "alice", amount: 10500, wantKind: utils.ErrValidation, wantCode: utils.CodeBidTooLow},
		{name: "Deny list", auction: live.ID, bidder: "mallory", amount: 20000, wantKind: utils.ErrValidation, wantCode: utils.CodeForbidden},
		{name: "Too low beats deny list", auction: live.ID, bidder: "mallory", amount: 10500, wantKind: utils.ErrValidation, wantCode: utils.CodeBidTooLow},
		{name: "Not started", auction: future.ID, bidder: "bob", amount: 20000, wantKind: utils.ErrConflict, wantCode: utils.CodeNotStarted},
		{name: "Cancelled", auction: cancelled.ID, bidder: "bob", amount: 20000, wantKind: utils.ErrConflict, wantCode: utils.CodeNotActive},
		{name: "Missing auction", auction: "nope", bidder: "bob", amount: 20000, wantKind: utils.ErrNotFound, wantCode: utils.CodeNotFound},
		{name: "Zero amount", auction: live.ID, bidder: "bob", amount: 0, wantKind: utils.ErrValidation, wantCode: utils.CodeInvalidInput},
		{name: "No bidder", auction: live.ID, bidder: " ", amount: 20000, wantKind: utils.ErrValidation, wantCode: utils.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.PlaceBid(ctx, tt.auction, tt.bidder, tt.amount)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.wantCode, utils.CodeOf(err))
		})
	}

	f.clock.Advance(time.Minute)
	_, err = f.manager.PlaceBid(ctx, short.ID, "bob", 20000)
	assert.Equal(t, utils.CodeEnded, utils.CodeOf(err))

	// Rejected bids leave no trace.
	bids, err := f.auctions.GetAuctionBids(ctx, f.db, live.ID)
	require.NoError(t, err)
	assert.Len(t, bids, 1)
}

func Test_PlaceBid_ActivatesPendingAuction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.collectible(t, 1, 10000)
	a, err := f.manager.CreateAuction(ctx, AuctionSpec{CollectibleID: 1, StartTime: f.clock.Now().Add(time.Minute), Duration: time.Hour})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	f.bid(t, a.ID, "alice", 10000)

	got, err := f.auctions.GetByID(ctx, f.db, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusActive, got.Status)
}

func Test_PlaceBid_AntiSnipe(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a := f.open(t, 1, 10000, 10*time.Minute)

	f.clock.Advance(4 * time.Minute)
	res := f.bid(t, a.ID, "alice", 10000)
	assert.False(t, res.Extended, "six minutes left is outside the window")
	assert.True(t, a.EndTime.Equal(res.EndTime))

	f.clock.Advance(3 * time.Minute)
	res = f.bid(t, a.ID, "bob", 11000)
	assert.True(t, res.Extended)
	assert.True(t, utils.Now(f.clock).Add(5*time.Minute).Equal(res.EndTime))

	// A second late bid re-arms from now rather than adding five more minutes.
	f.clock.Advance(4*time.Minute + 59*time.Second)
	res = f.bid(t, a.ID, "alice", 12000)
	assert.True(t, res.Extended)
	assert.True(t, utils.Now(f.clock).Add(5*time.Minute).Equal(res.EndTime))

	f.clock.Advance(5 * time.Minute)
	_, err := f.manager.PlaceBid(context.Background(), a.ID, "bob", 13000)
	assert.Equal(t, utils.CodeEnded, utils.CodeOf(err))
}

func Test_PlaceBid_Concurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	a := f.open(t, 1, 10000, time.Hour)

	const bidders = 10
	var wg sync.WaitGroup
	errs := make(chan error, bidders)
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.manager.PlaceBid(ctx, a.ID, fmt.Sprintf("bidder-%d", i), 10000)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.Equal(t, utils.CodeBidTooLow, utils.CodeOf(err))
	}
	assert.Equal(t, 1, accepted)

	got, err := f.auctions.GetByID(ctx, f.db, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.BidCount)
	count, err := f.auctions.CountConfirmedBids(ctx, f.db, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func Test_PlaceBid_ConcurrentIncreasing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	a := f.open(t, 1, 10000, time.Hour)

	const bidders = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed []int64
		rejected  []error
	)
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := int64(10000 + i*1000)
			_, err := f.manager.PlaceBid(ctx, a.ID, fmt.Sprintf("bidder-%d", i), amount)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rejected = append(rejected, err)
				return
			}
			committed = append(committed, amount)
		}(i)
	}
	wg.Wait()

	require.NotEmpty(t, committed)
	for _, err := range rejected {
		assert.Equal(t, utils.CodeBidTooLow, utils.CodeOf(err))
	}
	assert.Equal(t, bidders, len(committed)+len(rejected))

	got, err := f.auctions.GetByID(ctx, f.db, a.ID)
	require.NoError(t, err)
	assert.Equal(t, slices.Max(committed), got.CurrentBidCents)
	assert.Equal(t, len(committed), got.BidCount)
	count, err := f.auctions.CountConfirmedBids(ctx, f.db, a.ID)
	require.NoError(t, err)
	assert.Equal(t, len(committed), count)
}

func Test_FinalizeAuction_Sold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	a := f.open(t, 1, 10000, time.Hour)
	f.bid(t, a.ID, "alice", 10000)
	f.bid(t, a.ID, "bob", 11000)

	_, err := f.manager.FinalizeAuction(ctx, a.ID)
	assert.ErrorIs(t, err, utils.ErrConflict)
	assert.Equal(t, utils.CodeNotExpired, utils.CodeOf(err))

	f.clock.Advance(time.Hour)
	res, err := f.manager.FinalizeAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSold, res.Outcome)
	assert.Equal(t, "bob", res.WinnerID)
	assert.Equal(t, int64(11000), res.PriceCents)
	assert.Equal(t, models.AuctionStatusEnded, res.Status)

	c, err := f.collectibles.GetByID(ctx, f.db, 1)
	require.NoError(t, err)
	assert.Equal(t, models.CollectibleStatusSold, c.Status)
	assert.Equal(t, "bob", c.OwnerID)

	kinds := f.publisher.kinds()
	assert.Equal(t, notify.EventAuctionWon, kinds["bob"])
	assert.Equal(t, notify.EventAuctionEnded, kinds["alice"])

	// Repeated triggers change nothing.
	for i := 0; i < 3; i++ {
		again, err := f.manager.FinalizeAuction(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoop, again.Outcome)
		assert.Equal(t, "bob", again.WinnerID)
	}

	n, err := f.history.CountOwnershipForAuction(ctx, f.db, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.sales.count)
}

func Test_FinalizeAuction_NoBids(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	a := f.open(t, 1, 10000, time.Hour)

	f.clock.Advance(2 * time.Hour)
	res, err := f.manager.FinalizeAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnsold, res.Outcome)
	assert.Empty(t, res.WinnerID)

	c, err := f.collectibles.GetByID(ctx, f.db, 1)
	require.NoError(t, err)
	assert.Equal(t, models.CollectibleStatusAvailable, c.Status)
	assert.Empty(t, c.OwnerID)
	assert.Equal(t, 0, f.sales.count)

	_, err = f.manager.SettleAuction(ctx, a.ID)
	assert.Equal(t, utils.CodeInvalidState, utils.CodeOf(err))
}

func Test_FinalizeExpiredAuctions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	sold := f.open(t, 1, 10000, time.Hour)
	f.open(t, 2, 10000, time.Hour)
	f.open(t, 3, 10000, 3*time.Hour)
	f.bid(t, sold.ID, "alice", 10000)

	f.clock.Advance(2 * time.Hour)
	summary, err := f.manager.FinalizeExpiredAuctions(ctx)
	require.NoError(t, err)
	assert.Equal(t, &SweepSummary{Checked: 2, Sold: 1, Unsold: 1}, summary)

	summary, err = f.manager.FinalizeExpiredAuctions(ctx)
	require.NoError(t, err)
	assert.Equal(t, &SweepSummary{}, summary)
}

func Test_CancelAndSettle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	cancelled := f.open(t, 1, 10000, time.Hour)
	f.bid(t, cancelled.ID, "alice", 10000)
	res, err := f.manager.CancelAuction(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Empty(t, res.WinnerID)
	assert.Equal(t, notify.EventAuctionCancelled, f.publisher.kinds()["alice"])

	got, err := f.auctions.GetByID(ctx, f.db, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusEnded, got.Status)
	assert.True(t, got.Cancelled)
	c, err := f.collectibles.GetByID(ctx, f.db, 1)
	require.NoError(t, err)
	assert.Equal(t, models.CollectibleStatusAvailable, c.Status)

	_, err = f.manager.CancelAuction(ctx, cancelled.ID)
	assert.ErrorIs(t, err, utils.ErrConflict)
	_, err = f.manager.SettleAuction(ctx, cancelled.ID)
	assert.Equal(t, utils.CodeInvalidState, utils.CodeOf(err))

	won := f.open(t, 2, 10000, time.Hour)
	f.bid(t, won.ID, "bob", 10000)
	_, err = f.manager.SettleAuction(ctx, won.ID)
	assert.Equal(t, utils.CodeInvalidState, utils.CodeOf(err), "still open")

	f.clock.Advance(time.Hour)
	_, err = f.manager.FinalizeAuction(ctx, won.ID)
	require.NoError(t, err)

	res, err = f.manager.SettleAuction(ctx, won.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, res.Outcome)
	assert.Equal(t, models.AuctionStatusFinalized, res.Status)

	res, err = f.manager.SettleAuction(ctx, won.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)

	res, err = f.manager.FinalizeAuction(ctx, won.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)
}

func Test_CreateAuction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.collectible(t, 1, 12345)
	f.collectible(t, 2, 0)

	a, err := f.manager.CreateAuction(ctx, AuctionSpec{CollectibleID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(12345), a.StartingBidCents)
	assert.Equal(t, models.AuctionStatusActive, a.Status)
	assert.True(t, a.StartTime.Add(utils.DefaultAuctionDuration).Equal(a.EndTime))

	c, err := f.collectibles.GetByID(ctx, f.db, 1)
	require.NoError(t, err)
	assert.Equal(t, models.CollectibleStatusReserved, c.Status)

	tests := []struct {
		name     string
		spec     AuctionSpec
		wantCode string
	}{
		{name: "Already reserved", spec: AuctionSpec{CollectibleID: 1}, wantCode: utils.CodeInvalidState},
		{name: "No price", spec: AuctionSpec{CollectibleID: 2}, wantCode: utils.CodeInvalidInput},
		{name: "Unknown collectible", spec: AuctionSpec{CollectibleID: 99}, wantCode: utils.CodeNotFound},
		{name: "Negative duration", spec: AuctionSpec{CollectibleID: 2, Duration: -time.Hour}, wantCode: utils.CodeInvalidInput},
		{name: "Ends in the past", spec: AuctionSpec{CollectibleID: 2, StartTime: f.clock.Now().Add(-2 * time.Hour), Duration: time.Hour}, wantCode: utils.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.CreateAuction(ctx, tt.spec)
			assert.Equal(t, tt.wantCode, utils.CodeOf(err))
		})
	}

	a2, err := f.manager.CreateAuction(ctx, AuctionSpec{CollectibleID: 2, StartingBidCents: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(500), a2.StartingBidCents)
}

func Test_ActivateDueAuctions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.collectible(t, 1, 10000)
	a, err := f.manager.CreateAuction(ctx, AuctionSpec{CollectibleID: 1, StartTime: f.clock.Now().Add(time.Hour), Duration: time.Hour})
	require.NoError(t, err)

	n, err := f.manager.ActivateDueAuctions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(time.Hour)
	n, err = f.manager.ActivateDueAuctions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.manager.ActivateDueAuctions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := f.auctions.GetByID(ctx, f.db, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusActive, got.Status)
}

func Test_RebuildBidPointers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	a := f.open(t, 1, 10000, time.Hour)
	f.open(t, 2, 10000, time.Hour)
	f.bid(t, a.ID, "alice", 10000)
	f.bid(t, a.ID, "bob", 11000)

	require.NoError(t, f.auctions.SetBidPointers(ctx, f.db, a.ID, 10000, "alice", 5))

	res, err := f.manager.RebuildBidPointers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Repaired)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, utils.WarningPointerRepaired, res.Warnings[0].Code)

	got, err := f.auctions.GetByID(ctx, f.db, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(11000), got.CurrentBidCents)
	assert.Equal(t, "bob", got.HighestBidder)
	assert.Equal(t, 2, got.BidCount)

	res, err = f.manager.RebuildBidPointers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Repaired)
}

func Test_Manager_PublishesThroughPublisher(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	ctrl := gomock.NewController(t)
	publisher := mock.NewMockPublisher(ctrl)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	collectibles := repositories.NewCollectibleRepository(db)
	auctions := repositories.NewAuctionRepository(db)
	m := NewManager(auctions, collectibles, repositories.NewHistoryRepository(db), nil,
		utils.NewTransactionManager(db), publisher, DefaultConfig(), clock, nil)

	require.NoError(t, collectibles.Upsert(ctx, db, &models.Collectible{ID: 7, Name: "Vega", Category: "star"}))
	require.NoError(t, collectibles.UpdatePrice(ctx, db, 7, 10000))
	a, err := m.CreateAuction(ctx, AuctionSpec{CollectibleID: 7, Duration: time.Hour})
	require.NoError(t, err)

	publisher.EXPECT().Publish(gomock.Cond(func(x any) bool {
		e, ok := x.(notify.Event)
		return ok && e.Kind == notify.EventOutbid && e.RecipientID == "alice" &&
			e.NewBidderID == "bob" && e.AmountCents == 10500 && e.CollectibleID == 7
	})).Times(1)

	_, err = m.PlaceBid(ctx, a.ID, "alice", 10000)
	require.NoError(t, err)
	_, err = m.PlaceBid(ctx, a.ID, "bob", 10500)
	require.NoError(t, err)
}
