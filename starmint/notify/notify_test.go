package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/starmint/starmint/starmint/notify"
	"github.com/starmint/starmint/starmint/notify/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func Test_Event_Text(t *testing.T) {
	tests := []struct {
		name  string
		event notify.Event
		want  string
	}{
		{
			name:  "Outbid",
			event: notify.Event{Kind: notify.EventOutbid, AuctionID: "a1", CollectibleID: 7, AmountCents: 10050},
			want:  "You were outbid on auction a1 for collectible #7. The new high bid is $100.50.",
		},
		{
			name:  "Won",
			event: notify.Event{Kind: notify.EventAuctionWon, AuctionID: "a1", CollectibleID: 7, AmountCents: 1100000},
			want:  "You won auction a1 for collectible #7 with a bid of $11000.00.",
		},
		{
			name:  "Ended",
			event: notify.Event{Kind: notify.EventAuctionEnded, AuctionID: "a2", CollectibleID: 3},
			want:  "Auction a2 for collectible #3 ended without a winner.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.Text())
		})
	}
}

func Test_Dispatcher_DeliversQueuedEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mock.NewMockNotifier(ctrl)

	var mu sync.Mutex
	var got []string
	notifier.EXPECT().
		Notify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e notify.Event) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, e.AuctionID)
			if e.AuctionID == "fail" {
				return errors.New("discord down")
			}
			return nil
		}).
		Times(3)

	d := notify.NewDispatcher(notifier, 8, time.Second, nil)
	d.Start()
	d.Publish(notify.Event{Kind: notify.EventOutbid, AuctionID: "a"})
	d.Publish(notify.Event{Kind: notify.EventOutbid, AuctionID: "fail"})
	d.Publish(notify.Event{Kind: notify.EventAuctionWon, AuctionID: "b"})
	d.Stop()

	assert.Equal(t, []string{"a", "fail", "b"}, got)

	// Publishing after Stop is dropped silently.
	d.Publish(notify.Event{Kind: notify.EventOutbid, AuctionID: "late"})
	d.Stop()
}

func Test_Dispatcher_DropsWhenFull(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mock.NewMockNotifier(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	// Not started: the queue fills and further events are dropped.
	d := notify.NewDispatcher(notifier, 2, time.Second, nil)
	for i := 0; i < 5; i++ {
		d.Publish(notify.Event{Kind: notify.EventOutbid, AuctionID: "a"})
	}
	d.Start()
	d.Stop()
}

func Test_Dispatcher_ZeroQueueSizeUsesDefault(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mock.NewMockNotifier(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	// Not started: a zero size still buffers instead of dropping every event.
	d := notify.NewDispatcher(notifier, 0, 0, nil)
	for i := 0; i < 3; i++ {
		d.Publish(notify.Event{Kind: notify.EventOutbid, AuctionID: "a"})
	}
	d.Start()
	d.Stop()
}

type fakeDMClient struct {
	mu       sync.Mutex
	failures int
	opened   []snowflake.ID
	sent     []discord.MessageCreate
}

func (f *fakeDMClient) CreateDMChannel(userID snowflake.ID, _ ...rest.RequestOpt) (*discord.DMChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("503 service unavailable")
	}
	f.opened = append(f.opened, userID)
	return &discord.DMChannel{}, nil
}

func (f *fakeDMClient) CreateMessage(_ snowflake.ID, m discord.MessageCreate, _ ...rest.RequestOpt) (*discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return &discord.Message{}, nil
}

func Test_DiscordNotifier_SendsEmbed(t *testing.T) {
	client := &fakeDMClient{}
	n := notify.NewDiscordNotifierWithClient(client, notify.DiscordConfig{RatePerSecond: 100, Burst: 10})

	err := n.Notify(context.Background(), notify.Event{
		Kind:        notify.EventOutbid,
		RecipientID: "123456789012345678",
		AuctionID:   "a1",
		AmountCents: 500,
		OccurredAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, client.opened, 1)
	assert.Equal(t, snowflake.ID(123456789012345678), client.opened[0])
	require.Len(t, client.sent, 1)
	require.Len(t, client.sent[0].Embeds, 1)
	assert.Equal(t, "Outbid", client.sent[0].Embeds[0].Title)
	assert.Equal(t, 0x2b2d31, client.sent[0].Embeds[0].Color)
}

func Test_DiscordNotifier_Unroutable(t *testing.T) {
	client := &fakeDMClient{}
	n := notify.NewDiscordNotifierWithClient(client, notify.DiscordConfig{})

	err := n.Notify(context.Background(), notify.Event{Kind: notify.EventOutbid, RecipientID: "alice"})
	assert.ErrorIs(t, err, notify.ErrUnroutable)
	assert.Empty(t, client.opened)
}

func Test_DiscordNotifier_BreakerOpens(t *testing.T) {
	client := &fakeDMClient{failures: 100}
	n := notify.NewDiscordNotifierWithClient(client, notify.DiscordConfig{
		RatePerSecond:   1000,
		Burst:           100,
		BreakerFailures: 3,
		BreakerCooldown: time.Hour,
	})

	event := notify.Event{Kind: notify.EventOutbid, RecipientID: "123456789012345678"}
	for i := 0; i < 3; i++ {
		assert.Error(t, n.Notify(context.Background(), event))
	}
	assert.Equal(t, "open", n.State())

	remaining := client.failures
	assert.Error(t, n.Notify(context.Background(), event))
	assert.Equal(t, remaining, client.failures, "open breaker must not reach the client")
}
