package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrUnroutable is returned for recipients that are not Discord user IDs.
var ErrUnroutable = errors.New("recipient is not a discord user id")

// DMClient is the slice of the Discord REST API the notifier needs.
type DMClient interface {
	CreateDMChannel(userID snowflake.ID, opts ...rest.RequestOpt) (*discord.DMChannel, error)
	CreateMessage(channelID snowflake.ID, messageCreate discord.MessageCreate, opts ...rest.RequestOpt) (*discord.Message, error)
}

type DiscordConfig struct {
	Token           string        `toml:"token" env:"TOKEN"`
	RatePerSecond   float64       `toml:"rate_per_second" env:"RATE_PER_SECOND"`
	Burst           int           `toml:"burst" env:"BURST"`
	BreakerFailures uint32        `toml:"breaker_failures" env:"BREAKER_FAILURES"`
	BreakerCooldown time.Duration `toml:"breaker_cooldown" env:"BREAKER_COOLDOWN"`
	EmbedColor      int           `toml:"embed_color" env:"EMBED_COLOR"`
}

func (c DiscordConfig) withDefaults() DiscordConfig {
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = time.Minute
	}
	if c.EmbedColor == 0 {
		c.EmbedColor = 0x2b2d31
	}
	return c
}

// DiscordNotifier sends events as direct messages. Calls are paced by a
// token bucket and short-circuited by a breaker while Discord is failing.
type DiscordNotifier struct {
	client  DMClient
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	color   int
}

// NewDiscordNotifier builds a REST-only Discord client from the bot token.
func NewDiscordNotifier(cfg DiscordConfig) *DiscordNotifier {
	return NewDiscordNotifierWithClient(rest.New(rest.NewClient(cfg.Token)), cfg)
}

func NewDiscordNotifierWithClient(client DMClient, cfg DiscordConfig) *DiscordNotifier {
	cfg = cfg.withDefaults()

	st := gobreaker.Settings{
		Name:     "discord-dm",
		Interval: 5 * time.Minute,
		Timeout:  cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnroutable)
		},
	}

	return &DiscordNotifier{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(st),
		color:   cfg.EmbedColor,
	}
}

func (n *DiscordNotifier) Notify(ctx context.Context, event Event) error {
	userID, err := snowflake.Parse(event.RecipientID)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnroutable, event.RecipientID)
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notification rate limit: %w", err)
	}

	_, err = n.breaker.Execute(func() (interface{}, error) {
		dm, err := n.client.CreateDMChannel(userID)
		if err != nil {
			return nil, fmt.Errorf("failed to open DM channel: %w", err)
		}

		embed := discord.NewEmbedBuilder().
			SetTitle(title(event.Kind)).
			SetDescription(event.Text()).
			SetColor(n.color).
			SetTimestamp(event.OccurredAt).
			Build()

		_, err = n.client.CreateMessage(dm.ID(), discord.MessageCreate{
			Embeds: []discord.Embed{embed},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to send DM: %w", err)
		}
		return nil, nil
	})
	return err
}

// State reports the breaker state, for health output.
func (n *DiscordNotifier) State() string {
	return n.breaker.State().String()
}

func title(kind EventKind) string {
	switch kind {
	case EventOutbid:
		return "Outbid"
	case EventAuctionWon:
		return "Auction Won!"
	case EventAuctionEnded:
		return "Auction Ended"
	case EventAuctionCancelled:
		return "Auction Cancelled"
	}
	return "Auction Update"
}
