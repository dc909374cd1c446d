package notify

//go:generate mockgen -source=notifier.go -destination=mock/notifier.go -package=mock

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type EventKind string

const (
	EventOutbid           EventKind = "outbid"
	EventAuctionWon       EventKind = "auction_won"
	EventAuctionEnded     EventKind = "auction_ended"
	EventAuctionCancelled EventKind = "auction_cancelled"
)

// Event is one best-effort message to a bidder.
type Event struct {
	Kind          EventKind
	RecipientID   string
	AuctionID     string
	CollectibleID int64
	AmountCents   int64
	NewBidderID   string
	OccurredAt    time.Time
}

// Text renders the event as a short plain message.
func (e Event) Text() string {
	amount := fmt.Sprintf("$%d.%02d", e.AmountCents/100, e.AmountCents%100)
	switch e.Kind {
	case EventOutbid:
		return fmt.Sprintf("You were outbid on auction %s for collectible #%d. The new high bid is %s.", e.AuctionID, e.CollectibleID, amount)
	case EventAuctionWon:
		return fmt.Sprintf("You won auction %s for collectible #%d with a bid of %s.", e.AuctionID, e.CollectibleID, amount)
	case EventAuctionEnded:
		return fmt.Sprintf("Auction %s for collectible #%d ended without a winner.", e.AuctionID, e.CollectibleID)
	case EventAuctionCancelled:
		return fmt.Sprintf("Auction %s for collectible #%d was cancelled.", e.AuctionID, e.CollectibleID)
	}
	return fmt.Sprintf("Auction %s: %s", e.AuctionID, e.Kind)
}

// Notifier delivers one event. Implementations may block on the network;
// callers go through a Dispatcher so engines never wait on delivery.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(event Event)
}

// LogNotifier writes events to the log. It is used when no Discord token is
// configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event Event) error {
	slog.Info("Notification",
		slog.String("type", "sys"),
		slog.String("component", "notify"),
		slog.String("kind", string(event.Kind)),
		slog.String("recipient", event.RecipientID),
		slog.String("auction_id", event.AuctionID),
		slog.String("message", event.Text()))
	return nil
}
