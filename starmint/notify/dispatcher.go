package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/starmint/starmint/starmint/metrics"
)

// Dispatcher queues events and delivers them on a background worker.
// Publish never blocks: when the queue is full the event is dropped and
// logged. Delivery failures are logged and counted, never returned.
type Dispatcher struct {
	notifier Notifier
	queue    chan Event
	timeout  time.Duration
	metrics  *metrics.Registry

	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

// NewDispatcher returns a stopped dispatcher. A non-positive queueSize or
// timeout falls back to utils.NotifyQueueSize and utils.NotifyTimeout.
func NewDispatcher(notifier Notifier, queueSize int, timeout time.Duration, m *metrics.Registry) *Dispatcher {
	if queueSize <= 0 {
		queueSize = utils.NotifyQueueSize
	}
	if timeout <= 0 {
		timeout = utils.NotifyTimeout
	}
	return &Dispatcher{
		notifier: notifier,
		queue:    make(chan Event, queueSize),
		timeout:  timeout,
		metrics:  m,
	}
}

// Start runs the delivery worker until Stop is called.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for event := range d.queue {
			d.deliver(event)
		}
	}()
}

func (d *Dispatcher) Publish(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- event:
	default:
		d.metrics.RecordNotification(string(event.Kind), "dropped")
		slog.Warn("Notification queue full, dropping event",
			slog.String("type", "sys"),
			slog.String("component", "notify"),
			slog.String("kind", string(event.Kind)),
			slog.String("auction_id", event.AuctionID))
	}
}

// Stop drains queued events and waits for the worker to exit.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	d.wg.Wait()
}

func (d *Dispatcher) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, event); err != nil {
		d.metrics.RecordNotification(string(event.Kind), "failed")
		slog.Error("Failed to deliver notification",
			slog.String("type", "error"),
			slog.String("component", "notify"),
			slog.String("kind", string(event.Kind)),
			slog.String("recipient", event.RecipientID),
			slog.String("auction_id", event.AuctionID),
			slog.String("error", err.Error()))
		return
	}
	d.metrics.RecordNotification(string(event.Kind), "delivered")
}
