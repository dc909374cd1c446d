package utils

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Pricing Constants
const (
	DefaultBasePricePerPoint = 0.10 // USD per score point before multipliers
	PriceCacheSize           = 10000
	PriceCacheExpiration     = 15 * time.Minute
	PriceBatchSize           = 500
	MaxConcurrentBatches     = 4
)

// Auction Constants
const (
	AntiSnipeWindow        = 5 * time.Minute // Bids inside this window re-arm the end time
	MaxTxRetries           = 5
	DefaultAuctionDuration = 24 * time.Hour
	MaxAuctionDuration     = 30 * 24 * time.Hour
)

// Transaction Constants
const (
	DefaultTxTimeout = 30 * time.Second
	TxRetryDelayStep = 2 * time.Millisecond
	MaxTxRetryDelay  = 50 * time.Millisecond
	NotifyQueueSize  = 256
	NotifyTimeout    = 10 * time.Second
)

// Now returns the clock's current time in UTC at microsecond precision, the
// resolution every supported store keeps.
func Now(clock clockwork.Clock) time.Time {
	return clock.Now().UTC().Truncate(time.Microsecond)
}
