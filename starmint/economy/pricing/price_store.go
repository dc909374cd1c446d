package pricing

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"
)

// cachedQuote is a quote together with the multiplier it was computed under.
type cachedQuote struct {
	info     PriceInfo
	cachedAt time.Time
}

// PriceStore caches computed quotes by collectible ID. Entries expire after
// the configured duration and the whole cache is purged whenever prices are
// recalculated or the series multiplier moves.
type PriceStore struct {
	cache  *lru.Cache
	expiry time.Duration
	clock  clockwork.Clock
}

func NewPriceStore(size int, expiry time.Duration, clock clockwork.Clock) (*PriceStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &PriceStore{cache: cache, expiry: expiry, clock: clock}, nil
}

// Get returns a fresh cached quote computed under multiplier.
func (ps *PriceStore) Get(collectibleID int64, multiplier float64) (PriceInfo, bool) {
	v, ok := ps.cache.Get(collectibleID)
	if !ok {
		return PriceInfo{}, false
	}
	entry := v.(cachedQuote)
	if ps.clock.Since(entry.cachedAt) > ps.expiry || entry.info.Quote.Breakdown.SeriesMultiplier != multiplier {
		ps.cache.Remove(collectibleID)
		return PriceInfo{}, false
	}
	return entry.info, true
}

func (ps *PriceStore) Put(info PriceInfo) {
	ps.cache.Add(info.CollectibleID, cachedQuote{info: info, cachedAt: ps.clock.Now()})
}

func (ps *PriceStore) Invalidate(collectibleID int64) {
	ps.cache.Remove(collectibleID)
}

func (ps *PriceStore) Purge() {
	ps.cache.Purge()
}

func (ps *PriceStore) Len() int {
	return ps.cache.Len()
}
