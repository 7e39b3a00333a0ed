package broker

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

// QuoteCache fronts Broker.GetQuote with a short-TTL cache so that a turn
// that needs the same quote more than once (tool execution plus risk checks)
// does not hammer the brokerage backend. The TTL is short enough that risk
// checks still see a fresh price.
type QuoteCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewQuoteCache creates a quote cache with the given freshness window.
func NewQuoteCache(ttl time.Duration) (*QuoteCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &QuoteCache{cache: cache, ttl: ttl}, nil
}

// Get returns a cached quote if one is still fresh, otherwise fetches from
// the broker and caches the result. Quotes are cached per broker handle so
// two users on different brokers never share entries.
func (qc *QuoteCache) Get(ctx context.Context, b Broker, symbol string, exchange Exchange) (*Quote, error) {
	key := b.Name() + "/" + string(exchange) + "/" + symbol
	if v, ok := qc.cache.Get(key); ok {
		if quote, ok := v.(*Quote); ok {
			return quote, nil
		}
	}
	quote, err := b.GetQuote(ctx, symbol, exchange)
	if err != nil {
		return nil, err
	}
	qc.cache.SetWithTTL(key, quote, 1, qc.ttl)
	return quote, nil
}

// Close releases the cache resources.
func (qc *QuoteCache) Close() {
	qc.cache.Close()
}
