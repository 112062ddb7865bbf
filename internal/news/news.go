// Package news defines the news-context contract consumed by the Decision
// Maker. It is best-effort: failures degrade to a placeholder string rather
// than propagating, and a 4-hour cache sits in front of the live source.
package news

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Source fetches recent news context for a symbol. CryptoPanicSource returns
// fetch and parse errors as errors; CachedSource replaces any error or empty
// result with "No recent news available." and never fails the caller.
type Source interface {
	Get(ctx context.Context, symbol, coinName string, maxItems int) (string, error)
}

// cacheEntry pairs a cached value with its fetch time.
type cacheEntry struct {
	value   string
	fetched time.Time
}

// CachedSource wraps an underlying Source with a 4-hour process-local TTL
// cache scoped to this instance, not a package global.
type CachedSource struct {
	mu       sync.Mutex
	inner    Source
	ttl      time.Duration
	entries  map[string]cacheEntry
}

func NewCachedSource(inner Source) *CachedSource {
	return &CachedSource{inner: inner, ttl: 4 * time.Hour, entries: make(map[string]cacheEntry)}
}

func (c *CachedSource) Get(ctx context.Context, symbol, coinName string, maxItems int) (string, error) {
	key := fmt.Sprintf("%s:%d", symbol, maxItems)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && time.Since(e.fetched) < c.ttl {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	value, err := c.inner.Get(ctx, symbol, coinName, maxItems)
	if err != nil || value == "" {
		value = "No recent news available."
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, fetched: time.Now()}
	c.mu.Unlock()

	return value, nil
}

// ItemCountForTier scales the number of news items requested with symbol
// tier: 3 for tier 1, 2 for tier 2, 1 for tier 3 and below.
func ItemCountForTier(tier int) int {
	switch tier {
	case 1:
		return 3
	case 2:
		return 2
	default:
		return 1
	}
}

var _ Source = (*CachedSource)(nil)
