// Package cache provides scoped, explicitly-invalidated caches the engine
// uses to avoid redundant exchange/database calls within a single cycle, plus
// a Redis-backed tier for candle data shared across process restarts.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koshedutech/candlewatch/internal/market"
)

// Candles is a Redis-backed cache for OHLCV candle slices with a 5-minute TTL.
type Candles struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCandles(rdb *redis.Client) *Candles {
	return &Candles{rdb: rdb, ttl: 5 * time.Minute}
}

func candleKey(symbol, interval string, limit int) string {
	return fmt.Sprintf("candlewatch:candles:%s:%s:%d", symbol, interval, limit)
}

func (c *Candles) Get(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, bool) {
	raw, err := c.rdb.Get(ctx, candleKey(symbol, interval, limit)).Bytes()
	if err != nil {
		return nil, false
	}
	var out []market.Candle
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (c *Candles) Set(ctx context.Context, symbol, interval string, limit int, candles []market.Candle) {
	raw, err := json.Marshal(candles)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, candleKey(symbol, interval, limit), raw, c.ttl)
}

// Portfolio is a cycle-scoped memoizing accessor over the portfolio summary:
// the first call within a cycle computes and caches the value, subsequent
// calls in the same cycle reuse it, and any write path that changes the
// portfolio (a BUY, SELL, DCA, or PARTIAL_EXIT) must call Invalidate. It is
// not a package-level global — one instance lives per orchestrator cycle or
// is reset at the start of each cycle.
type Portfolio struct {
	mu      sync.Mutex
	value   interface{}
	has     bool
	compute func(ctx context.Context) (interface{}, error)
}

func NewPortfolio(compute func(ctx context.Context) (interface{}, error)) *Portfolio {
	return &Portfolio{compute: compute}
}

// Get returns the cached value, computing it on first access this cycle.
func (p *Portfolio) Get(ctx context.Context) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.has {
		return p.value, nil
	}
	v, err := p.compute(ctx)
	if err != nil {
		return nil, err
	}
	p.value = v
	p.has = true
	return v, nil
}

// Invalidate drops the cached value so the next Get recomputes it.
func (p *Portfolio) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.has = false
	p.value = nil
}

// Symbols memoizes the active symbol list for the lifetime of one cycle.
type Symbols struct {
	mu      sync.Mutex
	value   []string
	has     bool
	compute func(ctx context.Context) ([]string, error)
}

func NewSymbols(compute func(ctx context.Context) ([]string, error)) *Symbols {
	return &Symbols{compute: compute}
}

func (s *Symbols) Get(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.has {
		return s.value, nil
	}
	v, err := s.compute(ctx)
	if err != nil {
		return nil, err
	}
	s.value = v
	s.has = true
	return v, nil
}

func (s *Symbols) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.has = false
	s.value = nil
}

// LearningRules memoizes the top-N learning rules with a 1-hour TTL, since
// they change slowly (a separate offline job writes them).
type LearningRules struct {
	mu       sync.Mutex
	value    interface{}
	fetched  time.Time
	ttl      time.Duration
	compute  func(ctx context.Context) (interface{}, error)
}

func NewLearningRules(compute func(ctx context.Context) (interface{}, error)) *LearningRules {
	return &LearningRules{ttl: time.Hour, compute: compute}
}

func (l *LearningRules) Get(ctx context.Context) (interface{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.value != nil && time.Since(l.fetched) < l.ttl {
		return l.value, nil
	}
	v, err := l.compute(ctx)
	if err != nil {
		return nil, err
	}
	l.value = v
	l.fetched = time.Now()
	return v, nil
}

func (l *LearningRules) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value = nil
}
