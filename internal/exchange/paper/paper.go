// Package paper implements market.OrderPlacer for dry-run/paper trading,
// wrapping a real or simulated market.PriceSource to fill market orders at
// the current price with an OrderID prefixed "PAPER_".
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/koshedutech/candlewatch/internal/market"
)

// Placer fills every order instantly at the wrapped PriceSource's current
// price — no real exchange call is made.
type Placer struct {
	prices market.PriceSource
	mu     sync.Mutex
	seq    int64
}

func New(prices market.PriceSource) *Placer {
	return &Placer{prices: prices}
}

func (p *Placer) PlaceOrder(ctx context.Context, symbol string, side market.OrderSide, quantity float64) (market.OrderResult, error) {
	price, err := p.prices.GetPrice(ctx, symbol)
	if err != nil {
		return market.OrderResult{}, err
	}
	p.mu.Lock()
	p.seq++
	id := p.seq
	p.mu.Unlock()
	return market.OrderResult{
		Price:       price,
		ExecutedQty: quantity,
		CumQuoteQty: price * quantity,
		OrderID:     fmt.Sprintf("PAPER_%d", id),
	}, nil
}

var _ market.OrderPlacer = (*Placer)(nil)

// SimulatedPriceSource is a self-contained PriceSource for tests and demo
// runs with no exchange credentials: it holds a seed price per symbol and
// applies a small random walk over time.
type SimulatedPriceSource struct {
	mu         sync.RWMutex
	prices     map[string]float64
	lastUpdate time.Time
	rng        *rand.Rand
}

func NewSimulatedPriceSource(seed map[string]float64) *SimulatedPriceSource {
	base := make(map[string]float64, len(seed))
	for k, v := range seed {
		base[k] = v
	}
	return &SimulatedPriceSource{
		prices:     base,
		lastUpdate: time.Now(),
		rng:        rand.New(rand.NewSource(1)),
	}
}

func (s *SimulatedPriceSource) walk() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastUpdate) < time.Second {
		return
	}
	for sym, price := range s.prices {
		change := (s.rng.Float64() - 0.5) * 0.01
		s.prices[sym] = price * (1 + change)
	}
	s.lastUpdate = time.Now()
}

func (s *SimulatedPriceSource) GetPrice(ctx context.Context, symbol string) (float64, error) {
	s.walk()
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("unknown symbol %s", symbol)
	}
	return p, nil
}

func (s *SimulatedPriceSource) GetAllPrices(ctx context.Context) (map[string]float64, error) {
	s.walk()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out, nil
}

func (s *SimulatedPriceSource) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	price, err := s.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, limit)
	now := time.Now()
	for i := limit; i > 0; i-- {
		t := now.Add(-time.Duration(i) * time.Minute)
		out = append(out, market.Candle{
			OpenTime: t.UnixMilli(), Open: price, High: price, Low: price, Close: price, Volume: 1,
			CloseTime: t.Add(time.Minute).UnixMilli(),
		})
	}
	return out, nil
}

func (s *SimulatedPriceSource) StreamTickers(ctx context.Context, symbols []string, callback func(symbol string, price float64)) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, sym := range symbols {
				if p, err := s.GetPrice(ctx, sym); err == nil {
					callback(sym, p)
				}
			}
		}
	}
}

var _ market.PriceSource = (*SimulatedPriceSource)(nil)
