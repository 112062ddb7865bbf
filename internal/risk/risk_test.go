package risk

import (
	"context"
	"testing"
	"time"

	"github.com/koshedutech/candlewatch/internal/model"
	"github.com/koshedutech/candlewatch/internal/store"
)

// fakeStore embeds a nil store.Store: only the methods CheckCycle/CanEnter/
// RecordLoss actually call are overridden below.
type fakeStore struct {
	store.Store
	cb          model.CircuitBreaker
	summary     model.PortfolioSummary
	lastClosed  time.Time
	hasClosed   bool
	events      []model.TradeEvent
	recordLossN int
}

func (s *fakeStore) ReactivateIfExpired(context.Context) (model.CircuitBreaker, error) {
	return s.cb, nil
}

func (s *fakeStore) PortfolioSummary(context.Context, int, float64) (model.PortfolioSummary, error) {
	return s.summary, nil
}

func (s *fakeStore) LastClosedAt(context.Context, string) (time.Time, bool, error) {
	return s.lastClosed, s.hasClosed, nil
}

func (s *fakeStore) RecordLoss(_ context.Context, _ string, _ float64, threshold int, _ time.Duration) (model.CircuitBreaker, error) {
	s.recordLossN++
	cb := model.CircuitBreaker{ConsecutiveLosses: s.recordLossN}
	if s.recordLossN >= threshold {
		cb.IsActive = true
		reactivates := time.Now().Add(time.Hour)
		cb.ReactivatesAt = &reactivates
	}
	s.cb = cb
	return cb, nil
}

func (s *fakeStore) ResetCircuitBreaker(context.Context) error {
	s.cb = model.CircuitBreaker{}
	return nil
}

func (s *fakeStore) EnqueueEvent(_ context.Context, e *model.TradeEvent) error {
	s.events = append(s.events, *e)
	return nil
}

func TestCheckCycleBlocksWhenCircuitBreakerActive(t *testing.T) {
	st := &fakeStore{cb: model.CircuitBreaker{IsActive: true}}
	sup := New(DefaultConfig(), st, nil)

	gate, err := sup.CheckCycle(context.Background())
	if err != nil {
		t.Fatalf("CheckCycle: %v", err)
	}
	if gate.Proceed {
		t.Fatalf("expected circuit breaker to block the cycle, got %+v", gate)
	}
}

func TestCheckCycleBlocksOnDrawdownBreach(t *testing.T) {
	st := &fakeStore{summary: model.PortfolioSummary{TotalPnLPercent: -20}}
	cfg := DefaultConfig()
	cfg.MaxDrawdownPercent = 15
	sup := New(cfg, st, nil)

	gate, err := sup.CheckCycle(context.Background())
	if err != nil {
		t.Fatalf("CheckCycle: %v", err)
	}
	if gate.Proceed {
		t.Fatalf("expected drawdown gate to block the cycle, got %+v", gate)
	}
	if len(st.events) != 1 || st.events[0].EventType != model.EventDrawdownPause {
		t.Fatalf("expected one DRAWDOWN_PAUSE event, got %+v", st.events)
	}
}

func TestCheckCycleProceedsWithinBounds(t *testing.T) {
	st := &fakeStore{summary: model.PortfolioSummary{TotalPnLPercent: -5}}
	cfg := DefaultConfig()
	cfg.MaxDrawdownPercent = 15
	sup := New(cfg, st, nil)

	gate, err := sup.CheckCycle(context.Background())
	if err != nil {
		t.Fatalf("CheckCycle: %v", err)
	}
	if !gate.Proceed {
		t.Fatalf("expected cycle to proceed within drawdown bounds, got %+v", gate)
	}
}

func TestCanEnterAllowsSymbolNeverClosed(t *testing.T) {
	st := &fakeStore{}
	sup := New(DefaultConfig(), st, nil)

	ok, err := sup.CanEnter(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("CanEnter: %v", err)
	}
	if !ok {
		t.Fatalf("a symbol with no closed history must be enterable")
	}
}

func TestCanEnterBlocksWithinCooldown(t *testing.T) {
	st := &fakeStore{lastClosed: time.Now().Add(-1 * time.Hour), hasClosed: true}
	cfg := DefaultConfig()
	cfg.EntryCooldownHours = 24
	sup := New(cfg, st, nil)

	ok, err := sup.CanEnter(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("CanEnter: %v", err)
	}
	if ok {
		t.Fatalf("expected re-entry within cooldown to be blocked")
	}
}

func TestCanEnterAllowsAfterCooldownElapses(t *testing.T) {
	st := &fakeStore{lastClosed: time.Now().Add(-25 * time.Hour), hasClosed: true}
	cfg := DefaultConfig()
	cfg.EntryCooldownHours = 24
	sup := New(cfg, st, nil)

	ok, err := sup.CanEnter(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("CanEnter: %v", err)
	}
	if !ok {
		t.Fatalf("expected re-entry past cooldown to be allowed")
	}
}

func TestRecordLossTripsBreakerAtThreshold(t *testing.T) {
	st := &fakeStore{}
	cfg := DefaultConfig()
	cfg.ConsecutiveLossesToActivate = 3
	sup := New(cfg, st, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := sup.RecordLoss(ctx, "BTCUSDT", -10); err != nil {
			t.Fatalf("RecordLoss: %v", err)
		}
	}
	if len(st.events) != 0 {
		t.Fatalf("breaker must not trip before the threshold, got %d events", len(st.events))
	}

	if err := sup.RecordLoss(ctx, "BTCUSDT", -10); err != nil {
		t.Fatalf("RecordLoss: %v", err)
	}
	if len(st.events) != 1 || st.events[0].EventType != model.EventCircuitBreaker {
		t.Fatalf("expected one CIRCUIT_BREAKER event at the threshold, got %+v", st.events)
	}
}

func TestResetCircuitBreakerClearsState(t *testing.T) {
	st := &fakeStore{cb: model.CircuitBreaker{IsActive: true, ConsecutiveLosses: 5}}
	sup := New(DefaultConfig(), st, nil)

	if err := sup.ResetCircuitBreaker(context.Background()); err != nil {
		t.Fatalf("ResetCircuitBreaker: %v", err)
	}
	if st.cb.IsActive || st.cb.ConsecutiveLosses != 0 {
		t.Fatalf("expected circuit breaker state cleared, got %+v", st.cb)
	}
}
