package executor

import (
	"context"
	"testing"
	"time"

	"github.com/koshedutech/candlewatch/internal/market"
	"github.com/koshedutech/candlewatch/internal/model"
	"github.com/koshedutech/candlewatch/internal/store"
)

// fakeTx collects the position/trade writes a WithPositionLock callback
// makes so tests can assert on them without a database.
type fakeTx struct {
	saved  *model.Position
	trades []model.Trade
}

func (tx *fakeTx) SavePosition(_ context.Context, pos *model.Position) error {
	cp := *pos
	tx.saved = &cp
	return nil
}

func (tx *fakeTx) InsertTrade(_ context.Context, t *model.Trade) error {
	tx.trades = append(tx.trades, *t)
	return nil
}

// fakeStore is an in-memory store.Store good for exactly one open position at
// a time, enough to exercise Executor without a database.
type fakeStore struct {
	open   *model.Position
	events []model.TradeEvent
}

func (s *fakeStore) ActiveSymbols(context.Context) ([]model.Symbol, error) { return nil, nil }
func (s *fakeStore) SaveSnapshots(context.Context, []model.IndicatorSnapshot) error { return nil }
func (s *fakeStore) SaveSignal(context.Context, *model.Signal) error { return nil }
func (s *fakeStore) LastSignalTime(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (s *fakeStore) RecentSignals(context.Context, int, int) ([]model.Signal, error) { return nil, nil }
func (s *fakeStore) SaveDecision(context.Context, *model.Decision) error             { return nil }
func (s *fakeStore) RecentDecisions(context.Context, int, int) ([]model.Decision, error) {
	return nil, nil
}

func (s *fakeStore) OpenPosition(_ context.Context, symbol string) (*model.Position, error) {
	if s.open == nil || s.open.Symbol != symbol {
		return nil, nil
	}
	cp := *s.open
	return &cp, nil
}
func (s *fakeStore) PositionByID(context.Context, string) (*model.Position, error) { return nil, nil }
func (s *fakeStore) OpenPositions(context.Context) ([]model.Position, error)       { return nil, nil }
func (s *fakeStore) ClosedPositions(context.Context, int, int) ([]model.Position, error) {
	return nil, nil
}

func (s *fakeStore) WithPositionLock(ctx context.Context, symbol string, fn func(ctx context.Context, tx store.Tx, pos *model.Position) error) error {
	var locked *model.Position
	if s.open != nil && s.open.Symbol == symbol {
		cp := *s.open
		locked = &cp
	}
	tx := &fakeTx{}
	if err := fn(ctx, tx, locked); err != nil {
		return err
	}
	if tx.saved != nil {
		s.open = tx.saved
		if s.open.Status == model.PositionClosed {
			s.open = nil
		}
	}
	return nil
}

func (s *fakeStore) LastClosedAt(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (s *fakeStore) InsertTrade(context.Context, store.Tx, *model.Trade) error { return nil }
func (s *fakeStore) TradesForPosition(context.Context, string) ([]model.Trade, error) {
	return nil, nil
}
func (s *fakeStore) CircuitBreaker(context.Context) (model.CircuitBreaker, error) {
	return model.CircuitBreaker{}, nil
}
func (s *fakeStore) RecordLoss(context.Context, string, float64, int, time.Duration) (model.CircuitBreaker, error) {
	return model.CircuitBreaker{}, nil
}
func (s *fakeStore) ResetCircuitBreaker(context.Context) error { return nil }
func (s *fakeStore) ReactivateIfExpired(context.Context) (model.CircuitBreaker, error) {
	return model.CircuitBreaker{}, nil
}
func (s *fakeStore) EnqueueEvent(_ context.Context, e *model.TradeEvent) error {
	s.events = append(s.events, *e)
	return nil
}
func (s *fakeStore) UnpostedEvents(context.Context, int) ([]model.TradeEvent, error) {
	return nil, nil
}
func (s *fakeStore) RecentEvents(context.Context, int) ([]model.TradeEvent, error) { return nil, nil }
func (s *fakeStore) MarkEventsPosted(context.Context, []string) error             { return nil }
func (s *fakeStore) EventStats(context.Context) (map[model.EventType]int, error)  { return nil, nil }
func (s *fakeStore) PortfolioSummary(context.Context, int, float64) (model.PortfolioSummary, error) {
	return model.PortfolioSummary{}, nil
}
func (s *fakeStore) TopLearningRules(context.Context, int) ([]store.LearningRule, error) {
	return nil, nil
}
func (s *fakeStore) Close() {}

// fakePrices serves a fixed price per symbol, mutable between calls so a test
// can simulate price movement across a BUY and a later DCA.
type fakePrices struct {
	price float64
}

func (p *fakePrices) GetPrice(context.Context, string) (float64, error) { return p.price, nil }
func (p *fakePrices) GetAllPrices(context.Context) (map[string]float64, error) {
	return nil, nil
}
func (p *fakePrices) GetCandles(context.Context, string, string, int) ([]market.Candle, error) {
	return nil, nil
}
func (p *fakePrices) StreamTickers(context.Context, []string, func(string, float64)) error {
	return nil
}

// fakeOrders fills every order at the current fakePrices price, exactly as
// requested, with no slippage.
type fakeOrders struct {
	prices *fakePrices
}

func (o *fakeOrders) PlaceOrder(_ context.Context, symbol string, side market.OrderSide, quantity float64) (market.OrderResult, error) {
	return market.OrderResult{Price: o.prices.price, ExecutedQty: quantity, OrderID: "TEST_" + symbol}, nil
}

func newTestExecutor(st *fakeStore, prices *fakePrices) *Executor {
	cfg := DefaultConfig()
	return New(cfg, DefaultTierTable(), st, &fakeOrders{prices: prices}, prices, nil, nil, nil)
}

// P3/P4: DCA re-anchors the average entry price and recomputes the take
// profit ladder off it, but leaves the original stop-loss price untouched.
func TestExecuteDCAAnchorsAveragePriceButNotStop(t *testing.T) {
	st := &fakeStore{}
	prices := &fakePrices{price: 100}
	ex := newTestExecutor(st, prices)
	ctx := context.Background()

	buyDecision := &model.Decision{ID: "d1", Action: model.ActionBuy, RecommendedSizeUSD: 500}
	if _, err := ex.Execute(ctx, buyDecision, model.Tier1, "BTCUSDT"); err != nil {
		t.Fatalf("Execute buy: %v", err)
	}
	if !buyDecision.Executed {
		t.Fatalf("expected buy to execute, notes=%q", buyDecision.ExecutionNotes)
	}

	originalStop := st.open.StopLossPrice
	if originalStop != 100*(1-0.15) {
		t.Fatalf("unexpected initial stop %v", originalStop)
	}

	// Price drops 10%, comfortably past the 3% DCA threshold.
	prices.price = 90
	dcaDecision := &model.Decision{ID: "d2", Action: model.ActionDCA, RecommendedSizeUSD: 500}
	if _, err := ex.Execute(ctx, dcaDecision, model.Tier1, "BTCUSDT"); err != nil {
		t.Fatalf("Execute dca: %v", err)
	}
	if !dcaDecision.Executed {
		t.Fatalf("expected DCA to execute, notes=%q", dcaDecision.ExecutionNotes)
	}

	wantAvg := (100*5 + 90*500.0/90) / (5 + 500.0/90)
	if diff := st.open.AvgEntryPrice - wantAvg; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("expected avg entry price %.8f, got %.8f", wantAvg, st.open.AvgEntryPrice)
	}
	if st.open.TP1Price != st.open.AvgEntryPrice*(1+0.05) {
		t.Errorf("expected TP1 re-anchored off new avg entry, got %.8f", st.open.TP1Price)
	}
	if st.open.StopLossPrice != originalStop {
		t.Errorf("stop loss must stay anchored to original entry: got %.8f want %.8f", st.open.StopLossPrice, originalStop)
	}
}

// P4: DCA is refused when the price hasn't dropped far enough below the
// current average entry price.
func TestExecuteDCARejectsShallowDrop(t *testing.T) {
	st := &fakeStore{}
	prices := &fakePrices{price: 100}
	ex := newTestExecutor(st, prices)
	ctx := context.Background()

	buyDecision := &model.Decision{ID: "d1", Action: model.ActionBuy, RecommendedSizeUSD: 500}
	if _, err := ex.Execute(ctx, buyDecision, model.Tier1, "ETHUSDT"); err != nil {
		t.Fatalf("Execute buy: %v", err)
	}

	// Only a 1% drop; DefaultConfig requires at least 3%.
	prices.price = 99
	dcaDecision := &model.Decision{ID: "d2", Action: model.ActionDCA, RecommendedSizeUSD: 500}
	outcome, err := ex.Execute(ctx, dcaDecision, model.Tier1, "ETHUSDT")
	if err != nil {
		t.Fatalf("Execute dca: %v", err)
	}
	if outcome.Executed || dcaDecision.Executed {
		t.Fatalf("expected shallow-drop DCA to be rejected, got executed=%v reason=%q", outcome.Executed, dcaDecision.ExecutionNotes)
	}
	if st.open.DCALevel != 0 {
		t.Errorf("rejected DCA must not bump DCALevel, got %d", st.open.DCALevel)
	}
}

// Tier4 never allows DCA regardless of how far price has dropped.
func TestExecuteDCARejectsWhenTierDisallows(t *testing.T) {
	st := &fakeStore{}
	prices := &fakePrices{price: 10}
	ex := newTestExecutor(st, prices)
	ctx := context.Background()

	buyDecision := &model.Decision{ID: "d1", Action: model.ActionBuy, RecommendedSizeUSD: 75}
	if _, err := ex.Execute(ctx, buyDecision, model.Tier4, "DOGEUSDT"); err != nil {
		t.Fatalf("Execute buy: %v", err)
	}

	prices.price = 5
	dcaDecision := &model.Decision{ID: "d2", Action: model.ActionDCA, RecommendedSizeUSD: 75}
	outcome, err := ex.Execute(ctx, dcaDecision, model.Tier4, "DOGEUSDT")
	if err != nil {
		t.Fatalf("Execute dca: %v", err)
	}
	if outcome.Executed {
		t.Fatalf("tier4 must never allow DCA")
	}
}

// P5: take-profit hits are monotonic — once TP1 is hit it stays hit even as
// later partial exits cross TP2/TP3, and a fill below a level leaves it
// unset.
func TestExecuteExitMarksTPHitsMonotonically(t *testing.T) {
	st := &fakeStore{}
	prices := &fakePrices{price: 100}
	ex := newTestExecutor(st, prices)
	ctx := context.Background()

	buyDecision := &model.Decision{ID: "d1", Action: model.ActionBuy, RecommendedSizeUSD: 500}
	if _, err := ex.Execute(ctx, buyDecision, model.Tier1, "BNBUSDT"); err != nil {
		t.Fatalf("Execute buy: %v", err)
	}
	tp1 := st.open.TP1Price // 105
	tp2 := st.open.TP2Price // 108

	// First partial exit crosses TP1 only.
	prices.price = tp1 + 0.01
	partial := &model.Decision{ID: "d2", Action: model.ActionPartialExit, ExitPercent: 25}
	if _, err := ex.Execute(ctx, partial, model.Tier1, "BNBUSDT"); err != nil {
		t.Fatalf("Execute partial exit: %v", err)
	}
	if !st.open.TP1Hit {
		t.Fatalf("expected TP1Hit after crossing tp1 price")
	}
	if st.open.TP2Hit {
		t.Fatalf("TP2Hit must stay false until price actually crosses tp2")
	}

	// Second partial exit crosses TP2; TP1Hit must remain true.
	prices.price = tp2 + 0.01
	partial2 := &model.Decision{ID: "d3", Action: model.ActionPartialExit, ExitPercent: 25}
	if _, err := ex.Execute(ctx, partial2, model.Tier1, "BNBUSDT"); err != nil {
		t.Fatalf("Execute second partial exit: %v", err)
	}
	if !st.open.TP1Hit || !st.open.TP2Hit {
		t.Fatalf("expected TP1Hit and TP2Hit both true, got tp1=%v tp2=%v", st.open.TP1Hit, st.open.TP2Hit)
	}
	if st.open.TP3Hit {
		t.Fatalf("TP3Hit must stay false, price never crossed tp3")
	}
}

func TestExecuteBuyRejectsWhenPositionAlreadyOpen(t *testing.T) {
	st := &fakeStore{}
	prices := &fakePrices{price: 100}
	ex := newTestExecutor(st, prices)
	ctx := context.Background()

	first := &model.Decision{ID: "d1", Action: model.ActionBuy, RecommendedSizeUSD: 500}
	if _, err := ex.Execute(ctx, first, model.Tier1, "SOLUSDT"); err != nil {
		t.Fatalf("Execute first buy: %v", err)
	}

	second := &model.Decision{ID: "d2", Action: model.ActionBuy, RecommendedSizeUSD: 500}
	outcome, err := ex.Execute(ctx, second, model.Tier1, "SOLUSDT")
	if err != nil {
		t.Fatalf("Execute second buy: %v", err)
	}
	if outcome.Executed {
		t.Fatalf("expected second buy into an already-open position to be rejected")
	}
}

func TestExecuteHoldActionIsANoOp(t *testing.T) {
	st := &fakeStore{}
	prices := &fakePrices{price: 100}
	ex := newTestExecutor(st, prices)
	ctx := context.Background()

	decision := &model.Decision{ID: "d1", Action: model.ActionHold}
	outcome, err := ex.Execute(ctx, decision, model.Tier1, "ADAUSDT")
	if err != nil {
		t.Fatalf("Execute hold: %v", err)
	}
	if outcome.Executed || decision.Executed {
		t.Fatalf("HOLD must never execute")
	}
}
