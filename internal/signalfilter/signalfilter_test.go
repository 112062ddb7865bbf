package signalfilter

import (
	"context"
	"testing"
	"time"

	"github.com/koshedutech/candlewatch/internal/advisor"
	"github.com/koshedutech/candlewatch/internal/model"
	"github.com/koshedutech/candlewatch/internal/store"
)

// fakeFast returns one canned verdict per symbol, set up by each test.
type fakeFast struct {
	verdicts map[string]advisor.FastVerdict
}

func (f *fakeFast) EvaluateBatch(_ context.Context, inputs []advisor.FastAdvisorInput) (map[string]advisor.FastVerdict, error) {
	out := make(map[string]advisor.FastVerdict, len(inputs))
	for _, in := range inputs {
		if v, ok := f.verdicts[in.Symbol]; ok {
			out[in.Symbol] = v
		}
	}
	return out, nil
}

// fakeSignalStore embeds a nil store.Store so every method not explicitly
// overridden panics if called — Run only exercises SaveSignal,
// LastSignalTime and OpenPositions here.
type fakeSignalStore struct {
	store.Store
	saved []model.Signal
}

func (s *fakeSignalStore) SaveSignal(_ context.Context, sig *model.Signal) error {
	s.saved = append(s.saved, *sig)
	return nil
}

func (s *fakeSignalStore) OpenPositions(context.Context) ([]model.Position, error) {
	return nil, nil
}

func (s *fakeSignalStore) LastSignalTime(_ context.Context, symbol string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

type dedupStore struct {
	fakeSignalStore
	last time.Time
}

func (s *dedupStore) LastSignalTime(_ context.Context, symbol string) (time.Time, bool, error) {
	return s.last, true, nil
}

type portfolioAt struct {
	fakeSignalStore
	openCount int
}

func (p *portfolioAt) OpenPositions(context.Context) ([]model.Position, error) {
	return make([]model.Position, p.openCount), nil
}

func escalateVerdict(st advisor.Strength, conf float64, sigType advisor.SignalType) advisor.FastVerdict {
	return advisor.FastVerdict{Escalate: &advisor.EscalateVerdict{
		SignalType: sigType, Strength: st, Confidence: conf, Reasons: []string{"test"},
	}}
}

func triggered(symbol string, hasPosition bool, triggers ...model.TriggerKind) model.TriggeredSignal {
	return model.TriggeredSignal{Symbol: symbol, Price: 100, ThresholdsCrossed: triggers, HasPosition: hasPosition}
}

func newFilter(cfg Config, fast advisor.FastAdvisor, st *fakeSignalStore) *Filter {
	return &Filter{cfg: cfg, fast: fast, store: st, timeSrc: st, portfolio: st}
}

func TestRunEscalatesStrongSingleTriggerException(t *testing.T) {
	fast := &fakeFast{verdicts: map[string]advisor.FastVerdict{
		"BTCUSDT": escalateVerdict(advisor.StrengthStrong, 0.75, advisor.TypeBuy),
	}}
	st := &fakeSignalStore{}
	f := newFilter(Config{MaxConcurrentPositions: 10}, fast, st)

	out, err := f.Run(context.Background(), []model.TriggeredSignal{
		triggered("BTCUSDT", false, model.TriggerRSIOversold),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 1 || !out[0].Escalated {
		t.Fatalf("expected a single STRONG trigger at confidence>=0.70 to escalate, got %+v", out)
	}
}

func TestRunRejectsModerateSingleTrigger(t *testing.T) {
	fast := &fakeFast{verdicts: map[string]advisor.FastVerdict{
		"ETHUSDT": escalateVerdict(advisor.StrengthModerate, 0.80, advisor.TypeBuy),
	}}
	st := &fakeSignalStore{}
	f := newFilter(Config{MaxConcurrentPositions: 10}, fast, st)

	out, err := f.Run(context.Background(), []model.TriggeredSignal{
		triggered("ETHUSDT", false, model.TriggerMACDBullishCrossover),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out[0].Escalated {
		t.Fatalf("MODERATE with only one trigger has no exception and must not escalate, got %+v", out[0])
	}
}

func TestRunRejectsBelowConfidenceFloor(t *testing.T) {
	fast := &fakeFast{verdicts: map[string]advisor.FastVerdict{
		"SOLUSDT": escalateVerdict(advisor.StrengthStrong, 0.50, advisor.TypeBuy),
	}}
	st := &fakeSignalStore{}
	f := newFilter(Config{MaxConcurrentPositions: 10}, fast, st)

	out, _ := f.Run(context.Background(), []model.TriggeredSignal{
		triggered("SOLUSDT", false, model.TriggerRSIOversold, model.TriggerVolumeSpike),
	})
	if out[0].Escalated {
		t.Fatalf("confidence below the 0.60 floor must never escalate, got %+v", out[0])
	}
}

func TestRunRejectsSellWithoutOpenPosition(t *testing.T) {
	fast := &fakeFast{verdicts: map[string]advisor.FastVerdict{
		"BNBUSDT": escalateVerdict(advisor.StrengthStrong, 0.90, advisor.TypeSell),
	}}
	st := &fakeSignalStore{}
	f := newFilter(Config{MaxConcurrentPositions: 10}, fast, st)

	out, _ := f.Run(context.Background(), []model.TriggeredSignal{
		triggered("BNBUSDT", false, model.TriggerRSIOverbought, model.TriggerMACDBearishCrossover),
	})
	if out[0].Escalated {
		t.Fatalf("SELL with no open position must not escalate, got %+v", out[0])
	}
}

func TestRunAllowsSellWithOpenPositionBypassingDedup(t *testing.T) {
	fast := &fakeFast{verdicts: map[string]advisor.FastVerdict{
		"BNBUSDT": escalateVerdict(advisor.StrengthStrong, 0.90, advisor.TypeSell),
	}}
	st := &dedupStore{last: time.Now()} // evaluated seconds ago — would block any other gate
	f := newFilter(Config{MaxConcurrentPositions: 10, SonnetDedupMinutes: 60}, fast, &st.fakeSignalStore)
	f.timeSrc = st

	out, _ := f.Run(context.Background(), []model.TriggeredSignal{
		triggered("BNBUSDT", true, model.TriggerRSIOverbought, model.TriggerMACDBearishCrossover),
	})
	if !out[0].Escalated {
		t.Fatalf("SELL with an open position must bypass dedup, got %+v", out[0])
	}
}

func TestRunRejectsBuyAtPortfolioCapacity(t *testing.T) {
	fast := &fakeFast{verdicts: map[string]advisor.FastVerdict{
		"ADAUSDT": escalateVerdict(advisor.StrengthStrong, 0.90, advisor.TypeBuy),
	}}
	pf := &portfolioAt{openCount: 10}
	f := newFilter(Config{MaxConcurrentPositions: 10}, fast, &pf.fakeSignalStore)
	f.portfolio = pf

	out, _ := f.Run(context.Background(), []model.TriggeredSignal{
		triggered("ADAUSDT", false, model.TriggerRSIOversold, model.TriggerVolumeSpike),
	})
	if out[0].Escalated {
		t.Fatalf("BUY at max concurrent positions must not escalate, got %+v", out[0])
	}
}

func TestRunRejectsRecentDuplicateSignal(t *testing.T) {
	fast := &fakeFast{verdicts: map[string]advisor.FastVerdict{
		"XRPUSDT": escalateVerdict(advisor.StrengthModerate, 0.80, advisor.TypeBuy),
	}}
	st := &dedupStore{last: time.Now().Add(-5 * time.Minute)}
	f := newFilter(Config{MaxConcurrentPositions: 10, SonnetDedupMinutes: 30}, fast, &st.fakeSignalStore)
	f.timeSrc = st

	out, _ := f.Run(context.Background(), []model.TriggeredSignal{
		triggered("XRPUSDT", false, model.TriggerRSIOversold, model.TriggerVolumeSpike),
	})
	if out[0].Escalated {
		t.Fatalf("a signal evaluated 5m ago with a 30m dedup window must not re-escalate, got %+v", out[0])
	}
}

func TestRunAllowsBuyAfterDedupWindowExpires(t *testing.T) {
	fast := &fakeFast{verdicts: map[string]advisor.FastVerdict{
		"XRPUSDT": escalateVerdict(advisor.StrengthModerate, 0.80, advisor.TypeBuy),
	}}
	st := &dedupStore{last: time.Now().Add(-45 * time.Minute)}
	f := newFilter(Config{MaxConcurrentPositions: 10, SonnetDedupMinutes: 30}, fast, &st.fakeSignalStore)
	f.timeSrc = st

	out, _ := f.Run(context.Background(), []model.TriggeredSignal{
		triggered("XRPUSDT", false, model.TriggerRSIOversold, model.TriggerVolumeSpike),
	})
	if !out[0].Escalated {
		t.Fatalf("a signal last evaluated outside the dedup window must be eligible to escalate, got %+v", out[0])
	}
}

func TestRunNoEscalateVerdictPersistsSignalNone(t *testing.T) {
	fast := &fakeFast{verdicts: map[string]advisor.FastVerdict{
		"DOGEUSDT": {NoEscalate: &advisor.NoEscalateVerdict{Reason: "flat indicators"}},
	}}
	st := &fakeSignalStore{}
	f := newFilter(Config{MaxConcurrentPositions: 10}, fast, st)

	out, _ := f.Run(context.Background(), []model.TriggeredSignal{
		triggered("DOGEUSDT", false, model.TriggerRSIOversold),
	})
	if out[0].Escalated {
		t.Fatalf("NoEscalate verdict must never escalate, got %+v", out[0])
	}
	if out[0].Signal.SignalType != model.SignalNone {
		t.Errorf("expected persisted signal type NONE, got %v", out[0].Signal.SignalType)
	}
	if len(st.saved) != 1 {
		t.Fatalf("expected exactly one persisted signal row, got %d", len(st.saved))
	}
}

func TestRunMissingVerdictTreatedAsNoEscalate(t *testing.T) {
	fast := &fakeFast{verdicts: map[string]advisor.FastVerdict{}} // advisor returned nothing for this symbol
	st := &fakeSignalStore{}
	f := newFilter(Config{MaxConcurrentPositions: 10}, fast, st)

	out, _ := f.Run(context.Background(), []model.TriggeredSignal{
		triggered("LTCUSDT", false, model.TriggerRSIOversold, model.TriggerVolumeSpike),
	})
	if out[0].Escalated {
		t.Fatalf("a missing advisor verdict must collapse to no-escalate, got %+v", out[0])
	}
}
