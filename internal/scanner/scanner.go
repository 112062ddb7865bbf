// Package scanner computes a fresh indicator snapshot per active symbol each
// cycle and emits a TriggeredSignal whenever a monitored indicator
// transitions between states, the way a level-crossing detector watches a
// baseline rather than a continuous condition.
package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/koshedutech/candlewatch/internal/logging"
	"github.com/koshedutech/candlewatch/internal/market"
	"github.com/koshedutech/candlewatch/internal/model"
)

// IndicatorFunc computes the current indicator snapshot for one symbol. It is
// the seam to the candle/indicator math library, which is external to this
// package.
type IndicatorFunc func(ctx context.Context, prices market.PriceSource, symbol string) (model.IndicatorSnapshot, error)

// Thresholds are the tunable transition boundaries.
type Thresholds struct {
	RSIOversold      float64
	RSIOverbought    float64
	VolumeSpikeRatio float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{RSIOversold: 30, RSIOverbought: 70, VolumeSpikeRatio: 2.0}
}

// Config tunes one scanner instance.
type Config struct {
	Thresholds            Thresholds
	SignalCooldownMinutes int
	MaxConcurrentFetches  int
}

func DefaultConfig() Config {
	return Config{Thresholds: DefaultThresholds(), SignalCooldownMinutes: 30, MaxConcurrentFetches: 3}
}

// Result is the outcome of one Scan call.
type Result struct {
	Snapshots  []model.IndicatorSnapshot
	Triggered  []model.TriggeredSignal
	DurationMS int64
}

// Scanner holds the cross-cycle baseline state: previous snapshot per symbol
// and the per-(symbol,kind) cooldown map. It survives for the engine's
// lifetime, not one cycle, and is owned by the orchestrator.
type Scanner struct {
	cfg       Config
	indicator IndicatorFunc
	prices    market.PriceSource
	logger    *logging.Logger

	mu         sync.Mutex
	prev       map[string]model.IndicatorSnapshot
	cooldowns  map[string]time.Time // key: symbol + "|" + kind
	calibrated bool
}

func New(cfg Config, indicator IndicatorFunc, prices market.PriceSource, logger *logging.Logger) *Scanner {
	return &Scanner{
		cfg:       cfg,
		indicator: indicator,
		prices:    prices,
		logger:    logger,
		prev:      make(map[string]model.IndicatorSnapshot),
		cooldowns: make(map[string]time.Time),
	}
}

// SymbolInput pairs a symbol with its tier and open-position state; the
// orchestrator supplies this so the scanner has no dependency on the store.
type SymbolInput struct {
	Symbol      string
	Tier        model.Tier
	HasPosition bool
	Position    *model.Position
}

// Scan fetches a snapshot for every symbol (bounded to cfg.MaxConcurrentFetches
// concurrent fetches), then diffs each against its stored baseline to
// produce triggers. The first call ever made on a Scanner is the calibration
// cycle: snapshots are computed and returned but no triggers are emitted.
func (s *Scanner) Scan(ctx context.Context, symbols []SymbolInput) Result {
	start := time.Now()

	type fetched struct {
		snapshot model.IndicatorSnapshot
		ok       bool
	}

	results := make([]fetched, len(symbols))
	sem := make(chan struct{}, s.cfg.MaxConcurrentFetches)
	var wg sync.WaitGroup

	for i, sym := range symbols {
		wg.Add(1)
		go func(i int, sym SymbolInput) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			snap, err := s.indicator(ctx, s.prices, sym.Symbol)
			if err != nil {
				if s.logger != nil {
					s.logger.Warn("snapshot fetch failed, skipping symbol this cycle", "symbol", sym.Symbol, "error", err)
				}
				results[i] = fetched{ok: false}
				return
			}
			results[i] = fetched{snapshot: snap, ok: true}
		}(i, sym)
	}
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	isCalibration := !s.calibrated
	var snapshots []model.IndicatorSnapshot
	var triggered []model.TriggeredSignal

	for i, r := range results {
		if !r.ok {
			continue
		}
		snapshots = append(snapshots, r.snapshot)

		sym := symbols[i]
		prev, hadPrev := s.prev[sym.Symbol]
		s.prev[sym.Symbol] = r.snapshot

		if isCalibration || !hadPrev {
			continue
		}

		kinds := detectTransitions(prev, r.snapshot, s.cfg.Thresholds)
		var surviving []model.TriggerKind
		for _, kind := range kinds {
			if s.onCooldown(sym.Symbol, kind) {
				continue
			}
			s.markFired(sym.Symbol, kind)
			surviving = append(surviving, kind)
		}
		if len(surviving) == 0 {
			continue
		}

		triggered = append(triggered, model.TriggeredSignal{
			Symbol:            sym.Symbol,
			Tier:              sym.Tier,
			Price:             r.snapshot.Price,
			Snapshot:          r.snapshot,
			ThresholdsCrossed: surviving,
			HasPosition:       sym.HasPosition,
			PositionSnapshot:  sym.Position,
		})
	}

	s.calibrated = true

	return Result{
		Snapshots:  snapshots,
		Triggered:  triggered,
		DurationMS: time.Since(start).Milliseconds(),
	}
}

func (s *Scanner) cooldownKey(symbol string, kind model.TriggerKind) string {
	return symbol + "|" + string(kind)
}

func (s *Scanner) onCooldown(symbol string, kind model.TriggerKind) bool {
	last, ok := s.cooldowns[s.cooldownKey(symbol, kind)]
	if !ok {
		return false
	}
	return time.Since(last) < time.Duration(s.cfg.SignalCooldownMinutes)*time.Minute
}

func (s *Scanner) markFired(symbol string, kind model.TriggerKind) {
	s.cooldowns[s.cooldownKey(symbol, kind)] = time.Now()
}

// detectTransitions compares two consecutive snapshots and returns every
// trigger kind whose condition newly became true.
func detectTransitions(prev, cur model.IndicatorSnapshot, th Thresholds) []model.TriggerKind {
	var out []model.TriggerKind

	if prev.RSIValue >= th.RSIOversold && cur.RSIValue < th.RSIOversold {
		out = append(out, model.TriggerRSIOversold)
	}
	if prev.RSIValue <= th.RSIOverbought && cur.RSIValue > th.RSIOverbought {
		out = append(out, model.TriggerRSIOverbought)
	}
	if cur.Crossover == model.CrossoverBullish && prev.Crossover != model.CrossoverBullish {
		out = append(out, model.TriggerMACDBullishCrossover)
	}
	if cur.Crossover == model.CrossoverBearish && prev.Crossover != model.CrossoverBearish {
		out = append(out, model.TriggerMACDBearishCrossover)
	}
	if cur.EMASignal == "BULLISH" && prev.EMASignal != "BULLISH" {
		out = append(out, model.TriggerEMABullishCrossover)
	}
	if cur.EMASignal == "BEARISH" && prev.EMASignal != "BEARISH" {
		out = append(out, model.TriggerEMABearishCrossover)
	}
	if prev.VolumeRatio < th.VolumeSpikeRatio && cur.VolumeRatio >= th.VolumeSpikeRatio {
		out = append(out, model.TriggerVolumeSpike)
	}
	if prev.BBWidth != model.BBNarrow && cur.BBWidth == model.BBNarrow {
		out = append(out, model.TriggerBBSqueeze)
	}
	if prev.BBPosition != model.BBLower && cur.BBPosition == model.BBLower {
		out = append(out, model.TriggerBBLowerTouch)
	}
	if prev.BBPosition != model.BBUpper && cur.BBPosition == model.BBUpper {
		out = append(out, model.TriggerBBUpperTouch)
	}
	if cur.Trend.Direction == model.TrendBullish && prev.Trend.Direction != model.TrendBullish {
		out = append(out, model.TriggerTrendTurnedBullish)
	}
	if cur.Trend.Direction == model.TrendBearish && prev.Trend.Direction != model.TrendBearish {
		out = append(out, model.TriggerTrendTurnedBearish)
	}

	return out
}
