// Package signalfilter applies the pre- and post-advisor policy gates
// between the scanner's triggered signals and the decision maker: a pure
// policy layer that never places orders or mutates positions.
package signalfilter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/koshedutech/candlewatch/internal/advisor"
	"github.com/koshedutech/candlewatch/internal/model"
	"github.com/koshedutech/candlewatch/internal/store"
)

// Config tunes the filter's gates.
type Config struct {
	MaxConcurrentPositions int
	SonnetDedupMinutes     int
}

// SignalTimeSource answers when a symbol's escalated signal last fired, for
// the dedup gate.
type SignalTimeSource interface {
	LastSignalTime(ctx context.Context, symbol string) (time.Time, bool, error)
}

// PortfolioSource answers the current open-position count, for the capacity gate.
type PortfolioSource interface {
	OpenPositions(ctx context.Context) ([]model.Position, error)
}

// Filter implements the Signal Filter component.
type Filter struct {
	cfg       Config
	fast      advisor.FastAdvisor
	store     store.Store
	timeSrc   SignalTimeSource
	portfolio PortfolioSource
}

func New(cfg Config, fast advisor.FastAdvisor, st store.Store) *Filter {
	return &Filter{cfg: cfg, fast: fast, store: st, timeSrc: st, portfolio: st}
}

// Outcome is one signal's filter result, paired with its persisted row.
type Outcome struct {
	Signal     model.Signal
	Escalated  bool
	SkipReason string
}

// Run evaluates a cycle's triggered signals as one FastAdvisor batch, applies
// the escalation gates, and persists exactly one Signal row per input.
func (f *Filter) Run(ctx context.Context, triggered []model.TriggeredSignal) ([]Outcome, error) {
	if len(triggered) == 0 {
		return nil, nil
	}

	inputs := make([]advisor.FastAdvisorInput, len(triggered))
	for i, t := range triggered {
		inputs[i] = advisor.FastAdvisorInput{
			Symbol:            t.Symbol,
			Price:             t.Price,
			ThresholdsCrossed: crossedStrings(t.ThresholdsCrossed),
			IndicatorSummary:  summarize(t.Snapshot),
		}
	}

	verdicts, err := f.fast.EvaluateBatch(ctx, inputs)
	if err != nil {
		// FastAdvisor implementations are contractually never supposed to
		// return an error (malformed replies collapse internally), but
		// guard anyway: every symbol becomes a persisted no-escalate Signal.
		verdicts = map[string]advisor.FastVerdict{}
	}

	openCount := -1
	if f.portfolio != nil {
		if positions, err := f.portfolio.OpenPositions(ctx); err == nil {
			openCount = len(positions)
		}
	}

	out := make([]Outcome, 0, len(triggered))
	for _, t := range triggered {
		verdict, ok := verdicts[t.Symbol]
		if !ok {
			verdict = advisor.FastVerdict{NoEscalate: &advisor.NoEscalateVerdict{Reason: "advisor returned no verdict"}}
		}

		sig := model.Signal{
			Symbol:      t.Symbol,
			TriggeredBy: t.ThresholdsCrossed,
			Snapshot:    t.Snapshot,
			Outcome:     model.OutcomePending,
			CreatedAt:   time.Now().UTC(),
		}

		outcome := f.evaluate(ctx, t, verdict, openCount, &sig)

		if err := f.store.SaveSignal(ctx, &sig); err != nil {
			outcome.SkipReason = fmt.Sprintf("signal persisted with error: %v", err)
		}
		outcome.Signal = sig
		out = append(out, outcome)
	}

	return out, nil
}

func (f *Filter) evaluate(ctx context.Context, t model.TriggeredSignal, verdict advisor.FastVerdict, openCount int, sig *model.Signal) Outcome {
	if verdict.NoEscalate != nil {
		sig.SignalType = model.SignalNone
		sig.Strength = ""
		sig.Confidence = 0
		sig.Reasons = []string{verdict.NoEscalate.Reason}
		sig.Escalated = false
		return Outcome{Escalated: false, SkipReason: verdict.NoEscalate.Reason}
	}

	ev := verdict.Escalate
	sig.SignalType = model.SignalType(ev.SignalType)
	sig.Strength = model.SignalStrength(ev.Strength)
	sig.Confidence = ev.Confidence
	sig.Reasons = ev.Reasons

	// Gate 1: advisor escalate + strength + confidence floor.
	if !(ev.Strength == advisor.StrengthStrong || ev.Strength == advisor.StrengthModerate) || ev.Confidence < 0.60 {
		sig.Escalated = false
		return Outcome{Escalated: false, SkipReason: "advisor strength/confidence below escalation floor"}
	}

	// Gate 2: multi-trigger requirement, with the STRONG/high-confidence exception.
	strongException := ev.Strength == advisor.StrengthStrong && ev.Confidence >= 0.70
	if len(t.ThresholdsCrossed) < 2 && !strongException {
		sig.Escalated = false
		return Outcome{Escalated: false, SkipReason: "fewer than 2 triggers without a strong high-confidence exception"}
	}

	// Gate 3: SELL/PARTIAL_EXIT requires an open position.
	if (ev.SignalType == advisor.TypeSell) && !t.HasPosition {
		sig.Escalated = false
		return Outcome{Escalated: false, SkipReason: "sell verdict with no open position"}
	}

	// Gate 4: BUY requires portfolio capacity.
	if ev.SignalType == advisor.TypeBuy && openCount >= 0 && openCount >= f.cfg.MaxConcurrentPositions {
		sig.Escalated = false
		return Outcome{Escalated: false, SkipReason: "portfolio at max concurrent positions"}
	}

	// Gate 5: per-symbol dedup, bypassed for SELL when a position exists.
	if !(ev.SignalType == advisor.TypeSell && t.HasPosition) && f.timeSrc != nil {
		if last, ok, err := f.timeSrc.LastSignalTime(context.Background(), t.Symbol); err == nil && ok {
			elapsed := time.Since(last)
			if elapsed < time.Duration(f.cfg.SonnetDedupMinutes)*time.Minute {
				sig.Escalated = false
				return Outcome{Escalated: false, SkipReason: fmt.Sprintf("Sonnet evaluated %dm ago", int(elapsed.Minutes()))}
			}
		}
	}

	sig.Escalated = true
	return Outcome{Escalated: true}
}

func crossedStrings(kinds []model.TriggerKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func summarize(s model.IndicatorSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "price=%.8f rsi=%.1f crossover=%s ema=%s bb=%s/%s volume_ratio=%.2f trend=%s",
		s.Price, s.RSIValue, s.Crossover, s.EMASignal, s.BBPosition, s.BBWidth, s.VolumeRatio, s.Trend.Direction)
	return b.String()
}
