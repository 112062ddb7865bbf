// Package decision assembles the rich per-signal context bundle (technicals,
// news, portfolio state, learned rules), invokes the DeepAdvisor, and applies
// confidence-threshold downgrading before a decision is persisted.
package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/koshedutech/candlewatch/internal/advisor"
	"github.com/koshedutech/candlewatch/internal/model"
	"github.com/koshedutech/candlewatch/internal/news"
	"github.com/koshedutech/candlewatch/internal/store"
)

// ConfidenceThresholds are the minimum confidences below which an advisor
// action is downgraded to a safe no-op.
type ConfidenceThresholds struct {
	MinEntry float64
	MinExit  float64
	MinDCA   float64
}

func DefaultConfidenceThresholds() ConfidenceThresholds {
	return ConfidenceThresholds{MinEntry: 0.65, MinExit: 0.55, MinDCA: 0.60}
}

// Maker is the Decision Maker component.
type Maker struct {
	deep       advisor.DeepAdvisor
	store      store.Store
	news       news.Source
	thresholds ConfidenceThresholds
}

func New(deep advisor.DeepAdvisor, st store.Store, newsSrc news.Source, thresholds ConfidenceThresholds) *Maker {
	return &Maker{deep: deep, store: st, news: newsSrc, thresholds: thresholds}
}

// Input bundles one surviving signal with the pieces the cycle already
// prefetched once (portfolio snapshot, learned rules), so Decide does not
// refetch them per symbol.
type Input struct {
	Signal     model.Signal
	Triggered  model.TriggeredSignal
	CoinName   string
	Portfolio  advisor.PortfolioContext
	LearnedRules []string
}

// Decide builds the context bundle, calls the DeepAdvisor, downgrades a
// low-confidence verdict, and persists exactly one Decision row.
func (m *Maker) Decide(ctx context.Context, in Input) (*model.Decision, error) {
	itemCount := news.ItemCountForTier(int(in.Triggered.Tier))
	newsText, err := m.news.Get(ctx, in.Signal.Symbol, in.CoinName, itemCount)
	if err != nil || newsText == "" {
		newsText = "No recent news available."
	}

	indicatorSummary := summarizeIndicators(in.Triggered.Snapshot)

	deepCtx := advisor.DeepContext{
		Symbol:           in.Signal.Symbol,
		IndicatorSummary: indicatorSummary,
		NewsContext:      newsText,
		Portfolio:        in.Portfolio,
		LearnedRules:     in.LearnedRules,
	}
	deepCtx.Prompt = renderPrompt(deepCtx)

	reply, err := m.deep.Evaluate(ctx, deepCtx)
	if err != nil {
		// DeepAdvisor implementations must not return an error (malformed
		// replies collapse to Pass internally), but guard defensively.
		reply = advisor.DeepDecision{Pass: &advisor.PassDecision{Reasoning: "advisor call failed: " + err.Error()}}
	}

	d := &model.Decision{
		ID:             uuid.NewString(),
		SignalID:       in.Signal.ID,
		Symbol:         in.Signal.Symbol,
		PromptSnapshot: deepCtx.Prompt,
		Outcome:        model.OutcomePending,
		CreatedAt:      time.Now().UTC(),
	}

	m.applyVerdict(d, reply)

	if err := m.store.SaveDecision(ctx, d); err != nil {
		return d, fmt.Errorf("persist decision: %w", err)
	}
	return d, nil
}

func (m *Maker) applyVerdict(d *model.Decision, reply advisor.DeepDecision) {
	switch {
	case reply.Buy != nil:
		b := reply.Buy
		d.Action = model.ActionBuy
		d.Confidence = b.Confidence
		d.Reasoning = b.Reasoning
		d.RiskAssessment = b.RiskAssessment
		d.RecommendedSizeUSD = b.SizeUSD
		if b.Confidence < m.thresholds.MinEntry {
			d.Action = model.ActionPass
			d.Reasoning = appendNote(b.Reasoning, fmt.Sprintf("downgraded: confidence %.2f below entry threshold %.2f", b.Confidence, m.thresholds.MinEntry))
		}
	case reply.Sell != nil:
		s := reply.Sell
		d.Action = model.ActionSell
		d.Confidence = s.Confidence
		d.Reasoning = s.Reasoning
		d.RiskAssessment = s.RiskAssessment
		d.ExitPercent = 100
		if s.Confidence < m.thresholds.MinExit {
			d.Action = model.ActionHold
			d.Reasoning = appendNote(s.Reasoning, fmt.Sprintf("downgraded: confidence %.2f below exit threshold %.2f", s.Confidence, m.thresholds.MinExit))
		}
	case reply.DCA != nil:
		c := reply.DCA
		d.Action = model.ActionDCA
		d.Confidence = c.Confidence
		d.Reasoning = c.Reasoning
		d.RiskAssessment = c.RiskAssessment
		d.RecommendedSizeUSD = c.SizeUSD
		if c.Confidence < m.thresholds.MinDCA {
			d.Action = model.ActionHold
			d.Reasoning = appendNote(c.Reasoning, fmt.Sprintf("downgraded: confidence %.2f below DCA threshold %.2f", c.Confidence, m.thresholds.MinDCA))
		}
	case reply.PartialExit != nil:
		p := reply.PartialExit
		d.Action = model.ActionPartialExit
		d.Confidence = p.Confidence
		d.Reasoning = p.Reasoning
		d.RiskAssessment = p.RiskAssessment
		d.ExitPercent = p.ExitPercent
		if p.Confidence < m.thresholds.MinExit {
			d.Action = model.ActionHold
			d.Reasoning = appendNote(p.Reasoning, fmt.Sprintf("downgraded: confidence %.2f below exit threshold %.2f", p.Confidence, m.thresholds.MinExit))
		}
	case reply.Hold != nil:
		d.Action = model.ActionHold
		d.Reasoning = reply.Hold.Reasoning
	default:
		d.Action = model.ActionPass
		if reply.Pass != nil {
			d.Reasoning = reply.Pass.Reasoning
		}
	}
}

func appendNote(reasoning, note string) string {
	if reasoning == "" {
		return note
	}
	return reasoning + " | " + note
}

func summarizeIndicators(s model.IndicatorSnapshot) string {
	return fmt.Sprintf(
		"price=%.8f rsi=%.1f(%s) macd=%.4f/%s ema9=%.4f ema21=%.4f bb=%s/%s volume_ratio=%.2f trend=%s(%.2f)",
		s.Price, s.RSIValue, s.RSISignal, s.MACDValue, s.Crossover, s.EMA9, s.EMA21, s.BBPosition, s.BBWidth, s.VolumeRatio, s.Trend.Direction, s.Trend.Strength,
	)
}

func renderPrompt(c advisor.DeepContext) string {
	return fmt.Sprintf(
		"symbol=%s\nindicators: %s\nnews: %s\nportfolio: open=%d/%d invested=%.2f available=%.2f realized_pnl=%.2f win_rate=%.1f circuit_breaker=%v\nlearned_rules: %v\n",
		c.Symbol, c.IndicatorSummary, c.NewsContext,
		c.Portfolio.OpenCount, c.Portfolio.MaxConcurrent, c.Portfolio.InvestedUSD, c.Portfolio.AvailableCapitalUSD,
		c.Portfolio.RealizedPnL, c.Portfolio.WinRate, c.Portfolio.CircuitBreakerActive, c.LearnedRules,
	)
}
