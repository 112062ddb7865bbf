package advisor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/koshedutech/candlewatch/internal/logging"
)

// LLMDeepAdvisor is the DeepAdvisor implementation backed by an expensive,
// context-rich LLM call. A malformed reply collapses to PassDecision with a
// diagnostic reasoning string, never an error past this boundary.
type LLMDeepAdvisor struct {
	client *llmClient
	logger *logging.Logger
}

func NewLLMDeepAdvisor(cfg LLMConfig, logger *logging.Logger) *LLMDeepAdvisor {
	return &LLMDeepAdvisor{client: newLLMClient(cfg, logger), logger: logger}
}

const deepSystemPrompt = `You are a senior crypto position manager. Given the context below, decide the
single best action for this symbol. Reply with ONLY a JSON object:
{"action": "BUY"|"SELL"|"DCA"|"PARTIAL_EXIT"|"HOLD"|"PASS"|"IGNORE",
 "confidence": 0..1, "size_usd": number, "exit_percent": number,
 "reasoning": "...", "risk_assessment": "..."}`

type deepReply struct {
	Action         string  `json:"action"`
	Confidence     float64 `json:"confidence"`
	SizeUSD        float64 `json:"size_usd"`
	ExitPercent    float64 `json:"exit_percent"`
	Reasoning      string  `json:"reasoning"`
	RiskAssessment string  `json:"risk_assessment"`
}

func (a *LLMDeepAdvisor) Evaluate(ctx context.Context, c DeepContext) (DeepDecision, error) {
	user := fmt.Sprintf(
		"Symbol: %s\n\nIndicators:\n%s\n\nNews:\n%s\n\nPortfolio: open=%d/%d invested=%.2f available=%.2f unrealized=%.2f realized=%.2f winrate=%.1f%% circuit_breaker_active=%v\n\nLearned rules:\n%v\n",
		c.Symbol, c.IndicatorSummary, c.NewsContext,
		c.Portfolio.OpenCount, c.Portfolio.MaxConcurrent, c.Portfolio.InvestedUSD, c.Portfolio.AvailableCapitalUSD,
		c.Portfolio.UnrealizedPnL, c.Portfolio.RealizedPnL, c.Portfolio.WinRate, c.Portfolio.CircuitBreakerActive,
		c.LearnedRules,
	)

	reply, err := a.client.complete(ctx, deepSystemPrompt, user)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn("DeepAdvisor call failed, treating as no-op", "symbol", c.Symbol, "error", err)
		}
		return DeepDecision{Pass: &PassDecision{Reasoning: "advisor unavailable: " + err.Error()}}, nil
	}

	var parsed deepReply
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
		if a.logger != nil {
			a.logger.Warn("DeepAdvisor reply malformed, collapsing to PASS", "symbol", c.Symbol, "error", err)
		}
		return DeepDecision{Pass: &PassDecision{Reasoning: "Parse error"}}, nil
	}

	switch parsed.Action {
	case "BUY":
		return DeepDecision{Buy: &BuyDecision{Confidence: parsed.Confidence, SizeUSD: parsed.SizeUSD, Reasoning: parsed.Reasoning, RiskAssessment: parsed.RiskAssessment}}, nil
	case "SELL":
		return DeepDecision{Sell: &SellDecision{Confidence: parsed.Confidence, Reasoning: parsed.Reasoning, RiskAssessment: parsed.RiskAssessment}}, nil
	case "DCA":
		return DeepDecision{DCA: &DCADecision{Confidence: parsed.Confidence, SizeUSD: parsed.SizeUSD, Reasoning: parsed.Reasoning, RiskAssessment: parsed.RiskAssessment}}, nil
	case "PARTIAL_EXIT":
		return DeepDecision{PartialExit: &PartialExitDecision{Confidence: parsed.Confidence, ExitPercent: parsed.ExitPercent, Reasoning: parsed.Reasoning, RiskAssessment: parsed.RiskAssessment}}, nil
	case "HOLD":
		return DeepDecision{Hold: &HoldDecision{Reasoning: parsed.Reasoning}}, nil
	default:
		return DeepDecision{Pass: &PassDecision{Reasoning: parsed.Reasoning}}, nil
	}
}

var _ DeepAdvisor = (*LLMDeepAdvisor)(nil)
