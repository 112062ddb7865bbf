package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/koshedutech/candlewatch/internal/logging"
)

// LLMFastAdvisor is the FastAdvisor implementation backed by a cheap LLM
// call. Any JSON the model returns that fails to parse collapses to
// NoEscalateVerdict{Reason: "Parse error"} — it is never surfaced as an
// error to the Signal Filter.
type LLMFastAdvisor struct {
	client *llmClient
	logger *logging.Logger
}

func NewLLMFastAdvisor(cfg LLMConfig, logger *logging.Logger) *LLMFastAdvisor {
	return &LLMFastAdvisor{client: newLLMClient(cfg, logger), logger: logger}
}

const fastSystemPrompt = `You are a trading signal triage assistant. For each symbol in the batch,
decide whether its triggered indicators warrant escalation to a deeper review.
Reply with ONLY a JSON object mapping symbol to:
{"escalate": bool, "signal_type": "BUY"|"SELL"|"NONE", "strength": "STRONG"|"MODERATE"|"WEAK"|"TRAP", "confidence": 0..1, "reasons": ["..."]}`

type fastReplyEntry struct {
	Escalate   bool     `json:"escalate"`
	SignalType string   `json:"signal_type"`
	Strength   string   `json:"strength"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

func (a *LLMFastAdvisor) EvaluateBatch(ctx context.Context, inputs []FastAdvisorInput) (map[string]FastVerdict, error) {
	out := make(map[string]FastVerdict, len(inputs))
	if len(inputs) == 0 {
		return out, nil
	}

	var b strings.Builder
	for _, in := range inputs {
		fmt.Fprintf(&b, "Symbol: %s\nPrice: %.8f\nThresholds crossed: %v\n%s\n\n",
			in.Symbol, in.Price, in.ThresholdsCrossed, in.IndicatorSummary)
	}

	reply, err := a.client.complete(ctx, fastSystemPrompt, b.String())
	if err != nil {
		// TransientIO/PermanentIO from the advisor call itself: every
		// symbol in the batch gets the safe no-op verdict.
		for _, in := range inputs {
			out[in.Symbol] = FastVerdict{NoEscalate: &NoEscalateVerdict{Reason: "advisor unavailable: " + err.Error()}}
		}
		if a.logger != nil {
			a.logger.Warn("FastAdvisor call failed, treating batch as no-escalate", "error", err)
		}
		return out, nil
	}

	var parsed map[string]fastReplyEntry
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
		for _, in := range inputs {
			out[in.Symbol] = FastVerdict{NoEscalate: &NoEscalateVerdict{Reason: "Parse error"}}
		}
		if a.logger != nil {
			a.logger.Warn("FastAdvisor reply malformed, collapsing to no-escalate", "error", err)
		}
		return out, nil
	}

	for _, in := range inputs {
		entry, ok := parsed[in.Symbol]
		if !ok {
			out[in.Symbol] = FastVerdict{NoEscalate: &NoEscalateVerdict{Reason: "Parse error"}}
			continue
		}
		if !entry.Escalate {
			reason := "advisor did not escalate"
			if len(entry.Reasons) > 0 {
				reason = entry.Reasons[0]
			}
			out[in.Symbol] = FastVerdict{NoEscalate: &NoEscalateVerdict{Reason: reason}}
			continue
		}
		out[in.Symbol] = FastVerdict{Escalate: &EscalateVerdict{
			SignalType: SignalType(entry.SignalType),
			Strength:   Strength(entry.Strength),
			Confidence: entry.Confidence,
			Reasons:    entry.Reasons,
		}}
	}
	return out, nil
}

var _ FastAdvisor = (*LLMFastAdvisor)(nil)
