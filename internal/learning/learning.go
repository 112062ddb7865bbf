// Package learning is a read-only accessor over the learning rules a
// separate offline job writes: no rule generation or validation lives here,
// only a process-lifetime cache in front of the store so every cycle doesn't
// re-query rows that change on the order of hours, not minutes.
package learning

import (
	"context"
	"fmt"

	"github.com/koshedutech/candlewatch/internal/cache"
	"github.com/koshedutech/candlewatch/internal/store"
)

// Provider serves the top learning rules, formatted for inclusion in an
// advisor prompt, from a 1-hour TTL cache.
type Provider struct {
	topN  int
	cache *cache.LearningRules
}

func NewProvider(st store.Store, topN int) *Provider {
	p := &Provider{topN: topN}
	p.cache = cache.NewLearningRules(func(ctx context.Context) (interface{}, error) {
		return st.TopLearningRules(ctx, topN)
	})
	return p
}

// RuleStrings returns the cached top-N rules formatted one line per rule:
// "<symbol>: if <condition> then <action> (weight=<w>, n=<samples>)".
func (p *Provider) RuleStrings(ctx context.Context) ([]string, error) {
	v, err := p.cache.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load learning rules: %w", err)
	}
	rules := v.([]store.LearningRule)
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = fmt.Sprintf("%s: if %s then %s (weight=%.2f, n=%d)", r.Symbol, r.Condition, r.Action, r.Weight, r.SampleSize)
	}
	return out, nil
}

// Invalidate drops the cached rules, e.g. when the offline job signals a
// fresh batch is ready.
func (p *Provider) Invalidate() {
	p.cache.Invalidate()
}
