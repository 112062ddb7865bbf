package executor

import "github.com/koshedutech/candlewatch/internal/model"

// TierParams is the risk-class sizing and exit-ladder table keyed by symbol
// tier: position size caps, stop-loss distance, and the three take-profit
// levels (expressed as a multiple of average entry price).
type TierParams struct {
	BasePositionUSD float64
	MaxPositionUSD  float64
	StopPercent     float64 // e.g. 0.15 = stop at entry*0.85
	TP1Percent      float64 // e.g. 0.05 = tp1 at avg*1.05
	TP2Percent      float64
	TP3Percent      float64
	DCAAllowed      bool
}

// DefaultTierTable mirrors the conservative-to-speculative progression named
// in the glossary: larger caps and wider stops for blue-chip tiers, smaller
// caps, tighter stops and higher take-profit levels for speculative ones,
// with DCA disabled for tier 4.
func DefaultTierTable() map[model.Tier]TierParams {
	return map[model.Tier]TierParams{
		model.Tier1: {BasePositionUSD: 500, MaxPositionUSD: 1500, StopPercent: 0.15, TP1Percent: 0.05, TP2Percent: 0.08, TP3Percent: 0.12, DCAAllowed: true},
		model.Tier2: {BasePositionUSD: 300, MaxPositionUSD: 900, StopPercent: 0.10, TP1Percent: 0.05, TP2Percent: 0.08, TP3Percent: 0.12, DCAAllowed: true},
		model.Tier3: {BasePositionUSD: 150, MaxPositionUSD: 450, StopPercent: 0.08, TP1Percent: 0.06, TP2Percent: 0.10, TP3Percent: 0.15, DCAAllowed: true},
		model.Tier4: {BasePositionUSD: 75, MaxPositionUSD: 225, StopPercent: 0.06, TP1Percent: 0.08, TP2Percent: 0.15, TP3Percent: 0.25, DCAAllowed: false},
	}
}
