// Package exitscan independently re-examines open positions on a slower
// cadence than the entry scanner, scoring each for exit urgency from its
// current indicator snapshot and position state rather than from a
// transition.
package exitscan

import (
	"sync"
	"time"

	"github.com/koshedutech/candlewatch/internal/model"
)

// Config tunes the urgency rubric's thresholds and cooldown.
type Config struct {
	UrgencyThreshold  float64
	CriticalThreshold float64
	CooldownMinutes   int
}

func DefaultConfig() Config {
	return Config{UrgencyThreshold: 40, CriticalThreshold: 70, CooldownMinutes: 30}
}

// Candidate is one open position whose urgency score cleared the bar.
type Candidate struct {
	Position model.Position
	Score    float64
	Factors  []string
}

// Scanner holds the per-symbol exit cooldown, separate from the entry
// scanner's trigger cooldown map.
type Scanner struct {
	cfg Config

	mu        sync.Mutex
	cooldowns map[string]time.Time
}

func New(cfg Config) *Scanner {
	return &Scanner{cfg: cfg, cooldowns: make(map[string]time.Time)}
}

// CriticalThreshold returns the score above which a candidate is treated as
// critical severity (bypasses cooldown).
func (s *Scanner) CriticalThreshold() float64 {
	return s.cfg.CriticalThreshold
}

// Evaluate scores one open position against its latest snapshot.
func (s *Scanner) Evaluate(pos model.Position, snap model.IndicatorSnapshot) Candidate {
	score, factors := urgencyScore(pos, snap)
	return Candidate{Position: pos, Score: score, Factors: factors}
}

// Scan scores every open position and returns the ones that clear the
// urgency bar and are not blocked by cooldown (critical-severity scores
// bypass the cooldown).
func (s *Scanner) Scan(positions []model.Position, snapshots map[string]model.IndicatorSnapshot) []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Candidate
	for _, pos := range positions {
		snap, ok := snapshots[pos.Symbol]
		if !ok {
			continue
		}
		score, factors := urgencyScore(pos, snap)
		if score < s.cfg.UrgencyThreshold {
			continue
		}
		critical := score >= s.cfg.CriticalThreshold
		if !critical && s.onCooldown(pos.Symbol) {
			continue
		}
		out = append(out, Candidate{Position: pos, Score: score, Factors: factors})
	}
	return out
}

func (s *Scanner) onCooldown(symbol string) bool {
	last, ok := s.cooldowns[symbol]
	if !ok {
		return false
	}
	return time.Since(last) < time.Duration(s.cfg.CooldownMinutes)*time.Minute
}

// RecordFullExit stamps the per-symbol exit cooldown. Partial exits must not
// call this, so a follow-up evaluation can run again next cycle.
func (s *Scanner) RecordFullExit(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns[symbol] = time.Now()
}

// Status is a dashboard-facing snapshot of the exit scanner's current
// configuration and active cooldowns.
type Status struct {
	UrgencyThreshold  float64   `json:"urgency_threshold"`
	CriticalThreshold float64   `json:"critical_threshold"`
	CooldownMinutes   int       `json:"cooldown_minutes"`
	SymbolsOnCooldown []string  `json:"symbols_on_cooldown"`
}

// Status reports the scanner's current thresholds and which symbols are
// presently within their post-exit cooldown window.
func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Status{
		UrgencyThreshold:  s.cfg.UrgencyThreshold,
		CriticalThreshold: s.cfg.CriticalThreshold,
		CooldownMinutes:   s.cfg.CooldownMinutes,
	}
	for symbol := range s.cooldowns {
		if s.onCooldown(symbol) {
			out.SymbolsOnCooldown = append(out.SymbolsOnCooldown, symbol)
		}
	}
	return out
}

// urgencyScore implements the additive scoring rubric: RSI extremity, P&L
// magnitude, drawdown from peak gain, hold duration, Bollinger position,
// MACD/trend reversal signals.
func urgencyScore(pos model.Position, snap model.IndicatorSnapshot) (float64, []string) {
	var score float64
	var factors []string

	add := func(points float64, reason string) {
		score += points
		factors = append(factors, reason)
	}

	switch {
	case snap.RSIValue > 85:
		add(30, "RSI > 85")
	case snap.RSIValue > 75:
		add(15, "RSI 75-85")
	case snap.RSIValue > 70:
		add(5, "RSI 70-75")
	}

	pnlPercent := 0.0
	if pos.AvgEntryPrice > 0 {
		pnlPercent = (snap.Price - pos.AvgEntryPrice) / pos.AvgEntryPrice * 100
	}
	switch {
	case pnlPercent > 20:
		add(25, "P&L > 20%")
	case pnlPercent > 10:
		add(15, "P&L 10-20%")
	case pnlPercent > 5:
		add(10, "P&L 5-10%")
	}

	drawdownFromPeak := pos.MaxUnrealizedGainPercent - pnlPercent
	if pos.MaxUnrealizedGainPercent > 3 {
		switch {
		case drawdownFromPeak > 10:
			add(30, "drawdown from peak > 10%")
		case drawdownFromPeak > 5:
			add(20, "drawdown from peak 5-10%")
		case drawdownFromPeak > 3:
			add(10, "drawdown from peak 3-5%")
		}
	}

	heldHours := time.Since(pos.EntryTime).Hours()
	switch {
	case heldHours > 48:
		add(15, "held > 48h")
	case heldHours > 24:
		add(10, "held 24-48h")
	case heldHours > 12:
		add(5, "held 12-24h")
	}

	if snap.BBPosition == model.BBUpper {
		add(10, "BB position = UPPER")
	}

	switch snap.Crossover {
	case model.CrossoverBearish:
		add(15, "MACD crossover = BEARISH")
	case model.CrossoverBearishTrend:
		add(5, "MACD crossover = BEARISH_TREND")
	}

	if snap.Trend.Direction == model.TrendBearish {
		add(10, "trend = BEARISH")
	}

	switch {
	case pnlPercent < -10:
		add(20, "P&L < -10%")
	case pnlPercent < -5:
		add(10, "P&L -5% to -10%")
	}

	return score, factors
}
