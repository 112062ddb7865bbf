// Package orchestrator runs the fixed-cadence cycle loop that sequences the
// Risk Supervisor, Scanner, Signal Filter, Decision Maker, Executor, and Exit
// Scanner, the way a single master goroutine drives a pipeline rather than
// each stage scheduling itself.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koshedutech/candlewatch/internal/advisor"
	"github.com/koshedutech/candlewatch/internal/cache"
	"github.com/koshedutech/candlewatch/internal/decision"
	"github.com/koshedutech/candlewatch/internal/executor"
	"github.com/koshedutech/candlewatch/internal/exitscan"
	"github.com/koshedutech/candlewatch/internal/learning"
	"github.com/koshedutech/candlewatch/internal/logging"
	"github.com/koshedutech/candlewatch/internal/metrics"
	"github.com/koshedutech/candlewatch/internal/model"
	"github.com/koshedutech/candlewatch/internal/risk"
	"github.com/koshedutech/candlewatch/internal/scanner"
	"github.com/koshedutech/candlewatch/internal/signalfilter"
	"github.com/koshedutech/candlewatch/internal/store"
)

// Config tunes cycle cadence and the pieces derived from the configuration
// options (tier table aside, which lives in executor.TierParams).
type Config struct {
	CycleInterval          time.Duration
	ExitScanEnabled         bool
	ExitScanIntervalCycles int
	SummaryInterval        time.Duration
	TotalCapitalUSD        float64
	MaxConcurrentPositions int
}

func DefaultConfig() Config {
	return Config{
		CycleInterval:          5 * time.Minute,
		ExitScanEnabled:         true,
		ExitScanIntervalCycles: 3,
		SummaryInterval:        time.Hour,
		TotalCapitalUSD:        10000,
		MaxConcurrentPositions: 10,
	}
}

// Engine wires the per-cycle components together and drives the ticker loop.
type Engine struct {
	cfg Config

	store       store.Store
	scan        *scanner.Scanner
	filter      *signalfilter.Filter
	maker       *decision.Maker
	exec        *executor.Executor
	exitScanner *exitscan.Scanner
	riskSup     *risk.Supervisor
	rules       *learning.Provider
	logger      *logging.Logger

	mu            sync.Mutex
	portfolioCache *cache.Portfolio
	cycleCount    int
	lastSummaryAt time.Time
	paused        bool
	pauseReason   string
}

func New(cfg Config, st store.Store, scan *scanner.Scanner, filter *signalfilter.Filter, maker *decision.Maker, exec *executor.Executor, exitScanner *exitscan.Scanner, riskSup *risk.Supervisor, rules *learning.Provider, logger *logging.Logger) *Engine {
	return &Engine{
		cfg: cfg, store: st, scan: scan, filter: filter, maker: maker, exec: exec,
		exitScanner: exitScanner, riskSup: riskSup, rules: rules, logger: logger,
		lastSummaryAt: time.Now(),
	}
}

// OpenCount and AvailableCapitalUSD let Engine itself serve as the Executor's
// PortfolioGate, backed by the cycle-scoped portfolio cache.
func (e *Engine) OpenCount(ctx context.Context) (int, error) {
	summary, err := e.portfolioSummary(ctx)
	return summary.OpenCount, err
}

func (e *Engine) AvailableCapitalUSD(ctx context.Context) (float64, error) {
	summary, err := e.portfolioSummary(ctx)
	return summary.AvailableCapitalUSD, err
}

func (e *Engine) portfolioSummary(ctx context.Context) (model.PortfolioSummary, error) {
	e.mu.Lock()
	pc := e.portfolioCache
	e.mu.Unlock()
	if pc == nil {
		return e.store.PortfolioSummary(ctx, e.cfg.MaxConcurrentPositions, e.cfg.TotalCapitalUSD)
	}
	v, err := pc.Get(ctx)
	if err != nil {
		return model.PortfolioSummary{}, err
	}
	return v.(model.PortfolioSummary), nil
}

// advisorPortfolioContext builds the advisor-facing portfolio snapshot from
// the cycle-scoped cache.
func (e *Engine) advisorPortfolioContext(ctx context.Context) (advisor.PortfolioContext, error) {
	summary, err := e.portfolioSummary(ctx)
	if err != nil {
		return advisor.PortfolioContext{}, err
	}
	return advisor.PortfolioContext{
		OpenCount:            summary.OpenCount,
		MaxConcurrent:        summary.MaxConcurrent,
		InvestedUSD:          summary.InvestedUSD,
		AvailableCapitalUSD:  summary.AvailableCapitalUSD,
		UnrealizedPnL:        summary.UnrealizedPnL,
		RealizedPnL:          summary.RealizedPnL,
		WinRate:              summary.WinRate,
		CircuitBreakerActive: summary.CircuitBreakerActive,
	}, nil
}

// PortfolioSummary exposes the same cycle-scoped (or, outside a cycle,
// direct) summary the Decision Maker and Risk Supervisor consult, for the
// dashboard's get_portfolio_summary action.
func (e *Engine) PortfolioSummary(ctx context.Context) (model.PortfolioSummary, error) {
	return e.portfolioSummary(ctx)
}

// ExitScannerStatus exposes the exit scanner's current thresholds and active
// cooldowns for the dashboard's get_exit_scanner_status action.
func (e *Engine) ExitScannerStatus() exitscan.Status {
	return e.exitScanner.Status()
}

// UpdateCapitalSettings changes the total capital and max-concurrent-position
// figures the Engine uses for its own portfolio accounting and the advisor's
// portfolio context. It does not retroactively resize the Executor's or Risk
// Supervisor's own copies of these figures — those are fixed at startup — so
// this only takes effect for cycle-accounting purposes, not position-sizing
// caps.
func (e *Engine) UpdateCapitalSettings(totalCapitalUSD float64, maxConcurrentPositions int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if totalCapitalUSD > 0 {
		e.cfg.TotalCapitalUSD = totalCapitalUSD
	}
	if maxConcurrentPositions > 0 {
		e.cfg.MaxConcurrentPositions = maxConcurrentPositions
	}
	if e.portfolioCache != nil {
		e.portfolioCache.Invalidate()
	}
}

// Pause stops new cycles from running starting with the next tick; a cycle
// already in flight runs to completion. Reason is surfaced by Paused and
// logged for operator visibility.
func (e *Engine) Pause(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	e.pauseReason = reason
}

// Resume clears a prior Pause, letting the next tick run a cycle again.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	e.pauseReason = ""
}

// Paused reports whether the engine is currently paused and why.
func (e *Engine) Paused() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused, e.pauseReason
}

// ClosePosition manually exits the open position for symbol at market,
// bypassing signal generation and the Decision Maker — the path the
// dashboard's close_position/close_all_positions actions use.
func (e *Engine) ClosePosition(ctx context.Context, symbol, justification string) (executor.Outcome, error) {
	pos, err := e.store.OpenPosition(ctx, symbol)
	if err != nil {
		return executor.Outcome{}, fmt.Errorf("check open position: %w", err)
	}
	if pos == nil {
		return executor.Outcome{Executed: false, Reason: "no open position for " + symbol}, nil
	}
	d := &model.Decision{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		Action:         model.ActionSell,
		Reasoning:      "manual close: " + justification,
		ExitPercent:    100,
		CreatedAt:      time.Now().UTC(),
	}
	outcome, err := e.exec.Execute(ctx, d, pos.Tier, symbol)
	if err != nil {
		return executor.Outcome{}, err
	}
	if err := e.store.SaveDecision(ctx, d); err != nil {
		e.logger.Error("manual close decision persist failed", "symbol", symbol, "error", err)
	}
	if outcome.Executed {
		e.mu.Lock()
		if e.portfolioCache != nil {
			e.portfolioCache.Invalidate()
		}
		e.mu.Unlock()
	}
	return outcome, nil
}

// AnalyzePosition runs a fresh scan and a DeepAdvisor evaluation for symbol's
// open position on demand, the way the dashboard's analyze_position action
// wants an up-to-date opinion without waiting for the next cycle. The
// resulting Decision is persisted (for the learning job's audit trail) but
// never executed — the operator decides what to do with it.
func (e *Engine) AnalyzePosition(ctx context.Context, symbol string) (*model.Decision, error) {
	pos, err := e.store.OpenPosition(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("check open position: %w", err)
	}
	if pos == nil {
		return nil, fmt.Errorf("no open position for %s", symbol)
	}

	result := e.scan.Scan(ctx, []scanner.SymbolInput{{Symbol: symbol, Tier: pos.Tier, HasPosition: true, Position: pos}})
	if len(result.Snapshots) == 0 {
		return nil, fmt.Errorf("no indicator snapshot produced for %s", symbol)
	}
	snap := result.Snapshots[0]

	sig := model.Signal{
		ID: uuid.NewString(), Symbol: symbol, Snapshot: snap,
		SignalType: model.SignalNone, Strength: model.StrengthModerate,
		Escalated: true, Outcome: model.OutcomePending, CreatedAt: time.Now().UTC(),
	}
	if err := e.store.SaveSignal(ctx, &sig); err != nil {
		return nil, fmt.Errorf("persist analysis signal: %w", err)
	}

	triggered := model.TriggeredSignal{Symbol: symbol, Tier: pos.Tier, Price: snap.Price, Snapshot: snap, HasPosition: true, PositionSnapshot: pos}
	portfolioCtx, err := e.advisorPortfolioContext(ctx)
	if err != nil {
		return nil, err
	}
	rules, _ := e.rules.RuleStrings(ctx)

	return e.maker.Decide(ctx, decision.Input{Signal: sig, Triggered: triggered, CoinName: symbol, Portfolio: portfolioCtx, LearnedRules: rules})
}

// Run drives the fixed-cadence ticker loop until ctx is cancelled (SIGTERM/
// SIGINT upstream). A cycle that overruns the interval causes the next tick
// to be skipped, never queued — time.Ticker drops ticks on its own when the
// receiver is busy.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	e.logger.Info("orchestrator started", "cycle_interval", e.cfg.CycleInterval.String())

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("orchestrator shutting down, letting in-flight cycle finish")
			return nil
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

func (e *Engine) runCycle(ctx context.Context) {
	start := time.Now()
	e.mu.Lock()
	if e.paused {
		reason := e.pauseReason
		e.mu.Unlock()
		e.logger.Info("cycle skipped, trading paused", "reason", reason)
		return
	}
	e.cycleCount++
	cycleNum := e.cycleCount
	e.mu.Unlock()

	log := e.logger.WithField("cycle", cycleNum)

	portfolioCache := cache.NewPortfolio(func(ctx context.Context) (interface{}, error) {
		return e.store.PortfolioSummary(ctx, e.cfg.MaxConcurrentPositions, e.cfg.TotalCapitalUSD)
	})
	e.mu.Lock()
	e.portfolioCache = portfolioCache
	e.mu.Unlock()

	gate, err := e.riskSup.CheckCycle(ctx)
	if err != nil {
		log.Error("risk gate check failed", "error", err)
		return
	}
	if !gate.Proceed {
		log.Info("cycle skipped by risk gate", "reason", gate.Reason)
		return
	}

	symbols, err := e.store.ActiveSymbols(ctx)
	if err != nil {
		log.Error("load active symbols failed", "error", err)
		return
	}

	openPositions, err := e.store.OpenPositions(ctx)
	if err != nil {
		log.Error("load open positions failed", "error", err)
		return
	}
	posBySymbol := make(map[string]model.Position, len(openPositions))
	for _, p := range openPositions {
		posBySymbol[p.Symbol] = p
	}

	inputs := make([]scanner.SymbolInput, 0, len(symbols))
	for _, sym := range symbols {
		if !sym.Active {
			continue
		}
		in := scanner.SymbolInput{Symbol: sym.Code, Tier: sym.Tier}
		if pos, ok := posBySymbol[sym.Code]; ok {
			p := pos
			in.HasPosition = true
			in.Position = &p
		}
		inputs = append(inputs, in)
	}

	result := e.scan.Scan(ctx, inputs)
	if err := e.store.SaveSnapshots(ctx, result.Snapshots); err != nil {
		log.Error("save snapshots failed", "error", err)
	}

	outcomes, err := e.filter.Run(ctx, result.Triggered)
	if err != nil {
		log.Error("signal filter failed", "error", err)
		return
	}

	triggeredBySymbol := make(map[string]model.TriggeredSignal, len(result.Triggered))
	for _, t := range result.Triggered {
		triggeredBySymbol[t.Symbol] = t
	}
	snapshotBySymbol := make(map[string]model.IndicatorSnapshot, len(result.Snapshots))
	for _, s := range result.Snapshots {
		snapshotBySymbol[s.Symbol] = s
	}

	portfolioCtx, _ := e.advisorPortfolioContext(ctx)
	rules, _ := e.rules.RuleStrings(ctx)

	// DeepAdvisor calls for surviving escalations run concurrently; Executor
	// accounting below stays single-threaded so portfolio-capacity checks see
	// already-executed BUYs earlier in the same cycle.
	type escalation struct {
		outcome  signalfilter.Outcome
		decided  *model.Decision
	}
	var escalated []signalfilter.Outcome
	for _, o := range outcomes {
		if o.Escalated {
			escalated = append(escalated, o)
		}
	}

	decided := make([]escalation, len(escalated))
	var wg sync.WaitGroup
	for i, o := range escalated {
		wg.Add(1)
		go func(i int, o signalfilter.Outcome) {
			defer wg.Done()
			t := triggeredBySymbol[o.Signal.Symbol]
			d, err := e.maker.Decide(ctx, decision.Input{
				Signal: o.Signal, Triggered: t, CoinName: o.Signal.Symbol,
				Portfolio: portfolioCtx, LearnedRules: rules,
			})
			if err != nil {
				log.Error("decision failed", "symbol", o.Signal.Symbol, "error", err)
				return
			}
			decided[i] = escalation{outcome: o, decided: d}
		}(i, o)
	}
	wg.Wait()

	for _, e2 := range decided {
		if e2.decided == nil {
			continue
		}
		metrics.RecordDecision(string(e2.decided.Action))
		t := triggeredBySymbol[e2.outcome.Signal.Symbol]
		outcome, err := e.exec.Execute(ctx, e2.decided, t.Tier, e2.outcome.Signal.Symbol)
		if err != nil {
			log.Error("execute failed", "symbol", e2.outcome.Signal.Symbol, "error", err)
			continue
		}
		metrics.RecordExecution(outcome.Executed)
		if outcome.Executed {
			portfolioCache.Invalidate()
		}
	}

	if e.cfg.ExitScanEnabled && cycleNum%e.cfg.ExitScanIntervalCycles == 0 {
		e.runExitScan(ctx, openPositions, snapshotBySymbol, portfolioCtx, rules, portfolioCache)
	}

	if time.Since(e.lastSummaryAt) >= e.cfg.SummaryInterval {
		e.emitHourlySummary(ctx, portfolioCtx)
		e.lastSummaryAt = time.Now()
	}

	metrics.ObserveCycle(time.Since(start), len(result.Triggered), len(escalated))
	metrics.SetPortfolioState(portfolioCtx.OpenCount, portfolioCtx.CircuitBreakerActive)

	log.Info("cycle complete", "duration_ms", time.Since(start).Milliseconds(),
		"symbols", len(inputs), "triggered", len(result.Triggered), "escalated", len(escalated))
}

func (e *Engine) runExitScan(ctx context.Context, positions []model.Position, snapshotBySymbol map[string]model.IndicatorSnapshot, portfolioCtx advisor.PortfolioContext, rules []string, portfolioCache *cache.Portfolio) {
	candidates := e.exitScanner.Scan(positions, snapshotBySymbol)
	for _, c := range candidates {
		snap := snapshotBySymbol[c.Position.Symbol]

		strength := model.StrengthModerate
		if c.Score >= e.exitScanner.CriticalThreshold() {
			strength = model.StrengthStrong
		}
		confidence := c.Score / 100
		if confidence > 1 {
			confidence = 1
		}
		sig := model.Signal{
			ID:          uuid.NewString(),
			Symbol:      c.Position.Symbol,
			Snapshot:    snap,
			SignalType:  model.SignalSell,
			Strength:    strength,
			Confidence:  confidence,
			Reasons:     c.Factors,
			Escalated:   true,
			Outcome:     model.OutcomePending,
			CreatedAt:   time.Now().UTC(),
		}
		if err := e.store.SaveSignal(ctx, &sig); err != nil {
			e.logger.Error("exit scan signal persist failed", "symbol", c.Position.Symbol, "error", err)
			continue
		}

		pos := c.Position
		triggered := model.TriggeredSignal{
			Symbol: c.Position.Symbol, Tier: c.Position.Tier, Price: snap.Price,
			Snapshot: snap, HasPosition: true, PositionSnapshot: &pos,
		}

		d, err := e.maker.Decide(ctx, decision.Input{
			Signal: sig, Triggered: triggered, CoinName: c.Position.Symbol,
			Portfolio: portfolioCtx, LearnedRules: rules,
		})
		if err != nil {
			e.logger.Error("exit scan decision failed", "symbol", c.Position.Symbol, "error", err)
			continue
		}
		metrics.RecordDecision(string(d.Action))

		outcome, err := e.exec.Execute(ctx, d, c.Position.Tier, c.Position.Symbol)
		if err != nil {
			e.logger.Error("exit scan execute failed", "symbol", c.Position.Symbol, "error", err)
			continue
		}
		metrics.RecordExecution(outcome.Executed)
		if !outcome.Executed {
			continue
		}
		portfolioCache.Invalidate()

		fullyClosed := d.Action == model.ActionSell || (d.Action == model.ActionPartialExit && d.ExitPercent >= 99)
		if fullyClosed {
			e.exitScanner.RecordFullExit(c.Position.Symbol)
		}

		if err := e.store.EnqueueEvent(ctx, &model.TradeEvent{
			ID: uuid.NewString(), EventType: model.EventExitScannerAction, Symbol: c.Position.Symbol,
			Data: map[string]interface{}{"score": c.Score, "factors": c.Factors, "action": d.Action},
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			e.logger.Error("exit scan event enqueue failed", "symbol", c.Position.Symbol, "error", err)
		}
	}
}

func (e *Engine) emitHourlySummary(ctx context.Context, portfolioCtx advisor.PortfolioContext) {
	if err := e.store.EnqueueEvent(ctx, &model.TradeEvent{
		ID:        uuid.NewString(),
		EventType: model.EventHourlySummary,
		Data: map[string]interface{}{
			"open_count":             portfolioCtx.OpenCount,
			"invested_usd":           portfolioCtx.InvestedUSD,
			"available_capital_usd":  portfolioCtx.AvailableCapitalUSD,
			"realized_pnl":           portfolioCtx.RealizedPnL,
			"win_rate":               portfolioCtx.WinRate,
			"circuit_breaker_active": portfolioCtx.CircuitBreakerActive,
		},
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		e.logger.Error("hourly summary enqueue failed", "error", err)
	}
}
