// Package store defines the persistence contract the engine consumes and a
// Postgres-backed implementation of it (raw pgx/v5 SQL, no ORM).
package store

import (
	"context"
	"time"

	"github.com/koshedutech/candlewatch/internal/model"
)

// Store is the single persistence boundary for {symbols, positions, trades,
// signals, decisions, indicator_snapshots, trade_events, learning_rules,
// circuit_breaker}. Every mutating method that touches a Position runs
// inside a transaction that holds a row-level lock on that Position for its
// duration — see WithPositionLock.
type Store interface {
	// Symbols
	ActiveSymbols(ctx context.Context) ([]model.Symbol, error)

	// Indicator snapshots
	SaveSnapshots(ctx context.Context, snapshots []model.IndicatorSnapshot) error

	// Signals
	SaveSignal(ctx context.Context, s *model.Signal) error
	LastSignalTime(ctx context.Context, symbol string) (time.Time, bool, error)
	RecentSignals(ctx context.Context, limit, offset int) ([]model.Signal, error)

	// Decisions
	SaveDecision(ctx context.Context, d *model.Decision) error
	RecentDecisions(ctx context.Context, limit, offset int) ([]model.Decision, error)

	// Positions
	OpenPosition(ctx context.Context, symbol string) (*model.Position, error)
	PositionByID(ctx context.Context, id string) (*model.Position, error)
	OpenPositions(ctx context.Context) ([]model.Position, error)
	ClosedPositions(ctx context.Context, limit, offset int) ([]model.Position, error)
	// WithPositionLock runs fn with the row-level lock held on the OPEN
	// position for symbol (if any) inside a single transaction, so the
	// Executor's read-modify-write of Position+Trade is atomic.
	WithPositionLock(ctx context.Context, symbol string, fn func(ctx context.Context, tx Tx, pos *model.Position) error) error
	LastClosedAt(ctx context.Context, symbol string) (time.Time, bool, error)

	// Trades
	InsertTrade(ctx context.Context, tx Tx, t *model.Trade) error
	TradesForPosition(ctx context.Context, positionID string) ([]model.Trade, error)

	// Circuit breaker
	CircuitBreaker(ctx context.Context) (model.CircuitBreaker, error)
	RecordLoss(ctx context.Context, symbol string, pnl float64, threshold int, cooldown time.Duration) (model.CircuitBreaker, error)
	ResetCircuitBreaker(ctx context.Context) error
	// ReactivateIfExpired clears is_active when reactivates_at has passed,
	// leaving consecutive_losses untouched, and returns the current row
	// either way.
	ReactivateIfExpired(ctx context.Context) (model.CircuitBreaker, error)

	// Events
	EnqueueEvent(ctx context.Context, e *model.TradeEvent) error
	UnpostedEvents(ctx context.Context, limit int) ([]model.TradeEvent, error)
	RecentEvents(ctx context.Context, limit int) ([]model.TradeEvent, error)
	MarkEventsPosted(ctx context.Context, ids []string) error
	EventStats(ctx context.Context) (map[model.EventType]int, error)

	// Portfolio
	PortfolioSummary(ctx context.Context, maxConcurrent int, totalCapital float64) (model.PortfolioSummary, error)

	// Learning rules (read-only from the engine's perspective; a separate
	// offline job owns writes)
	TopLearningRules(ctx context.Context, n int) ([]LearningRule, error)

	Close()
}

// Tx is the transactional handle passed into WithPositionLock's callback so
// writes (position update + trade insert) share one atomic unit.
type Tx interface {
	SavePosition(ctx context.Context, pos *model.Position) error
	InsertTrade(ctx context.Context, t *model.Trade) error
}

// LearningRule is a row a separate offline job writes and the Decision Maker
// reads; rule-generation/validation heuristics are out of scope for the
// engine itself.
type LearningRule struct {
	Symbol      string
	Condition   string
	Action      string
	Weight      float64
	SampleSize  int
	LastUpdated time.Time
}
