// Package risk gates each cycle and each entry against the circuit breaker,
// the portfolio drawdown limit, and the per-symbol re-entry cooldown, the way
// a risk desk sits between signal generation and order placement rather than
// inside either one.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/koshedutech/candlewatch/internal/model"
	"github.com/koshedutech/candlewatch/internal/store"
)

// Alerter sends a best-effort out-of-band notification. A nil Alerter is a
// valid no-op.
type Alerter interface {
	SendSMS(ctx context.Context, message string) error
}

// Config tunes the circuit breaker, drawdown gate, and entry cooldown.
type Config struct {
	ConsecutiveLossesToActivate int
	CooldownHours               float64
	MaxDrawdownPercent          float64
	EntryCooldownHours          float64
	MaxConcurrentPositions      int
	TotalCapitalUSD             float64
}

func DefaultConfig() Config {
	return Config{
		ConsecutiveLossesToActivate: 3,
		CooldownHours:               4,
		MaxDrawdownPercent:          15,
		EntryCooldownHours:          24,
		MaxConcurrentPositions:      10,
		TotalCapitalUSD:             10000,
	}
}

// Supervisor is the Risk Supervisor component.
type Supervisor struct {
	cfg     Config
	store   store.Store
	alerter Alerter
}

func New(cfg Config, st store.Store, alerter Alerter) *Supervisor {
	return &Supervisor{cfg: cfg, store: st, alerter: alerter}
}

// Gate is the outcome of a cycle-start risk check: whether the cycle should
// proceed, and if not, why.
type Gate struct {
	Proceed bool
	Reason  string
}

// CheckCycle reactivates an expired circuit breaker, then applies the
// circuit-breaker gate and the drawdown gate, in that order. Both gates are
// independent: a live circuit breaker skips the cycle even if drawdown is
// within bounds, and vice versa.
func (s *Supervisor) CheckCycle(ctx context.Context) (Gate, error) {
	cb, err := s.store.ReactivateIfExpired(ctx)
	if err != nil {
		return Gate{}, fmt.Errorf("reactivate circuit breaker: %w", err)
	}
	if cb.IsActive {
		return Gate{Proceed: false, Reason: "circuit breaker active"}, nil
	}

	summary, err := s.store.PortfolioSummary(ctx, s.cfg.MaxConcurrentPositions, s.cfg.TotalCapitalUSD)
	if err != nil {
		return Gate{}, fmt.Errorf("portfolio summary: %w", err)
	}
	if summary.TotalPnLPercent < -s.cfg.MaxDrawdownPercent {
		if err := s.emit(ctx, model.EventDrawdownPause, "", map[string]interface{}{
			"total_pnl_percent":    summary.TotalPnLPercent,
			"max_drawdown_percent": s.cfg.MaxDrawdownPercent,
		}); err != nil {
			return Gate{}, err
		}
		return Gate{Proceed: false, Reason: "drawdown gate tripped"}, nil
	}

	return Gate{Proceed: true}, nil
}

// CanEnter reports whether symbol is past its post-close re-entry cooldown.
func (s *Supervisor) CanEnter(ctx context.Context, symbol string) (bool, error) {
	closedAt, ok, err := s.store.LastClosedAt(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("last closed at: %w", err)
	}
	if !ok {
		return true, nil
	}
	elapsed := time.Since(closedAt)
	return elapsed >= time.Duration(s.cfg.EntryCooldownHours*float64(time.Hour)), nil
}

// RecordLoss registers a losing close against the consecutive-loss counter.
// If the counter reaches the activation threshold the breaker trips: it
// becomes active for CooldownHours, a CIRCUIT_BREAKER event is persisted, and
// an SMS alert is sent best-effort.
func (s *Supervisor) RecordLoss(ctx context.Context, symbol string, pnl float64) error {
	cooldown := time.Duration(s.cfg.CooldownHours * float64(time.Hour))
	cb, err := s.store.RecordLoss(ctx, symbol, pnl, s.cfg.ConsecutiveLossesToActivate, cooldown)
	if err != nil {
		return fmt.Errorf("record loss: %w", err)
	}
	if !cb.IsActive {
		return nil
	}

	reactivates := ""
	if cb.ReactivatesAt != nil {
		reactivates = cb.ReactivatesAt.Format(time.RFC3339)
	}
	msg := fmt.Sprintf("circuit breaker tripped after %d consecutive losses (last: %s %.2f); reactivates at %s",
		cb.ConsecutiveLosses, symbol, pnl, reactivates)

	if err := s.emit(ctx, model.EventCircuitBreaker, symbol, map[string]interface{}{
		"consecutive_losses": cb.ConsecutiveLosses,
		"reactivates_at":      reactivates,
		"last_loss_pnl":       pnl,
	}); err != nil {
		return err
	}
	if s.alerter != nil {
		_ = s.alerter.SendSMS(ctx, msg)
	}
	return nil
}

// ResetCircuitBreaker zeroes the consecutive-loss counter, e.g. after a
// winning close.
func (s *Supervisor) ResetCircuitBreaker(ctx context.Context) error {
	return s.store.ResetCircuitBreaker(ctx)
}

func (s *Supervisor) emit(ctx context.Context, kind model.EventType, symbol string, data map[string]interface{}) error {
	return s.store.EnqueueEvent(ctx, &model.TradeEvent{
		ID:        uuid.NewString(),
		EventType: kind,
		Symbol:    symbol,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	})
}
