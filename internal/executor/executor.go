// Package executor translates an approved Decision into an exchange order
// and atomically updates the affected Position and Trade records, the way a
// ledger-keeping settlement step turns an instruction into booked state.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/koshedutech/candlewatch/internal/market"
	"github.com/koshedutech/candlewatch/internal/model"
	"github.com/koshedutech/candlewatch/internal/store"
)

// CostModel computes the effective fill cost/proceeds for an order, letting
// fee and slippage assumptions vary without touching the dispatch logic. The
// zero-cost default matches live-mode's assumption of frictionless fills.
type CostModel interface {
	// AdjustBuy returns the USD cost actually charged for buying qty at price.
	AdjustBuy(price, qty float64) float64
	// AdjustSell returns the USD proceeds actually received for selling qty at price.
	AdjustSell(price, qty float64) float64
}

// ZeroCostModel assumes frictionless fills: cost/proceeds equal price*qty.
type ZeroCostModel struct{}

func (ZeroCostModel) AdjustBuy(price, qty float64) float64  { return price * qty }
func (ZeroCostModel) AdjustSell(price, qty float64) float64 { return price * qty }

// PortfolioGate answers the current open-position count and available capital
// for BUY/DCA preconditions.
type PortfolioGate interface {
	OpenCount(ctx context.Context) (int, error)
	AvailableCapitalUSD(ctx context.Context) (float64, error)
}

// RiskHook is the Risk Supervisor seam consulted before a BUY and invoked
// after a full position close.
type RiskHook interface {
	CanEnter(ctx context.Context, symbol string) (bool, error)
	RecordLoss(ctx context.Context, symbol string, pnl float64) error
	ResetCircuitBreaker(ctx context.Context) error
}

// Config tunes executor-wide policy independent of tier.
type Config struct {
	MaxConcurrentPositions int
	DCAMinDropPercent      float64 // default 3%: price must be at least this far below avg_entry_price
}

func DefaultConfig() Config {
	return Config{MaxConcurrentPositions: 10, DCAMinDropPercent: 3.0}
}

// Executor dispatches decisions into exchange orders and position mutations.
type Executor struct {
	cfg       Config
	tiers     map[model.Tier]TierParams
	store     store.Store
	orders    market.OrderPlacer
	prices    market.PriceSource
	portfolio PortfolioGate
	risk      RiskHook
	cost      CostModel
}

func New(cfg Config, tiers map[model.Tier]TierParams, st store.Store, orders market.OrderPlacer, prices market.PriceSource, portfolio PortfolioGate, risk RiskHook, cost CostModel) *Executor {
	if cost == nil {
		cost = ZeroCostModel{}
	}
	return &Executor{cfg: cfg, tiers: tiers, store: st, orders: orders, prices: prices, portfolio: portfolio, risk: risk, cost: cost}
}

// Outcome is the result of one Execute call.
type Outcome struct {
	Executed bool
	Reason   string
}

// Execute dispatches on decision.Action, mutates the affected Position and
// Store.Tx as one atomic unit, and enqueues the matching lifecycle event.
func (e *Executor) Execute(ctx context.Context, decision *model.Decision, tier model.Tier, symbol string) (Outcome, error) {
	switch decision.Action {
	case model.ActionBuy:
		return e.executeBuy(ctx, decision, tier, symbol)
	case model.ActionDCA:
		return e.executeDCA(ctx, decision, tier, symbol)
	case model.ActionSell:
		return e.executeExit(ctx, decision, symbol, 100)
	case model.ActionPartialExit:
		pct := decision.ExitPercent
		if pct <= 0 {
			pct = 25
		}
		return e.executeExit(ctx, decision, symbol, pct)
	default:
		return e.markNotExecuted(ctx, decision, "no action required for "+string(decision.Action))
	}
}

func (e *Executor) markNotExecuted(ctx context.Context, decision *model.Decision, reason string) (Outcome, error) {
	decision.Executed = false
	decision.ExecutionNotes = reason
	return Outcome{Executed: false, Reason: reason}, nil
}

// markExecutionError is markNotExecuted plus an EXECUTION_ERROR event, used
// for order-placement failures rather than ordinary precondition rejections.
func (e *Executor) markExecutionError(ctx context.Context, decision *model.Decision, symbol, reason string) (Outcome, error) {
	e.emit(ctx, model.EventExecutionError, symbol, map[string]interface{}{"error": reason, "action": decision.Action})
	return e.markNotExecuted(ctx, decision, reason)
}

func (e *Executor) executeBuy(ctx context.Context, decision *model.Decision, tier model.Tier, symbol string) (Outcome, error) {
	params := e.tiers[tier]

	if e.portfolio != nil {
		openCount, err := e.portfolio.OpenCount(ctx)
		if err == nil && openCount >= e.cfg.MaxConcurrentPositions {
			return e.markNotExecuted(ctx, decision, "portfolio at max concurrent positions")
		}
	}

	existing, err := e.store.OpenPosition(ctx, symbol)
	if err != nil {
		return Outcome{}, fmt.Errorf("check open position: %w", err)
	}
	if existing != nil {
		return e.markNotExecuted(ctx, decision, "an open position already exists for "+symbol)
	}

	if e.risk != nil {
		canEnter, err := e.risk.CanEnter(ctx, symbol)
		if err == nil && !canEnter {
			return e.markNotExecuted(ctx, decision, "symbol is within its post-close re-entry cooldown")
		}
	}

	requested := decision.RecommendedSizeUSD
	if requested <= 0 {
		requested = params.BasePositionUSD
	}
	if requested > params.MaxPositionUSD {
		return e.markNotExecuted(ctx, decision, fmt.Sprintf("requested size %.2f exceeds tier cap %.2f", requested, params.MaxPositionUSD))
	}
	if e.portfolio != nil {
		available, err := e.portfolio.AvailableCapitalUSD(ctx)
		if err == nil && requested > available {
			return e.markNotExecuted(ctx, decision, fmt.Sprintf("requested size %.2f exceeds available capital %.2f", requested, available))
		}
	}

	price, err := e.prices.GetPrice(ctx, symbol)
	if err != nil {
		return Outcome{}, fmt.Errorf("read price: %w", err)
	}
	estQty := requested / price

	fill, err := e.orders.PlaceOrder(ctx, symbol, market.Buy, estQty)
	if err != nil {
		return e.markExecutionError(ctx, decision, symbol, "order placement failed: "+err.Error())
	}

	now := time.Now().UTC()
	pos := &model.Position{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		Tier:          tier,
		Status:        model.PositionOpen,
		EntryPrice:    fill.Price,
		AvgEntryPrice: fill.Price,
		CurrentSize:   fill.ExecutedQty,
		TotalCost:     e.cost.AdjustBuy(fill.Price, fill.ExecutedQty),
		StopLossPrice: fill.Price * (1 - params.StopPercent),
		TP1Price:      fill.Price * (1 + params.TP1Percent),
		TP2Price:      fill.Price * (1 + params.TP2Percent),
		TP3Price:      fill.Price * (1 + params.TP3Percent),
		DCALevel:      0,
		RemainingQty:  fill.ExecutedQty,
		EntryTime:     now,
		OpenDecisionID: decision.ID,
	}

	trade := &model.Trade{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		Symbol:     symbol,
		Side:       model.SideBuy,
		TradeType:  model.TradeEntry,
		Price:      fill.Price,
		Quantity:   fill.ExecutedQty,
		Amount:     pos.TotalCost,
		ExecutedAt: now,
	}

	if err := e.store.WithPositionLock(ctx, symbol, func(ctx context.Context, tx store.Tx, _ *model.Position) error {
		if err := tx.SavePosition(ctx, pos); err != nil {
			return err
		}
		return tx.InsertTrade(ctx, trade)
	}); err != nil {
		return Outcome{}, fmt.Errorf("persist buy: %w", err)
	}

	decision.Executed = true
	decision.ExecutionNotes = fmt.Sprintf("opened position %s at %.8f", pos.ID, fill.Price)
	e.emit(ctx, model.EventBuy, symbol, map[string]interface{}{
		"price": fill.Price, "quantity": fill.ExecutedQty, "size_usd": pos.TotalCost, "position_id": pos.ID,
	})
	return Outcome{Executed: true}, nil
}

func (e *Executor) executeDCA(ctx context.Context, decision *model.Decision, tier model.Tier, symbol string) (Outcome, error) {
	params := e.tiers[tier]
	if !params.DCAAllowed {
		return e.markNotExecuted(ctx, decision, "DCA not permitted for this tier")
	}

	pos, err := e.store.OpenPosition(ctx, symbol)
	if err != nil {
		return Outcome{}, fmt.Errorf("check open position: %w", err)
	}
	if pos == nil {
		return e.markNotExecuted(ctx, decision, "no open position to average down")
	}

	price, err := e.prices.GetPrice(ctx, symbol)
	if err != nil {
		return Outcome{}, fmt.Errorf("read price: %w", err)
	}

	dropPercent := (pos.AvgEntryPrice - price) / pos.AvgEntryPrice * 100
	if dropPercent < e.cfg.DCAMinDropPercent {
		return e.markNotExecuted(ctx, decision, fmt.Sprintf("DCA rejected — price %.8f is only %.2f%% below avg entry %.8f (need %.2f%%)", price, dropPercent, pos.AvgEntryPrice, e.cfg.DCAMinDropPercent))
	}

	requested := decision.RecommendedSizeUSD
	if requested <= 0 {
		requested = params.BasePositionUSD
	}
	room := params.MaxPositionUSD - pos.TotalCost
	if room <= 0 {
		return e.markNotExecuted(ctx, decision, "DCA rejected — position already at tier max cost")
	}
	if requested > room {
		requested = room
	}
	if e.portfolio != nil {
		available, err := e.portfolio.AvailableCapitalUSD(ctx)
		if err == nil && requested > available {
			return e.markNotExecuted(ctx, decision, fmt.Sprintf("requested DCA size %.2f exceeds available capital %.2f", requested, available))
		}
	}

	estQty := requested / price
	fill, err := e.orders.PlaceOrder(ctx, symbol, market.Buy, estQty)
	if err != nil {
		return e.markExecutionError(ctx, decision, symbol, "order placement failed: "+err.Error())
	}

	fillCost := e.cost.AdjustBuy(fill.Price, fill.ExecutedQty)

	var tradeType model.TradeType
	switch pos.DCALevel {
	case 0:
		tradeType = model.TradeDCA1
	default:
		tradeType = model.TradeDCA2
	}

	now := time.Now().UTC()
	trade := &model.Trade{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		Symbol:     symbol,
		Side:       model.SideBuy,
		TradeType:  tradeType,
		Price:      fill.Price,
		Quantity:   fill.ExecutedQty,
		Amount:     fillCost,
		ExecutedAt: now,
	}

	err = e.store.WithPositionLock(ctx, symbol, func(ctx context.Context, tx store.Tx, locked *model.Position) error {
		if locked == nil {
			return fmt.Errorf("position %s no longer open", pos.ID)
		}
		newTotalCost := locked.TotalCost + fillCost
		newQty := locked.CurrentSize + fill.ExecutedQty
		locked.DCALevel++
		locked.CurrentSize = newQty
		locked.RemainingQty = newQty
		locked.TotalCost = newTotalCost
		locked.AvgEntryPrice = newTotalCost / newQty
		locked.TP1Price = locked.AvgEntryPrice * (1 + params.TP1Percent)
		locked.TP2Price = locked.AvgEntryPrice * (1 + params.TP2Percent)
		locked.TP3Price = locked.AvgEntryPrice * (1 + params.TP3Percent)
		// stop_loss_price intentionally untouched: it stays anchored to the
		// original entry price.
		if err := tx.SavePosition(ctx, locked); err != nil {
			return err
		}
		return tx.InsertTrade(ctx, trade)
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("persist dca: %w", err)
	}

	decision.Executed = true
	decision.ExecutionNotes = fmt.Sprintf("DCA fill %.8f qty %.8f", fill.Price, fill.ExecutedQty)
	e.emit(ctx, model.EventDCA, symbol, map[string]interface{}{
		"price": fill.Price, "quantity": fill.ExecutedQty, "size_usd": fillCost,
	})
	return Outcome{Executed: true}, nil
}

func (e *Executor) executeExit(ctx context.Context, decision *model.Decision, symbol string, exitPercent float64) (Outcome, error) {
	pos, err := e.store.OpenPosition(ctx, symbol)
	if err != nil {
		return Outcome{}, fmt.Errorf("check open position: %w", err)
	}
	if pos == nil {
		return e.markNotExecuted(ctx, decision, "no open position to exit")
	}

	exitSize := pos.CurrentSize * exitPercent / 100

	fill, err := e.orders.PlaceOrder(ctx, symbol, market.Sell, exitSize)
	if err != nil {
		return e.markExecutionError(ctx, decision, symbol, "order placement failed: "+err.Error())
	}

	proceeds := e.cost.AdjustSell(fill.Price, fill.ExecutedQty)
	costBasis := pos.AvgEntryPrice * fill.ExecutedQty
	realizedPnL := proceeds - costBasis

	now := time.Now().UTC()
	fullyClosed := exitPercent >= 99

	tradeType := tpTradeType(pos, fill.Price, fullyClosed)
	trade := &model.Trade{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		Symbol:     symbol,
		Side:       model.SideSell,
		TradeType:  tradeType,
		Price:      fill.Price,
		Quantity:   fill.ExecutedQty,
		Amount:     proceeds,
		ExecutedAt: now,
	}

	var closedPnL float64
	err = e.store.WithPositionLock(ctx, symbol, func(ctx context.Context, tx store.Tx, locked *model.Position) error {
		if locked == nil {
			return fmt.Errorf("position %s no longer open", pos.ID)
		}
		markTPHit(locked, fill.Price)
		if fullyClosed {
			closedPnL = locked.RealizedPnL + realizedPnL
			locked.Status = model.PositionClosed
			locked.ExitTime = &now
			locked.ExitPrice = fill.Price
			locked.RealizedPnL = closedPnL
			if locked.TotalCost > 0 {
				locked.RealizedPnLPercent = closedPnL / locked.TotalCost * 100
			}
			locked.HoldHours = now.Sub(locked.EntryTime).Hours()
			locked.CurrentSize = 0
			locked.RemainingQty = 0
			locked.CloseDecisionID = decision.ID
		} else {
			proportion := exitPercent / 100
			locked.CurrentSize -= fill.ExecutedQty
			locked.RemainingQty = locked.CurrentSize
			locked.TotalCost -= locked.TotalCost * proportion
			locked.PartialExits++
			locked.TotalProfitTaken += realizedPnL
		}
		if err := tx.SavePosition(ctx, locked); err != nil {
			return err
		}
		return tx.InsertTrade(ctx, trade)
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("persist exit: %w", err)
	}

	if fullyClosed && e.risk != nil {
		if closedPnL < 0 {
			_ = e.risk.RecordLoss(ctx, symbol, closedPnL)
		} else {
			_ = e.risk.ResetCircuitBreaker(ctx)
		}
	}

	decision.Executed = true
	decision.ExecutionNotes = fmt.Sprintf("exit %.0f%% at %.8f", exitPercent, fill.Price)
	eventType := model.EventPartialExit
	if fullyClosed {
		eventType = model.EventSell
	}
	e.emit(ctx, eventType, symbol, map[string]interface{}{
		"price": fill.Price, "quantity": fill.ExecutedQty, "exit_percent": exitPercent, "pnl": realizedPnL,
	})
	return Outcome{Executed: true}, nil
}

// emit persists a lifecycle TradeEvent for notifiers to pick up. Failures are
// logged by the caller's store implementation at most; a dropped event never
// fails the trade it describes.
func (e *Executor) emit(ctx context.Context, kind model.EventType, symbol string, data map[string]interface{}) {
	_ = e.store.EnqueueEvent(ctx, &model.TradeEvent{
		ID:        uuid.NewString(),
		EventType: kind,
		Symbol:    symbol,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	})
}

// tpTradeType labels the fill with the take-profit tier it crossed, if any,
// falling back to a generic exit label.
func tpTradeType(pos *model.Position, fillPrice float64, fullyClosed bool) model.TradeType {
	switch {
	case !pos.TP3Hit && fillPrice >= pos.TP3Price:
		return model.TradeTP3
	case !pos.TP2Hit && fillPrice >= pos.TP2Price:
		return model.TradeTP2
	case !pos.TP1Hit && fillPrice >= pos.TP1Price:
		return model.TradeTP1
	case fullyClosed:
		return model.TradeFullExit
	default:
		return model.TradePartialExit
	}
}

// markTPHit flips tp{1,2,3}_hit monotonically false→true as the fill price
// crosses each level. It does not close the position: executeExit closes it
// only for an exit of 99% or more, so a partial exit that crosses TP3 leaves
// the position OPEN with tp3_hit set.
func markTPHit(pos *model.Position, fillPrice float64) {
	if !pos.TP1Hit && fillPrice >= pos.TP1Price {
		pos.TP1Hit = true
	}
	if !pos.TP2Hit && fillPrice >= pos.TP2Price {
		pos.TP2Hit = true
	}
	if !pos.TP3Hit && fillPrice >= pos.TP3Price {
		pos.TP3Hit = true
	}
}
