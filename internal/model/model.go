// Package model defines the persistent and ephemeral records that flow
// between the scanner, signal filter, decision maker, executor, exit
// scanner and risk supervisor.
package model

import "time"

// Tier expresses a symbol's risk class: 1 = blue chip ... 4 = speculative.
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
	Tier4 Tier = 4
)

// Symbol is an immutable record identifying a tradable pair. Created by
// administrative load; never mutated by the engine.
type Symbol struct {
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
	Tier        Tier   `json:"tier"`
	Active      bool   `json:"active"`
}

// Crossover categorises the MACD relationship between the signal and MACD lines.
type Crossover string

const (
	CrossoverBullish      Crossover = "BULLISH"
	CrossoverBearish      Crossover = "BEARISH"
	CrossoverBullishTrend Crossover = "BULLISH_TREND"
	CrossoverBearishTrend Crossover = "BEARISH_TREND"
	CrossoverNeutral      Crossover = "NEUTRAL"
)

// BBPosition locates price relative to the Bollinger bands.
type BBPosition string

const (
	BBUpper  BBPosition = "UPPER"
	BBMiddle BBPosition = "MIDDLE"
	BBLower  BBPosition = "LOWER"
)

// BBWidth categorises band width.
type BBWidth string

const (
	BBNarrow BBWidth = "NARROW"
	BBNormal BBWidth = "NORMAL"
	BBWide   BBWidth = "WIDE"
)

// TrendDirection categorises the overall trend.
type TrendDirection string

const (
	TrendBullish  TrendDirection = "BULLISH"
	TrendBearish  TrendDirection = "BEARISH"
	TrendSideways TrendDirection = "SIDEWAYS"
)

// Trend bundles direction with a strength score.
type Trend struct {
	Direction TrendDirection `json:"direction"`
	Strength  float64        `json:"strength"`
}

// IndicatorSnapshot is the point-in-time indicator set for one symbol.
// Snapshots are append-only, retained for a configurable window, and used
// both for transition detection and offline analytics.
type IndicatorSnapshot struct {
	Symbol    string    `json:"symbol"`
	CapturedAt time.Time `json:"captured_at"`

	Price float64 `json:"price"`

	RSIValue  float64 `json:"rsi_value"`
	RSISignal string  `json:"rsi_signal"`

	MACDValue float64   `json:"macd_value"`
	MACDSignal float64  `json:"macd_signal"`
	Histogram float64   `json:"histogram"`
	Crossover Crossover  `json:"crossover"`

	SMAShort float64 `json:"sma_short"`
	SMALong  float64 `json:"sma_long"`

	EMA9       float64 `json:"ema9"`
	EMA21      float64 `json:"ema21"`
	EMASignal  string  `json:"ema_signal"`

	BBUpper    float64    `json:"bb_upper"`
	BBMiddle   float64    `json:"bb_middle"`
	BBLower    float64    `json:"bb_lower"`
	BBPosition BBPosition `json:"bb_position"`
	BBWidth    BBWidth    `json:"bb_width"`

	VolumeRatio float64 `json:"volume_ratio"`
	VolumeTrend string  `json:"volume_trend"`

	Support    []float64 `json:"support"`
	Resistance []float64 `json:"resistance"`

	Trend Trend `json:"trend"`
}

// TriggerKind enumerates the transition catalogue the scanner watches for.
type TriggerKind string

const (
	TriggerRSIOversold           TriggerKind = "RSI_OVERSOLD"
	TriggerRSIOverbought         TriggerKind = "RSI_OVERBOUGHT"
	TriggerMACDBullishCrossover  TriggerKind = "MACD_BULLISH_CROSSOVER"
	TriggerMACDBearishCrossover  TriggerKind = "MACD_BEARISH_CROSSOVER"
	TriggerEMABullishCrossover   TriggerKind = "EMA_BULLISH_CROSSOVER"
	TriggerEMABearishCrossover   TriggerKind = "EMA_BEARISH_CROSSOVER"
	TriggerVolumeSpike           TriggerKind = "VOLUME_SPIKE"
	TriggerBBSqueeze             TriggerKind = "BB_SQUEEZE"
	TriggerBBLowerTouch          TriggerKind = "BB_LOWER_TOUCH"
	TriggerBBUpperTouch          TriggerKind = "BB_UPPER_TOUCH"
	TriggerTrendTurnedBullish    TriggerKind = "TREND_TURNED_BULLISH"
	TriggerTrendTurnedBearish    TriggerKind = "TREND_TURNED_BEARISH"
)

// TriggeredSignal is one scanner output for one symbol in one cycle.
// Ephemeral — never persisted as a row — but its evaluation (Signal) is.
type TriggeredSignal struct {
	Symbol            string
	Tier              Tier
	Price             float64
	Snapshot          IndicatorSnapshot
	ThresholdsCrossed []TriggerKind
	HasPosition       bool
	PositionSnapshot  *Position
}

// SignalType classifies a FastAdvisor verdict.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalNone SignalType = "NONE"
)

// SignalStrength classifies advisor confidence in qualitative terms.
type SignalStrength string

const (
	StrengthStrong   SignalStrength = "STRONG"
	StrengthModerate SignalStrength = "MODERATE"
	StrengthWeak     SignalStrength = "WEAK"
	StrengthTrap     SignalStrength = "TRAP"
)

// SignalOutcome is set later by the offline learning job.
type SignalOutcome string

const (
	OutcomePending           SignalOutcome = "PENDING"
	OutcomeWin                SignalOutcome = "WIN"
	OutcomeLoss               SignalOutcome = "LOSS"
	OutcomeNeutral            SignalOutcome = "NEUTRAL"
	OutcomeNotTraded          SignalOutcome = "NOT_TRADED"
	OutcomeMissedOpportunity  SignalOutcome = "MISSED_OPPORTUNITY"
)

// Signal is the persistent record of a FastAdvisor evaluation.
type Signal struct {
	ID          string            `json:"id"`
	Symbol      string            `json:"symbol"`
	TriggeredBy []TriggerKind     `json:"triggered_by"`
	Snapshot    IndicatorSnapshot `json:"snapshot"`
	SignalType  SignalType        `json:"signal_type"`
	Strength    SignalStrength    `json:"strength"`
	Confidence  float64           `json:"confidence"`
	Reasons     []string          `json:"reasons"`
	Escalated   bool              `json:"escalated"`
	Outcome     SignalOutcome     `json:"outcome"`
	CreatedAt   time.Time         `json:"created_at"`
}

// DecisionAction enumerates what the DeepAdvisor recommended.
type DecisionAction string

const (
	ActionBuy         DecisionAction = "BUY"
	ActionSell        DecisionAction = "SELL"
	ActionDCA         DecisionAction = "DCA"
	ActionPartialExit DecisionAction = "PARTIAL_EXIT"
	ActionHold        DecisionAction = "HOLD"
	ActionPass        DecisionAction = "PASS"
	ActionIgnore      DecisionAction = "IGNORE"
)

// Decision is the persistent record of a DeepAdvisor evaluation.
type Decision struct {
	ID                    string         `json:"id"`
	SignalID              string         `json:"signal_id"`
	Symbol                string         `json:"symbol"`
	Action                DecisionAction `json:"action"`
	Confidence            float64        `json:"confidence"`
	Reasoning             string         `json:"reasoning"`
	RiskAssessment        string         `json:"risk_assessment"`
	AlternativeConsidered string         `json:"alternative_considered"`
	RecommendedPrice      float64        `json:"recommended_price"`
	RecommendedSizeUSD    float64        `json:"recommended_size_usd"`
	ExitPercent           float64        `json:"exit_percent"`
	PromptSnapshot        string         `json:"prompt_snapshot"`
	Executed              bool           `json:"executed"`
	ExecutionNotes        string         `json:"execution_notes"`
	Outcome               SignalOutcome  `json:"outcome"`
	CreatedAt             time.Time      `json:"created_at"`
}

// PositionStatus is OPEN or CLOSED.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is the central aggregate: the engine's live and historical holding
// state for one symbol.
type Position struct {
	ID     string         `json:"id"`
	Symbol string         `json:"symbol"`
	Tier   Tier           `json:"tier"`
	Status PositionStatus `json:"status"`

	EntryPrice    float64 `json:"entry_price"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	CurrentSize   float64 `json:"current_size"`
	TotalCost     float64 `json:"total_cost"`

	StopLossPrice float64 `json:"stop_loss_price"`
	TP1Price      float64 `json:"tp1_price"`
	TP2Price      float64 `json:"tp2_price"`
	TP3Price      float64 `json:"tp3_price"`
	TP1Hit        bool    `json:"tp1_hit"`
	TP2Hit        bool    `json:"tp2_hit"`
	TP3Hit        bool    `json:"tp3_hit"`

	DCALevel    int     `json:"dca_level"`
	RemainingQty float64 `json:"remaining_qty"`

	MaxUnrealizedGainPercent float64 `json:"max_unrealized_gain_percent"`
	MaxUnrealizedLossPercent float64 `json:"max_unrealized_loss_percent"`

	PartialExits      int     `json:"partial_exits"`
	TotalProfitTaken  float64 `json:"total_profit_taken"`

	EntryTime time.Time  `json:"entry_time"`
	ExitTime  *time.Time `json:"exit_time,omitempty"`
	ExitPrice float64    `json:"exit_price"`

	RealizedPnL        float64 `json:"realized_pnl"`
	RealizedPnLPercent float64 `json:"realized_pnl_percent"`
	HoldHours          float64 `json:"hold_hours"`

	OpenDecisionID  string `json:"open_decision_id"`
	CloseDecisionID string `json:"close_decision_id"`
}

// TradeSide is BUY or SELL.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// TradeType classifies the role a fill played in the position lifecycle.
type TradeType string

const (
	TradeEntry       TradeType = "ENTRY"
	TradeDCA1        TradeType = "DCA1"
	TradeDCA2        TradeType = "DCA2"
	TradeTP1         TradeType = "TP1"
	TradeTP2         TradeType = "TP2"
	TradeTP3         TradeType = "TP3"
	TradeStop        TradeType = "STOP"
	TradeManual      TradeType = "MANUAL"
	TradeFullExit    TradeType = "FULL_EXIT"
	TradePartialExit TradeType = "PARTIAL_EXIT"
)

// Trade is an immutable ledger row per order fill.
type Trade struct {
	ID         string    `json:"id"`
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Side       TradeSide `json:"side"`
	TradeType  TradeType `json:"trade_type"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	Amount     float64   `json:"amount"`
	ExecutedAt time.Time `json:"executed_at"`
}

// CircuitBreaker is single-row, process-wide risk state.
type CircuitBreaker struct {
	ConsecutiveLosses int        `json:"consecutive_losses"`
	IsActive          bool       `json:"is_active"`
	ActivatedAt       *time.Time `json:"activated_at,omitempty"`
	ReactivatesAt     *time.Time `json:"reactivates_at,omitempty"`
	LastLossSymbol    string     `json:"last_loss_symbol"`
	LastLossPnL       float64    `json:"last_loss_pnl"`
}

// EventType enumerates the kinds of TradeEvent the engine emits.
type EventType string

const (
	EventBuy              EventType = "BUY"
	EventSell             EventType = "SELL"
	EventDCA              EventType = "DCA"
	EventPartialExit      EventType = "PARTIAL_EXIT"
	EventCircuitBreaker   EventType = "CIRCUIT_BREAKER"
	EventHourlySummary    EventType = "HOURLY_SUMMARY"
	EventExitScannerAction EventType = "EXIT_SCANNER_ACTION"
	EventSystem           EventType = "SYSTEM"
	EventExecutionError   EventType = "EXECUTION_ERROR"
	EventDrawdownPause    EventType = "DRAWDOWN_PAUSE"
)

// TradeEvent is an append-only row consumed by notifiers.
type TradeEvent struct {
	ID        string                 `json:"id"`
	EventType EventType              `json:"event_type"`
	Symbol    string                 `json:"symbol"`
	Data      map[string]interface{} `json:"data"`
	Posted    bool                   `json:"posted"`
	CreatedAt time.Time              `json:"created_at"`
	PostedAt  *time.Time             `json:"posted_at,omitempty"`
}

// PortfolioSummary is the cycle-scoped snapshot the Decision Maker and Risk
// Supervisor consult.
type PortfolioSummary struct {
	OpenCount          int     `json:"open_count"`
	MaxConcurrent      int     `json:"max_concurrent"`
	InvestedUSD        float64 `json:"invested_usd"`
	AvailableCapitalUSD float64 `json:"available_capital_usd"`
	UnrealizedPnL      float64 `json:"unrealized_pnl"`
	RealizedPnL        float64 `json:"realized_pnl"`
	TotalPnLPercent    float64 `json:"total_pnl_percent"`
	WinRate            float64 `json:"win_rate"`
	CircuitBreakerActive bool  `json:"circuit_breaker_active"`
}
