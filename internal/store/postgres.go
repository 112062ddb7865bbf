package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/koshedutech/candlewatch/internal/model"
)

// Config holds Postgres connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Postgres is the pgx/v5-backed Store implementation.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and verifies connectivity.
func Open(cfg Config) (*Postgres, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info().Str("database", cfg.Database).Msg("connected to postgres")
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
		log.Info().Msg("postgres connection closed")
	}
}

// Migrate creates the tables the engine needs if they don't already exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS symbols (
			code VARCHAR(20) PRIMARY KEY,
			display_name VARCHAR(64) NOT NULL,
			tier SMALLINT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true
		)`,
		`CREATE TABLE IF NOT EXISTS indicator_snapshots (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_symbol_time ON indicator_snapshots(symbol, captured_at DESC)`,
		`CREATE TABLE IF NOT EXISTS signals (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			signal_type VARCHAR(8) NOT NULL,
			strength VARCHAR(16) NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			escalated BOOLEAN NOT NULL,
			outcome VARCHAR(24) NOT NULL DEFAULT 'PENDING',
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol_time ON signals(symbol, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id UUID PRIMARY KEY,
			signal_id UUID,
			symbol VARCHAR(20) NOT NULL,
			action VARCHAR(16) NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			executed BOOLEAN NOT NULL DEFAULT false,
			execution_notes TEXT,
			outcome VARCHAR(24) NOT NULL DEFAULT 'PENDING',
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			tier SMALLINT NOT NULL,
			status VARCHAR(8) NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			avg_entry_price DOUBLE PRECISION NOT NULL,
			current_size DOUBLE PRECISION NOT NULL,
			total_cost DOUBLE PRECISION NOT NULL,
			stop_loss_price DOUBLE PRECISION NOT NULL,
			tp1_price DOUBLE PRECISION NOT NULL,
			tp2_price DOUBLE PRECISION NOT NULL,
			tp3_price DOUBLE PRECISION NOT NULL,
			tp1_hit BOOLEAN NOT NULL DEFAULT false,
			tp2_hit BOOLEAN NOT NULL DEFAULT false,
			tp3_hit BOOLEAN NOT NULL DEFAULT false,
			dca_level SMALLINT NOT NULL DEFAULT 0,
			remaining_qty DOUBLE PRECISION NOT NULL,
			max_unrealized_gain_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_unrealized_loss_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			partial_exits SMALLINT NOT NULL DEFAULT 0,
			total_profit_taken DOUBLE PRECISION NOT NULL DEFAULT 0,
			entry_time TIMESTAMPTZ NOT NULL,
			exit_time TIMESTAMPTZ,
			exit_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			realized_pnl_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			hold_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
			open_decision_id UUID,
			close_decision_id UUID
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_one_open_per_symbol ON positions(symbol) WHERE status = 'OPEN'`,
		`CREATE TABLE IF NOT EXISTS trades (
			id UUID PRIMARY KEY,
			position_id UUID NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			trade_type VARCHAR(16) NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			executed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_position ON trades(position_id)`,
		`CREATE TABLE IF NOT EXISTS circuit_breaker (
			id SMALLINT PRIMARY KEY DEFAULT 1,
			consecutive_losses INT NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT false,
			activated_at TIMESTAMPTZ,
			reactivates_at TIMESTAMPTZ,
			last_loss_symbol VARCHAR(20),
			last_loss_pnl DOUBLE PRECISION,
			CHECK (id = 1)
		)`,
		`INSERT INTO circuit_breaker (id) VALUES (1) ON CONFLICT DO NOTHING`,
		`CREATE TABLE IF NOT EXISTS trade_events (
			id UUID PRIMARY KEY,
			event_type VARCHAR(24) NOT NULL,
			symbol VARCHAR(20),
			data JSONB,
			posted BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			posted_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_unposted ON trade_events(posted) WHERE posted = false`,
		`CREATE TABLE IF NOT EXISTS learning_rules (
			symbol VARCHAR(20) NOT NULL,
			condition TEXT NOT NULL,
			action VARCHAR(16) NOT NULL,
			weight DOUBLE PRECISION NOT NULL,
			sample_size INT NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (symbol, condition)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) ActiveSymbols(ctx context.Context) ([]model.Symbol, error) {
	rows, err := p.pool.Query(ctx, `SELECT code, display_name, tier, active FROM symbols WHERE active = true ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Symbol
	for rows.Next() {
		var s model.Symbol
		if err := rows.Scan(&s.Code, &s.DisplayName, &s.Tier, &s.Active); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveSnapshots(ctx context.Context, snapshots []model.IndicatorSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range snapshots {
		payload, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		batch.Queue(`INSERT INTO indicator_snapshots (symbol, captured_at, payload) VALUES ($1, $2, $3)`,
			s.Symbol, s.CapturedAt, payload)
	}
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range snapshots {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch insert snapshots: %w", err)
		}
	}
	return nil
}

func (p *Postgres) SaveSignal(ctx context.Context, s *model.Signal) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO signals (id, symbol, signal_type, strength, confidence, escalated, outcome, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.Symbol, s.SignalType, s.Strength, s.Confidence, s.Escalated, s.Outcome, payload, s.CreatedAt)
	return err
}

func (p *Postgres) LastSignalTime(ctx context.Context, symbol string) (time.Time, bool, error) {
	var t time.Time
	err := p.pool.QueryRow(ctx, `
		SELECT created_at FROM signals WHERE symbol = $1 AND escalated = true ORDER BY created_at DESC LIMIT 1`, symbol).Scan(&t)
	if err == pgx.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (p *Postgres) RecentSignals(ctx context.Context, limit, offset int) ([]model.Signal, error) {
	rows, err := p.pool.Query(ctx, `SELECT payload FROM signals ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Signal
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var s model.Signal
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("unmarshal signal: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveDecision(ctx context.Context, d *model.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO decisions (id, signal_id, symbol, action, confidence, executed, execution_notes, outcome, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.SignalID, d.Symbol, d.Action, d.Confidence, d.Executed, d.ExecutionNotes, d.Outcome, payload, d.CreatedAt)
	return err
}

func (p *Postgres) RecentDecisions(ctx context.Context, limit, offset int) ([]model.Decision, error) {
	rows, err := p.pool.Query(ctx, `SELECT payload FROM decisions ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Decision
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var d model.Decision
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("unmarshal decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const positionCols = `id, symbol, tier, status, entry_price, avg_entry_price, current_size, total_cost,
	stop_loss_price, tp1_price, tp2_price, tp3_price, tp1_hit, tp2_hit, tp3_hit, dca_level, remaining_qty,
	max_unrealized_gain_percent, max_unrealized_loss_percent, partial_exits, total_profit_taken,
	entry_time, exit_time, exit_price, realized_pnl, realized_pnl_percent, hold_hours,
	coalesce(open_decision_id::text, ''), coalesce(close_decision_id::text, '')`

func scanPosition(row interface {
	Scan(dest ...interface{}) error
}) (*model.Position, error) {
	var pos model.Position
	if err := row.Scan(
		&pos.ID, &pos.Symbol, &pos.Tier, &pos.Status, &pos.EntryPrice, &pos.AvgEntryPrice, &pos.CurrentSize, &pos.TotalCost,
		&pos.StopLossPrice, &pos.TP1Price, &pos.TP2Price, &pos.TP3Price, &pos.TP1Hit, &pos.TP2Hit, &pos.TP3Hit, &pos.DCALevel, &pos.RemainingQty,
		&pos.MaxUnrealizedGainPercent, &pos.MaxUnrealizedLossPercent, &pos.PartialExits, &pos.TotalProfitTaken,
		&pos.EntryTime, &pos.ExitTime, &pos.ExitPrice, &pos.RealizedPnL, &pos.RealizedPnLPercent, &pos.HoldHours,
		&pos.OpenDecisionID, &pos.CloseDecisionID,
	); err != nil {
		return nil, err
	}
	return &pos, nil
}

func (p *Postgres) OpenPosition(ctx context.Context, symbol string) (*model.Position, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+positionCols+` FROM positions WHERE symbol = $1 AND status = 'OPEN'`, symbol)
	pos, err := scanPosition(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return pos, err
}

func (p *Postgres) PositionByID(ctx context.Context, id string) (*model.Position, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+positionCols+` FROM positions WHERE id = $1`, id)
	return scanPosition(row)
}

func (p *Postgres) OpenPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+positionCols+` FROM positions WHERE status = 'OPEN' ORDER BY entry_time`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *pos)
	}
	return out, rows.Err()
}

func (p *Postgres) ClosedPositions(ctx context.Context, limit, offset int) ([]model.Position, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+positionCols+` FROM positions WHERE status = 'CLOSED' ORDER BY exit_time DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *pos)
	}
	return out, rows.Err()
}

func (p *Postgres) LastClosedAt(ctx context.Context, symbol string) (time.Time, bool, error) {
	var t time.Time
	err := p.pool.QueryRow(ctx, `SELECT exit_time FROM positions WHERE symbol = $1 AND status = 'CLOSED' AND exit_time IS NOT NULL ORDER BY exit_time DESC LIMIT 1`, symbol).Scan(&t)
	if err == pgx.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// pgTx implements Tx over a live pgx.Tx, scoping writes to one transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) SavePosition(ctx context.Context, pos *model.Position) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO positions (`+positionInsertCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,
			NULLIF($28,'')::uuid, NULLIF($29,'')::uuid)
		ON CONFLICT (id) DO UPDATE SET
			status=$4, current_size=$7, total_cost=$8, avg_entry_price=$6,
			tp1_price=$10, tp2_price=$11, tp3_price=$12, tp1_hit=$13, tp2_hit=$14, tp3_hit=$15,
			dca_level=$16, remaining_qty=$17, max_unrealized_gain_percent=$18, max_unrealized_loss_percent=$19,
			partial_exits=$20, total_profit_taken=$21, exit_time=$23, exit_price=$24, realized_pnl=$25,
			realized_pnl_percent=$26, hold_hours=$27, close_decision_id=NULLIF($29,'')::uuid
	`,
		pos.ID, pos.Symbol, pos.Tier, pos.Status, pos.EntryPrice, pos.AvgEntryPrice, pos.CurrentSize, pos.TotalCost,
		pos.StopLossPrice, pos.TP1Price, pos.TP2Price, pos.TP3Price, pos.TP1Hit, pos.TP2Hit, pos.TP3Hit, pos.DCALevel, pos.RemainingQty,
		pos.MaxUnrealizedGainPercent, pos.MaxUnrealizedLossPercent, pos.PartialExits, pos.TotalProfitTaken,
		pos.EntryTime, pos.ExitTime, pos.ExitPrice, pos.RealizedPnL, pos.RealizedPnLPercent, pos.HoldHours,
		pos.OpenDecisionID, pos.CloseDecisionID,
	)
	return err
}

const positionInsertCols = `id, symbol, tier, status, entry_price, avg_entry_price, current_size, total_cost,
	stop_loss_price, tp1_price, tp2_price, tp3_price, tp1_hit, tp2_hit, tp3_hit, dca_level, remaining_qty,
	max_unrealized_gain_percent, max_unrealized_loss_percent, partial_exits, total_profit_taken,
	entry_time, exit_time, exit_price, realized_pnl, realized_pnl_percent, hold_hours,
	open_decision_id, close_decision_id`

func (t *pgTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO trades (id, position_id, symbol, side, trade_type, price, quantity, amount, executed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		tr.ID, tr.PositionID, tr.Symbol, tr.Side, tr.TradeType, tr.Price, tr.Quantity, tr.Amount, tr.ExecutedAt)
	return err
}

// WithPositionLock opens a transaction, takes a row-level lock on the open
// position for symbol via SELECT ... FOR UPDATE (no-op if none exists yet,
// e.g. for a fresh BUY), and commits iff fn returns nil.
func (p *Postgres) WithPositionLock(ctx context.Context, symbol string, fn func(ctx context.Context, tx Tx, pos *model.Position) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+positionCols+` FROM positions WHERE symbol = $1 AND status = 'OPEN' FOR UPDATE`, symbol)
	pos, err := scanPosition(row)
	if err == pgx.ErrNoRows {
		pos = nil
	} else if err != nil {
		return fmt.Errorf("lock position: %w", err)
	}

	if err := fn(ctx, &pgTx{tx: tx}, pos); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) InsertTrade(ctx context.Context, tx Tx, t *model.Trade) error {
	return tx.InsertTrade(ctx, t)
}

func (p *Postgres) TradesForPosition(ctx context.Context, positionID string) ([]model.Trade, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, position_id, symbol, side, trade_type, price, quantity, amount, executed_at
		FROM trades WHERE position_id = $1 ORDER BY executed_at`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.PositionID, &t.Symbol, &t.Side, &t.TradeType, &t.Price, &t.Quantity, &t.Amount, &t.ExecutedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) CircuitBreaker(ctx context.Context) (model.CircuitBreaker, error) {
	var cb model.CircuitBreaker
	err := p.pool.QueryRow(ctx, `
		SELECT consecutive_losses, is_active, activated_at, reactivates_at, coalesce(last_loss_symbol,''), coalesce(last_loss_pnl,0)
		FROM circuit_breaker WHERE id = 1`).Scan(
		&cb.ConsecutiveLosses, &cb.IsActive, &cb.ActivatedAt, &cb.ReactivatesAt, &cb.LastLossSymbol, &cb.LastLossPnL)
	return cb, err
}

func (p *Postgres) RecordLoss(ctx context.Context, symbol string, pnl float64, threshold int, cooldown time.Duration) (model.CircuitBreaker, error) {
	var cb model.CircuitBreaker
	now := time.Now().UTC()
	err := p.pool.QueryRow(ctx, `
		UPDATE circuit_breaker SET
			consecutive_losses = consecutive_losses + 1,
			last_loss_symbol = $1,
			last_loss_pnl = $2,
			is_active = CASE WHEN consecutive_losses + 1 >= $3 THEN true ELSE is_active END,
			activated_at = CASE WHEN consecutive_losses + 1 >= $3 THEN $4 ELSE activated_at END,
			reactivates_at = CASE WHEN consecutive_losses + 1 >= $3 THEN $4 + $5::interval ELSE reactivates_at END
		WHERE id = 1
		RETURNING consecutive_losses, is_active, activated_at, reactivates_at, coalesce(last_loss_symbol,''), coalesce(last_loss_pnl,0)
	`, symbol, pnl, threshold, now, cooldown.String()).Scan(
		&cb.ConsecutiveLosses, &cb.IsActive, &cb.ActivatedAt, &cb.ReactivatesAt, &cb.LastLossSymbol, &cb.LastLossPnL)
	return cb, err
}

func (p *Postgres) ResetCircuitBreaker(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `UPDATE circuit_breaker SET consecutive_losses = 0 WHERE id = 1`)
	return err
}

func (p *Postgres) ReactivateIfExpired(ctx context.Context) (model.CircuitBreaker, error) {
	var cb model.CircuitBreaker
	err := p.pool.QueryRow(ctx, `
		UPDATE circuit_breaker SET
			is_active = CASE WHEN is_active AND reactivates_at <= now() THEN false ELSE is_active END
		WHERE id = 1
		RETURNING consecutive_losses, is_active, activated_at, reactivates_at, coalesce(last_loss_symbol,''), coalesce(last_loss_pnl,0)
	`).Scan(&cb.ConsecutiveLosses, &cb.IsActive, &cb.ActivatedAt, &cb.ReactivatesAt, &cb.LastLossSymbol, &cb.LastLossPnL)
	return cb, err
}

func (p *Postgres) EnqueueEvent(ctx context.Context, e *model.TradeEvent) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO trade_events (id, event_type, symbol, data, posted, created_at)
		VALUES ($1, $2, $3, $4, false, $5)`,
		e.ID, e.EventType, e.Symbol, data, e.CreatedAt)
	return err
}

func (p *Postgres) UnpostedEvents(ctx context.Context, limit int) ([]model.TradeEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, event_type, coalesce(symbol,''), data, posted, created_at, posted_at
		FROM trade_events WHERE posted = false ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TradeEvent
	for rows.Next() {
		var e model.TradeEvent
		var raw []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.Symbol, &raw, &e.Posted, &e.CreatedAt, &e.PostedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &e.Data)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) RecentEvents(ctx context.Context, limit int) ([]model.TradeEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, event_type, coalesce(symbol,''), data, posted, created_at, posted_at
		FROM trade_events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TradeEvent
	for rows.Next() {
		var e model.TradeEvent
		var raw []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.Symbol, &raw, &e.Posted, &e.CreatedAt, &e.PostedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &e.Data)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkEventsPosted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	_, err := p.pool.Exec(ctx, `UPDATE trade_events SET posted = true, posted_at = $2 WHERE id = ANY($1)`, ids, now)
	return err
}

func (p *Postgres) EventStats(ctx context.Context) (map[model.EventType]int, error) {
	rows, err := p.pool.Query(ctx, `SELECT event_type, count(*) FROM trade_events GROUP BY event_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[model.EventType]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[model.EventType(kind)] = n
	}
	return out, rows.Err()
}

func (p *Postgres) PortfolioSummary(ctx context.Context, maxConcurrent int, totalCapital float64) (model.PortfolioSummary, error) {
	var summary model.PortfolioSummary
	summary.MaxConcurrent = maxConcurrent

	var invested float64
	if err := p.pool.QueryRow(ctx, `SELECT coalesce(sum(total_cost),0), count(*) FROM positions WHERE status = 'OPEN'`).
		Scan(&invested, &summary.OpenCount); err != nil {
		return summary, err
	}
	summary.InvestedUSD = invested
	summary.AvailableCapitalUSD = totalCapital - invested

	var realized float64
	var wins, total int
	if err := p.pool.QueryRow(ctx, `
		SELECT coalesce(sum(realized_pnl),0), count(*) FILTER (WHERE realized_pnl > 0), count(*)
		FROM positions WHERE status = 'CLOSED'`).Scan(&realized, &wins, &total); err != nil {
		return summary, err
	}
	summary.RealizedPnL = realized
	if total > 0 {
		summary.WinRate = float64(wins) / float64(total) * 100
	}
	if totalCapital > 0 {
		summary.TotalPnLPercent = realized / totalCapital * 100
	}

	cb, err := p.CircuitBreaker(ctx)
	if err != nil {
		return summary, err
	}
	summary.CircuitBreakerActive = cb.IsActive
	return summary, nil
}

func (p *Postgres) TopLearningRules(ctx context.Context, n int) ([]LearningRule, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT symbol, condition, action, weight, sample_size, last_updated
		FROM learning_rules ORDER BY weight DESC LIMIT $1`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LearningRule
	for rows.Next() {
		var r LearningRule
		if err := rows.Scan(&r.Symbol, &r.Condition, &r.Action, &r.Weight, &r.SampleSize, &r.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ Store = (*Postgres)(nil)
