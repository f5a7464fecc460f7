// Package archive persists closed trades and their entry metadata to
// PostgreSQL so learning passes can work across restarts and long
// backtests.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/trading"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB connects to the archive database.
func NewDB(ctx context.Context, cfg *config.Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ArchiveConfig.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// RunMigrations creates the archive schema.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS archived_trades (
			id SERIAL PRIMARY KEY,
			position_id BIGINT NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8),
			size_btc DECIMAL(20, 8) NOT NULL,
			stop_loss DECIMAL(20, 8),
			take_profit DECIMAL(20, 8),
			entry_time TIMESTAMPTZ NOT NULL,
			exit_time TIMESTAMPTZ,
			pnl DECIMAL(20, 8),
			status VARCHAR(20) NOT NULL,
			reason TEXT,
			kelly_fraction DECIMAL(10, 6),
			metadata JSONB,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_trades_position ON archived_trades(position_id)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_trades_entry_time ON archived_trades(entry_time)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_trades_status ON archived_trades(status)`,

		`CREATE TABLE IF NOT EXISTS equity_snapshots (
			id SERIAL PRIMARY KEY,
			taken_at TIMESTAMPTZ NOT NULL,
			balance DECIMAL(20, 8) NOT NULL,
			open_positions INT NOT NULL,
			daily_pnl DECIMAL(20, 8),
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equity_snapshots_taken_at ON equity_snapshots(taken_at)`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Repository provides archive data access.
type Repository struct {
	db     *DB
	symbol string
	logger zerolog.Logger
}

func NewRepository(db *DB, symbol string, logger zerolog.Logger) *Repository {
	return &Repository{
		db:     db,
		symbol: symbol,
		logger: logger.With().Str("component", "Archive").Logger(),
	}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ArchiveTrade stores one closed position with its entry metadata.
func (r *Repository) ArchiveTrade(ctx context.Context, pos *trading.Position, record *trading.TradeRecord) error {
	var metadata []byte
	if record != nil {
		var err error
		metadata, err = json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling trade metadata: %w", err)
		}
	}

	query := `
		INSERT INTO archived_trades (position_id, symbol, direction, entry_price, exit_price,
			size_btc, stop_loss, take_profit, entry_time, exit_time, pnl, status, reason,
			kelly_fraction, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		pos.ID, r.symbol, string(pos.Direction), pos.EntryPrice, pos.ExitPrice,
		pos.SizeBTC, pos.StopLoss, pos.TakeProfit, pos.EntryTime, pos.ExitTime,
		pos.PnL, string(pos.Status), pos.Reason, pos.KellyFraction, metadata)
	if err != nil {
		return fmt.Errorf("archiving trade %d: %w", pos.ID, err)
	}
	return nil
}

// SnapshotEquity records the current balance for the equity history.
func (r *Repository) SnapshotEquity(ctx context.Context, takenAt time.Time, balance float64, openPositions int, dailyPnL float64) error {
	query := `
		INSERT INTO equity_snapshots (taken_at, balance, open_positions, daily_pnl)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.Pool.Exec(ctx, query, takenAt, balance, openPositions, dailyPnL); err != nil {
		return fmt.Errorf("snapshotting equity: %w", err)
	}
	return nil
}

// LoadTradeRecords returns archived entry metadata for the learning
// analyzer, newest first, capped at limit.
func (r *Repository) LoadTradeRecords(ctx context.Context, limit int) ([]trading.TradeRecord, error) {
	query := `
		SELECT position_id, pnl, metadata
		FROM archived_trades
		WHERE metadata IS NOT NULL
		ORDER BY entry_time DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("loading trade records: %w", err)
	}
	defer rows.Close()

	var records []trading.TradeRecord
	for rows.Next() {
		var (
			positionID uint64
			pnl        float64
			metadata   []byte
		)
		if err := rows.Scan(&positionID, &pnl, &metadata); err != nil {
			return nil, err
		}
		record := trading.TradeRecord{PositionID: positionID, PnL: pnl, Outcome: outcomeFromPnL(pnl)}
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			r.logger.Warn().Err(err).Uint64("position", positionID).Msg("skipping corrupt metadata")
			continue
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// outcomeFromPnL maps realized PnL back to the analyzer's outcome label.
func outcomeFromPnL(pnl float64) string {
	if pnl > 0 {
		return "win"
	}
	return "loss"
}

// ArchiveClosedTrades persists every trade closed on this tick, logging
// rather than failing the trading loop on errors.
func (r *Repository) ArchiveClosedTrades(ctx context.Context, closed []trading.Position, records map[uint64]*trading.TradeRecord) {
	for i := range closed {
		pos := &closed[i]
		if err := r.ArchiveTrade(ctx, pos, records[pos.ID]); err != nil {
			r.logger.Error().Err(err).Uint64("position", pos.ID).Msg("trade archive failed")
		}
	}
}
