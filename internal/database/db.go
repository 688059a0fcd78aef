package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"forex-trading-bot/internal/logging"
)

// Querier is the subset of the pool used by the repositories.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// Config holds database configuration
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int32  `json:"max_conns"`
}

// DSN builds the libpq connection string for cfg.
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode,
	)
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg Config, logger *logging.Logger) (*DB, error) {
	logger = logging.OrDefault(logger, "database")

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger.Info("Connected to PostgreSQL", "database", cfg.Database, "host", cfg.Host)
	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("Database connection closed")
	}
}

// HealthCheck pings the database
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// migrations are applied in order on every start; each one is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS strategies (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'inactive',
		parameters JSONB NOT NULL DEFAULT '[]',
		market_conditions JSONB NOT NULL DEFAULT '{}',
		performance_metrics JSONB,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_strategies_status ON strategies(status)`,

	`CREATE TABLE IF NOT EXISTS trades (
		id UUID PRIMARY KEY,
		strategy VARCHAR(100) NOT NULL,
		symbol VARCHAR(20) NOT NULL,
		side VARCHAR(4) NOT NULL,
		volume DECIMAL(20, 8) NOT NULL,
		entry_price DECIMAL(20, 8) NOT NULL,
		stop_loss DECIMAL(20, 8),
		take_profit DECIMAL(20, 8),
		fill_price DECIMAL(20, 8),
		order_id VARCHAR(64),
		reason TEXT,
		executed_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at)`,

	`CREATE TABLE IF NOT EXISTS backtest_results (
		id UUID PRIMARY KEY,
		strategy_id VARCHAR(64) NOT NULL,
		symbol VARCHAR(20) NOT NULL,
		timeframe VARCHAR(10) NOT NULL,
		parameters JSONB NOT NULL DEFAULT '{}',
		initial_balance DECIMAL(20, 8) NOT NULL,
		final_balance DECIMAL(20, 8) NOT NULL,
		profit_loss DECIMAL(20, 8) NOT NULL,
		win_rate DECIMAL(10, 4) NOT NULL,
		sharpe_ratio DECIMAL(20, 8) NOT NULL,
		max_drawdown DECIMAL(10, 4) NOT NULL,
		trades_count INTEGER NOT NULL,
		profit_factor DECIMAL(20, 8) NOT NULL,
		period_start TIMESTAMPTZ NOT NULL,
		period_end TIMESTAMPTZ NOT NULL,
		trades JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_results_strategy ON backtest_results(strategy_id, created_at DESC)`,
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("Running database migrations", "count", len(migrations))
	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	db.logger.Info("Database migrations completed")
	return nil
}
