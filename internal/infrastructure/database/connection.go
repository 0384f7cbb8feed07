package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/controlledtrade/substance-compliance-backend/internal/infrastructure/config"
)

// ConnectionPool wraps a pgx pool with the runtime parameters the
// compliance schema expects.
type ConnectionPool struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewConnectionPool creates and pings a connection pool.
func NewConnectionPool(cfg *config.DatabaseConfig, logger *zap.Logger) (*ConnectionPool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	} else {
		poolConfig.MaxConns = 25
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}
	poolConfig.MaxConnIdleTime = 10 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second
	poolConfig.ConnConfig.RuntimeParams = map[string]string{
		"application_name":              "compliance_backend",
		"timezone":                      "UTC",
		"lock_timeout":                  "10s",
		"statement_timeout":             "30s",
		"default_transaction_isolation": "read committed",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection pool initialized",
		zap.Int32("max_connections", poolConfig.MaxConns))

	return &ConnectionPool{
		pool:   pool,
		logger: logger,
	}, nil
}

// Pool exposes the underlying pgx pool for repositories.
func (p *ConnectionPool) Pool() *pgxpool.Pool {
	return p.pool
}

// Transaction executes fn within a database transaction.
func (p *ConnectionPool) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, fn)
}

// Ping checks database liveness.
func (p *ConnectionPool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases all connections.
func (p *ConnectionPool) Close() {
	p.pool.Close()
	p.logger.Info("database connection pool closed")
}
