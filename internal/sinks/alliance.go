package sinks

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"go.uber.org/zap"
)

// AllianceDatabaseSink writes to an external Postgres-compatible database
// shared with partner indexers, grounded on certenIO-certen-validator's
// pkg/database/client.go connection-pooling pattern (database/sql over
// lib/pq, ping-on-open, pool size knobs). Per spec.md §4.3 it enforces a
// stricter invariant than the canonical store: a verification without a
// creation match is rejected, since downstream consumers of this table
// index by deployment transaction.
type AllianceDatabaseSink struct {
	db     *sql.DB
	logger *zap.Logger
}

// AllianceConfig configures the Postgres connection pool.
type AllianceConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// NewAllianceDatabaseSink opens and pings a Postgres connection pool.
func NewAllianceDatabaseSink(cfg AllianceConfig, logger *zap.Logger) (*AllianceDatabaseSink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("alliance sink: DSN cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("alliance sink: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("alliance sink: ping: %w", err)
	}

	logger.Info("connected to alliance database")
	return &AllianceDatabaseSink{db: db, logger: logger}, nil
}

// Identifier implements WriteSink.
func (a *AllianceDatabaseSink) Identifier() Identifier { return IdentifierAllianceDatabase }

// Init implements WriteSink by creating the verified_contracts table if
// it doesn't already exist.
func (a *AllianceDatabaseSink) Init(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS verified_contracts (
			chain_id TEXT NOT NULL,
			address TEXT NOT NULL,
			creation_match TEXT NOT NULL,
			runtime_match TEXT NOT NULL,
			fully_qualified_name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (chain_id, address)
		)
	`)
	if err != nil {
		return fmt.Errorf("alliance sink: init schema: %w", err)
	}
	return nil
}

// StoreVerification implements WriteSink, rejecting any result without a
// creation match before touching the database.
func (a *AllianceDatabaseSink) StoreVerification(ctx context.Context, result *VerificationResult, jobCtx *JobContext) error {
	if result.CreationMatch == "null" {
		return errMissingCreationMatch()
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO verified_contracts (chain_id, address, creation_match, runtime_match, fully_qualified_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chain_id, address) DO UPDATE SET
			creation_match = EXCLUDED.creation_match,
			runtime_match = EXCLUDED.runtime_match,
			fully_qualified_name = EXCLUDED.fully_qualified_name
	`, result.ChainID, result.Address, string(result.CreationMatch), string(result.RuntimeMatch), result.CompiledContract.FullyQualifiedName)
	if err != nil {
		return fmt.Errorf("alliance sink: insert: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (a *AllianceDatabaseSink) Close() error { return a.db.Close() }
