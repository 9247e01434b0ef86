package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/roadnet/pkg/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGConfig configures the PostgreSQL store.
type PGConfig struct {
	URL         string
	MaxConns    int32
	MinConns    int32
	LockTimeout time.Duration
}

// PGStore keeps the temporal edge rows in PostgreSQL/PostGIS.
type PGStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	logger      logging.Logger
}

// NewPGStore creates a PostgreSQL-backed store and verifies connectivity.
// Tables are created by Migrate.
func NewPGStore(ctx context.Context, cfg PGConfig, logger logging.Logger) (*PGStore, error) {
	config, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pooling configuration
	config.MaxConns = 25
	config.MinConns = 5
	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 && cfg.MinConns <= config.MaxConns {
		config.MinConns = cfg.MinConns
	}
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger.Info("connected to postgres",
		logging.Component("store"),
		logging.Int("max_conns", int(config.MaxConns)),
		logging.Duration("lock_timeout", cfg.LockTimeout))

	return &PGStore{pool: pool, lockTimeout: cfg.LockTimeout, logger: logger}, nil
}

// Update implements Store. The lock is a transaction-scoped advisory lock,
// released by commit or rollback.
func (s *PGStore) Update(ctx context.Context, lockKey string, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if s.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			return classify("lock", err)
		}
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(lockKey)); err != nil {
		if isLockTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			return lockConflict(lockKey, err)
		}
		return classify("lock", err)
	}

	if err := fn(&pgTx{tx: tx, writable: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

// View implements Store with a read-only repeatable-read transaction, so a
// read sees the state before or after a concurrent update, never a mix.
func (s *PGStore) View(ctx context.Context, fn func(tx ReadTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return classify("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return classify("commit", tx.Commit(ctx))
}

// Ping checks database connectivity
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool
func (s *PGStore) Close() {
	s.pool.Close()
}
