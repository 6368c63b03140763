package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/config"
	"github.com/tripmarket/booking-core/internal/models"
)

// Querier is the statement surface repositories depend on
type Querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Transactor runs a unit of work in one transaction
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// DB interface defines database operations
type DB interface {
	Querier
	Transactor
	PingContext(ctx context.Context) error
	Degraded() bool
	Close() error
}

// Dialer opens a new pool
type Dialer func(ctx context.Context) (*sqlx.DB, error)

// PostgresDB implements DB over a sqlx pool. It is the only owner of the pool
// and the only place the pool is replaced after a connection failure.
type PostgresDB struct {
	mu     sync.RWMutex
	db     *sqlx.DB
	dial   Dialer
	logger *logrus.Logger
}

var errNoDialer = errors.New("no database dialer configured")

// NewPostgresDB wraps an open pool. db may be nil to start in degraded mode.
func NewPostgresDB(db *sqlx.DB, dial Dialer, logger *logrus.Logger) *PostgresDB {
	if logger == nil {
		logger = logrus.New()
	}
	return &PostgresDB{db: db, dial: dial, logger: logger}
}

// maskPassword masks the password in a database URL for safe logging
func maskPassword(url string) string {
	re := regexp.MustCompile(`(postgres(?:ql)?://[^:]+:)([^@]+)(@.+)`)
	return re.ReplaceAllString(url, "${1}****${3}")
}

// NewDialer builds a Dialer for the configured driver
func NewDialer(cfg config.DatabaseConfig, logger *logrus.Logger) Dialer {
	return func(ctx context.Context) (*sqlx.DB, error) {
		if cfg.URL == "" {
			return nil, fmt.Errorf("database URL is required")
		}

		var (
			db  *sqlx.DB
			err error
		)
		switch cfg.Driver {
		case "postgres":
			db, err = sqlx.ConnectContext(ctx, "postgres", cfg.URL)
		default:
			db, err = connectPgx(ctx, cfg.URL, logger)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(cfg.MaxIdleConnections)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)

		return db, nil
	}
}

func connectPgx(ctx context.Context, url string, logger *logrus.Logger) (*sqlx.DB, error) {
	pgxConfig, err := pgx.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Transaction-mode poolers (PgBouncer, Supavisor on 6543) drop prepared statements
	if strings.Contains(url, ":6543") || strings.Contains(url, "pgbouncer=true") {
		pgxConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
		logger.Info("Connection pooler detected, using simple protocol")
	}

	logger.WithField("url", maskPassword(url)).Debug("Connecting with pgx driver")
	return sqlx.ConnectContext(ctx, "pgx", stdlib.RegisterConnConfig(pgxConfig))
}

// ConnectWithRetry dials with exponential backoff. When every attempt fails it
// still returns a usable *PostgresDB in degraded mode together with the last error;
// calls on it try to reconnect lazily.
func ConnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (*PostgresDB, error) {
	dial := NewDialer(cfg, logger)

	attempts := cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := cfg.ConnectBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		db, err := dial(ctx)
		if err == nil {
			logger.WithField("attempt", attempt).Info("Database connection established")
			return NewPostgresDB(db, dial, logger), nil
		}
		lastErr = err

		logger.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": attempts,
			"error":        err.Error(),
		}).Warn("Database connection attempt failed")

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return NewPostgresDB(nil, dial, logger), ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}

	return NewPostgresDB(nil, dial, logger), fmt.Errorf("database unavailable after %d attempts: %w", attempts, lastErr)
}

// Degraded reports whether there is currently no pool
func (p *PostgresDB) Degraded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.db == nil
}

func (p *PostgresDB) conn(ctx context.Context) (*sqlx.DB, error) {
	p.mu.RLock()
	db := p.db
	p.mu.RUnlock()
	if db != nil {
		return db, nil
	}
	return p.reconnect(ctx, nil)
}

// reconnect replaces stale with a fresh pool. If another caller already
// replaced it, the current pool is returned without dialing again.
func (p *PostgresDB) reconnect(ctx context.Context, stale *sqlx.DB) (*sqlx.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil && p.db != stale {
		return p.db, nil
	}
	if p.dial == nil {
		return nil, models.NewStorageUnavailableError(errNoDialer)
	}

	fresh, err := p.dial(ctx)
	if err != nil {
		p.logger.WithError(err).Error("Database reconnect failed")
		return nil, models.NewStorageUnavailableError(err)
	}
	if p.db != nil {
		_ = p.db.Close()
	}
	p.db = fresh
	p.logger.Info("Database connection re-established")
	return fresh, nil
}

// run executes op once, and once more on a fresh pool if the first failure
// was connection-class.
func (p *PostgresDB) run(ctx context.Context, op func(db *sqlx.DB) error) error {
	db, err := p.conn(ctx)
	if err != nil {
		return err
	}

	err = op(db)
	if !IsConnectionError(err) {
		return err
	}

	p.logger.WithError(err).Warn("Database connection error, reconnecting and retrying once")
	db, rerr := p.reconnect(ctx, db)
	if rerr != nil {
		return rerr
	}
	if err = op(db); IsConnectionError(err) {
		return models.NewStorageUnavailableError(err)
	}
	return err
}

// GetContext runs on the transaction bound to ctx, if any
func (p *PostgresDB) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if tx := txFromContext(ctx); tx != nil {
		return tx.GetContext(ctx, dest, query, args...)
	}
	return p.run(ctx, func(db *sqlx.DB) error {
		return db.GetContext(ctx, dest, query, args...)
	})
}

// SelectContext runs on the transaction bound to ctx, if any
func (p *PostgresDB) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if tx := txFromContext(ctx); tx != nil {
		return tx.SelectContext(ctx, dest, query, args...)
	}
	return p.run(ctx, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, dest, query, args...)
	})
}

// ExecContext runs on the transaction bound to ctx, if any
func (p *PostgresDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	var result sql.Result
	err := p.run(ctx, func(db *sqlx.DB) error {
		var execErr error
		result, execErr = db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

// PingContext checks connectivity, reconnecting once if needed
func (p *PostgresDB) PingContext(ctx context.Context) error {
	return p.run(ctx, func(db *sqlx.DB) error {
		return db.PingContext(ctx)
	})
}

// Close closes the pool
func (p *PostgresDB) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
