package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/tripmarket/booking-core/internal/models"
)

type txKey struct{}

func txFromContext(ctx context.Context) *sqlx.Tx {
	tx, _ := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx
}

// InTransaction reports whether ctx carries a bound transaction
func InTransaction(ctx context.Context) bool {
	return txFromContext(ctx) != nil
}

type commitError struct {
	err error
}

func (e *commitError) Error() string { return fmt.Sprintf("failed to commit transaction: %v", e.err) }
func (e *commitError) Unwrap() error { return e.err }

// IsCommitError reports whether err came from COMMIT, meaning the outcome of
// the transaction is unknown to the caller.
func IsCommitError(err error) bool {
	var ce *commitError
	return errors.As(err, &ce)
}

// WithTransaction binds one transaction to the context passed to fn. Every
// repository call made with that context runs on the same transaction. The
// transaction commits when fn returns nil and rolls back on error or panic.
// Nested calls join the outer transaction.
//
// If the transaction fails on a connection error before COMMIT was sent, it is
// rerun once on a fresh pool. A failed COMMIT is never retried.
func (p *PostgresDB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	db, err := p.runInTx(ctx, fn)
	if err == nil {
		return nil
	}
	if IsCommitError(err) {
		if IsConnectionError(err) {
			return models.NewStorageUnavailableError(err)
		}
		return err
	}
	if !IsConnectionError(err) || db == nil {
		return err
	}

	p.logger.WithError(err).Warn("Transaction failed on connection error, reconnecting and retrying once")
	if _, rerr := p.reconnect(ctx, db); rerr != nil {
		return rerr
	}
	if _, err = p.runInTx(ctx, fn); err != nil && IsConnectionError(err) {
		return models.NewStorageUnavailableError(err)
	}
	return err
}

// runInTx returns the pool it used so a retry can replace exactly that pool
func (p *PostgresDB) runInTx(ctx context.Context, fn func(ctx context.Context) error) (db *sqlx.DB, err error) {
	db, err = p.conn(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return db, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			p.logger.WithError(rbErr).Warn("Transaction rollback failed")
		}
		return db, err
	}

	if err := tx.Commit(); err != nil {
		return db, &commitError{err: err}
	}
	return db, nil
}
