package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	defaultMaxRetries    = 3
	defaultRetryDelay    = 100 * time.Millisecond
	defaultMaxRetryDelay = 2 * time.Second
)

//nolint:gochecknoglobals
var retryableCodes = []string{
	"40001", // serialization_failure
	"40P01", // deadlock_detected
}

type TxFunc func(ctx context.Context, tx pgx.Tx) error

// WithTransaction runs fn in a transaction, committing when it returns nil.
func WithTransaction(ctx context.Context, db DBPool, fn TxFunc) error {
	if db == nil {
		return ErrConnectionPoolNil
	}

	tx, err := db.BeginTx(ctx, pgx.TxOptions{}) //nolint:exhaustruct
	if err != nil {
		return fmt.Errorf("postgres: begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("postgres: transaction error: %w, rollback error: %w", err, rbErr)
		}

		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit transaction: %w", err)
	}

	return nil
}

// IsRetryable reports serialization failures and deadlocks.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}

	return slices.Contains(retryableCodes, pgErr.Code)
}

// WithRetryTransaction reruns the whole transaction on retryable errors with
// exponential backoff.
func WithRetryTransaction(ctx context.Context, db DBPool, fn TxFunc) error {
	delay := defaultRetryDelay

	var err error

	for attempt := 0; attempt <= defaultMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("postgres: retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
				delay = min(delay*2, defaultMaxRetryDelay) //nolint:mnd
			}
		}

		err = WithTransaction(ctx, db, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("postgres: max retries (%d) exceeded: %w", defaultMaxRetries, err)
}
