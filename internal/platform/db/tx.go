package db

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// DefaultMaxAttempts bounds how often a conflicting transaction is replayed.
const DefaultMaxAttempts = 5

// TxRunner executes callbacks in RepeatableRead transactions and replays them on conflicts.
type TxRunner struct {
	pool        *pgxpool.Pool
	maxAttempts int
	backoff     time.Duration
}

// NewTxRunner constructs a TxRunner. maxAttempts <= 0 falls back to DefaultMaxAttempts.
func NewTxRunner(pool *pgxpool.Pool, maxAttempts int) *TxRunner {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &TxRunner{pool: pool, maxAttempts: maxAttempts, backoff: 15 * time.Millisecond}
}

// Run executes fn inside a transaction. Serialization failures, deadlocks and
// shared.ErrConcurrencyConflict restart fn on a fresh transaction.
func (r *TxRunner) Run(ctx context.Context, fn func(pgx.Tx) error) error {
	if r == nil || r.pool == nil {
		return errors.New("platform/db: tx runner not initialised")
	}
	return Retry(ctx, r.maxAttempts, r.backoff, func() error {
		return WithTx(ctx, r.pool, fn)
	})
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(tx); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

// Retry calls fn until it succeeds, fails with a non-retryable error or
// attempts are exhausted. Exhaustion returns shared.ErrConcurrencyConflict.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !shared.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		wait := backoff*time.Duration(attempt) + time.Duration(rand.Int64N(int64(backoff)+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", shared.ErrConcurrencyConflict, attempts, lastErr)
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return fmt.Errorf("%w: %s", shared.ErrConcurrencyConflict, pgErr.Message)
		}
	}
	return err
}
