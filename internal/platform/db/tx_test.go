package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

func TestRetryReplaysConflicts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: version moved", shared.ErrConcurrencyConflict)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryStopsOnBusinessErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return shared.ErrInsufficientStock
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, 1, calls)
}

func TestRetryExhaustionSurfacesConflict(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return shared.ErrConcurrencyConflict
	})
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	require.Equal(t, 3, calls)
}

func TestClassifyMapsSerializationFailures(t *testing.T) {
	err := classify(fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40001", Message: "could not serialize access"}))
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)

	err = classify(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)

	plain := errors.New("connection reset")
	require.Equal(t, plain, classify(plain))
}
