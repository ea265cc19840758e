package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetryableOnlyForConflicts(t *testing.T) {
	require.True(t, Retryable(fmt.Errorf("%w: product 4 version moved", ErrConcurrencyConflict)))
	require.False(t, Retryable(ErrInsufficientStock))
	require.False(t, Retryable(errors.New("boom")))
	require.False(t, Retryable(nil))
}

func TestScopeValidate(t *testing.T) {
	require.NoError(t, Scope{BusinessID: 1, Actor: Actor{ID: 2, Name: "ops"}}.Validate())
	require.ErrorIs(t, Scope{Actor: Actor{ID: 2}}.Validate(), ErrValidation)
	require.ErrorIs(t, Scope{BusinessID: 1}.Validate(), ErrValidation)
}

func TestIdempotencyConflictIsValidation(t *testing.T) {
	require.ErrorIs(t, ErrIdempotencyConflict, ErrValidation)
}
