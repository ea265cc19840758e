package shared

import "errors"

var (
	// ErrNotFound indicates a missing entity or a business scope mismatch.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates input the caller must correct.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidStateTransition indicates the action is not permitted from the current status.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrInsufficientStock indicates a decrement would drive stock negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConcurrencyConflict indicates a lost update; the whole transition should be retried.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// Retryable reports whether the caller may retry the operation unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
