// Package errs holds the error kinds shared by the ledger, the scheduled jobs
// and the HTTP surface. Callers wrap them with fmt.Errorf("...: %w") and test
// with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the entity is absent or not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput covers malformed amounts, dates, types and intervals.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidInterval is returned by the recurrence calculator.
	ErrInvalidInterval = errors.New("invalid recurring interval")
	// ErrRateLimited is a throttle denial.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransactionAborted means an atomic unit failed and nothing was persisted.
	ErrTransactionAborted = errors.New("transaction aborted")
	// ErrExternalDispatchFailed is a notification or classifier failure.
	ErrExternalDispatchFailed = errors.New("external dispatch failed")
)

// Aborted wraps cause so that both ErrTransactionAborted and the cause
// itself remain visible to errors.Is.
func Aborted(cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, ErrTransactionAborted) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrTransactionAborted, cause)
}

// Invalid builds an ErrInvalidInput with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
