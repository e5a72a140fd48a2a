/*
errors.go - Centralized error types for the points ledger

PURPOSE:
  All recoverable error conditions of the ledger and the points engine in
  one place. Callers match with errors.Is; structured variants carry the
  numbers a caller needs to explain the failure.

ERROR CATEGORIES:
  1. Balance errors   - InsufficientBalance
  2. Input errors     - InvalidAmount, InvalidEntry
  3. Concurrency      - Busy (per-user lock acquisition timed out)
  4. Refund errors    - NothingToRefund

None of these are fatal to the process. Idempotent replays are NOT errors:
the engine returns the prior result instead.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientBalance is returned when a debit exceeds the
	// available balance computed from prior entries.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount is returned for non-positive or malformed amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidEntry is returned when an entry's shape is wrong: unknown
	// kind, amount sign not matching the kind's polarity, or an Expiration
	// entry without a referenced credit.
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrBusy is returned when the per-user lock cannot be acquired within
	// the configured timeout. The operation had no side effect and may be
	// retried.
	ErrBusy = errors.New("user ledger busy")

	// ErrNothingToRefund is returned when no purchase entry exists for the
	// order, or the purchase has already been fully refunded or consumed.
	ErrNothingToRefund = errors.New("nothing to refund")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientBalanceError reports the shortfall on a rejected debit.
type InsufficientBalanceError struct {
	UserID    UserID
	Available Amount
	Requested Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s",
		e.UserID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// IsClientError returns true if the error is due to invalid caller input
// or state, as opposed to an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidEntry) ||
		errors.Is(err, ErrNothingToRefund)
}
