/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All engine errors in one place for consistency and discoverability.
  Domain packages (fees, inventory) wrap these with additional context.

ERROR CATEGORIES:
  1. Validation errors - rejected before any write (InvalidDelta, InsufficientQuantity)
  2. Lookup errors     - AccountNotFound, AccountExists
  3. Concurrency       - ConcurrentModification (internal), ConcurrencyExhausted
  4. Infrastructure    - StorageUnavailable (retryable, distinct from the above)

USAGE:
  if errors.Is(err, ledger.ErrInsufficientQuantity) { ... }

  var insufficient *ledger.InsufficientQuantityError
  if errors.As(err, &insufficient) {
      fmt.Println(insufficient.Available)
  }

SEE ALSO:
  - processor.go: Produces these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when creating an account whose ID is taken.
	ErrAccountExists = errors.New("account already exists")

	// ErrInvalidDelta is returned for a zero delta. Rejected before any
	// store access: there is nothing to record.
	ErrInvalidDelta = errors.New("invalid delta")

	// ErrInsufficientQuantity is returned when applying the delta would take
	// an inventory_quantity account below zero.
	ErrInsufficientQuantity = errors.New("insufficient quantity")

	// ErrConcurrentModification is returned by stores when a compare-and-swap
	// detects a conflicting concurrent write. The Processor retries on it;
	// callers never see it on eventual success.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrConcurrencyExhausted is returned when the optimistic-retry budget
	// was exceeded under sustained contention. Transient; the caller may
	// retry the whole operation.
	ErrConcurrencyExhausted = errors.New("concurrency retry budget exhausted")

	// ErrDuplicateIdempotencyKey is returned by stores when an entry with the
	// same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrStorageUnavailable is returned when the underlying datastore could
	// not be reached. Retryable infrastructure failure, distinct from the
	// business-rule failures above.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrBalanceDrift indicates the projected balance diverged from the live
	// value. This is a bug in the write path, not a data-entry error, and is
	// treated as a fatal consistency fault.
	ErrBalanceDrift = errors.New("balance drift detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientQuantityError carries the attempted magnitude and the
// available value so the caller can report "cannot use more than what is
// available".
type InsufficientQuantityError struct {
	AccountID AccountID
	Requested decimal.Decimal // magnitude of the attempted draw
	Available decimal.Decimal // the freshly-read current value
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("insufficient quantity on %s: requested %s, available %s",
		e.AccountID, e.Requested, e.Available)
}

func (e *InsufficientQuantityError) Unwrap() error {
	return ErrInsufficientQuantity
}

// ConcurrencyExhaustedError reports how many attempts were made before
// giving up on a contended account.
type ConcurrencyExhaustedError struct {
	AccountID AccountID
	Attempts  int
}

func (e *ConcurrencyExhaustedError) Error() string {
	return fmt.Sprintf("apply on %s failed after %d conflicting attempts", e.AccountID, e.Attempts)
}

func (e *ConcurrencyExhaustedError) Unwrap() error {
	return ErrConcurrencyExhausted
}

// DriftError reports a divergence between the live value and the value
// reconstructed from the ledger history.
type DriftError struct {
	AccountID AccountID
	Live      decimal.Decimal
	Projected decimal.Decimal
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("balance drift on %s: live %s, projected %s",
		e.AccountID, e.Live, e.Projected)
}

func (e *DriftError) Unwrap() error {
	return ErrBalanceDrift
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on a later retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyExhausted) ||
		errors.Is(err, ErrStorageUnavailable)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDelta) ||
		errors.Is(err, ErrInsufficientQuantity) ||
		errors.Is(err, ErrAccountExists)
}

// IsNotFound returns true if the error indicates a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}
