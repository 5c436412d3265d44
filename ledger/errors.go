/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these sentinels with structured context.

ERROR CATEGORIES:
  1. Commit errors     - Version conflicts and exhausted retries
  2. Validation errors - Business rule violations (seats, balance, status)
  3. Request errors    - Idempotency and lookup failures

PROPAGATION POLICY:
  ErrVersionConflict is internal: the coordinator retries it and callers
  never see it. Everything else is terminal and returned verbatim - a
  caller gets "not enough seats", never a generic failure.

USAGE:
  if errors.Is(err, ledger.ErrOversubscribed) { ... }

  var o *ledger.OversubscribedError
  if errors.As(err, &o) { show(o.Requested, o.Available) }

SEE ALSO:
  - coordinator.go: Retry policy around ErrVersionConflict
  - api/handlers.go: HTTP status mapping via the predicates below
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
	// ErrVersionConflict is returned by AppendIfVersion when the account
	// version moved between read and commit. Transient; the coordinator
	// retries it internally and never surfaces it to callers.
	ErrVersionConflict = errors.New("version conflict")

	// ErrContended is returned after the coordinator exhausts its retry
	// budget. The caller may resubmit with the same request ID.
	ErrContended = errors.New("commit contended: retries exhausted")

	// ErrOversubscribed is returned when a booking asks for more seats
	// than remain available.
	ErrOversubscribed = errors.New("oversubscribed")

	// ErrInsufficientBalance is returned when a redemption exceeds the
	// current point balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidState is returned when an operation is not valid for the
	// resource's current status (e.g. extending an expired session).
	ErrInvalidState = errors.New("operation invalid for current state")

	// ErrDuplicateInFlight is returned when a request ID is resubmitted
	// while the first submission is still executing.
	ErrDuplicateInFlight = errors.New("duplicate request in flight")

	// ErrNotFound is returned when a resource ID does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidAmount is returned for zero or negative operation
	// quantities that are required to be positive.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// =============================================================================
// STRUCTURED ERRORS - Carry the numbers the caller needs
// =============================================================================

// OversubscribedError reports a seat shortage.
type OversubscribedError struct {
	Requested int64
	Available int64
}

func (e *OversubscribedError) Error() string {
	return fmt.Sprintf("not enough seats: requested %d, available %d",
		e.Requested, e.Available)
}

func (e *OversubscribedError) Unwrap() error { return ErrOversubscribed }

// InsufficientBalanceError reports a point shortage.
type InsufficientBalanceError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient points: requested %s, available %s",
		e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InvalidStateError reports an operation attempted against the wrong status.
type InvalidStateError struct {
	Operation Operation
	Status    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: status is %q", e.Operation, e.Status)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable reports whether the error might succeed on resubmission.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrContended)
}

// IsClientError reports whether the error is due to the caller's input
// rather than an engine fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrOversubscribed) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrDuplicateInFlight)
}

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
