/*
errors.go - Centralized error types for the compensation engine

PURPOSE:
  Every business-rule failure is an ordinary Go error the caller can
  inspect with errors.Is / errors.As. Nothing in this package panics on
  bad input, and nothing retries: re-invoking with the same state fails
  the same way.

ERROR CATEGORIES:
  1. Input errors     - ErrInvalidAmount, ErrInvalidInput, ErrInvalidTarget
  2. Lookup errors    - ErrNotFound
  3. State conflicts  - ErrNotAvailable, ErrInsufficientBalance,
                        ErrAlreadyInUse, ErrInvalidState
  4. Ledger errors    - ErrDuplicateEntry

USAGE:
  _, err := engine.Apply(ctx, in)
  var ib *credit.InsufficientBalanceError
  if errors.As(err, &ib) {
      fmt.Println(ib.Requested, ib.Available)
  }

SEE ALSO:
  - engine.go: Returns these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package credit

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when an amount is zero or negative.
	ErrInvalidAmount = errors.New("invalid amount: must be positive")

	// ErrInvalidInput is returned when a required field is missing.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTarget is returned when the target document reference is incomplete.
	ErrInvalidTarget = errors.New("invalid target document")

	// ErrNotFound is returned when a credit note id does not exist.
	ErrNotFound = errors.New("credit note not found")

	// ErrNotAvailable is returned when applying to a note that is used,
	// cancelled or refunded.
	ErrNotAvailable = errors.New("credit note no longer available")

	// ErrInsufficientBalance is returned when the requested amount exceeds
	// the remaining amount. See InsufficientBalanceError for the details.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadyInUse is returned when cancelling a note that has been
	// partly or fully compensated.
	ErrAlreadyInUse = errors.New("credit note already in use")

	// ErrInvalidState is returned when a cancel or refund is attempted from
	// a state that does not allow it.
	ErrInvalidState = errors.New("invalid credit note state")

	// ErrAlreadyProcessed is the refund-facing name of ErrInvalidState.
	ErrAlreadyProcessed = ErrInvalidState

	// ErrDuplicateEntry is returned when a ledger entry id already exists.
	ErrDuplicateEntry = errors.New("duplicate compensation entry")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports both the requested and available amounts.
type InsufficientBalanceError struct {
	CreditNoteID CreditNoteID
	Requested    decimal.Decimal
	Available    decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %s, available %s",
		e.Requested.String(), e.Available.String())
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// StateError describes an operation refused because of the note's status.
type StateError struct {
	CreditNoteID CreditNoteID
	Op           string
	Status       Status
	Err          error // one of the sentinel state errors
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s (status %s)", e.Op, e.Err, e.Status)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

func stateError(note CreditNote, op string, err error) *StateError {
	return &StateError{CreditNoteID: note.ID, Op: op, Status: note.Status, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidTarget)
}

// IsNotFound returns true if the error indicates a missing credit note.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error is a state or balance conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrNotAvailable) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAlreadyInUse) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrDuplicateEntry)
}
