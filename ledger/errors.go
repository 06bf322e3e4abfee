/*
errors.go - Centralized error types for the settlement engine

ERROR CATEGORIES:
  1. Business rule violations - expected, never fatal, never change state
  2. Storage errors - a repository write failed; the event is rolled back
  3. Invariant errors - a computed account is not balanced; rolled back

USAGE:
  Callers classify with errors.Is / errors.As:

    if errors.Is(err, ledger.ErrInsufficientFunds) { ... }
    var rv *ledger.RuleViolation
    if errors.As(err, &rv) { ... }

SEE ALSO:
  - engine.go: Produces these errors inside an atomic unit
  - store.go: Repository errors (duplicates, not found)
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
	// Business rules.
	ErrAccountLocked     = errors.New("account is locked")
	ErrAccountNotOpen    = errors.New("account not open")
	ErrInsufficientFunds = errors.New("insufficient available funds")
	ErrUnknownEvent      = errors.New("referenced event not found")
	ErrForeignEvent      = errors.New("referenced event belongs to another client")
	ErrNotDisputable     = errors.New("only withdrawals can be disputed")
	ErrAlreadyDisputed   = errors.New("event already has a dispute record")
	ErrNoActiveDispute   = errors.New("no active dispute")

	// Repository contract.
	ErrAccountNotFound  = errors.New("account not found")
	ErrDisputeNotFound  = errors.New("dispute not found")
	ErrDuplicateEvent   = errors.New("duplicate event id")
	ErrDuplicateDispute = errors.New("duplicate dispute")
	ErrDuplicateAccount = errors.New("duplicate account")

	// ErrStorage marks any failure of the underlying store.
	ErrStorage = errors.New("storage failure")

	// ErrUnbalanced is returned when total != available + held.
	ErrUnbalanced = errors.New("account unbalanced")

	// ErrMalformedEvent is wrapped by EventSource implementations when an
	// input record cannot be decoded into a TransactionEvent.
	ErrMalformedEvent = errors.New("malformed event")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RuleViolation is a non-fatal rejection of one event. The event's atomic
// unit is rolled back (it wrote nothing) and processing continues.
type RuleViolation struct {
	Event TransactionEvent
	Err   error
}

func (e *RuleViolation) Error() string {
	return fmt.Sprintf("%s: %v", e.Event, e.Err)
}

func (e *RuleViolation) Unwrap() error {
	return e.Err
}

func violation(ev TransactionEvent, err error) error {
	return &RuleViolation{Event: ev, Err: err}
}

// StorageError wraps a repository failure during one event.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// InvariantError reports an account whose total is not available + held.
type InvariantError struct {
	Account Account
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("client %d unbalanced: available %s + held %s != total %s",
		e.Account.ClientID, e.Account.Available, e.Account.Held, e.Account.Total)
}

func (e *InvariantError) Unwrap() error {
	return ErrUnbalanced
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRuleViolation returns true if err rejects an event on business grounds.
func IsRuleViolation(err error) bool {
	var rv *RuleViolation
	return errors.As(err, &rv)
}

// IsStorage returns true if err came from the store.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsQuiet returns true for routine no-op violations, logged at debug level.
func IsQuiet(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrNoActiveDispute) ||
		errors.Is(err, ErrNotDisputable)
}
