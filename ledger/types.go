/*
Package ledger provides the settlement engine.

PURPOSE:
  This package replays an ordered sequence of client transaction events
  (deposits, withdrawals and the dispute lifecycle) into account balances.
  Given the same event sequence it always produces the same final ledger.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: available, held and total funds for one client
  - DisputeRecord: an open or closed dispute against a settled withdrawal
  - EventLogEntry: an immutable record of a settled deposit or withdrawal
  - TransactionEvent: one decoded input event
  - Kind / DisputeStatus: closed enumerations

DESIGN PRINCIPLES:
  1. Precision: all amounts are decimal.Decimal, never floats
  2. Closed kinds: an unknown event kind cannot reach the engine
  3. Invariant: total == available + held for every account, always

SEE ALSO:
  - engine.go: The per-event state machine
  - store.go: Repository contracts
  - errors.go: Business rule and storage errors
*/
package ledger

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID uint16
type EventID uint32

// =============================================================================
// EVENT KIND - Closed set of transaction kinds
// =============================================================================

type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindDispute    Kind = "dispute"
	KindResolve    Kind = "resolve"
	KindChargeback Kind = "chargeback"
)

// Kinds lists every valid Kind in input order of the lifecycle.
var Kinds = []Kind{KindDeposit, KindWithdrawal, KindDispute, KindResolve, KindChargeback}

// Valid reports whether k is one of the five known kinds.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// Settles reports whether events of this kind carry new value and are
// recorded in the event log. Dispute-lifecycle kinds only reference one.
func (k Kind) Settles() bool {
	return k == KindDeposit || k == KindWithdrawal
}

// =============================================================================
// TRANSACTION EVENT - One decoded input record
// =============================================================================

// TransactionEvent is a single input event. Amount is only meaningful for
// deposits and withdrawals.
type TransactionEvent struct {
	Kind     Kind
	ClientID ClientID
	EventID  EventID
	Amount   decimal.Decimal
}

func (e TransactionEvent) String() string {
	if e.Kind.Settles() {
		return fmt.Sprintf("%s client=%d tx=%d amount=%s", e.Kind, e.ClientID, e.EventID, e.Amount)
	}
	return fmt.Sprintf("%s client=%d tx=%d", e.Kind, e.ClientID, e.EventID)
}

// =============================================================================
// ACCOUNT - Balances for one client
// =============================================================================

type Account struct {
	ClientID  ClientID
	Available decimal.Decimal
	Held      decimal.Decimal
	Total     decimal.Decimal
	Locked    bool
}

// OpenAccount returns the account created by a first deposit.
func OpenAccount(client ClientID, amount decimal.Decimal) Account {
	return Account{
		ClientID:  client,
		Available: amount,
		Held:      decimal.Zero,
		Total:     amount,
	}
}

// Balanced reports whether total == available + held.
func (a Account) Balanced() bool {
	return a.Total.Equal(a.Available.Add(a.Held))
}

// Check returns an *InvariantError when the account is not balanced.
func (a Account) Check() error {
	if a.Balanced() {
		return nil
	}
	return &InvariantError{Account: a}
}

// =============================================================================
// DISPUTE RECORD
// =============================================================================

type DisputeStatus string

const (
	StatusDisputed    DisputeStatus = "disputed"
	StatusResolved    DisputeStatus = "resolved"
	StatusChargedBack DisputeStatus = "chargedback"
)

// Terminal reports whether no further transition is allowed.
func (s DisputeStatus) Terminal() bool {
	return s == StatusResolved || s == StatusChargedBack
}

type DisputeRecord struct {
	ClientID ClientID
	EventID  EventID
	Amount   decimal.Decimal
	Status   DisputeStatus
}

// =============================================================================
// EVENT LOG ENTRY - Settled deposit or withdrawal
// =============================================================================

type EventLogEntry struct {
	EventID  EventID
	ClientID ClientID
	Kind     Kind
	Amount   decimal.Decimal
}

// =============================================================================
// RUN SUMMARY - Outcome counters for one batch run
// =============================================================================

// Stats counts what happened to the events of a run.
type Stats struct {
	Read      int // events handed to the engine plus skipped records
	Applied   int // committed atomic units
	Discarded int // business rule violations
	Failed    int // storage errors, rolled back
	Skipped   int // malformed records skipped by policy
}

type RunSummary struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Stats
}
