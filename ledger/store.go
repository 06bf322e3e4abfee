/*
store.go - Repository contracts required by the engine

PURPOSE:
  Defines the interface between the settlement engine and persistence.
  The engine never talks to a database directly; it reads and writes
  through these repositories inside one atomic unit per event.

KEY INTERFACES:
  AccountRepository:  client id -> Account
  DisputeRepository:  (client id, event id) -> DisputeRecord
  EventLogRepository: event id -> EventLogEntry (append-only)
  Store:              all three together
  TxStore:            Store + WithTx (one atomic unit per event)
  SnapshotReader:     read side for reports and the HTTP API

ATOMIC UNITS:
  WithTx() ensures all-or-nothing semantics. Every read inside fn sees the
  writes made earlier in fn, and nothing done in fn is visible to other
  callers until fn returns nil. If fn returns an error every write is
  rolled back.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, snapshot + restore
  - store/sqlite/sqlite.go: SQLite transactions
  - store/bolt/bolt.go:     Bolt update transactions

SEE ALSO:
  - engine.go: The only writer
*/
package ledger

import "context"

// =============================================================================
// REPOSITORIES - Consumed by the engine
// =============================================================================

type AccountRepository interface {
	// GetAccount returns nil, nil when the client has no account.
	GetAccount(ctx context.Context, client ClientID) (*Account, error)

	// CreateAccount inserts a new account. ErrDuplicateAccount if present.
	CreateAccount(ctx context.Context, acct Account) error

	// UpdateAccount replaces the account by client id. ErrAccountNotFound if absent.
	UpdateAccount(ctx context.Context, acct Account) error
}

type DisputeRepository interface {
	// FindActiveDispute returns the record only while its status is disputed.
	// Resolved and charged back records are invisible to this lookup.
	FindActiveDispute(ctx context.Context, client ClientID, event EventID) (*DisputeRecord, error)

	// GetDispute returns the record in any status.
	GetDispute(ctx context.Context, client ClientID, event EventID) (*DisputeRecord, error)

	// InsertDispute adds a record. ErrDuplicateDispute if the pair exists.
	InsertDispute(ctx context.Context, rec DisputeRecord) error

	// SetDisputeStatus changes the status. ErrDisputeNotFound if absent.
	SetDisputeStatus(ctx context.Context, client ClientID, event EventID, status DisputeStatus) error
}

// EventLogRepository is append-only. No Update, no Delete.
type EventLogRepository interface {
	FindEvent(ctx context.Context, event EventID) (*EventLogEntry, error)

	// InsertEvent appends a settled event. ErrDuplicateEvent if the id exists.
	InsertEvent(ctx context.Context, entry EventLogEntry) error
}

// Store is everything the engine reads and writes for one event.
type Store interface {
	AccountRepository
	DisputeRepository
	EventLogRepository
}

// TxStore runs fn as one atomic unit.
// If fn returns error, every write made through the Store is rolled back.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// READ SIDE - Reports, HTTP API, run bookkeeping
// =============================================================================

type SnapshotReader interface {
	// ListAccounts returns every account ordered by ascending client id.
	ListAccounts(ctx context.Context) ([]Account, error)

	// ListDisputes returns the client's dispute records ordered by event id.
	ListDisputes(ctx context.Context, client ClientID) ([]DisputeRecord, error)

	// ListEvents returns the client's settled events ordered by event id.
	ListEvents(ctx context.Context, client ClientID) ([]EventLogEntry, error)
}

type RunRecorder interface {
	RecordRun(ctx context.Context, run RunSummary) error
	ListRuns(ctx context.Context) ([]RunSummary, error)
}

// Resetter empties the ledger so a run starts from nothing.
// Recorded runs are kept.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Backend is what a concrete store offers the CLI and the HTTP API.
type Backend interface {
	TxStore
	SnapshotReader
	RunRecorder
	Resetter
	Close() error
}
