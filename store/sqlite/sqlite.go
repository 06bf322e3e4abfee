/*
Package sqlite provides a SQLite-backed implementation of ledger.Backend.

PURPOSE:
  Persists accounts, dispute records, the settled-event log and batch run
  summaries in a single SQLite file so a settlement run can be inspected
  after the process exits (see the serve command).

INTERFACES IMPLEMENTED:
  ledger.Store:          Account, dispute and event-log repositories
  ledger.TxStore:        One SQL transaction per applied event
  ledger.SnapshotReader: Ordered listings for reporting and the API
  ledger.RunRecorder:    Batch run summaries
  ledger.Resetter:       Clears ledger state before a run

KEY TABLES:
  accounts:       One row per client, amounts as decimal TEXT
  disputes:       Keyed by (client_id, event_id); status is the lifecycle
  settled_events: Accepted deposits and withdrawals, keyed by event id
  batch_runs:     Run summaries; survive Reset

AMOUNTS:
  decimal.Decimal implements sql.Scanner and driver.Valuer, so amounts go
  in and out as their exact string form. Never REAL.

CONCURRENCY:
  Uses sync.RWMutex plus a single pooled connection. WithTx holds the write
  lock for the whole transaction, so every read inside fn goes through the
  same *sql.Tx and sees its own writes.

USAGE:
  st, err := sqlite.New("./data/settle.db")
  if err != nil {
      return err
  }
  defer st.Close()

  engine := ledger.NewEngine(ledger.NewSession(st))

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/bolt: Embedded key/value implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/settlement-engine/ledger"
)

// Store implements ledger.Backend using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.Backend = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const pragmas = "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"

// dsn appends the connection pragmas to a path that may already carry a
// query string ("file:x.db?mode=rwc").
func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + pragmas
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		client_id INTEGER PRIMARY KEY,
		available TEXT NOT NULL,
		held TEXT NOT NULL,
		total TEXT NOT NULL,
		locked INTEGER NOT NULL DEFAULT 0
	);

	-- Only accepted deposits and withdrawals are logged. The event id is
	-- global, so a reused id fails here and the whole event rolls back.
	CREATE TABLE IF NOT EXISTS settled_events (
		event_id INTEGER PRIMARY KEY,
		client_id INTEGER NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('deposit', 'withdrawal')),
		amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_settled_events_client
		ON settled_events(client_id, event_id);

	-- At most one record per (client, event), in any status.
	CREATE TABLE IF NOT EXISTS disputes (
		client_id INTEGER NOT NULL,
		event_id INTEGER NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('disputed', 'resolved', 'chargedback')),
		PRIMARY KEY (client_id, event_id)
	);

	CREATE TABLE IF NOT EXISTS batch_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		read_count INTEGER NOT NULL,
		applied INTEGER NOT NULL,
		discarded INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		skipped INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ACCOUNT REPOSITORY
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, client ledger.ClientID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, client)
}

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createAccount(ctx, s.db, acct)
}

func (s *Store) UpdateAccount(ctx context.Context, acct ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateAccount(ctx, s.db, acct)
}

func getAccount(ctx context.Context, q querier, client ledger.ClientID) (*ledger.Account, error) {
	row := q.QueryRowContext(ctx, `
		SELECT client_id, available, held, total, locked
		FROM accounts WHERE client_id = ?
	`, client)

	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %d: %w", client, err)
	}
	return &acct, nil
}

func createAccount(ctx context.Context, q querier, acct ledger.Account) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts (client_id, available, held, total, locked)
		VALUES (?, ?, ?, ?, ?)
	`, acct.ClientID, acct.Available, acct.Held, acct.Total, acct.Locked)

	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateAccount
		}
		return fmt.Errorf("failed to create account %d: %w", acct.ClientID, err)
	}
	return nil
}

func updateAccount(ctx context.Context, q querier, acct ledger.Account) error {
	res, err := q.ExecContext(ctx, `
		UPDATE accounts SET available = ?, held = ?, total = ?, locked = ?
		WHERE client_id = ?
	`, acct.Available, acct.Held, acct.Total, acct.Locked, acct.ClientID)
	if err != nil {
		return fmt.Errorf("failed to update account %d: %w", acct.ClientID, err)
	}
	return requireRow(res, ledger.ErrAccountNotFound)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (ledger.Account, error) {
	var acct ledger.Account
	err := row.Scan(&acct.ClientID, &acct.Available, &acct.Held, &acct.Total, &acct.Locked)
	return acct, err
}

// =============================================================================
// DISPUTE REPOSITORY
// =============================================================================

func (s *Store) FindActiveDispute(ctx context.Context, client ledger.ClientID, event ledger.EventID) (*ledger.DisputeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findActiveDispute(ctx, s.db, client, event)
}

func (s *Store) GetDispute(ctx context.Context, client ledger.ClientID, event ledger.EventID) (*ledger.DisputeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDispute(ctx, s.db, client, event)
}

func (s *Store) InsertDispute(ctx context.Context, rec ledger.DisputeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertDispute(ctx, s.db, rec)
}

func (s *Store) SetDisputeStatus(ctx context.Context, client ledger.ClientID, event ledger.EventID, status ledger.DisputeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setDisputeStatus(ctx, s.db, client, event, status)
}

func findActiveDispute(ctx context.Context, q querier, client ledger.ClientID, event ledger.EventID) (*ledger.DisputeRecord, error) {
	d, err := getDispute(ctx, q, client, event)
	if err != nil || d == nil || d.Status != ledger.StatusDisputed {
		return nil, err
	}
	return d, nil
}

func getDispute(ctx context.Context, q querier, client ledger.ClientID, event ledger.EventID) (*ledger.DisputeRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT client_id, event_id, amount, status
		FROM disputes WHERE client_id = ? AND event_id = ?
	`, client, event)

	d, err := scanDispute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dispute %d/%d: %w", client, event, err)
	}
	return &d, nil
}

func insertDispute(ctx context.Context, q querier, rec ledger.DisputeRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO disputes (client_id, event_id, amount, status)
		VALUES (?, ?, ?, ?)
	`, rec.ClientID, rec.EventID, rec.Amount, string(rec.Status))

	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateDispute
		}
		return fmt.Errorf("failed to insert dispute %d/%d: %w", rec.ClientID, rec.EventID, err)
	}
	return nil
}

func setDisputeStatus(ctx context.Context, q querier, client ledger.ClientID, event ledger.EventID, status ledger.DisputeStatus) error {
	res, err := q.ExecContext(ctx, `
		UPDATE disputes SET status = ? WHERE client_id = ? AND event_id = ?
	`, string(status), client, event)
	if err != nil {
		return fmt.Errorf("failed to set dispute %d/%d status: %w", client, event, err)
	}
	return requireRow(res, ledger.ErrDisputeNotFound)
}

func scanDispute(row scanner) (ledger.DisputeRecord, error) {
	var (
		d      ledger.DisputeRecord
		status string
	)
	if err := row.Scan(&d.ClientID, &d.EventID, &d.Amount, &status); err != nil {
		return d, err
	}
	d.Status = ledger.DisputeStatus(status)
	return d, nil
}

// =============================================================================
// EVENT LOG REPOSITORY
// =============================================================================

func (s *Store) FindEvent(ctx context.Context, event ledger.EventID) (*ledger.EventLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findEvent(ctx, s.db, event)
}

func (s *Store) InsertEvent(ctx context.Context, entry ledger.EventLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertEvent(ctx, s.db, entry)
}

func findEvent(ctx context.Context, q querier, event ledger.EventID) (*ledger.EventLogEntry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT event_id, client_id, kind, amount
		FROM settled_events WHERE event_id = ?
	`, event)

	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find event %d: %w", event, err)
	}
	return &e, nil
}

func insertEvent(ctx context.Context, q querier, entry ledger.EventLogEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO settled_events (event_id, client_id, kind, amount)
		VALUES (?, ?, ?, ?)
	`, entry.EventID, entry.ClientID, string(entry.Kind), entry.Amount)

	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to insert event %d: %w", entry.EventID, err)
	}
	return nil
}

func scanEvent(row scanner) (ledger.EventLogEntry, error) {
	var (
		e    ledger.EventLogEntry
		kind string
	)
	if err := row.Scan(&e.EventID, &e.ClientID, &kind, &e.Amount); err != nil {
		return e, err
	}
	e.Kind = ledger.Kind(kind)
	return e, nil
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// WithTx executes a function within a database transaction. The
// transaction commits only if fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &txStore{tx: sqlTx}
	if err := fn(txStore); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore wraps a sql.Tx to implement ledger.Store. The parent's lock is
// already held by WithTx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetAccount(ctx context.Context, client ledger.ClientID) (*ledger.Account, error) {
	return getAccount(ctx, ts.tx, client)
}

func (ts *txStore) CreateAccount(ctx context.Context, acct ledger.Account) error {
	return createAccount(ctx, ts.tx, acct)
}

func (ts *txStore) UpdateAccount(ctx context.Context, acct ledger.Account) error {
	return updateAccount(ctx, ts.tx, acct)
}

func (ts *txStore) FindActiveDispute(ctx context.Context, client ledger.ClientID, event ledger.EventID) (*ledger.DisputeRecord, error) {
	return findActiveDispute(ctx, ts.tx, client, event)
}

func (ts *txStore) GetDispute(ctx context.Context, client ledger.ClientID, event ledger.EventID) (*ledger.DisputeRecord, error) {
	return getDispute(ctx, ts.tx, client, event)
}

func (ts *txStore) InsertDispute(ctx context.Context, rec ledger.DisputeRecord) error {
	return insertDispute(ctx, ts.tx, rec)
}

func (ts *txStore) SetDisputeStatus(ctx context.Context, client ledger.ClientID, event ledger.EventID, status ledger.DisputeStatus) error {
	return setDisputeStatus(ctx, ts.tx, client, event, status)
}

func (ts *txStore) FindEvent(ctx context.Context, event ledger.EventID) (*ledger.EventLogEntry, error) {
	return findEvent(ctx, ts.tx, event)
}

func (ts *txStore) InsertEvent(ctx context.Context, entry ledger.EventLogEntry) error {
	return insertEvent(ctx, ts.tx, entry)
}

// =============================================================================
// READ SIDE
// =============================================================================

// ListAccounts returns all accounts ordered by client id.
func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT client_id, available, held, total, locked
		FROM accounts ORDER BY client_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var result []ledger.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	return result, rows.Err()
}

func (s *Store) ListDisputes(ctx context.Context, client ledger.ClientID) ([]ledger.DisputeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT client_id, event_id, amount, status
		FROM disputes WHERE client_id = ? ORDER BY event_id
	`, client)
	if err != nil {
		return nil, fmt.Errorf("failed to list disputes: %w", err)
	}
	defer rows.Close()

	var result []ledger.DisputeRecord
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) ListEvents(ctx context.Context, client ledger.ClientID) ([]ledger.EventLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, client_id, kind, amount
		FROM settled_events WHERE client_id = ? ORDER BY event_id
	`, client)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var result []ledger.EventLogEntry
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// BATCH RUNS
// =============================================================================

// RecordRun saves a run summary. Recording the same id twice overwrites.
func (s *Store) RecordRun(ctx context.Context, run ledger.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO batch_runs (id, started_at, finished_at, read_count, applied, discarded, failed, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			read_count = excluded.read_count,
			applied = excluded.applied,
			discarded = excluded.discarded,
			failed = excluded.failed,
			skipped = excluded.skipped
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.Read, run.Applied, run.Discarded, run.Failed, run.Skipped,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns run summaries in the order they were recorded.
func (s *Store) ListRuns(ctx context.Context) ([]ledger.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, read_count, applied, discarded, failed, skipped
		FROM batch_runs ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var result []ledger.RunSummary
	for rows.Next() {
		var (
			r                 ledger.RunSummary
			started, finished string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Read, &r.Applied, &r.Discarded, &r.Failed, &r.Skipped); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: bad started_at: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("run %s: bad finished_at: %w", r.ID, err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Reset clears ledger state. Batch runs are kept.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"disputes", "settled_events", "accounts"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

// requireRow maps an UPDATE that matched nothing to notFound.
func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
