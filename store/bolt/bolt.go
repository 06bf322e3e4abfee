// Package bolt provides a BoltDB-backed ledger.Backend.
//
// BoltDB is an embedded key/value store. The whole ledger lives in one file
// and no database process is required, which suits a batch tool that runs,
// writes its report and exits.
//
// Layout
// ------
// Keys are big-endian so that Bolt's byte ordering is numeric ordering:
//   - accounts: client id (2 bytes)                 -> accountRecord JSON
//   - disputes: client id (2 bytes) + event id (4)  -> disputeRecord JSON
//   - events:   event id (4 bytes)                  -> eventRecord JSON
//   - runs:     bucket sequence (8 bytes)           -> runRecord JSON
//
// One event is one bolt.Tx: WithTx maps onto db.Update, which commits when
// fn returns nil and rolls back otherwise.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
)

var (
	bucketAccounts = []byte("accounts")
	bucketDisputes = []byte("disputes")
	bucketEvents   = []byte("events")
	bucketRuns     = []byte("runs")

	// ledgerBuckets are emptied by Reset. Runs are kept.
	ledgerBuckets = [][]byte{bucketAccounts, bucketDisputes, bucketEvents}
)

// Store wraps a BoltDB database.
type Store struct {
	db *bolt.DB
}

var _ ledger.Backend = (*Store)(nil)

// New opens (or creates) a BoltDB database at the given path and ensures
// every bucket exists.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range append(ledgerBuckets, bucketRuns) {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// RECORDS
// =============================================================================

type accountRecord struct {
	ClientID  uint16          `json:"client"`
	Available decimal.Decimal `json:"available"`
	Held      decimal.Decimal `json:"held"`
	Total     decimal.Decimal `json:"total"`
	Locked    bool            `json:"locked"`
}

type disputeRecord struct {
	ClientID uint16          `json:"client"`
	EventID  uint32          `json:"tx"`
	Amount   decimal.Decimal `json:"amount"`
	Status   string          `json:"status"`
}

type eventRecord struct {
	EventID  uint32          `json:"tx"`
	ClientID uint16          `json:"client"`
	Kind     string          `json:"kind"`
	Amount   decimal.Decimal `json:"amount"`
}

type runRecord struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Read       int       `json:"read"`
	Applied    int       `json:"applied"`
	Discarded  int       `json:"discarded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
}

func clientKey(c ledger.ClientID) []byte {
	k := make([]byte, 2)
	binary.BigEndian.PutUint16(k, uint16(c))
	return k
}

func eventKey(e ledger.EventID) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, uint32(e))
	return k
}

func disputeKey(c ledger.ClientID, e ledger.EventID) []byte {
	return append(clientKey(c), eventKey(e)...)
}

func decodeAccount(v []byte) (ledger.Account, error) {
	var r accountRecord
	if err := json.Unmarshal(v, &r); err != nil {
		return ledger.Account{}, fmt.Errorf("decode account: %w", err)
	}
	return ledger.Account{
		ClientID:  ledger.ClientID(r.ClientID),
		Available: r.Available,
		Held:      r.Held,
		Total:     r.Total,
		Locked:    r.Locked,
	}, nil
}

func decodeDispute(v []byte) (ledger.DisputeRecord, error) {
	var r disputeRecord
	if err := json.Unmarshal(v, &r); err != nil {
		return ledger.DisputeRecord{}, fmt.Errorf("decode dispute: %w", err)
	}
	return ledger.DisputeRecord{
		ClientID: ledger.ClientID(r.ClientID),
		EventID:  ledger.EventID(r.EventID),
		Amount:   r.Amount,
		Status:   ledger.DisputeStatus(r.Status),
	}, nil
}

func decodeEvent(v []byte) (ledger.EventLogEntry, error) {
	var r eventRecord
	if err := json.Unmarshal(v, &r); err != nil {
		return ledger.EventLogEntry{}, fmt.Errorf("decode event: %w", err)
	}
	return ledger.EventLogEntry{
		EventID:  ledger.EventID(r.EventID),
		ClientID: ledger.ClientID(r.ClientID),
		Kind:     ledger.Kind(r.Kind),
		Amount:   r.Amount,
	}, nil
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// WithTx runs fn inside a single read-write Bolt transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

// txStore implements ledger.Store on top of an open bolt.Tx. Writes fail
// with bolt.ErrTxNotWritable when the tx came from db.View.
type txStore struct {
	tx *bolt.Tx
}

func (ts *txStore) GetAccount(_ context.Context, client ledger.ClientID) (*ledger.Account, error) {
	v := ts.tx.Bucket(bucketAccounts).Get(clientKey(client))
	if v == nil {
		return nil, nil
	}
	acct, err := decodeAccount(v)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (ts *txStore) CreateAccount(_ context.Context, acct ledger.Account) error {
	b := ts.tx.Bucket(bucketAccounts)
	k := clientKey(acct.ClientID)
	if b.Get(k) != nil {
		return ledger.ErrDuplicateAccount
	}
	return putJSON(b, k, accountRecord{
		ClientID:  uint16(acct.ClientID),
		Available: acct.Available,
		Held:      acct.Held,
		Total:     acct.Total,
		Locked:    acct.Locked,
	})
}

func (ts *txStore) UpdateAccount(_ context.Context, acct ledger.Account) error {
	b := ts.tx.Bucket(bucketAccounts)
	k := clientKey(acct.ClientID)
	if b.Get(k) == nil {
		return ledger.ErrAccountNotFound
	}
	return putJSON(b, k, accountRecord{
		ClientID:  uint16(acct.ClientID),
		Available: acct.Available,
		Held:      acct.Held,
		Total:     acct.Total,
		Locked:    acct.Locked,
	})
}

func (ts *txStore) FindActiveDispute(ctx context.Context, client ledger.ClientID, event ledger.EventID) (*ledger.DisputeRecord, error) {
	d, err := ts.GetDispute(ctx, client, event)
	if err != nil || d == nil || d.Status != ledger.StatusDisputed {
		return nil, err
	}
	return d, nil
}

func (ts *txStore) GetDispute(_ context.Context, client ledger.ClientID, event ledger.EventID) (*ledger.DisputeRecord, error) {
	v := ts.tx.Bucket(bucketDisputes).Get(disputeKey(client, event))
	if v == nil {
		return nil, nil
	}
	d, err := decodeDispute(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (ts *txStore) InsertDispute(_ context.Context, rec ledger.DisputeRecord) error {
	b := ts.tx.Bucket(bucketDisputes)
	k := disputeKey(rec.ClientID, rec.EventID)
	if b.Get(k) != nil {
		return ledger.ErrDuplicateDispute
	}
	return putJSON(b, k, disputeRecord{
		ClientID: uint16(rec.ClientID),
		EventID:  uint32(rec.EventID),
		Amount:   rec.Amount,
		Status:   string(rec.Status),
	})
}

func (ts *txStore) SetDisputeStatus(_ context.Context, client ledger.ClientID, event ledger.EventID, status ledger.DisputeStatus) error {
	b := ts.tx.Bucket(bucketDisputes)
	k := disputeKey(client, event)
	v := b.Get(k)
	if v == nil {
		return ledger.ErrDisputeNotFound
	}

	var r disputeRecord
	if err := json.Unmarshal(v, &r); err != nil {
		return fmt.Errorf("decode dispute: %w", err)
	}
	r.Status = string(status)
	return putJSON(b, k, r)
}

func (ts *txStore) FindEvent(_ context.Context, event ledger.EventID) (*ledger.EventLogEntry, error) {
	v := ts.tx.Bucket(bucketEvents).Get(eventKey(event))
	if v == nil {
		return nil, nil
	}
	e, err := decodeEvent(v)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (ts *txStore) InsertEvent(_ context.Context, entry ledger.EventLogEntry) error {
	b := ts.tx.Bucket(bucketEvents)
	k := eventKey(entry.EventID)
	if b.Get(k) != nil {
		return ledger.ErrDuplicateEvent
	}
	return putJSON(b, k, eventRecord{
		EventID:  uint32(entry.EventID),
		ClientID: uint16(entry.ClientID),
		Kind:     string(entry.Kind),
		Amount:   entry.Amount,
	})
}

func putJSON(b *bolt.Bucket, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(k, data)
}

// =============================================================================
// REPOSITORIES (outside WithTx)
// =============================================================================

func (s *Store) view(fn func(*txStore) error) error {
	return s.db.View(func(tx *bolt.Tx) error { return fn(&txStore{tx: tx}) })
}

func (s *Store) update(fn func(*txStore) error) error {
	return s.db.Update(func(tx *bolt.Tx) error { return fn(&txStore{tx: tx}) })
}

func (s *Store) GetAccount(ctx context.Context, client ledger.ClientID) (acct *ledger.Account, err error) {
	err = s.view(func(ts *txStore) error {
		acct, err = ts.GetAccount(ctx, client)
		return err
	})
	return acct, err
}

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account) error {
	return s.update(func(ts *txStore) error { return ts.CreateAccount(ctx, acct) })
}

func (s *Store) UpdateAccount(ctx context.Context, acct ledger.Account) error {
	return s.update(func(ts *txStore) error { return ts.UpdateAccount(ctx, acct) })
}

func (s *Store) FindActiveDispute(ctx context.Context, client ledger.ClientID, event ledger.EventID) (d *ledger.DisputeRecord, err error) {
	err = s.view(func(ts *txStore) error {
		d, err = ts.FindActiveDispute(ctx, client, event)
		return err
	})
	return d, err
}

func (s *Store) GetDispute(ctx context.Context, client ledger.ClientID, event ledger.EventID) (d *ledger.DisputeRecord, err error) {
	err = s.view(func(ts *txStore) error {
		d, err = ts.GetDispute(ctx, client, event)
		return err
	})
	return d, err
}

func (s *Store) InsertDispute(ctx context.Context, rec ledger.DisputeRecord) error {
	return s.update(func(ts *txStore) error { return ts.InsertDispute(ctx, rec) })
}

func (s *Store) SetDisputeStatus(ctx context.Context, client ledger.ClientID, event ledger.EventID, status ledger.DisputeStatus) error {
	return s.update(func(ts *txStore) error { return ts.SetDisputeStatus(ctx, client, event, status) })
}

func (s *Store) FindEvent(ctx context.Context, event ledger.EventID) (e *ledger.EventLogEntry, err error) {
	err = s.view(func(ts *txStore) error {
		e, err = ts.FindEvent(ctx, event)
		return err
	})
	return e, err
}

func (s *Store) InsertEvent(ctx context.Context, entry ledger.EventLogEntry) error {
	return s.update(func(ts *txStore) error { return ts.InsertEvent(ctx, entry) })
}

// =============================================================================
// READ SIDE
// =============================================================================

// ListAccounts returns all accounts in key order, which is client id order.
func (s *Store) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	var result []ledger.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(_, v []byte) error {
			acct, err := decodeAccount(v)
			if err != nil {
				return err
			}
			result = append(result, acct)
			return nil
		})
	})
	return result, err
}

// ListDisputes walks the client's key prefix.
func (s *Store) ListDisputes(_ context.Context, client ledger.ClientID) ([]ledger.DisputeRecord, error) {
	var result []ledger.DisputeRecord
	prefix := clientKey(client)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDisputes).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			d, err := decodeDispute(v)
			if err != nil {
				return err
			}
			result = append(result, d)
		}
		return nil
	})
	return result, err
}

// ListEvents scans the event log. Events are keyed by id alone, so this is
// a full scan filtered by client.
func (s *Store) ListEvents(_ context.Context, client ledger.ClientID) ([]ledger.EventLogEntry, error) {
	var result []ledger.EventLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(_, v []byte) error {
			e, err := decodeEvent(v)
			if err != nil {
				return err
			}
			if e.ClientID == client {
				result = append(result, e)
			}
			return nil
		})
	})
	return result, err
}

// =============================================================================
// BATCH RUNS
// =============================================================================

// RecordRun appends a run summary.
func (s *Store) RecordRun(_ context.Context, run ledger.RunSummary) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		k := make([]byte, 8)
		binary.BigEndian.PutUint64(k, seq)
		return putJSON(b, k, runRecord{
			ID:         run.ID,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
			Read:       run.Read,
			Applied:    run.Applied,
			Discarded:  run.Discarded,
			Failed:     run.Failed,
			Skipped:    run.Skipped,
		})
	})
}

// ListRuns returns run summaries in the order they were recorded.
func (s *Store) ListRuns(_ context.Context) ([]ledger.RunSummary, error) {
	var result []ledger.RunSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var r runRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode run: %w", err)
			}
			result = append(result, ledger.RunSummary{
				ID:         r.ID,
				StartedAt:  r.StartedAt,
				FinishedAt: r.FinishedAt,
				Stats: ledger.Stats{
					Read:      r.Read,
					Applied:   r.Applied,
					Discarded: r.Discarded,
					Failed:    r.Failed,
					Skipped:   r.Skipped,
				},
			})
			return nil
		})
	})
	return result, err
}

// Reset drops and recreates the ledger buckets. Runs are kept.
func (s *Store) Reset(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range ledgerBuckets {
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return fmt.Errorf("reset %s: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("reset %s: %w", name, err)
			}
		}
		return nil
	})
}
