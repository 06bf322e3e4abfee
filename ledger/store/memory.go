// Package store provides an in-memory ledger.Backend.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	accounts map[ledger.ClientID]ledger.Account
	disputes map[key]ledger.DisputeRecord
	events   map[ledger.EventID]ledger.EventLogEntry
	runs     []ledger.RunSummary
}

type key struct {
	ClientID ledger.ClientID
	EventID  ledger.EventID
}

var _ ledger.Backend = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[ledger.ClientID]ledger.Account),
		disputes: make(map[key]ledger.DisputeRecord),
		events:   make(map[ledger.EventID]ledger.EventLogEntry),
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// =============================================================================
// REPOSITORIES (ledger.Store interface)
// =============================================================================

func (m *Memory) GetAccount(ctx context.Context, client ledger.ClientID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (*view)(m).GetAccount(ctx, client)
}

func (m *Memory) CreateAccount(ctx context.Context, acct ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*view)(m).CreateAccount(ctx, acct)
}

func (m *Memory) UpdateAccount(ctx context.Context, acct ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*view)(m).UpdateAccount(ctx, acct)
}

func (m *Memory) FindActiveDispute(ctx context.Context, client ledger.ClientID, event ledger.EventID) (*ledger.DisputeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (*view)(m).FindActiveDispute(ctx, client, event)
}

func (m *Memory) GetDispute(ctx context.Context, client ledger.ClientID, event ledger.EventID) (*ledger.DisputeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (*view)(m).GetDispute(ctx, client, event)
}

func (m *Memory) InsertDispute(ctx context.Context, rec ledger.DisputeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*view)(m).InsertDispute(ctx, rec)
}

func (m *Memory) SetDisputeStatus(ctx context.Context, client ledger.ClientID, event ledger.EventID, status ledger.DisputeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*view)(m).SetDisputeStatus(ctx, client, event, status)
}

func (m *Memory) FindEvent(ctx context.Context, event ledger.EventID) (*ledger.EventLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (*view)(m).FindEvent(ctx, event)
}

func (m *Memory) InsertEvent(ctx context.Context, entry ledger.EventLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*view)(m).InsertEvent(ctx, entry)
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn((*view)(m)); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts map[ledger.ClientID]ledger.Account
	disputes map[key]ledger.DisputeRecord
	events   map[ledger.EventID]ledger.EventLogEntry
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		accounts: make(map[ledger.ClientID]ledger.Account, len(m.accounts)),
		disputes: make(map[key]ledger.DisputeRecord, len(m.disputes)),
		events:   make(map[ledger.EventID]ledger.EventLogEntry, len(m.events)),
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.disputes {
		s.disputes[k] = v
	}
	for k, v := range m.events {
		s.events[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.disputes = s.disputes
	m.events = s.events
}

// =============================================================================
// READ SIDE
// =============================================================================

func (m *Memory) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ClientID < result[j].ClientID })
	return result, nil
}

func (m *Memory) ListDisputes(_ context.Context, client ledger.ClientID) ([]ledger.DisputeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.DisputeRecord
	for k, d := range m.disputes {
		if k.ClientID == client {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EventID < result[j].EventID })
	return result, nil
}

func (m *Memory) ListEvents(_ context.Context, client ledger.ClientID) ([]ledger.EventLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.EventLogEntry
	for _, e := range m.events {
		if e.ClientID == client {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EventID < result[j].EventID })
	return result, nil
}

func (m *Memory) RecordRun(_ context.Context, run ledger.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListRuns(_ context.Context) ([]ledger.RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.RunSummary(nil), m.runs...), nil
}

// Reset empties the ledger. Recorded runs are kept.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = make(map[ledger.ClientID]ledger.Account)
	m.disputes = make(map[key]ledger.DisputeRecord)
	m.events = make(map[ledger.EventID]ledger.EventLogEntry)
	return nil
}

// =============================================================================
// VIEW - Unlocked access, used by WithTx and the locked wrappers above
// =============================================================================

type view Memory

func (v *view) GetAccount(_ context.Context, client ledger.ClientID) (*ledger.Account, error) {
	a, ok := v.accounts[client]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (v *view) CreateAccount(_ context.Context, acct ledger.Account) error {
	if _, ok := v.accounts[acct.ClientID]; ok {
		return ledger.ErrDuplicateAccount
	}
	v.accounts[acct.ClientID] = acct
	return nil
}

func (v *view) UpdateAccount(_ context.Context, acct ledger.Account) error {
	if _, ok := v.accounts[acct.ClientID]; !ok {
		return ledger.ErrAccountNotFound
	}
	v.accounts[acct.ClientID] = acct
	return nil
}

func (v *view) FindActiveDispute(ctx context.Context, client ledger.ClientID, event ledger.EventID) (*ledger.DisputeRecord, error) {
	d, _ := v.GetDispute(ctx, client, event)
	if d == nil || d.Status != ledger.StatusDisputed {
		return nil, nil
	}
	return d, nil
}

func (v *view) GetDispute(_ context.Context, client ledger.ClientID, event ledger.EventID) (*ledger.DisputeRecord, error) {
	d, ok := v.disputes[key{ClientID: client, EventID: event}]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (v *view) InsertDispute(_ context.Context, rec ledger.DisputeRecord) error {
	k := key{ClientID: rec.ClientID, EventID: rec.EventID}
	if _, ok := v.disputes[k]; ok {
		return ledger.ErrDuplicateDispute
	}
	v.disputes[k] = rec
	return nil
}

func (v *view) SetDisputeStatus(_ context.Context, client ledger.ClientID, event ledger.EventID, status ledger.DisputeStatus) error {
	k := key{ClientID: client, EventID: event}
	d, ok := v.disputes[k]
	if !ok {
		return ledger.ErrDisputeNotFound
	}
	d.Status = status
	v.disputes[k] = d
	return nil
}

func (v *view) FindEvent(_ context.Context, event ledger.EventID) (*ledger.EventLogEntry, error) {
	e, ok := v.events[event]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (v *view) InsertEvent(_ context.Context, entry ledger.EventLogEntry) error {
	if _, ok := v.events[entry.EventID]; ok {
		return ledger.ErrDuplicateEvent
	}
	v.events[entry.EventID] = entry
	return nil
}
