// Package storetest checks a ledger.Backend against the repository
// contract. Every store implementation runs the same suite from its tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/ledger"
)

// Factory returns an empty backend. The suite closes it.
type Factory func(t *testing.T) ledger.Backend

var errAbort = errors.New("abort")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Run executes the whole suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, open(t, newStore)) })
	t.Run("Disputes", func(t *testing.T) { testDisputes(t, open(t, newStore)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, open(t, newStore)) })
	t.Run("WithTxCommits", func(t *testing.T) { testWithTxCommits(t, open(t, newStore)) })
	t.Run("WithTxRollsBack", func(t *testing.T) { testWithTxRollsBack(t, open(t, newStore)) })
	t.Run("WithTxReadsOwnWrites", func(t *testing.T) { testReadsOwnWrites(t, open(t, newStore)) })
	t.Run("ListOrdering", func(t *testing.T) { testListOrdering(t, open(t, newStore)) })
	t.Run("Runs", func(t *testing.T) { testRuns(t, open(t, newStore)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, open(t, newStore)) })
	t.Run("EngineScenarios", func(t *testing.T) { testEngineScenarios(t, newStore) })
}

func open(t *testing.T, newStore Factory) ledger.Backend {
	t.Helper()
	st := newStore(t)
	t.Cleanup(func() { st.Close() })
	return st
}

func requireAccount(t *testing.T, st ledger.Store, client ledger.ClientID, available, held, total string, locked bool) {
	t.Helper()
	acct, err := st.GetAccount(context.Background(), client)
	require.NoError(t, err)
	require.NotNil(t, acct, "client %d has no account", client)
	assert.Equal(t, client, acct.ClientID)
	assert.True(t, acct.Available.Equal(dec(available)), "available: want %s, got %s", available, acct.Available)
	assert.True(t, acct.Held.Equal(dec(held)), "held: want %s, got %s", held, acct.Held)
	assert.True(t, acct.Total.Equal(dec(total)), "total: want %s, got %s", total, acct.Total)
	assert.Equal(t, locked, acct.Locked)
}

func testAccounts(t *testing.T, st ledger.Backend) {
	ctx := context.Background()

	acct, err := st.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, acct)

	require.NoError(t, st.CreateAccount(ctx, ledger.OpenAccount(1, dec("10.25"))))
	requireAccount(t, st, 1, "10.25", "0", "10.25", false)

	err = st.CreateAccount(ctx, ledger.OpenAccount(1, dec("1")))
	assert.ErrorIs(t, err, ledger.ErrDuplicateAccount)

	require.NoError(t, st.UpdateAccount(ctx, ledger.Account{
		ClientID:  1,
		Available: dec("3.5"),
		Held:      dec("6.75"),
		Total:     dec("10.25"),
		Locked:    true,
	}))
	requireAccount(t, st, 1, "3.5", "6.75", "10.25", true)

	err = st.UpdateAccount(ctx, ledger.OpenAccount(2, dec("1")))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func testDisputes(t *testing.T, st ledger.Backend) {
	ctx := context.Background()
	rec := ledger.DisputeRecord{ClientID: 1, EventID: 7, Amount: dec("40"), Status: ledger.StatusDisputed}

	d, err := st.FindActiveDispute(ctx, 1, 7)
	require.NoError(t, err)
	assert.Nil(t, d)

	require.NoError(t, st.InsertDispute(ctx, rec))
	assert.ErrorIs(t, st.InsertDispute(ctx, rec), ledger.ErrDuplicateDispute)

	d, err = st.FindActiveDispute(ctx, 1, 7)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.True(t, d.Amount.Equal(dec("40")))
	assert.Equal(t, ledger.StatusDisputed, d.Status)

	// Same event id, other client: a different key.
	d, err = st.FindActiveDispute(ctx, 2, 7)
	require.NoError(t, err)
	assert.Nil(t, d)

	require.NoError(t, st.SetDisputeStatus(ctx, 1, 7, ledger.StatusResolved))

	d, err = st.FindActiveDispute(ctx, 1, 7)
	require.NoError(t, err)
	assert.Nil(t, d, "resolved disputes are invisible to FindActiveDispute")

	d, err = st.GetDispute(ctx, 1, 7)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, ledger.StatusResolved, d.Status)

	assert.ErrorIs(t, st.SetDisputeStatus(ctx, 9, 9, ledger.StatusResolved), ledger.ErrDisputeNotFound)
}

func testEvents(t *testing.T, st ledger.Backend) {
	ctx := context.Background()
	entry := ledger.EventLogEntry{EventID: 42, ClientID: 3, Kind: ledger.KindWithdrawal, Amount: dec("0.0001")}

	e, err := st.FindEvent(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, e)

	require.NoError(t, st.InsertEvent(ctx, entry))

	e, err = st.FindEvent(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, entry.ClientID, e.ClientID)
	assert.Equal(t, entry.Kind, e.Kind)
	assert.True(t, e.Amount.Equal(entry.Amount))

	dup := entry
	dup.ClientID = 4
	assert.ErrorIs(t, st.InsertEvent(ctx, dup), ledger.ErrDuplicateEvent)
}

func testWithTxCommits(t *testing.T, st ledger.Backend) {
	ctx := context.Background()

	err := st.WithTx(ctx, func(s ledger.Store) error {
		if err := s.CreateAccount(ctx, ledger.OpenAccount(5, dec("100"))); err != nil {
			return err
		}
		return s.InsertEvent(ctx, ledger.EventLogEntry{EventID: 1, ClientID: 5, Kind: ledger.KindDeposit, Amount: dec("100")})
	})
	require.NoError(t, err)

	requireAccount(t, st, 5, "100", "0", "100", false)
	e, err := st.FindEvent(ctx, 1)
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func testWithTxRollsBack(t *testing.T, st ledger.Backend) {
	ctx := context.Background()
	require.NoError(t, st.CreateAccount(ctx, ledger.OpenAccount(1, dec("100"))))

	err := st.WithTx(ctx, func(s ledger.Store) error {
		next := ledger.Account{ClientID: 1, Available: dec("60"), Held: dec("40"), Total: dec("100")}
		if err := s.UpdateAccount(ctx, next); err != nil {
			return err
		}
		if err := s.CreateAccount(ctx, ledger.OpenAccount(2, dec("1"))); err != nil {
			return err
		}
		if err := s.InsertDispute(ctx, ledger.DisputeRecord{ClientID: 1, EventID: 2, Amount: dec("40"), Status: ledger.StatusDisputed}); err != nil {
			return err
		}
		if err := s.InsertEvent(ctx, ledger.EventLogEntry{EventID: 3, ClientID: 1, Kind: ledger.KindDeposit, Amount: dec("1")}); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	requireAccount(t, st, 1, "100", "0", "100", false)
	acct, err := st.GetAccount(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, acct)
	d, err := st.GetDispute(ctx, 1, 2)
	require.NoError(t, err)
	assert.Nil(t, d)
	e, err := st.FindEvent(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func testReadsOwnWrites(t *testing.T, st ledger.Backend) {
	ctx := context.Background()

	err := st.WithTx(ctx, func(s ledger.Store) error {
		if err := s.CreateAccount(ctx, ledger.OpenAccount(8, dec("5"))); err != nil {
			return err
		}
		acct, err := s.GetAccount(ctx, 8)
		if err != nil {
			return err
		}
		require.NotNil(t, acct)
		assert.True(t, acct.Total.Equal(dec("5")))

		if err := s.InsertDispute(ctx, ledger.DisputeRecord{ClientID: 8, EventID: 1, Amount: dec("5"), Status: ledger.StatusDisputed}); err != nil {
			return err
		}
		d, err := s.FindActiveDispute(ctx, 8, 1)
		if err != nil {
			return err
		}
		assert.NotNil(t, d)
		return nil
	})
	require.NoError(t, err)
}

func testListOrdering(t *testing.T, st ledger.Backend) {
	ctx := context.Background()
	for _, c := range []ledger.ClientID{300, 2, 65535, 17} {
		require.NoError(t, st.CreateAccount(ctx, ledger.OpenAccount(c, dec("1"))))
	}
	for _, id := range []ledger.EventID{90, 4, 70000} {
		require.NoError(t, st.InsertEvent(ctx, ledger.EventLogEntry{EventID: id, ClientID: 2, Kind: ledger.KindDeposit, Amount: dec("1")}))
		require.NoError(t, st.InsertDispute(ctx, ledger.DisputeRecord{ClientID: 2, EventID: id, Amount: dec("1"), Status: ledger.StatusDisputed}))
	}
	require.NoError(t, st.InsertEvent(ctx, ledger.EventLogEntry{EventID: 5, ClientID: 17, Kind: ledger.KindDeposit, Amount: dec("1")}))

	accts, err := st.ListAccounts(ctx)
	require.NoError(t, err)
	var clients []ledger.ClientID
	for _, a := range accts {
		clients = append(clients, a.ClientID)
	}
	assert.Equal(t, []ledger.ClientID{2, 17, 300, 65535}, clients)

	events, err := st.ListEvents(ctx, 2)
	require.NoError(t, err)
	var ids []ledger.EventID
	for _, e := range events {
		ids = append(ids, e.EventID)
	}
	assert.Equal(t, []ledger.EventID{4, 90, 70000}, ids)

	disputes, err := st.ListDisputes(ctx, 2)
	require.NoError(t, err)
	ids = ids[:0]
	for _, d := range disputes {
		ids = append(ids, d.EventID)
	}
	assert.Equal(t, []ledger.EventID{4, 90, 70000}, ids)

	disputes, err = st.ListDisputes(ctx, 17)
	require.NoError(t, err)
	assert.Empty(t, disputes)
}

func testRuns(t *testing.T, st ledger.Backend) {
	ctx := context.Background()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	runs := []ledger.RunSummary{
		{ID: "run-a", StartedAt: start, FinishedAt: start.Add(time.Second), Stats: ledger.Stats{Read: 4, Applied: 3, Discarded: 1}},
		{ID: "run-b", StartedAt: start.Add(time.Minute), FinishedAt: start.Add(2 * time.Minute), Stats: ledger.Stats{Read: 2, Failed: 1, Skipped: 1}},
	}
	for _, r := range runs {
		require.NoError(t, st.RecordRun(ctx, r))
	}

	got, err := st.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range runs {
		assert.Equal(t, runs[i].ID, got[i].ID)
		assert.True(t, runs[i].StartedAt.Equal(got[i].StartedAt))
		assert.True(t, runs[i].FinishedAt.Equal(got[i].FinishedAt))
		assert.Equal(t, runs[i].Stats, got[i].Stats)
	}
}

func testReset(t *testing.T, st ledger.Backend) {
	ctx := context.Background()
	require.NoError(t, st.CreateAccount(ctx, ledger.OpenAccount(1, dec("1"))))
	require.NoError(t, st.InsertEvent(ctx, ledger.EventLogEntry{EventID: 1, ClientID: 1, Kind: ledger.KindDeposit, Amount: dec("1")}))
	require.NoError(t, st.InsertDispute(ctx, ledger.DisputeRecord{ClientID: 1, EventID: 1, Amount: dec("1"), Status: ledger.StatusDisputed}))
	require.NoError(t, st.RecordRun(ctx, ledger.RunSummary{ID: "kept", StartedAt: time.Now().UTC(), FinishedAt: time.Now().UTC()}))

	require.NoError(t, st.Reset(ctx))

	accts, err := st.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accts)
	e, err := st.FindEvent(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, e)
	d, err := st.GetDispute(ctx, 1, 1)
	require.NoError(t, err)
	assert.Nil(t, d)

	runs, err := st.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

// testEngineScenarios replays the reference scenarios through the engine
// against this backend.
func testEngineScenarios(t *testing.T, newStore Factory) {
	type want struct {
		client                 ledger.ClientID
		available, held, total string
		locked                 bool
	}
	scenarios := []struct {
		name   string
		events []ledger.TransactionEvent
		want   []want
	}{
		{
			name: "simple",
			events: []ledger.TransactionEvent{
				{Kind: ledger.KindDeposit, ClientID: 1, EventID: 1, Amount: dec("100")},
				{Kind: ledger.KindDeposit, ClientID: 2, EventID: 2, Amount: dec("200")},
				{Kind: ledger.KindDeposit, ClientID: 1, EventID: 3, Amount: dec("200")},
				{Kind: ledger.KindWithdrawal, ClientID: 1, EventID: 4, Amount: dec("100")},
				{Kind: ledger.KindWithdrawal, ClientID: 2, EventID: 5, Amount: dec("150")},
			},
			want: []want{{1, "200", "0", "200", false}, {2, "50", "0", "50", false}},
		},
		{
			name: "overdraft",
			events: []ledger.TransactionEvent{
				{Kind: ledger.KindDeposit, ClientID: 1, EventID: 1, Amount: dec("50")},
				{Kind: ledger.KindWithdrawal, ClientID: 1, EventID: 2, Amount: dec("100")},
			},
			want: []want{{1, "50", "0", "50", false}},
		},
		{
			name: "resolved",
			events: []ledger.TransactionEvent{
				{Kind: ledger.KindDeposit, ClientID: 1, EventID: 1, Amount: dec("100")},
				{Kind: ledger.KindWithdrawal, ClientID: 1, EventID: 2, Amount: dec("40")},
				{Kind: ledger.KindDispute, ClientID: 1, EventID: 2},
				{Kind: ledger.KindResolve, ClientID: 1, EventID: 2},
			},
			want: []want{{1, "60", "0", "60", false}},
		},
		{
			name: "chargeback",
			events: []ledger.TransactionEvent{
				{Kind: ledger.KindDeposit, ClientID: 1, EventID: 1, Amount: dec("100")},
				{Kind: ledger.KindWithdrawal, ClientID: 1, EventID: 2, Amount: dec("50")},
				{Kind: ledger.KindDispute, ClientID: 1, EventID: 2},
				{Kind: ledger.KindChargeback, ClientID: 1, EventID: 2},
				{Kind: ledger.KindDeposit, ClientID: 1, EventID: 3, Amount: dec("10")},
			},
			want: []want{{1, "100", "0", "100", true}},
		},
	}

	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			st := open(t, newStore)
			eng := ledger.NewEngine(ledger.NewSession(st))
			for _, ev := range sc.events {
				eng.Apply(context.Background(), ev)
			}
			assert.Zero(t, eng.Stats().Failed)

			accts, err := st.ListAccounts(context.Background())
			require.NoError(t, err)
			require.Len(t, accts, len(sc.want))
			for _, w := range sc.want {
				requireAccount(t, st, w.client, w.available, w.held, w.total, w.locked)
			}
		})
	}
}
