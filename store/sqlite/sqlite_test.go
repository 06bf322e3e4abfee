package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/ledger/storetest"
	"github.com/warp/settlement-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "settle.db"))
	require.NoError(t, err)
	return st
}

func TestSQLite_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Backend { return newStore(t) })
}

func TestSQLite_InMemory(t *testing.T) {
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.CreateAccount(ctx, ledger.OpenAccount(1, decimal.NewFromInt(3))))

	acct, err := st.GetAccount(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.True(t, acct.Total.Equal(decimal.NewFromInt(3)))
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settle.db")
	ctx := context.Background()

	st, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, st.CreateAccount(ctx, ledger.OpenAccount(9, decimal.RequireFromString("1.2345"))))
	require.NoError(t, st.Close())

	st, err = sqlite.New(path)
	require.NoError(t, err)
	defer st.Close()

	acct, err := st.GetAccount(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, "1.2345", acct.Available.String())
}

func TestSQLite_AmountsKeepFullPrecision(t *testing.T) {
	st := newStore(t)
	defer st.Close()
	ctx := context.Background()

	amt := decimal.RequireFromString("12345678901234567890.123456789")
	require.NoError(t, st.InsertEvent(ctx, ledger.EventLogEntry{EventID: 1, ClientID: 1, Kind: ledger.KindDeposit, Amount: amt}))

	e, err := st.FindEvent(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.True(t, e.Amount.Equal(amt), "got %s", e.Amount)
}

func TestSQLite_MaxIdentifiers(t *testing.T) {
	st := newStore(t)
	defer st.Close()
	ctx := context.Background()

	client := ledger.ClientID(65535)
	event := ledger.EventID(4294967295)
	require.NoError(t, st.CreateAccount(ctx, ledger.OpenAccount(client, decimal.NewFromInt(1))))
	require.NoError(t, st.InsertEvent(ctx, ledger.EventLogEntry{EventID: event, ClientID: client, Kind: ledger.KindDeposit, Amount: decimal.NewFromInt(1)}))

	e, err := st.FindEvent(ctx, event)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, client, e.ClientID)
	assert.Equal(t, event, e.EventID)
}

func TestSQLite_URIPathWithQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settle.db")
	ctx := context.Background()

	st, err := sqlite.New("file:" + path + "?mode=rwc")
	require.NoError(t, err)
	require.NoError(t, st.CreateAccount(ctx, ledger.OpenAccount(9, decimal.NewFromInt(1))))
	require.NoError(t, st.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	defer reopened.Close()

	acct, err := reopened.GetAccount(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, acct)
}
