package bolt_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/ledger/storetest"
	"github.com/warp/settlement-engine/store/bolt"
)

func newStore(t *testing.T) *bolt.Store {
	t.Helper()
	st, err := bolt.New(filepath.Join(t.TempDir(), "settle.bolt"))
	require.NoError(t, err)
	return st
}

func TestBolt_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Backend { return newStore(t) })
}

func TestBolt_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settle.bolt")
	ctx := context.Background()

	st, err := bolt.New(path)
	require.NoError(t, err)
	require.NoError(t, st.CreateAccount(ctx, ledger.OpenAccount(2, decimal.RequireFromString("0.0001"))))
	require.NoError(t, st.InsertDispute(ctx, ledger.DisputeRecord{ClientID: 2, EventID: 1, Amount: decimal.RequireFromString("0.0001"), Status: ledger.StatusChargedBack}))
	require.NoError(t, st.Close())

	st, err = bolt.New(path)
	require.NoError(t, err)
	defer st.Close()

	acct, err := st.GetAccount(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, "0.0001", acct.Total.String())

	d, err := st.GetDispute(ctx, 2, 1)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, ledger.StatusChargedBack, d.Status)
}

func TestBolt_ListDisputesStaysWithinClient(t *testing.T) {
	st := newStore(t)
	defer st.Close()
	ctx := context.Background()

	// 0x0100 sorts right after every key of client 0x00ff.
	for _, rec := range []ledger.DisputeRecord{
		{ClientID: 255, EventID: 4294967295, Amount: decimal.NewFromInt(1), Status: ledger.StatusDisputed},
		{ClientID: 256, EventID: 0, Amount: decimal.NewFromInt(2), Status: ledger.StatusDisputed},
	} {
		require.NoError(t, st.InsertDispute(ctx, rec))
	}

	ds, err := st.ListDisputes(ctx, 255)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, ledger.EventID(4294967295), ds[0].EventID)
}
