package store_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/ledger/store"
	"github.com/warp/settlement-engine/ledger/storetest"
)

func TestMemory_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Backend { return store.NewMemory() })
}

func TestMemory_WithTxRejectsCancelledContext(t *testing.T) {
	m := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := m.WithTx(ctx, func(ledger.Store) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.CreateAccount(ctx, ledger.OpenAccount(1, decimal.NewFromInt(5))))

	acct, err := m.GetAccount(ctx, 1)
	require.NoError(t, err)
	acct.Locked = true

	again, err := m.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.False(t, again.Locked, "mutating a returned account must not touch the store")
}
