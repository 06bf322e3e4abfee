package factory_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/config"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/ledger/store"
	"github.com/warp/settlement-engine/store/bolt"
	"github.com/warp/settlement-engine/store/sqlite"
)

func TestStoreFactory_OpensEachBackend(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		backend string
		path    string
		want    any
	}{
		{config.BackendSQLite, filepath.Join(dir, "nested", "settle.db"), &sqlite.Store{}},
		{config.BackendBolt, filepath.Join(dir, "settle.bolt"), &bolt.Store{}},
		{config.BackendMemory, "", &store.Memory{}},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			b, err := factory.NewStoreFactory().Open(context.Background(), config.StoreConfig{Backend: tt.backend, Path: tt.path})
			require.NoError(t, err)
			defer b.Close()
			assert.IsType(t, tt.want, b)
		})
	}
}

func TestStoreFactory_UnknownBackend(t *testing.T) {
	_, err := factory.NewStoreFactory().Open(context.Background(), config.StoreConfig{Backend: "postgres"})
	assert.ErrorContains(t, err, `unknown store backend "postgres"`)
}

func TestStoreFactory_ResetEmptiesLedger(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settle.db")

	b, err := factory.NewStoreFactory().Open(ctx, config.StoreConfig{Backend: config.BackendSQLite, Path: path})
	require.NoError(t, err)
	require.NoError(t, b.CreateAccount(ctx, ledger.OpenAccount(1, decimal.NewFromInt(1))))
	require.NoError(t, b.Close())

	b, err = factory.NewStoreFactory().Open(ctx, config.StoreConfig{Backend: config.BackendSQLite, Path: path})
	require.NoError(t, err)
	accts, err := b.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accts, 1, "without reset the previous ledger is kept")
	require.NoError(t, b.Close())

	b, err = factory.NewStoreFactory().Open(ctx, config.StoreConfig{Backend: config.BackendSQLite, Path: path, Reset: true})
	require.NoError(t, err)
	defer b.Close()
	accts, err = b.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accts)
}

func TestStoreFactory_Register(t *testing.T) {
	f := factory.NewStoreFactory()
	f.Register("broken", func(string) (ledger.Backend, error) { return nil, errors.New("no disk") })

	_, err := f.Open(context.Background(), config.StoreConfig{Backend: "broken", Path: "x"})
	assert.ErrorContains(t, err, "no disk")
}
