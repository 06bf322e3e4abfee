/*
Package factory turns configuration into a ready ledger backend.

PURPOSE:
  The CLI and the API never name a concrete store. They hand the store
  section of the config to the factory and get back a ledger.Backend.

BACKENDS:
  sqlite: store/sqlite, one file, SQL transactions
  bolt:   store/bolt, one file, Bolt update transactions
  memory: ledger/store, nothing survives the process

USAGE:
  backend, err := factory.NewStoreFactory().Open(ctx, cfg.Store)
  if err != nil {
      return err
  }
  defer backend.Close()

SEE ALSO:
  - config/config.go: StoreConfig
  - ledger/store.go: Backend interface
*/
package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/warp/settlement-engine/config"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/ledger/store"
	"github.com/warp/settlement-engine/store/bolt"
	"github.com/warp/settlement-engine/store/sqlite"
)

// Opener opens one backend kind at path.
type Opener func(path string) (ledger.Backend, error)

// StoreFactory maps backend names to openers.
type StoreFactory struct {
	openers map[string]Opener
}

// NewStoreFactory returns a factory that knows every built-in backend.
func NewStoreFactory() *StoreFactory {
	f := &StoreFactory{openers: make(map[string]Opener)}
	f.Register(config.BackendSQLite, func(path string) (ledger.Backend, error) { return sqlite.New(path) })
	f.Register(config.BackendBolt, func(path string) (ledger.Backend, error) { return bolt.New(path) })
	f.Register(config.BackendMemory, func(string) (ledger.Backend, error) { return store.NewMemory(), nil })
	return f
}

// Register adds or replaces an opener.
func (f *StoreFactory) Register(name string, open Opener) {
	f.openers[name] = open
}

// Open creates the backend described by cfg. With cfg.Reset the ledger is
// emptied before it is returned.
func (f *StoreFactory) Open(ctx context.Context, cfg config.StoreConfig) (ledger.Backend, error) {
	open, ok := f.openers[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	if cfg.Backend != config.BackendMemory {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create store directory: %w", err)
			}
		}
	}

	backend, err := open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}

	if cfg.Reset {
		if err := backend.Reset(ctx); err != nil {
			backend.Close()
			return nil, fmt.Errorf("reset %s store: %w", cfg.Backend, err)
		}
	}
	return backend, nil
}
