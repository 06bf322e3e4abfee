package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/config"
	"github.com/warp/settlement-engine/ledger"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.BackendSQLite, cfg.Store.Backend)
	assert.True(t, cfg.Store.Reset)
	assert.Equal(t, ledger.AbortOnMalformed, cfg.Input.OnMalformed)
	assert.Equal(t, config.FormatCSV, cfg.Output.Format)
}

func TestLoad_OverridesOnlyGivenKeys(t *testing.T) {
	path := writeFile(t, `
store:
  backend: bolt
  path: /tmp/ledger.bolt
input:
  on_malformed: skip
log:
  level: debug
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.BackendBolt, cfg.Store.Backend)
	assert.Equal(t, "/tmp/ledger.bolt", cfg.Store.Path)
	assert.True(t, cfg.Store.Reset, "reset keeps its default")
	assert.Equal(t, ledger.SkipMalformed, cfg.Input.OnMalformed)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, config.LogConsole, cfg.Log.Format)
	assert.Equal(t, ":8080", cfg.Serve.Addr)
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := config.Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := config.Load(writeFile(t, "store:\n  backnd: sqlite\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backnd")
}

func TestValidate_ReportsEveryBadField(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "postgres"
	cfg.Input.OnMalformed = "ignore"
	cfg.Output.Format = "xml"
	cfg.Log.Level = "loud"
	cfg.Log.Format = "pretty"
	cfg.Serve.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	for _, field := range []string{"store.backend", "input.on_malformed", "output.format", "log.level", "log.format", "serve.addr"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestValidate_PathRequiredForFileBackends(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Path = ""
	assert.ErrorContains(t, cfg.Validate(), "store.path")

	cfg.Store.Backend = config.BackendMemory
	assert.NoError(t, cfg.Validate())
}
