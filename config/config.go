/*
config.go - Settlement run configuration

PURPOSE:
  Loads the YAML file that selects the store backend, the malformed-input
  policy, the report format, logging and the read-only API. Every key has a
  default, so running without a file is valid.

EXAMPLE:
  store:
    backend: sqlite        # sqlite | bolt | memory
    path: settle.db
    reset: true
  input:
    has_header: false
    on_malformed: abort    # abort | skip
  output:
    format: csv            # csv | json
  log:
    level: info            # debug | info | warn | error
    format: console        # console | json
  serve:
    addr: ":8080"
    allowed_origins: ["http://localhost:5173"]

SEE ALSO:
  - factory/store.go: Turns StoreConfig into a ledger.Backend
  - cli/root.go: Flags that override individual keys
*/
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/report"
)

// Backend names accepted in store.backend.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Report formats accepted in output.format.
const (
	FormatCSV  = report.FormatCSV
	FormatJSON = report.FormatJSON
)

// Log encodings accepted in log.format.
const (
	LogConsole = "console"
	LogJSON    = "json"
)

type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Input  InputConfig  `yaml:"input"`
	Output OutputConfig `yaml:"output"`
	Log    LogConfig    `yaml:"log"`
	Serve  ServeConfig  `yaml:"serve"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`

	// Reset empties the ledger before a run. Run history is kept.
	Reset bool `yaml:"reset"`
}

type InputConfig struct {
	HasHeader   bool                   `yaml:"has_header"`
	OnMalformed ledger.MalformedPolicy `yaml:"on_malformed"`
}

type OutputConfig struct {
	Format string `yaml:"format"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServeConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Backend: BackendSQLite,
			Path:    "settle.db",
			Reset:   true,
		},
		Input: InputConfig{
			OnMalformed: ledger.AbortOnMalformed,
		},
		Output: OutputConfig{Format: FormatCSV},
		Log:    LogConfig{Level: "info", Format: LogConsole},
		Serve: ServeConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := Decode(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode parses YAML into cfg and validates the result.
func Decode(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Validate reports every bad field at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendSQLite, BackendBolt:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for backend %q", c.Store.Backend))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}

	if !c.Input.OnMalformed.Valid() {
		errs = append(errs, fmt.Errorf("input.on_malformed: want abort or skip, got %q", c.Input.OnMalformed))
	}

	switch c.Output.Format {
	case FormatCSV, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("output.format: want csv or json, got %q", c.Output.Format))
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case LogConsole, LogJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format: want console or json, got %q", c.Log.Format))
	}

	if c.Serve.Addr == "" {
		errs = append(errs, errors.New("serve.addr is required"))
	}

	return errors.Join(errs...)
}
