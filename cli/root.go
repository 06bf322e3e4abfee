// Package cli implements the settle command line.
//
//	settle run transactions.csv > accounts.csv
//	settle serve --db settle.db
package cli

import (
	"github.com/spf13/cobra"

	"github.com/warp/settlement-engine/config"
)

// RootOptions holds global flags for all commands. Flags override the
// matching config keys only when given on the command line.
type RootOptions struct {
	ConfigPath string
	Verbose    bool

	Backend   string
	StorePath string
	LogLevel  string
	LogFormat string
}

// NewRootCommand creates the root command for the settle CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Settle a batch of client transactions",
		Long: `settle replays an ordered batch of deposits, withdrawals and disputes
into a ledger of client accounts and writes the final account snapshot.

Diagnostics go to stderr; stdout carries only the snapshot.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug diagnostics (every applied event)")
	pf.StringVar(&opts.Backend, "backend", def.Store.Backend, "store backend (sqlite|bolt|memory)")
	pf.StringVar(&opts.StorePath, "db", def.Store.Path, "store file path")
	pf.StringVar(&opts.LogLevel, "log-level", def.Log.Level, "log level (debug|info|warn|error)")
	pf.StringVar(&opts.LogFormat, "log-format", def.Log.Format, "log format (console|json)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// loadConfig reads the config file, if any, then applies flags that were
// set explicitly.
func (o *RootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if o.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(o.ConfigPath); err != nil {
			return cfg, WrapExitError(ExitCommandError, "invalid configuration", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Store.Backend = o.Backend
	}
	if flags.Changed("db") {
		cfg.Store.Path = o.StorePath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.LogLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = o.LogFormat
	}
	return cfg, nil
}

// validate rechecks cfg after flag overrides.
func validate(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return nil
}
