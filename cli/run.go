package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/settlement-engine/config"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/feed"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/report"
)

const runUsage = `missing input file

Usage:
  settle run <transactions.csv>               print the snapshot
  settle run <transactions.csv> > accounts.csv write the snapshot to a file`

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Format      string
	OnMalformed string
	HasHeader   bool
	Reset       bool
	RunID       string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "run <transactions.csv>",
		Short: "Replay a batch and print the account snapshot",
		Long: `Replay every record of the input file, in order, into the ledger and
write one line per client account to stdout once the whole file has been
consumed.

Records that break a business rule (overdraft, locked account, unknown
transaction) are discarded with a diagnostic. A malformed record aborts the
run with exit code 1 unless --on-malformed=skip.

Example:
  settle run transactions.csv > accounts.csv
  settle run --backend bolt --db ./ledger.bolt --format json transactions.csv`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return NewExitError(ExitCommandError, runUsage)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			return runSettlement(cmd.Context(), opts, cfg, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", def.Output.Format, "snapshot format (csv|json)")
	cmd.Flags().StringVar(&opts.OnMalformed, "on-malformed", string(def.Input.OnMalformed), "malformed record policy (abort|skip)")
	cmd.Flags().BoolVar(&opts.HasHeader, "header", def.Input.HasHeader, "input starts with a header line")
	cmd.Flags().BoolVar(&opts.Reset, "reset", def.Store.Reset, "start from an empty ledger")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run identifier recorded with the summary (default: new UUIDv7)")

	return cmd
}

func (o *RunOptions) config(cmd *cobra.Command) (config.Config, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Output.Format = o.Format
	}
	if flags.Changed("on-malformed") {
		cfg.Input.OnMalformed = ledger.MalformedPolicy(o.OnMalformed)
	}
	if flags.Changed("header") {
		cfg.Input.HasHeader = o.HasHeader
	}
	if flags.Changed("reset") {
		cfg.Store.Reset = o.Reset
	}
	return cfg, validate(cfg)
}

func runSettlement(ctx context.Context, opts *RunOptions, cfg config.Config, inputPath string, stdout, stderr io.Writer) error {
	log, err := newLogger(cfg.Log, opts.Verbose, stderr)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	defer log.Sync()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("loading input", zap.String("path", inputPath))
	f, err := os.Open(inputPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot open input", err)
	}
	defer f.Close()

	renderer, err := report.New(cfg.Output.Format)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	backend, err := factory.NewStoreFactory().Open(ctx, cfg.Store)
	if err != nil {
		return WrapExitError(ExitCommandError, "store unavailable", err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			log.Error("error closing store", zap.Error(closeErr))
		}
	}()
	log.Info("store ready",
		zap.String("backend", cfg.Store.Backend),
		zap.String("path", cfg.Store.Path),
		zap.Bool("reset", cfg.Store.Reset),
	)

	sessionOpts := []ledger.SessionOption{ledger.WithLogger(log)}
	if opts.RunID != "" {
		sessionOpts = append(sessionOpts, ledger.WithRunID(opts.RunID))
	}
	engine := ledger.NewEngine(ledger.NewSession(backend, sessionOpts...))

	src := feed.NewReader(bufio.NewReader(f), feed.WithHeader(cfg.Input.HasHeader))
	if _, err := engine.Replay(ctx, src, cfg.Input.OnMalformed); err != nil {
		switch {
		case feed.IsMalformed(err):
			return WrapExitError(ExitFailure, "malformed input", err)
		case errors.Is(err, context.Canceled):
			return WrapExitError(ExitFailure, "interrupted", err)
		default:
			return WrapExitError(ExitCommandError, "cannot read input", err)
		}
	}

	accounts, err := backend.ListAccounts(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot read ledger", err)
	}
	log.Info("processed accounts", zap.Int("accounts", len(accounts)))

	if err := renderer.Render(stdout, accounts); err != nil {
		return WrapExitError(ExitCommandError, "cannot write snapshot", err)
	}
	log.Info("snapshot written", zap.String("format", cfg.Output.Format))
	return nil
}
