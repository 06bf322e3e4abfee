package cli

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/config"
	"github.com/warp/settlement-engine/factory"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	// Listening, when set, receives the bound address once the server
	// accepts connections (for testing with ":0").
	Listening chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the settled ledger over a read-only HTTP API",
		Long: `Open the ledger left behind by "settle run" and serve it read-only.

The store is never reset by serve, whatever store.reset says.

Example:
  settle run --db ./settle.db transactions.csv
  settle serve --db ./settle.db --addr :8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Serve.Addr = opts.Addr
			}
			if err := validate(cfg); err != nil {
				return err
			}
			return serve(cmd.Context(), opts, cfg, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", config.Default().Serve.Addr, "listen address")

	return cmd
}

func serve(ctx context.Context, opts *ServeOptions, cfg config.Config, stderr io.Writer) error {
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

	storeCfg := cfg.Store
	storeCfg.Reset = false
	backend, err := factory.NewStoreFactory().Open(ctx, storeCfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "store unavailable", err)
	}
	defer backend.Close()

	handler := api.NewHandler(backend, log)
	server := &http.Server{
		Handler:      api.NewRouter(handler, cfg.Serve.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Serve.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot listen", err)
	}
	log.Info("server starting", zap.String("addr", ln.Addr().String()), zap.String("backend", cfg.Store.Backend))
	if opts.Listening != nil {
		opts.Listening <- ln.Addr().String()
	}

	errc := make(chan error, 1)
	go func() { errc <- server.Serve(ln) }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "server forced to shutdown", err)
	}
	log.Info("server stopped")
	return nil
}
