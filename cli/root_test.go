package cli_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/cli"
)

func TestRootCommand(t *testing.T) {
	cmd := cli.NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "settle", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := cli.NewRootCommand()
	for _, name := range []string{"run", "serve"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := cli.NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	cfg := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "c", cfg.Shorthand)

	backend := cmd.PersistentFlags().Lookup("backend")
	require.NotNil(t, backend)
	assert.Equal(t, "sqlite", backend.DefValue)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := cli.NewRootCommand()
	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	format := run.Flags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "f", format.Shorthand)
	assert.Equal(t, "csv", format.DefValue)

	policy := run.Flags().Lookup("on-malformed")
	require.NotNil(t, policy)
	assert.Equal(t, "abort", policy.DefValue)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, cli.ExitSuccess, cli.GetExitCode(nil))
	assert.Equal(t, cli.ExitFailure, cli.GetExitCode(errors.New("boom")))
	assert.Equal(t, cli.ExitCommandError, cli.GetExitCode(cli.NewExitError(cli.ExitCommandError, "bad")))

	wrapped := fmt.Errorf("outer: %w", cli.WrapExitError(cli.ExitFailure, "inner", errors.New("cause")))
	assert.Equal(t, cli.ExitFailure, cli.GetExitCode(wrapped))
	assert.Equal(t, "outer: inner: cause", wrapped.Error())
}
