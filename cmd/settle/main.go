/*
main.go - Application entry point

PURPOSE:
  Runs the settle CLI and turns its error into a process exit code.

EXIT CODES:
  0  snapshot written (or server stopped cleanly)
  1  run aborted: malformed input, interrupted
  2  setup failed: missing input, invalid config, store unavailable

EXAMPLES:
  settle run transactions.csv > accounts.csv
  settle run --on-malformed skip --format json transactions.csv
  settle serve --db ./settle.db --addr :8080

SEE ALSO:
  - cli/root.go: Commands and flags
  - config/config.go: YAML configuration
*/
package main

import (
	"fmt"
	"os"

	"github.com/warp/settlement-engine/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "settle: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
