// Package cli implements the surge command line.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/engine"
)

var version = "0.1.0"

// RootCmd is the surge command; main executes it.
var RootCmd = NewRootCmd()

// NewRootCmd builds the command tree. Every call returns independent
// commands and flag values.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "surge",
		Short:   "A load testing tool driven by declarative test files",
		Version: version,
		Long: `surge drives load against HTTP services with virtual users.

A test file declares scenarios, each with a scheduling policy (executor),
the requests one iteration makes, and thresholds that decide whether the
run passed. The exit code reports the outcome:

  0    passed
  99   thresholds failed
  100  setup failed
  101  teardown failed
  104  invalid configuration
  105  aborted by signal
  107  script error
  108  aborted by the test`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newExecutorsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs RootCmd with ctx. Cancelling ctx aborts a running test.
func Execute(ctx context.Context) error {
	return RootCmd.ExecuteContext(ctx)
}

// ExitCode maps an Execute error to the process exit code.
func ExitCode(err error) int {
	return int(engine.ExitCodeOf(err))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the surge version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "surge %s\n", version)
		},
	}
}
