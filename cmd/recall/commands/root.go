// ABOUTME: Root CLI command with global flags and subcommand registration
// ABOUTME: Execute() is the single entry point called from main
package commands

import (
	"github.com/spf13/cobra"
)

var (
	verbose bool
	quiet   bool
)

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Screen memory: record what you see, ask about it later",
		Long: `recall continuously records your screen when it changes, indexes every
frame with a vision embedding, and answers natural-language questions
about what was on screen, grounded in the actual screenshots.

Frames are stored locally under day buckets with a SQLite catalog;
nothing leaves the machine except embedding and VLM calls.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(NewRecordCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewQueryCmd())
	cmd.AddCommand(NewStatsCmd())
	cmd.AddCommand(NewVerifyCmd())
	cmd.AddCommand(NewMCPCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}
