// ABOUTME: CLI command for the catalog/image consistency scan
// ABOUTME: Exits nonzero when the corpus is corrupt
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewVerifyCmd creates the verify command.
func NewVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check catalog entries against image files",
		Long: `Walk the catalog and the image tree in both directions: every catalog
entry must have its image file, and every image file must have a
catalog entry. Reports anything out of place.`,
		RunE: runVerify,
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	report, err := a.store.Verify(ctx)
	if err != nil {
		return fmt.Errorf("consistency scan failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Checked %d catalog entries, %d image files\n",
		report.FramesChecked, report.FilesChecked)
	for _, path := range report.MissingImages {
		fmt.Fprintf(cmd.OutOrStdout(), "missing image: %s\n", path)
	}
	for _, path := range report.OrphanFiles {
		fmt.Fprintf(cmd.OutOrStdout(), "orphan file: %s\n", path)
	}
	if !report.Clean() {
		return report.Err()
	}
	if !quiet {
		fmt.Fprintln(cmd.OutOrStdout(), "Catalog is consistent")
	}
	return nil
}
