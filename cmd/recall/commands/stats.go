// ABOUTME: CLI command printing catalog statistics
// ABOUTME: Reads the catalog only; no model endpoints required
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsJSON bool

// NewStatsCmd creates the stats command.
func NewStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recording statistics",
		RunE:  runStats,
	}
	cmd.Flags().BoolVar(&statsJSON, "json", false, "Emit stats as JSON")
	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	total, err := a.store.TotalFrames(ctx)
	if err != nil {
		return fmt.Errorf("counting frames: %w", err)
	}

	out := struct {
		TotalFrames  int64  `json:"total_frames"`
		DiskUsage    int64  `json:"disk_usage"`
		Storage      string `json:"storage"`
		VLMModel     string `json:"vlm_model"`
		EarliestDate string `json:"earliest_date,omitempty"`
		LatestDate   string `json:"latest_date,omitempty"`
	}{
		TotalFrames: total,
		DiskUsage:   a.store.DiskUsage(),
		Storage:     "sqlite",
		VLMModel:    a.cfg.VLMModel,
	}
	if earliest, latest, ok := a.store.DateRange(); ok {
		out.EarliestDate = earliest.Format(time.RFC3339)
		out.LatestDate = latest.Format(time.RFC3339)
	}

	if statsJSON {
		jsonData, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", jsonData)
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Frames:     %d\n", out.TotalFrames)
	fmt.Fprintf(cmd.OutOrStdout(), "Disk usage: %s\n", formatBytes(out.DiskUsage))
	fmt.Fprintf(cmd.OutOrStdout(), "Storage:    %s (%s)\n", out.Storage, a.cfg.DataDir)
	fmt.Fprintf(cmd.OutOrStdout(), "VLM model:  %s\n", out.VLMModel)
	if out.EarliestDate != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded:   %s to %s\n", out.EarliestDate, out.LatestDate)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Recorded:   nothing yet")
	}
	return nil
}

// formatBytes renders a byte count in human units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
