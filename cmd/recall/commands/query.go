// ABOUTME: CLI command for one-shot retrieval and answer synthesis
// ABOUTME: Supports time bounds, the real-time path, and JSON output
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/recall/internal/models"
)

var (
	queryFrom   string
	queryTo     string
	queryRecent bool
	queryK      int
	queryJSON   bool
)

// NewQueryCmd creates the query command.
func NewQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Ask a question about recorded screen history",
		Long: `Search recorded frames by similarity and synthesize a grounded answer.

Examples:
  recall query "what error was in my terminal"
  recall query --from 2026-08-30T09:00:00Z --to 2026-08-30T17:00:00Z "the PR I reviewed"
  recall query --recent "what am I working on right now"`,
		Args: cobra.ExactArgs(1),
		RunE: runQuery,
	}
	cmd.Flags().StringVar(&queryFrom, "from", "", "Lower time bound (RFC3339)")
	cmd.Flags().StringVar(&queryTo, "to", "", "Upper time bound (RFC3339)")
	cmd.Flags().BoolVar(&queryRecent, "recent", false, "Search only the rolling window")
	cmd.Flags().IntVar(&queryK, "k", 0, "Number of evidence frames (default from config)")
	cmd.Flags().BoolVar(&queryJSON, "json", false, "Emit the full result as JSON")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	bound, err := parseBounds(queryFrom, queryTo)
	if err != nil {
		return err
	}

	engine, err := a.engine()
	if err != nil {
		return err
	}
	syn := a.synthesizer()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var scored []models.ScoredFrame
	if queryRecent {
		scored, err = engine.SearchRecent(ctx, args[0], queryK)
		if err == nil {
			scored = syn.DedupedEvidence(scored)
		}
	} else {
		scored, err = engine.Search(ctx, args[0], bound, queryK)
	}
	if err != nil {
		return fmt.Errorf("searching frames: %w", err)
	}

	result, err := syn.Synthesize(ctx, args[0], scored)
	if err != nil && !errors.Is(err, models.ErrSynthesisUnavailable) {
		return err
	}
	degraded := err != nil

	if queryJSON {
		jsonData, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", jsonData)
		return nil
	}

	if degraded {
		fmt.Fprintln(cmd.OutOrStdout(), "(answer unavailable: VLM endpoint unreachable; showing evidence only)")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), result.Answer)
	}
	if len(result.Frames) > 0 {
		fmt.Fprintln(cmd.OutOrStdout())
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tCAPTURED\tFRAME")
		for _, sf := range result.Frames {
			fmt.Fprintf(w, "%.3f\t%s\t%s\n",
				sf.Score, sf.Frame.Timestamp.Format(time.RFC3339), sf.Frame.ImagePath)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func parseBounds(from, to string) (models.TimeRange, error) {
	var bound models.TimeRange
	if from != "" {
		ts, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return bound, fmt.Errorf("invalid --from: %w", err)
		}
		bound.From = ts
	}
	if to != "" {
		ts, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return bound, fmt.Errorf("invalid --to: %w", err)
		}
		bound.To = ts
	}
	return bound, nil
}
