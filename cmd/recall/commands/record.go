// ABOUTME: CLI command running the recording loop in the foreground
// ABOUTME: Captures until interrupted; logs batch stats as they arrive
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/recall/internal/recorder"
)

// NewRecordCmd creates the record command.
func NewRecordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record",
		Short: "Record the screen until interrupted",
		Long: `Start the change-triggered capture loop in the foreground.

A frame is stored only when the screen changed past the diff threshold
or the heartbeat interval elapsed. Ctrl-C stops recording cleanly.`,
		RunE: runRecord,
	}
}

func runRecord(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	bus := recorder.NewBus()
	ctrl, backfiller, err := a.controller(bus)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go backfiller.Run(ctx)
	go logEvents(ctx, a, bus)
	go enforceRetention(ctx, a)

	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("starting recording: %w", err)
	}
	a.logger.Info("recording started",
		"mode", ctrl.Session().Mode,
		"poll_interval", a.cfg.PollInterval,
		"diff_threshold", a.cfg.DiffThreshold)

	<-ctx.Done()
	ctrl.Stop()
	a.logger.Info("recording stopped", "stats", ctrl.Stats())
	return nil
}

func logEvents(ctx context.Context, a *app, bus *recorder.Bus) {
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case recorder.EventBatchRefreshed:
				a.logger.Info("batch stored",
					"accepted", ev.Stats.AcceptedFrames,
					"total_polls", ev.Stats.TotalFrames,
					"disk_usage", ev.Stats.DiskUsageBytes)
			case recorder.EventStatusChanged:
				if ev.Err != nil {
					a.logger.Error("recording halted", "error", ev.Err)
				}
			}
		}
	}
}

// enforceRetention periodically evicts the oldest buckets once the quota is
// exceeded. No-op when the quota is 0.
func enforceRetention(ctx context.Context, a *app) {
	if a.cfg.RetentionQuotaBytes <= 0 {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted, err := a.store.EnforceRetention(ctx, a.cfg.RetentionQuotaBytes)
			if err != nil {
				a.logger.Error("retention eviction failed", "error", err)
				continue
			}
			if len(evicted) > 0 {
				a.logger.Info("evicted old buckets", "buckets", evicted)
			}
		}
	}
}
