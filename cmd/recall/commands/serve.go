// ABOUTME: CLI command running the HTTP API server
// ABOUTME: Optionally runs the recording loop in the same process with --record
package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/recall/internal/recorder"
	"github.com/harper/recall/internal/server"
)

var serveRecord bool

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP query API",
		Long: `Run the JSON HTTP API used by UI clients: stats, date range, frame
listing, retrieval-augmented queries, and raw image serving.

With --record the capture loop runs in the same process and the
recording control endpoints are live.`,
		RunE: runServe,
	}
	cmd.Flags().BoolVar(&serveRecord, "record", false, "Also run the recording loop")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	engine, err := a.engine()
	if err != nil {
		return err
	}
	syn := a.synthesizer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ctrl *recorder.Controller
	if serveRecord {
		bus := recorder.NewBus()
		recCtrl, backfiller, err := a.controller(bus)
		if err != nil {
			return err
		}
		ctrl = recCtrl
		go backfiller.Run(ctx)
		go logEvents(ctx, a, bus)
		go enforceRetention(ctx, a)
		if err := ctrl.Start(ctx); err != nil {
			return fmt.Errorf("starting recording: %w", err)
		}
		defer ctrl.Stop()
	}

	api := server.New(a.store, engine, syn, ctrl, a.cfg.VLMModel, a.logger)
	srv := &http.Server{
		Addr:        a.cfg.HTTPAddr,
		Handler:     api.Handler(),
		ReadTimeout: 30 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()
	a.logger.Info("serving HTTP API", "addr", a.cfg.HTTPAddr, "recording", serveRecord)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("server shutdown", "error", err)
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}
