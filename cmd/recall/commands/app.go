// ABOUTME: Shared component wiring for CLI commands
// ABOUTME: Builds the config, logger, store, model client, and pipeline pieces
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/harper/recall/internal/capture"
	"github.com/harper/recall/internal/config"
	"github.com/harper/recall/internal/detect"
	"github.com/harper/recall/internal/ingest"
	"github.com/harper/recall/internal/llm"
	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/recorder"
	"github.com/harper/recall/internal/retrieval"
	"github.com/harper/recall/internal/store"
	"github.com/harper/recall/internal/synthesis"
)

// app holds the wired components shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	client *llm.Client
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelError
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// openApp loads config and opens the store. withModels also connects the
// embedding/VLM client; commands that only read the catalog skip it.
func openApp(withModels bool) (*app, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger := newLogger()
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	s, err := store.Open(cfg.DataDir, cfg.WindowHorizon, logger)
	if err != nil {
		return nil, fmt.Errorf("opening frame store: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: s}
	if withModels {
		client, err := llm.NewClient(cfg, logger)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		a.client = client
	}
	return a, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
}

func (a *app) engine() (*retrieval.Engine, error) {
	return retrieval.NewEngine(a.store, a.client, a.cfg.TopK, a.cfg.QueryCacheLen, a.logger)
}

func (a *app) synthesizer() *synthesis.Synthesizer {
	syn := synthesis.New(a.client, a.logger)
	syn.SetDedupeThreshold(a.cfg.DiffThreshold)
	return syn
}

// controller wires the full capture pipeline: grabbers, change detector,
// ingestor, and the recording controller with its event bus.
func (a *app) controller(bus *recorder.Bus) (*recorder.Controller, *ingest.Backfiller, error) {
	local, err := capture.NewCommandGrabber(a.cfg.CaptureCommand)
	if err != nil {
		return nil, nil, err
	}
	grabbers := map[models.CaptureMode]capture.Grabber{models.ModeLocal: local}
	if a.cfg.RemoteCaptureURL != "" {
		grabbers[models.ModeRemote] = capture.NewRemoteGrabber(a.cfg.RemoteCaptureURL, a.cfg.Timeout)
	}

	ingestor := ingest.New(a.store, a.client, a.cfg.RetentionQuotaBytes, a.cfg.JPEGQuality, a.logger)

	ctrl, err := recorder.New(grabbers,
		detect.New(a.cfg.DiffThreshold, a.cfg.HeartbeatEvery),
		ingestor, a.store, bus,
		recorder.Options{
			PollInterval:    a.cfg.PollInterval,
			BatchSize:       a.cfg.BatchSize,
			MaxGrabFailures: a.cfg.MaxGrabFailures,
			Mode:            models.CaptureMode(a.cfg.CaptureMode),
		},
		a.logger)
	if err != nil {
		return nil, nil, err
	}

	var captioner ingest.Captioner
	if a.cfg.EnableCaptions {
		captioner = a.client
	}
	backfiller := ingest.NewBackfiller(a.store, a.client, captioner, a.cfg.PollInterval*10, a.logger)
	return ctrl, backfiller, nil
}
