// ABOUTME: Backfill worker for frames persisted without an embedding or caption
// ABOUTME: Retries the embedding service with backoff until the catalog is caught up
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/store"
	"github.com/harper/recall/internal/util"
)

// Captioner produces a short text description of a frame. Satisfied by
// llm.Client. Optional.
type Captioner interface {
	Describe(ctx context.Context, imageData []byte) (string, error)
}

// Backfiller periodically fills in embeddings (and captions, when a Captioner
// is set) for frames that were persisted while the model endpoint was down.
type Backfiller struct {
	store     *store.Store
	embedder  Embedder
	captioner Captioner
	interval  time.Duration
	batch     int
	logger    *slog.Logger
}

// NewBackfiller creates a backfill worker.
func NewBackfiller(s *store.Store, embedder Embedder, captioner Captioner, interval time.Duration, logger *slog.Logger) *Backfiller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backfiller{
		store:     s,
		embedder:  embedder,
		captioner: captioner,
		interval:  interval,
		batch:     32,
		logger:    logger,
	}
}

// Run processes pending frames until ctx is cancelled.
func (b *Backfiller) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := b.RunOnce(ctx)
		if err != nil {
			failures++
			// Endpoint still down; back off instead of hammering it.
			select {
			case <-time.After(util.CalculateBackoff(b.interval, failures)):
			case <-ctx.Done():
				return
			}
			continue
		}
		failures = 0
		if n > 0 {
			b.logger.Info("backfilled embeddings", "count", n)
		}
	}
}

// RunOnce backfills a single batch and returns how many frames were updated.
func (b *Backfiller) RunOnce(ctx context.Context) (int, error) {
	pending, err := b.store.PendingEmbeddings(ctx, b.batch)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, frame := range pending {
		data, err := os.ReadFile(frame.ImagePath)
		if err != nil {
			// Catalog entry without its image is corruption, not a retry case.
			b.logger.Error("integrity violation during backfill",
				"frame", frame.FrameID, "path", frame.ImagePath,
				"error", models.ErrCorruptCatalog)
			continue
		}

		vector, err := b.embedder.EmbedImage(ctx, data)
		if err != nil {
			if errors.Is(err, models.ErrEmbeddingUnavailable) {
				return done, err
			}
			b.logger.Warn("backfill embed failed", "frame", frame.FrameID, "error", err)
			continue
		}
		if err := b.store.SetEmbedding(ctx, frame.FrameID, vector, b.embedder.Model()); err != nil {
			return done, err
		}

		if b.captioner != nil && frame.Caption == "" {
			if caption, err := b.captioner.Describe(ctx, data); err == nil {
				_ = b.store.SetCaption(ctx, frame.FrameID, caption)
			}
		}
		done++
	}
	return done, nil
}
