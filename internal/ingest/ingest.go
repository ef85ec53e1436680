// ABOUTME: Frame ingest: persist accepted frames, embed, append to the catalog
// ABOUTME: Image is durably written before the catalog entry ever exists
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/store"
)

// Embedder computes frame embeddings. Satisfied by llm.Client.
type Embedder interface {
	EmbedImage(ctx context.Context, imageData []byte) ([]float64, error)
	Model() string
}

// Ingestor persists accepted frames.
type Ingestor struct {
	store    *store.Store
	embedder Embedder
	quota    int64 // 0 = unlimited
	quality  int
	logger   *slog.Logger

	dropped atomic.Int64
	pending atomic.Int64
}

// New creates an ingestor. quota bounds total image storage; encode quality
// is the JPEG quality for persisted frames.
func New(s *store.Store, embedder Embedder, quota int64, quality int, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: s, embedder: embedder, quota: quota, quality: quality, logger: logger}
}

// Ingest persists one accepted raw frame: encode, write the image durably,
// compute the embedding, then append the catalog entry. The catalog entry is
// never visible before its image file exists.
//
// Error semantics: ErrEncodeFailure drops the frame (counted, not retried).
// A frame that would exceed the quota first evicts the oldest buckets;
// ErrStorageFull is raised only when no older bucket is left to evict, is
// fatal to the session, and leaves no catalog entry; an
// unreachable embedding service still persists the frame, with the embedding
// left for backfill.
func (in *Ingestor) Ingest(ctx context.Context, raw *models.RawFrame) (*models.Frame, error) {
	if raw == nil || raw.Image == nil {
		in.dropped.Add(1)
		return nil, fmt.Errorf("%w: nil bitmap", models.ErrEncodeFailure)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, raw.Image, &jpeg.Options{Quality: in.quality}); err != nil {
		in.dropped.Add(1)
		return nil, fmt.Errorf("%w: %v", models.ErrEncodeFailure, err)
	}
	data := buf.Bytes()
	ts := raw.Timestamp.UTC()

	if in.quota > 0 && in.store.DiskUsage()+int64(len(data)) > in.quota {
		// Over quota: evict the oldest buckets first, and only report full
		// when eviction could not make room (everything left is today's).
		evicted, err := in.store.EnsureCapacity(ctx, in.quota, int64(len(data)), ts)
		if err != nil {
			in.logger.Warn("retention eviction failed", "error", err)
		} else if len(evicted) > 0 {
			in.logger.Info("evicted buckets for quota", "buckets", evicted)
		}
		if in.store.DiskUsage()+int64(len(data)) > in.quota {
			return nil, fmt.Errorf("%w: quota %d bytes exceeded", models.ErrStorageFull, in.quota)
		}
	}

	frameID := models.NewFrameID(ts)
	dir := in.store.ImageDir(ts)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, classifyWriteErr(err)
	}
	path := filepath.Join(dir, frameID+".jpg")
	if err := writeDurable(path, data); err != nil {
		return nil, classifyWriteErr(err)
	}

	frame := &models.Frame{
		FrameID:   frameID,
		Timestamp: ts,
		ImagePath: path,
		SizeBytes: int64(len(data)),
	}

	vector, err := in.embedder.EmbedImage(ctx, data)
	switch {
	case err == nil:
		frame.Embedding = vector
		frame.EmbeddingModel = in.embedder.Model()
	case errors.Is(err, models.ErrEmbeddingUnavailable):
		// Persist anyway; the backfill worker fills the vector in later.
		in.pending.Add(1)
		in.logger.Warn("embedding deferred to backfill", "frame", frameID, "error", err)
	default:
		_ = os.Remove(path)
		return nil, fmt.Errorf("embedding failed for %s: %w", frameID, err)
	}

	if err := in.store.Append(ctx, frame); err != nil {
		// Roll the image back so the failed append leaves no orphan file.
		_ = os.Remove(path)
		return nil, classifyWriteErr(err)
	}
	return frame, nil
}

// Dropped reports frames dropped for encode failures.
func (in *Ingestor) Dropped() int64 {
	return in.dropped.Load()
}

// PendingEmbeds reports frames persisted without an embedding this session.
func (in *Ingestor) PendingEmbeds() int64 {
	return in.pending.Load()
}

// writeDurable writes via a temp file and rename so readers never observe a
// partially written image.
func writeDurable(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func classifyWriteErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return fmt.Errorf("%w: %v", models.ErrStorageFull, err)
	}
	return err
}
