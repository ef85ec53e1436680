// ABOUTME: Frame is one persisted screenshot with timestamp, image reference, and embedding
// ABOUTME: Core data structure for the recall capture-and-retrieval pipeline
package models

import (
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
)

// RawFrame is a freshly grabbed screen bitmap before any persistence decision.
type RawFrame struct {
	Image     image.Image
	Timestamp time.Time
}

// Frame represents one persisted screenshot. Immutable once written, except
// for Embedding/EmbeddingModel and Caption, which may be backfilled
// asynchronously after ingest.
type Frame struct {
	FrameID   string    `json:"frame_id"`
	Timestamp time.Time `json:"timestamp"`
	ImagePath string    `json:"image_path"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	Caption   string    `json:"caption,omitempty"`

	// Embedding is nil until the embedding service has processed the frame.
	// Frames with a nil embedding are excluded from similarity scoring.
	Embedding []float64 `json:"-"`
	// EmbeddingModel records which model produced Embedding. Query and corpus
	// must use the same model; a mismatch is surfaced, never silently scored.
	EmbeddingModel string `json:"-"`
}

// NewFrameID generates a unique, time-sortable frame identifier.
func NewFrameID(ts time.Time) string {
	return fmt.Sprintf("frame_%s_%s", ts.UTC().Format("20060102_150405.000000"), uuid.New().String()[:8])
}

// BucketDay returns the calendar-day bucket a timestamp belongs to.
func BucketDay(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

// TimeRange bounds a retrieval query. A zero From or To leaves that side open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether ts falls inside the range (inclusive bounds).
func (r TimeRange) Contains(ts time.Time) bool {
	if !r.From.IsZero() && ts.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && ts.After(r.To) {
		return false
	}
	return true
}
