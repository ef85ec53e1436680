// ABOUTME: RollingWindow keeps the most recent frames in memory for real-time queries
// ABOUTME: Time-horizon eviction on insert; readers get copy-on-read snapshots
package store

import (
	"sync"
	"time"

	"github.com/harper/recall/internal/models"
)

// RollingWindow is a bounded, time-ordered tail of the most recent frames.
// It is a read-through cache over the catalog: every frame in the window also
// has a catalog entry, so nothing is ever exclusively in one or the other.
// Mutated only by the capture loop; read by the real-time query path.
type RollingWindow struct {
	mu      sync.RWMutex
	horizon time.Duration
	frames  []*models.Frame // ascending by timestamp
}

// NewRollingWindow creates a window holding frames no older than horizon.
func NewRollingWindow(horizon time.Duration) *RollingWindow {
	return &RollingWindow{horizon: horizon}
}

// Insert appends a frame and evicts entries older than the window horizon,
// measured from the inserted frame's timestamp.
func (w *RollingWindow) Insert(frame *models.Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.frames = append(w.frames, frame)

	cutoff := frame.Timestamp.Add(-w.horizon)
	first := 0
	for first < len(w.frames) && w.frames[first].Timestamp.Before(cutoff) {
		first++
	}
	if first > 0 {
		w.frames = append([]*models.Frame(nil), w.frames[first:]...)
	}
}

// Snapshot returns a copy of the window contents, oldest first. Readers never
// block an insert beyond the time it takes to copy the slice header list.
func (w *RollingWindow) Snapshot() []*models.Frame {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*models.Frame, len(w.frames))
	copy(out, w.frames)
	return out
}

// Recent returns up to n frames from the window, newest first. ok is false
// when the window cannot satisfy the request and the caller should fall back
// to a catalog scan.
func (w *RollingWindow) Recent(n int) (frames []*models.Frame, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.frames) < n {
		return nil, false
	}
	out := make([]*models.Frame, 0, n)
	for i := len(w.frames) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, w.frames[i])
	}
	return out, true
}

// Remove drops the named frames from the window. Called on bucket eviction so
// the real-time path never serves frames whose images are gone.
func (w *RollingWindow) Remove(frameIDs map[string]struct{}) {
	if len(frameIDs) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.frames[:0]
	for _, f := range w.frames {
		if _, gone := frameIDs[f.FrameID]; !gone {
			kept = append(kept, f)
		}
	}
	for i := len(kept); i < len(w.frames); i++ {
		w.frames[i] = nil
	}
	w.frames = kept
}

// Len reports the number of frames currently in the window.
func (w *RollingWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.frames)
}

// Horizon returns the window's time horizon.
func (w *RollingWindow) Horizon() time.Duration {
	return w.horizon
}
