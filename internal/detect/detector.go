// ABOUTME: Change detector deciding whether a grabbed frame is worth persisting
// ABOUTME: Downsampled grayscale RMS diff against the last accepted frame, plus a heartbeat timer
package detect

import (
	"image"
	"math"
	"time"

	"github.com/disintegration/imaging"

	"github.com/harper/recall/internal/models"
)

// sampleSize is the square edge frames are downsampled to before comparison.
// Keeps the per-tick cost constant regardless of screen resolution.
const sampleSize = 64

// Result explains a single capture decision.
type Result struct {
	Accept bool
	Diff   float64
	Reason string
}

// Detector compares candidate frames against the last accepted frame.
// It is side-effect-free: the caller owns the "last accepted" reference.
type Detector struct {
	threshold float64
	heartbeat time.Duration
}

// New creates a detector. threshold is the normalized RMS diff above which a
// frame is considered changed; heartbeat forces acceptance after that long
// without an accepted frame, so a static screen still produces frames.
func New(threshold float64, heartbeat time.Duration) *Detector {
	return &Detector{threshold: threshold, heartbeat: heartbeat}
}

// ShouldCapture decides whether candidate differs enough from the last
// accepted frame to persist. previous is the last accepted frame, not the
// last grabbed one.
func (d *Detector) ShouldCapture(previous, candidate *models.RawFrame) Result {
	if previous == nil {
		return Result{Accept: true, Diff: 1.0, Reason: "first frame"}
	}
	if candidate.Timestamp.Sub(previous.Timestamp) >= d.heartbeat {
		return Result{Accept: true, Diff: 0, Reason: "heartbeat interval elapsed"}
	}

	diff := NormalizedRMSDiff(previous.Image, candidate.Image)
	if diff > d.threshold {
		return Result{Accept: true, Diff: diff, Reason: "frame changed"}
	}
	return Result{Accept: false, Diff: diff, Reason: "below diff threshold"}
}

// NormalizedRMSDiff returns the root-mean-square pixel difference between two
// images, normalized to [0, 1] where 0 means identical. Both images are
// downsampled to a fixed-size grayscale thumbnail first.
func NormalizedRMSDiff(a, b image.Image) float64 {
	ga := thumbnail(a)
	gb := thumbnail(b)

	var sum float64
	n := 0
	// Grayscale NRGBA stores the luma in R, G, and B; sampling R is enough.
	for i := 0; i < len(ga.Pix) && i < len(gb.Pix); i += 4 {
		d := float64(ga.Pix[i]) - float64(gb.Pix[i])
		sum += d * d
		n++
	}
	if n == 0 {
		return 1.0
	}
	return math.Sqrt(sum/float64(n)) / 255.0
}

func thumbnail(img image.Image) *image.NRGBA {
	return imaging.Grayscale(imaging.Resize(img, sampleSize, sampleSize, imaging.Box))
}
