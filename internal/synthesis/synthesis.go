// ABOUTME: Answer synthesis: loads evidence images and asks the VLM one grounded question
// ABOUTME: Degrades to evidence-only results when the VLM is unreachable
package synthesis

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"

	"github.com/harper/recall/internal/detect"
	"github.com/harper/recall/internal/llm"
	"github.com/harper/recall/internal/models"
)

// AnswerModel generates a grounded answer from evidence images. Satisfied by
// llm.Client.
type AnswerModel interface {
	Answer(ctx context.Context, query string, evidence []llm.EvidenceImage) (string, error)
}

// Synthesizer turns ranked evidence frames into a prose answer.
type Synthesizer struct {
	model  AnswerModel
	logger *slog.Logger

	// dedupeThreshold > 0 enables DedupedEvidence filtering on the real-time
	// path, where the window often holds runs of near-identical frames.
	dedupeThreshold float64
}

// New creates a synthesizer.
func New(model AnswerModel, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{model: model, logger: logger}
}

// SetDedupeThreshold enables evidence deduplication for DedupedEvidence.
func (s *Synthesizer) SetDedupeThreshold(threshold float64) {
	s.dedupeThreshold = threshold
}

// Synthesize answers the query from the evidence frames. The returned result
// always carries the evidence; when the VLM is unreachable the result is
// returned alongside ErrSynthesisUnavailable so callers can degrade to
// frames-only.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, frames []models.ScoredFrame) (*models.SearchResult, error) {
	if len(frames) == 0 {
		return &models.SearchResult{
			Answer: "No recorded frames match this query.",
			Frames: []models.ScoredFrame{},
		}, nil
	}

	evidence := make([]llm.EvidenceImage, 0, len(frames))
	for _, sf := range frames {
		data, err := os.ReadFile(sf.Frame.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("%w: frame %s image unreadable: %v",
				models.ErrCorruptCatalog, sf.Frame.FrameID, err)
		}
		evidence = append(evidence, llm.EvidenceImage{
			Data:      data,
			Caption:   sf.Frame.Caption,
			Timestamp: sf.Frame.Timestamp,
		})
	}

	answer, err := s.model.Answer(ctx, query, evidence)
	if err != nil {
		s.logger.Warn("answer synthesis unavailable, returning evidence only", "error", err)
		return &models.SearchResult{Frames: frames}, err
	}
	return &models.SearchResult{Answer: answer, Frames: frames}, nil
}

// DedupedEvidence drops near-duplicate consecutive frames from an evidence
// set by decoding and diffing adjacent images. Frames whose images cannot be
// decoded are kept.
func (s *Synthesizer) DedupedEvidence(frames []models.ScoredFrame) []models.ScoredFrame {
	if s.dedupeThreshold <= 0 || len(frames) < 2 {
		return frames
	}

	kept := frames[:1:1]
	last := decodeFrameImage(frames[0].Frame.ImagePath)
	for _, sf := range frames[1:] {
		img := decodeFrameImage(sf.Frame.ImagePath)
		if last != nil && img != nil &&
			detect.NormalizedRMSDiff(last, img) <= s.dedupeThreshold {
			continue
		}
		kept = append(kept, sf)
		if img != nil {
			last = img
		}
	}
	return kept
}

func decodeFrameImage(path string) image.Image {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return img
}
