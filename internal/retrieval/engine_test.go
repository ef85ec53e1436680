// ABOUTME: Tests for the retrieval engine ranking and caching
// ABOUTME: Uses an in-memory store and a deterministic fake embedder
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/store"
)

// fakeEmbedder maps known query strings to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float64
	model   string
	calls   int
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float64, error) {
	f.calls++
	vec, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("%w: no vector for %q", models.ErrEmbeddingUnavailable, text)
	}
	return vec, nil
}

func (f *fakeEmbedder) Model() string {
	if f.model != "" {
		return f.model
	}
	return "clip-test"
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenInMemory(t.TempDir(), 5*time.Minute, nil)
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func appendFrame(t *testing.T, s *store.Store, ts time.Time, embedding []float64, model string) *models.Frame {
	t.Helper()
	id := models.NewFrameID(ts)
	dir := s.ImageDir(ts)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	path := filepath.Join(dir, id+".jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	frame := &models.Frame{
		FrameID: id, Timestamp: ts, ImagePath: path, SizeBytes: 4,
		Embedding: embedding, EmbeddingModel: model,
	}
	if embedding == nil {
		frame.EmbeddingModel = ""
	}
	if err := s.Append(context.Background(), frame); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	return frame
}

func testEngine(t *testing.T, s *store.Store, emb *fakeEmbedder) *Engine {
	t.Helper()
	e, err := NewEngine(s, emb, 5, 8, nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func TestSearch_NearestFrameWins(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	// Three frames at T=0/60/120; the middle one matches the query direction.
	appendFrame(t, s, base, []float64{1, 0}, "clip-test")
	want := appendFrame(t, s, base.Add(60*time.Second), []float64{0.1, 0.9}, "clip-test")
	appendFrame(t, s, base.Add(120*time.Second), []float64{-1, 0}, "clip-test")

	emb := &fakeEmbedder{vectors: map[string][]float64{"terminal error": {0, 1}}}
	e := testEngine(t, s, emb)

	got, err := e.Search(context.Background(), "terminal error", models.TimeRange{}, 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].Frame.FrameID != want.FrameID {
		t.Fatalf("Search() top = %+v, want frame at T=60", got)
	}
	if got[0].Score < 0.9 {
		t.Errorf("top score = %f, want close to 1", got[0].Score)
	}
}

func TestSearch_Deterministic(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		// Identical embeddings force the recency tie-break.
		appendFrame(t, s, base.Add(time.Duration(i)*time.Minute), []float64{1, 0}, "clip-test")
	}
	emb := &fakeEmbedder{vectors: map[string][]float64{"q": {1, 0}}}
	e := testEngine(t, s, emb)

	first, err := e.Search(context.Background(), "q", models.TimeRange{}, 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for run := 0; run < 5; run++ {
		again, err := e.Search(context.Background(), "q", models.TimeRange{}, 3)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		for i := range first {
			if again[i].Frame.FrameID != first[i].Frame.FrameID {
				t.Fatalf("run %d result %d = %s, want %s", run, i, again[i].Frame.FrameID, first[i].Frame.FrameID)
			}
		}
	}
	// Ties resolve toward the newest frame.
	if !first[0].Frame.Timestamp.After(first[1].Frame.Timestamp) {
		t.Errorf("tie-break not newest-first: %v then %v", first[0].Frame.Timestamp, first[1].Frame.Timestamp)
	}
}

func TestSearch_TimeRangeBounds(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	appendFrame(t, s, base, []float64{1, 0}, "clip-test")
	inRange := appendFrame(t, s, base.Add(time.Hour), []float64{1, 0}, "clip-test")
	appendFrame(t, s, base.Add(2*time.Hour), []float64{1, 0}, "clip-test")

	emb := &fakeEmbedder{vectors: map[string][]float64{"q": {1, 0}}}
	e := testEngine(t, s, emb)

	got, err := e.Search(context.Background(), "q",
		models.TimeRange{From: base.Add(30 * time.Minute), To: base.Add(90 * time.Minute)}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].Frame.FrameID != inRange.FrameID {
		t.Errorf("Search() in range = %d frames, want only the T+1h frame", len(got))
	}
}

func TestSearch_EmptyCorpus(t *testing.T) {
	s := testStore(t)
	emb := &fakeEmbedder{vectors: map[string][]float64{"q": {1, 0}}}
	e := testEngine(t, s, emb)

	got, err := e.Search(context.Background(), "q", models.TimeRange{}, 5)
	if err != nil {
		t.Fatalf("Search() on empty corpus error = %v, want nil", err)
	}
	if len(got) != 0 {
		t.Errorf("Search() = %d frames, want 0", len(got))
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times on empty corpus, want 0", emb.calls)
	}
}

func TestSearch_SkipsPendingFrames(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	appendFrame(t, s, base, nil, "")
	ranked := appendFrame(t, s, base.Add(time.Minute), []float64{1, 0}, "clip-test")

	emb := &fakeEmbedder{vectors: map[string][]float64{"q": {1, 0}}}
	e := testEngine(t, s, emb)

	got, err := e.Search(context.Background(), "q", models.TimeRange{}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].Frame.FrameID != ranked.FrameID {
		t.Errorf("Search() = %d frames, want only the embedded one", len(got))
	}
}

func TestSearch_EmbeddingModelMismatch(t *testing.T) {
	s := testStore(t)
	appendFrame(t, s, time.Now().UTC(), []float64{1, 0}, "other-model")

	emb := &fakeEmbedder{vectors: map[string][]float64{"q": {1, 0}}}
	e := testEngine(t, s, emb)

	_, err := e.Search(context.Background(), "q", models.TimeRange{}, 5)
	if !errors.Is(err, models.ErrEmbeddingMismatch) {
		t.Fatalf("Search() error = %v, want ErrEmbeddingMismatch", err)
	}
}

func TestSearch_QueryCacheHit(t *testing.T) {
	s := testStore(t)
	appendFrame(t, s, time.Now().UTC(), []float64{1, 0}, "clip-test")

	emb := &fakeEmbedder{vectors: map[string][]float64{"q": {1, 0}}}
	e := testEngine(t, s, emb)

	for i := 0; i < 3; i++ {
		if _, err := e.Search(context.Background(), "q", models.TimeRange{}, 5); err != nil {
			t.Fatalf("Search() error = %v", err)
		}
	}
	if emb.calls != 1 {
		t.Errorf("embedder called %d times for a repeated query, want 1", emb.calls)
	}
}

func TestSearchRecent_WindowOnly(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()
	// Outside the 5m horizon: catalog only.
	appendFrame(t, s, now.Add(-time.Hour), []float64{1, 0}, "clip-test")
	recent := appendFrame(t, s, now, []float64{1, 0}, "clip-test")

	emb := &fakeEmbedder{vectors: map[string][]float64{"q": {1, 0}}}
	e := testEngine(t, s, emb)

	got, err := e.SearchRecent(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("SearchRecent() error = %v", err)
	}
	if len(got) != 1 || got[0].Frame.FrameID != recent.FrameID {
		t.Errorf("SearchRecent() = %d frames, want only the in-window frame", len(got))
	}
}

type reverseReranker struct{}

func (reverseReranker) Rerank(ctx context.Context, query string, c []models.ScoredFrame) ([]models.ScoredFrame, error) {
	out := make([]models.ScoredFrame, len(c))
	for i, sf := range c {
		out[len(c)-1-i] = sf
	}
	return out, nil
}

func TestSearch_RerankerApplied(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	best := appendFrame(t, s, base, []float64{0, 1}, "clip-test")
	worst := appendFrame(t, s, base.Add(time.Minute), []float64{1, 0}, "clip-test")

	emb := &fakeEmbedder{vectors: map[string][]float64{"q": {0, 1}}}
	e := testEngine(t, s, emb)
	e.SetReranker(reverseReranker{})

	got, err := e.Search(context.Background(), "q", models.TimeRange{}, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got[0].Frame.FrameID != worst.FrameID || got[1].Frame.FrameID != best.FrameID {
		t.Errorf("reranker not applied: got %s first", got[0].Frame.FrameID)
	}
}

// poolReranker reverses its candidates and records how many it was given.
type poolReranker struct {
	seen int
}

func (r *poolReranker) Rerank(ctx context.Context, query string, c []models.ScoredFrame) ([]models.ScoredFrame, error) {
	r.seen = len(c)
	out := make([]models.ScoredFrame, len(c))
	for i, sf := range c {
		out[len(c)-1-i] = sf
	}
	return out, nil
}

func TestSearch_RerankerSeesWiderPoolThanK(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	var frames []*models.Frame
	for i := 0; i < 6; i++ {
		// Slightly decreasing cosine score as i grows.
		frames = append(frames, appendFrame(t, s, base.Add(time.Duration(i)*time.Minute),
			[]float64{1, float64(i) * 0.01}, "clip-test"))
	}

	emb := &fakeEmbedder{vectors: map[string][]float64{"q": {1, 0}}}
	e := testEngine(t, s, emb)
	rr := &poolReranker{}
	e.SetReranker(rr)

	got, err := e.Search(context.Background(), "q", models.TimeRange{}, 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	// The reranker runs over rerankPool*k candidates, not the final cut.
	if rr.seen != rerankPool {
		t.Errorf("reranker saw %d candidates, want %d", rr.seen, rerankPool)
	}
	if len(got) != 1 {
		t.Fatalf("Search() = %d frames, want 1", len(got))
	}
	// Reversing the pool promotes the 4th cosine-best into the top spot,
	// which truncate-then-rerank could never produce.
	if got[0].Frame.FrameID != frames[3].FrameID {
		t.Errorf("top frame = %s, want the reranker-promoted %s", got[0].Frame.FrameID, frames[3].FrameID)
	}
}
