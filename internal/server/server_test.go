// ABOUTME: HTTP API tests using httptest against in-memory fixtures
// ABOUTME: Covers empty-state behavior, query paths, and degraded synthesis
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harper/recall/internal/llm"
	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/retrieval"
	"github.com/harper/recall/internal/store"
	"github.com/harper/recall/internal/synthesis"
)

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float64, error) {
	return []float64{1, 0}, nil
}
func (fakeEmbedder) Model() string { return "clip-test" }

type fakeModel struct {
	answer string
	err    error
}

func (f *fakeModel) Answer(ctx context.Context, query string, evidence []llm.EvidenceImage) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type fixture struct {
	store  *store.Store
	server *httptest.Server
}

func newFixture(t *testing.T, model *fakeModel) *fixture {
	t.Helper()
	s, err := store.OpenInMemory(t.TempDir(), 5*time.Minute, nil)
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	engine, err := retrieval.NewEngine(s, fakeEmbedder{}, 5, 8, nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	syn := synthesis.New(model, nil)

	api := New(s, engine, syn, nil, "gpt-4o-mini", nil)
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)
	return &fixture{store: s, server: ts}
}

func (f *fixture) appendFrame(t *testing.T, ts time.Time, embedding []float64) *models.Frame {
	t.Helper()
	id := models.NewFrameID(ts)
	dir := f.store.ImageDir(ts)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	path := filepath.Join(dir, id+".jpg")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	frame := &models.Frame{
		FrameID: id, Timestamp: ts, ImagePath: path,
		SizeBytes: int64(buf.Len()), Embedding: embedding, EmbeddingModel: "clip-test",
	}
	if embedding == nil {
		frame.EmbeddingModel = ""
	}
	if err := f.store.Append(context.Background(), frame); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	return frame
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func postJSON(t *testing.T, url string, body, out interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestStats_EmptyStateNeverFails(t *testing.T) {
	f := newFixture(t, &fakeModel{})

	var stats struct {
		TotalFrames int64  `json:"total_frames"`
		DiskUsage   int64  `json:"disk_usage"`
		Storage     string `json:"storage"`
		VLMModel    string `json:"vlm_model"`
	}
	resp := getJSON(t, f.server.URL+"/api/stats", &stats)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/stats = %d, want 200", resp.StatusCode)
	}
	if stats.TotalFrames != 0 || stats.DiskUsage != 0 {
		t.Errorf("empty stats = %+v, want zeros", stats)
	}
	if stats.Storage != "sqlite" || stats.VLMModel != "gpt-4o-mini" {
		t.Errorf("stats labels = %q/%q", stats.Storage, stats.VLMModel)
	}

	var dr struct {
		Earliest *string `json:"earliest_date"`
		Latest   *string `json:"latest_date"`
	}
	resp = getJSON(t, f.server.URL+"/api/date_range", &dr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/date_range = %d, want 200", resp.StatusCode)
	}
	if dr.Earliest != nil || dr.Latest != nil {
		t.Errorf("empty date range = %v/%v, want nulls", dr.Earliest, dr.Latest)
	}
}

func TestDateRange(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	first := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	last := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	f.appendFrame(t, first, []float64{1, 0})
	f.appendFrame(t, last, []float64{1, 0})

	var dr struct {
		Earliest string `json:"earliest_date"`
		Latest   string `json:"latest_date"`
	}
	getJSON(t, f.server.URL+"/api/date_range", &dr)
	if dr.Earliest != first.Format(time.RFC3339) || dr.Latest != last.Format(time.RFC3339) {
		t.Errorf("date_range = %q..%q", dr.Earliest, dr.Latest)
	}
}

func TestFrames_RangeFilter(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	f.appendFrame(t, base, []float64{1, 0})
	mid := f.appendFrame(t, base.Add(time.Hour), []float64{1, 0})
	f.appendFrame(t, base.Add(2*time.Hour), []float64{1, 0})

	var out struct {
		Frames []struct {
			FrameID   string `json:"frame_id"`
			Timestamp string `json:"timestamp"`
			ImagePath string `json:"image_path"`
		} `json:"frames"`
	}
	url := fmt.Sprintf("%s/api/frames?from=%s&to=%s", f.server.URL,
		base.Add(30*time.Minute).Format(time.RFC3339),
		base.Add(90*time.Minute).Format(time.RFC3339))
	getJSON(t, url, &out)
	if len(out.Frames) != 1 || out.Frames[0].FrameID != mid.FrameID {
		t.Fatalf("frames in range = %+v, want only the middle frame", out.Frames)
	}
	if out.Frames[0].ImagePath == "" {
		t.Error("image_path missing")
	}

	resp := getJSON(t, f.server.URL+"/api/frames?from=not-a-time", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad from timestamp = %d, want 400", resp.StatusCode)
	}
}

func TestFramesRecent_NewestFirst(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	now := time.Now().UTC()
	f.appendFrame(t, now.Add(-2*time.Minute), []float64{1, 0})
	newest := f.appendFrame(t, now, []float64{1, 0})

	var out struct {
		Frames []struct {
			FrameID string `json:"frame_id"`
		} `json:"frames"`
	}
	getJSON(t, f.server.URL+"/api/frames/recent?n=2", &out)
	if len(out.Frames) != 2 {
		t.Fatalf("recent = %d frames, want 2", len(out.Frames))
	}
	if out.Frames[0].FrameID != newest.FrameID {
		t.Errorf("recent[0] = %s, want newest frame first", out.Frames[0].FrameID)
	}
}

func TestQuery(t *testing.T) {
	f := newFixture(t, &fakeModel{answer: "You were reading docs."})
	frame := f.appendFrame(t, time.Now().UTC(), []float64{1, 0})

	var out struct {
		Answer string `json:"answer"`
		Frames []struct {
			FrameID   string  `json:"frame_id"`
			ImagePath string  `json:"image_path"`
			Relevance float64 `json:"relevance"`
		} `json:"frames"`
	}
	resp := postJSON(t, f.server.URL+"/api/query_rag_with_time",
		map[string]string{"query": "what was I reading"}, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query = %d, want 200", resp.StatusCode)
	}
	if out.Answer != "You were reading docs." {
		t.Errorf("answer = %q", out.Answer)
	}
	if len(out.Frames) != 1 || out.Frames[0].FrameID != frame.FrameID {
		t.Fatalf("frames = %+v", out.Frames)
	}
	if out.Frames[0].Relevance <= 0 {
		t.Errorf("relevance = %f, want positive", out.Frames[0].Relevance)
	}
}

func TestQuery_EmptyCorpus(t *testing.T) {
	f := newFixture(t, &fakeModel{answer: "unused"})

	var out struct {
		Answer string            `json:"answer"`
		Frames []json.RawMessage `json:"frames"`
	}
	resp := postJSON(t, f.server.URL+"/api/query_rag_with_time",
		map[string]string{"query": "anything"}, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query on empty corpus = %d, want 200", resp.StatusCode)
	}
	if out.Answer == "" {
		t.Error("empty corpus should return a neutral answer, not nothing")
	}
	if len(out.Frames) != 0 {
		t.Errorf("frames = %d, want 0", len(out.Frames))
	}
}

func TestQuery_VLMUnreachable_ReturnsEvidence(t *testing.T) {
	f := newFixture(t, &fakeModel{err: fmt.Errorf("%w: refused", models.ErrSynthesisUnavailable)})
	frame := f.appendFrame(t, time.Now().UTC(), []float64{1, 0})

	var out struct {
		Answer string `json:"answer"`
		Error  string `json:"error"`
		Frames []struct {
			FrameID string `json:"frame_id"`
		} `json:"frames"`
	}
	resp := postJSON(t, f.server.URL+"/api/query_rag_with_time",
		map[string]string{"query": "q"}, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("degraded query = %d, want 200", resp.StatusCode)
	}
	if out.Answer != "" {
		t.Errorf("degraded answer = %q, want empty", out.Answer)
	}
	if out.Error == "" {
		t.Error("degraded response must carry an error marker")
	}
	if len(out.Frames) != 1 || out.Frames[0].FrameID != frame.FrameID {
		t.Errorf("evidence = %+v, want the matching frame", out.Frames)
	}
}

func TestQuery_InlineImages(t *testing.T) {
	f := newFixture(t, &fakeModel{answer: "ok"})
	f.appendFrame(t, time.Now().UTC(), []float64{1, 0})

	var out struct {
		Frames []struct {
			ImagePath   string `json:"image_path"`
			ImageBase64 []byte `json:"image_base64"`
		} `json:"frames"`
	}
	postJSON(t, f.server.URL+"/api/query_rag_with_time",
		map[string]interface{}{"query": "q", "inline_images": true}, &out)
	if len(out.Frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(out.Frames))
	}
	if len(out.Frames[0].ImageBase64) == 0 {
		t.Error("image_base64 missing with inline_images")
	}
	if out.Frames[0].ImagePath != "" {
		t.Error("image_path present alongside image_base64; exactly one expected")
	}
}

func TestQuery_MissingQuery(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	resp := postJSON(t, f.server.URL+"/api/query_rag_with_time", map[string]string{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing query = %d, want 400", resp.StatusCode)
	}
}

func TestImage_PathSanitized(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	frame := f.appendFrame(t, time.Now().UTC(), []float64{1, 0})

	resp := getJSON(t, f.server.URL+"/api/image?path="+frame.ImagePath, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("stored image = %d, want 200", resp.StatusCode)
	}

	resp = getJSON(t, f.server.URL+"/api/image?path=/etc/passwd", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("outside path = %d, want 403", resp.StatusCode)
	}
}

func TestRecording_UnavailableWithoutController(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	resp := postJSON(t, f.server.URL+"/api/recording/start", map[string]string{}, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("recording start without controller = %d, want 503", resp.StatusCode)
	}
}
