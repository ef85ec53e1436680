// ABOUTME: HTTP API over the frame store, retrieval engine, and recording controller
// ABOUTME: JSON responses, ISO-8601 timestamps, stdlib ServeMux routing
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/recorder"
	"github.com/harper/recall/internal/retrieval"
	"github.com/harper/recall/internal/store"
	"github.com/harper/recall/internal/synthesis"
)

// Server is the HTTP surface consumed by UI clients.
type Server struct {
	store    *store.Store
	engine   *retrieval.Engine
	syn      *synthesis.Synthesizer
	ctrl     *recorder.Controller
	vlmModel string
	logger   *slog.Logger
}

// New wires the API over the given components. ctrl may be nil when the
// process serves queries only; recording endpoints then return 503.
func New(s *store.Store, engine *retrieval.Engine, syn *synthesis.Synthesizer, ctrl *recorder.Controller, vlmModel string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: s, engine: engine, syn: syn, ctrl: ctrl, vlmModel: vlmModel, logger: logger}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/date_range", s.handleDateRange)
	mux.HandleFunc("GET /api/frames", s.handleFrames)
	mux.HandleFunc("GET /api/frames/recent", s.handleRecent)
	mux.HandleFunc("POST /api/query_rag_with_time", s.handleQuery)
	mux.HandleFunc("GET /api/image", s.handleImage)
	mux.HandleFunc("POST /api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("POST /api/recording/mode", s.handleRecordingMode)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Stats and date_range never fail for an empty catalog; they report zeros.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, err := s.store.TotalFrames(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_frames": total,
		"disk_usage":   s.store.DiskUsage(),
		"storage":      "sqlite",
		"vlm_model":    s.vlmModel,
	})
}

func (s *Server) handleDateRange(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"earliest_date": nil,
		"latest_date":   nil,
	}
	if earliest, latest, ok := s.store.DateRange(); ok {
		resp["earliest_date"] = earliest.Format(time.RFC3339)
		resp["latest_date"] = latest.Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type frameRef struct {
	FrameID   string `json:"frame_id"`
	Timestamp string `json:"timestamp"`
	ImagePath string `json:"image_path"`
}

func toFrameRefs(frames []*models.Frame) []frameRef {
	refs := make([]frameRef, len(frames))
	for i, f := range frames {
		refs[i] = frameRef{
			FrameID:   f.FrameID,
			Timestamp: f.Timestamp.Format(time.RFC3339),
			ImagePath: f.ImagePath,
		}
	}
	return refs
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	bound, err := parseTimeRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	frames, err := s.store.RangeScan(r.Context(), bound)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"frames": toFrameRefs(frames)})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	n := 20
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid n %q", raw))
			return
		}
		n = parsed
	}
	frames, err := s.store.Recent(r.Context(), n)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"frames": toFrameRefs(frames)})
}

type queryRequest struct {
	Query string `json:"query"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	// Recent scopes the search to the rolling window (the real-time path).
	Recent bool `json:"recent,omitempty"`
	// InlineImages returns frame images base64-inline instead of by path,
	// for callers that cannot reach this host's filesystem.
	InlineImages bool `json:"inline_images,omitempty"`
	K            int  `json:"k,omitempty"`
}

// queryFrame is the wire form of one evidence frame. Exactly one of
// image_path or image_base64 is present, per the transport tag.
type queryFrame struct {
	FrameID   string
	Timestamp time.Time
	Image     models.FrameImage
	Relevance float64
}

func (f queryFrame) MarshalJSON() ([]byte, error) {
	if f.Image.Kind == models.ImageInline {
		return json.Marshal(struct {
			FrameID     string  `json:"frame_id"`
			Timestamp   string  `json:"timestamp"`
			ImageBase64 []byte  `json:"image_base64"`
			Relevance   float64 `json:"relevance"`
		}{f.FrameID, f.Timestamp.Format(time.RFC3339), f.Image.Bytes, f.Relevance})
	}
	return json.Marshal(struct {
		FrameID   string  `json:"frame_id"`
		Timestamp string  `json:"timestamp"`
		ImagePath string  `json:"image_path"`
		Relevance float64 `json:"relevance"`
	}{f.FrameID, f.Timestamp.Format(time.RFC3339), f.Image.Path, f.Relevance})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}

	var (
		scored []models.ScoredFrame
		err    error
	)
	if req.Recent {
		scored, err = s.engine.SearchRecent(r.Context(), req.Query, req.K)
		if err == nil {
			scored = s.syn.DedupedEvidence(scored)
		}
	} else {
		var bound models.TimeRange
		bound, err = parseTimeRange(req.From, req.To)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		scored, err = s.engine.Search(r.Context(), req.Query, bound, req.K)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrEmbeddingMismatch) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err)
		return
	}

	result, err := s.syn.Synthesize(r.Context(), req.Query, scored)
	resp := map[string]interface{}{"answer": "", "frames": []queryFrame{}}
	switch {
	case err == nil:
		resp["answer"] = result.Answer
	case errors.Is(err, models.ErrSynthesisUnavailable):
		// Partial result beats total failure: evidence without an answer.
		resp["error"] = err.Error()
	default:
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	frames := make([]queryFrame, len(result.Frames))
	for i, sf := range result.Frames {
		frames[i] = queryFrame{
			FrameID:   sf.Frame.FrameID,
			Timestamp: sf.Frame.Timestamp,
			Image:     models.FrameImage{Kind: models.ImagePath, Path: sf.Frame.ImagePath},
			Relevance: sf.Score,
		}
		if req.InlineImages {
			data, err := os.ReadFile(sf.Frame.ImagePath)
			if err != nil {
				s.writeError(w, http.StatusInternalServerError,
					fmt.Errorf("%w: frame %s image unreadable", models.ErrCorruptCatalog, sf.Frame.FrameID))
				return
			}
			frames[i].Image = models.FrameImage{Kind: models.ImageInline, Bytes: data}
		}
	}
	resp["frames"] = frames
	s.writeJSON(w, http.StatusOK, resp)
}

// handleImage serves a stored frame image. The path must resolve inside the
// store's frames tree; anything else is rejected.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("path")
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("path is required"))
		return
	}
	framesRoot, err := filepath.Abs(filepath.Join(s.store.DataDir(), "frames"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	abs, err := filepath.Abs(raw)
	if err != nil || !strings.HasPrefix(abs, framesRoot+string(filepath.Separator)) {
		s.writeError(w, http.StatusForbidden, fmt.Errorf("path outside frame storage"))
		return
	}
	http.ServeFile(w, r, abs)
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if s.ctrl == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("recording not available in this process"))
		return
	}
	// The recording loop outlives the request.
	if err := s.ctrl.Start(context.WithoutCancel(r.Context())); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.ctrl.Session())
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if s.ctrl == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("recording not available in this process"))
		return
	}
	s.ctrl.Stop()
	s.writeJSON(w, http.StatusOK, s.ctrl.Session())
}

func (s *Server) handleRecordingMode(w http.ResponseWriter, r *http.Request) {
	if s.ctrl == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("recording not available in this process"))
		return
	}
	var req struct {
		Mode models.CaptureMode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}
	if err := s.ctrl.SetMode(req.Mode); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.ctrl.Session())
}

func parseTimeRange(from, to string) (models.TimeRange, error) {
	var r models.TimeRange
	if from != "" {
		ts, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return r, fmt.Errorf("invalid from timestamp %q: %v", from, err)
		}
		r.From = ts
	}
	if to != "" {
		ts, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return r, fmt.Errorf("invalid to timestamp %q: %v", to, err)
		}
		r.To = ts
	}
	return r, nil
}
