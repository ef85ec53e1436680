// ABOUTME: Vector retrieval over the frame catalog and the rolling window
// ABOUTME: Embeds the query once, then ranks frames by cosine similarity
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/store"
)

// TextEmbedder embeds query text. Satisfied by llm.Client.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float64, error)
	Model() string
}

// Reranker reorders a ranked candidate set. Optional; the default ranking is
// pure cosine similarity with a recency tie-break.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []models.ScoredFrame) ([]models.ScoredFrame, error)
}

// rerankPool is the candidate multiplier handed to the reranker: it sees up
// to rerankPool*k cosine-ranked frames before the result is cut to k.
const rerankPool = 4

// Engine answers similarity queries against the store. Safe for concurrent use.
type Engine struct {
	store    *store.Store
	embedder TextEmbedder
	cache    *lru.Cache[string, []float64]
	topK     int
	reranker Reranker
	logger   *slog.Logger
}

// NewEngine creates a retrieval engine. topK is the default result count;
// cacheLen bounds the query-embedding cache.
func NewEngine(s *store.Store, embedder TextEmbedder, topK, cacheLen int, logger *slog.Logger) (*Engine, error) {
	if cacheLen <= 0 {
		cacheLen = 128
	}
	cache, err := lru.New[string, []float64](cacheLen)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, embedder: embedder, cache: cache, topK: topK, logger: logger}, nil
}

// SetReranker installs an optional second-stage ranker.
func (e *Engine) SetReranker(r Reranker) {
	e.reranker = r
}

// Search ranks catalog frames inside the time range against the query and
// returns the top k, best first. k <= 0 uses the engine default. An empty
// corpus yields an empty result, not an error.
func (e *Engine) Search(ctx context.Context, query string, r models.TimeRange, k int) ([]models.ScoredFrame, error) {
	frames, err := e.store.RangeScan(ctx, r)
	if err != nil {
		return nil, err
	}
	return e.rank(ctx, query, frames, k)
}

// SearchRecent ranks the rolling window against the query. This is the
// real-time path: it never touches the catalog.
func (e *Engine) SearchRecent(ctx context.Context, query string, k int) ([]models.ScoredFrame, error) {
	return e.rank(ctx, query, e.store.Window().Snapshot(), k)
}

func (e *Engine) rank(ctx context.Context, query string, frames []*models.Frame, k int) ([]models.ScoredFrame, error) {
	if k <= 0 {
		k = e.topK
	}
	if len(frames) == 0 {
		return nil, nil
	}

	qvec, err := e.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}

	scored := make([]models.ScoredFrame, 0, len(frames))
	for i, frame := range frames {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if frame.Embedding == nil {
			// Still waiting for backfill; unrankable, not an error.
			continue
		}
		if frame.EmbeddingModel != e.embedder.Model() {
			return nil, fmt.Errorf("%w: frame %s embedded with %q, query with %q",
				models.ErrEmbeddingMismatch, frame.FrameID, frame.EmbeddingModel, e.embedder.Model())
		}
		scored = append(scored, models.ScoredFrame{
			Frame: frame,
			Score: store.CosineSimilarity(qvec, frame.Embedding),
		})
	}

	// Equal scores break toward the newer frame so results are deterministic.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Frame.Timestamp.After(scored[j].Frame.Timestamp)
	})
	if e.reranker != nil {
		// The reranker sees a wider candidate pool than the final cut, so it
		// can promote frames cosine alone would have dropped.
		m := len(scored)
		if m > rerankPool*k {
			m = rerankPool * k
		}
		reranked, err := e.reranker.Rerank(ctx, query, scored[:m])
		if err != nil {
			return nil, err
		}
		scored = reranked
	}
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// queryVector embeds the query text, consulting the LRU cache first. Repeated
// queries skip the embedding round trip entirely.
func (e *Engine) queryVector(ctx context.Context, query string) ([]float64, error) {
	if vec, ok := e.cache.Get(query); ok {
		return vec, nil
	}
	vec, err := e.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}
	e.cache.Add(query, vec)
	return vec, nil
}
