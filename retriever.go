package ragkit

import (
	"context"
	"fmt"
	"sort"
)

// Retriever returns documents relevant to a query, most relevant first.
// When topK > 0 the result has at most topK entries; topK <= 0 uses the
// implementation's default.
type Retriever interface {
	Query(ctx context.Context, query string, topK int) ([]Document, error)
}

// Reranker re-scores retrieval results for improved precision.
// The returned slice must be sorted by Score descending and trimmed to topK.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []Document, topK int) ([]Document, error)
}

// RetrieverOption configures a VectorRetriever.
type RetrieverOption func(*retrieverConfig)

type retrieverConfig struct {
	embedding           EmbeddingProvider
	reranker            Reranker
	filter              map[string]any
	defaultTopK         int
	minScore            float32
	overfetchMultiplier int
}

// WithRetrieverEmbedding embeds queries in the retriever and passes vectors to
// the store. Without it the raw query text is sent and the store embeds it.
func WithRetrieverEmbedding(e EmbeddingProvider) RetrieverOption {
	return func(c *retrieverConfig) { c.embedding = e }
}

// WithReranker sets an optional re-ranking stage that runs after the search.
func WithReranker(r Reranker) RetrieverOption {
	return func(c *retrieverConfig) { c.reranker = r }
}

// WithRetrieverFilter sets a metadata filter applied to every query.
func WithRetrieverFilter(filter map[string]any) RetrieverOption {
	return func(c *retrieverConfig) { c.filter = filter }
}

// WithDefaultTopK sets the result count used when Query is called with
// topK <= 0. Default is DefaultTopK, which also replaces values below 1.
func WithDefaultTopK(n int) RetrieverOption {
	return func(c *retrieverConfig) { c.defaultTopK = n }
}

// WithMinRetrievalScore sets the minimum score threshold. Results below this
// score are dropped before returning. Default is 0 (no filtering).
func WithMinRetrievalScore(score float32) RetrieverOption {
	return func(c *retrieverConfig) { c.minScore = score }
}

// WithOverfetchMultiplier sets the multiplier for over-fetching candidates
// when a reranker is configured. Default is 3; values below 1 become 1.
func WithOverfetchMultiplier(n int) RetrieverOption {
	return func(c *retrieverConfig) { c.overfetchMultiplier = n }
}

// --- ScoreReranker ---

// ScoreReranker filters results below a minimum score and re-sorts by score
// descending. It makes no external calls.
type ScoreReranker struct {
	minScore float32
}

var _ Reranker = (*ScoreReranker)(nil)

// NewScoreReranker creates a ScoreReranker that drops results below minScore.
func NewScoreReranker(minScore float32) *ScoreReranker {
	return &ScoreReranker{minScore: minScore}
}

// Rerank filters results below the minimum score, sorts by score descending,
// and trims to topK.
func (r *ScoreReranker) Rerank(_ context.Context, _ string, docs []Document, topK int) ([]Document, error) {
	var filtered []Document
	for _, d := range docs {
		if d.Score >= r.minScore {
			filtered = append(filtered, d)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})
	if len(filtered) > topK {
		filtered = filtered[:topK]
	}
	return filtered, nil
}

// --- VectorRetriever ---

// VectorRetriever answers queries from a VectorStore, scoped to one user.
type VectorRetriever struct {
	store  VectorStore
	userID string
	cfg    retrieverConfig
}

var _ Retriever = (*VectorRetriever)(nil)

// NewVectorRetriever creates a Retriever over store for userID.
func NewVectorRetriever(store VectorStore, userID string, opts ...RetrieverOption) *VectorRetriever {
	cfg := retrieverConfig{
		defaultTopK:         DefaultTopK,
		overfetchMultiplier: 3,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.defaultTopK < 1 {
		cfg.defaultTopK = DefaultTopK
	}
	cfg.overfetchMultiplier = max(cfg.overfetchMultiplier, 1)
	return &VectorRetriever{store: store, userID: userID, cfg: cfg}
}

// Query searches the store, optionally re-ranks, and returns the top results.
func (v *VectorRetriever) Query(ctx context.Context, query string, topK int) ([]Document, error) {
	if topK <= 0 {
		topK = v.cfg.defaultTopK
	}

	req := SearchRequest{
		UserID: v.userID,
		Query:  query,
		TopK:   topK,
		Filter: v.cfg.filter,
	}
	if v.cfg.reranker != nil {
		req.TopK = max(topK*v.cfg.overfetchMultiplier, topK)
	}
	if v.cfg.embedding != nil {
		vec, err := EmbedQuery(ctx, v.cfg.embedding, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		req.QueryVector = vec
	}

	docs, err := v.store.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	if v.cfg.minScore > 0 {
		kept := docs[:0]
		for _, d := range docs {
			if d.Score >= v.cfg.minScore {
				kept = append(kept, d)
			}
		}
		docs = kept
	}

	if v.cfg.reranker != nil {
		docs, err = v.cfg.reranker.Rerank(ctx, query, docs, topK)
		if err != nil {
			return nil, fmt.Errorf("rerank: %w", err)
		}
	}

	if len(docs) > topK {
		docs = docs[:topK]
	}
	return docs, nil
}
