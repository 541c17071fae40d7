package ragkit

import (
	"context"
	"fmt"
)

// DefaultTopK is used when a search or retrieval asks for zero results.
const DefaultTopK = 5

// MetaUserID is the metadata key VectorStore.Search matches against
// SearchRequest.UserID.
const MetaUserID = "user_id"

// VectorStore abstracts persistence with vector search capabilities.
type VectorStore interface {
	// Add stores documents with their vectors. vectors, documents and
	// metadata are parallel slices; metadata may be nil. Returns one fresh
	// id per document, in input order.
	Add(ctx context.Context, vectors [][]float32, documents []string, metadata []map[string]any) ([]string, error)

	// Search returns at most req.TopK documents owned by req.UserID,
	// ordered by descending similarity.
	Search(ctx context.Context, req SearchRequest) ([]Document, error)

	// Init creates the required schema.
	Init(ctx context.Context) error
	// Close releases resources held by the store.
	Close() error
}

// SearchRequest drives VectorStore.Search.
//
// QueryVector is used when set. Otherwise Query is embedded with the store's
// EmbeddingProvider. Filter entries must all equal the stored metadata value.
type SearchRequest struct {
	UserID      string
	Query       string
	QueryVector []float32
	TopK        int
	Filter      map[string]any
}

// Validate checks the request and returns a copy with TopK defaulted.
func (r SearchRequest) Validate() (SearchRequest, error) {
	if r.UserID == "" {
		return r, fmt.Errorf("%w: user id is required", ErrInvalidSearch)
	}
	if len(r.QueryVector) == 0 && r.Query == "" {
		return r, fmt.Errorf("%w: query or query vector is required", ErrInvalidSearch)
	}
	if r.TopK <= 0 {
		r.TopK = DefaultTopK
	}
	return r, nil
}

// ResolveVector returns the request's query vector, embedding Query with emb
// when no vector was given.
func (r SearchRequest) ResolveVector(ctx context.Context, emb EmbeddingProvider) ([]float32, error) {
	if len(r.QueryVector) > 0 {
		return r.QueryVector, nil
	}
	if emb == nil {
		return nil, ErrNoEmbedding
	}
	vec, err := EmbedQuery(ctx, emb, r.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}

// CheckAddArgs verifies that Add's parallel slices have matching lengths.
func CheckAddArgs(vectors [][]float32, documents []string, metadata []map[string]any) error {
	if len(vectors) != len(documents) {
		return fmt.Errorf("add: %d vectors for %d documents", len(vectors), len(documents))
	}
	if metadata != nil && len(metadata) != len(documents) {
		return fmt.Errorf("add: %d metadata entries for %d documents", len(metadata), len(documents))
	}
	return nil
}

// MatchesFilter reports whether meta belongs to userID and satisfies every
// filter entry. Values are compared by their fmt representation so numbers
// decoded from JSON compare equal to their Go literals. Documents without an
// owner never match.
func MatchesFilter(meta map[string]any, userID string, filter map[string]any) bool {
	owner, ok := meta[MetaUserID]
	if !ok || owner == nil || fmt.Sprint(owner) != userID {
		return false
	}
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
