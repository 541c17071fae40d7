package sqlite

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nevindra/ragkit"
)

func testStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"), opts...)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeEmbedding maps known texts to fixed vectors.
type fakeEmbedding struct {
	vectors map[string][]float32
}

func (f fakeEmbedding) Name() string    { return "fake" }
func (f fakeEmbedding) Dimensions() int { return 2 }
func (f fakeEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vectors[t]
	}
	return out, nil
}

func TestInitIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "init.db"))
	defer s.Close()
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestAddReturnsIDsInOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	docs := []string{"alpha", "beta", "gamma"}
	vecs := [][]float32{{1, 0}, {0, 1}, {1, 1}}
	meta := []map[string]any{{"user_id": "u1"}, {"user_id": "u1"}, {"user_id": "u1"}}

	ids, err := s.Add(ctx, vecs, docs, meta)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(ids) != len(docs) {
		t.Fatalf("got %d ids, want %d", len(ids), len(docs))
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
	}

	// Each id must refer to the document at the same input position.
	for i, id := range ids {
		var content string
		if err := s.DB().QueryRowContext(ctx, `SELECT content FROM documents WHERE id = ?`, id).Scan(&content); err != nil {
			t.Fatalf("lookup %s: %v", id, err)
		}
		if content != docs[i] {
			t.Errorf("id %d -> %q, want %q", i, content, docs[i])
		}
	}
}

func TestAddLengthMismatch(t *testing.T) {
	s := testStore(t)
	if _, err := s.Add(context.Background(), [][]float32{{1}}, []string{"a", "b"}, nil); err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
}

func TestSearchRanksAndScopesByUser(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx,
		[][]float32{{1, 0}, {0.9, 0.1}, {0, 1}, {1, 0}},
		[]string{"exact", "close", "orthogonal", "other user"},
		[]map[string]any{{"user_id": "u1"}, {"user_id": "u1"}, {"user_id": "u1"}, {"user_id": "u2"}},
	)
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Search(ctx, ragkit.SearchRequest{UserID: "u1", QueryVector: []float32{1, 0}, TopK: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].PageContent != "exact" || got[1].PageContent != "close" {
		t.Errorf("order = %q, %q", got[0].PageContent, got[1].PageContent)
	}
	if math.Abs(float64(got[0].Score)-1) > 1e-6 {
		t.Errorf("exact score = %v, want 1", got[0].Score)
	}
	if got[0].Metadata["user_id"] != "u1" {
		t.Errorf("metadata not returned: %v", got[0].Metadata)
	}
	for _, d := range got {
		if d.PageContent == "other user" {
			t.Error("result leaked from another user")
		}
	}
}

func TestSearchDefaultTopK(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	n := ragkit.DefaultTopK + 3
	vecs := make([][]float32, n)
	docs := make([]string, n)
	meta := make([]map[string]any, n)
	for i := range n {
		vecs[i] = []float32{1, float32(i)}
		docs[i] = "doc"
		meta[i] = map[string]any{"user_id": "u"}
	}
	if _, err := s.Add(ctx, vecs, docs, meta); err != nil {
		t.Fatal(err)
	}
	got, err := s.Search(ctx, ragkit.SearchRequest{UserID: "u", QueryVector: []float32{1, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != ragkit.DefaultTopK {
		t.Errorf("got %d, want %d", len(got), ragkit.DefaultTopK)
	}
}

func TestSearchFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx,
		[][]float32{{1, 0}, {1, 0}, {1, 0}},
		[]string{"a1", "b0", "a2"},
		[]map[string]any{
			{"user_id": "u", "source": "a.md", "chunk_index": 1},
			{"user_id": "u", "source": "b.md", "chunk_index": 0},
			{"user_id": "u", "source": "a.md", "chunk_index": 2},
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Search(ctx, ragkit.SearchRequest{UserID: "u", QueryVector: []float32{1, 0}, Filter: map[string]any{"source": "a.md"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("source filter: got %d, want 2", len(got))
	}

	got, err = s.Search(ctx, ragkit.SearchRequest{UserID: "u", QueryVector: []float32{1, 0}, Filter: map[string]any{"source": "a.md", "chunk_index": 2}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].PageContent != "a2" {
		t.Errorf("combined filter: got %+v", got)
	}
}

func TestSearchStringFilterOnTypedValues(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx,
		[][]float32{{1, 0}, {1, 0}},
		[]string{"typed", "other"},
		[]map[string]any{
			{"user_id": "u", "chunk_index": 2, "public": true, "source": "a.md"},
			{"user_id": "u", "chunk_index": 3, "public": false, "source": "2"},
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter map[string]any
		want   string
	}{
		{"string against number", map[string]any{"chunk_index": "2"}, "typed"},
		{"string against bool", map[string]any{"public": "true"}, "typed"},
		{"string against false", map[string]any{"public": "false"}, "other"},
		{"number against number", map[string]any{"chunk_index": 2}, "typed"},
		{"string against text", map[string]any{"source": "2"}, "other"},
		{"mixed", map[string]any{"chunk_index": "2", "source": "a.md"}, "typed"},
	}
	for _, tt := range tests {
		got, err := s.Search(ctx, ragkit.SearchRequest{UserID: "u", QueryVector: []float32{1, 0}, Filter: tt.filter})
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if len(got) != 1 || got[0].PageContent != tt.want {
			t.Errorf("%s: got %+v, want only %q", tt.name, got, tt.want)
		}
	}
}

func TestSearchSkipsUnreadableMetadata(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s := testStore(t, WithLogger(logger))
	ctx := context.Background()

	if _, err := s.Add(ctx, [][]float32{{1, 0}}, []string{"good"}, []map[string]any{{"user_id": "u"}}); err != nil {
		t.Fatal(err)
	}
	_, err := s.DB().ExecContext(ctx,
		`INSERT INTO documents (id, user_id, content, metadata, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"broken", "u", "bad", "{not json", "[1,0]", 0)
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Search(ctx, ragkit.SearchRequest{UserID: "u", QueryVector: []float32{1, 0}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].PageContent != "good" {
		t.Errorf("got %+v, want only the readable document", got)
	}
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "broken") {
		t.Errorf("missing warning for unreadable metadata, logs: %q", buf.String())
	}
}

func TestSearchEmbedsQuery(t *testing.T) {
	emb := fakeEmbedding{vectors: map[string][]float32{"cats": {0, 1}}}
	s := testStore(t, WithEmbedding(emb))
	ctx := context.Background()

	_, err := s.Add(ctx, [][]float32{{1, 0}, {0, 1}}, []string{"dogs", "cats"},
		[]map[string]any{{"user_id": "u"}, {"user_id": "u"}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Search(ctx, ragkit.SearchRequest{UserID: "u", Query: "cats", TopK: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].PageContent != "cats" {
		t.Errorf("got %+v", got)
	}
}

func TestSearchInvalidRequests(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Search(ctx, ragkit.SearchRequest{Query: "q"}); !errors.Is(err, ragkit.ErrInvalidSearch) {
		t.Errorf("missing user: err = %v", err)
	}
	if _, err := s.Search(ctx, ragkit.SearchRequest{UserID: "u"}); !errors.Is(err, ragkit.ErrInvalidSearch) {
		t.Errorf("missing query: err = %v", err)
	}
	if _, err := s.Search(ctx, ragkit.SearchRequest{UserID: "u", Query: "q"}); !errors.Is(err, ragkit.ErrNoEmbedding) {
		t.Errorf("no embedding provider: err = %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ids, err := s.Add(ctx, [][]float32{{1, 0}, {1, 0}}, []string{"a", "b"},
		[]map[string]any{{"user_id": "u"}, {"user_id": "u"}})
	if err != nil {
		t.Fatal(err)
	}
	if n, err := s.Delete(ctx, "other", ids[0]); err != nil || n != 0 {
		t.Errorf("delete as other user: n=%d err=%v", n, err)
	}
	if n, err := s.Delete(ctx, "u", ids[0]); err != nil || n != 1 {
		t.Errorf("delete: n=%d err=%v", n, err)
	}
	got, _ := s.Search(ctx, ragkit.SearchRequest{UserID: "u", QueryVector: []float32{1, 0}})
	if len(got) != 1 || got[0].ID != ids[1] {
		t.Errorf("remaining = %+v", got)
	}
}

func TestConcurrentAdd(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Add(ctx, [][]float32{{1, 0}}, []string{"x"}, []map[string]any{{"user_id": "u"}})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Add: %v", err)
		}
	}
	got, _ := s.Search(ctx, ragkit.SearchRequest{UserID: "u", QueryVector: []float32{1, 0}, TopK: 20})
	if len(got) != 10 {
		t.Errorf("got %d documents, want 10", len(got))
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		a, b []float32
		want float32
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 0}, []float32{-1, 0}, -1},
		{[]float32{1}, []float32{1, 0}, 0},
		{[]float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		if got := cosineSimilarity(tt.a, tt.b); math.Abs(float64(got-tt.want)) > 1e-6 {
			t.Errorf("cosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestBuildMetaFilters(t *testing.T) {
	where, args := buildMetaFilters(map[string]any{"source": "a", "bad-key": "x", "n": 3})
	want := " AND (json_type(metadata, '$.source') IS NOT 'text' OR json_extract(metadata, '$.source') = ?)"
	if where != want || len(args) != 1 {
		t.Errorf("where = %q args = %v", where, args)
	}
}
