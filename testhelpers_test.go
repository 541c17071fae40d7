package ragkit

import (
	"context"
	"iter"
)

// stubProvider is a test InferenceProvider that returns pre-configured
// results in order. Invoke and Stream share the same result queue.
type stubProvider struct {
	calls     int
	initCalls int
	initErrs  []error
	results   []stubResult
}

type stubResult struct {
	text      string
	sentences []string // yielded by Stream before err
	err       error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) next() stubResult {
	i := s.calls
	s.calls++
	if i < len(s.results) {
		return s.results[i]
	}
	return stubResult{}
}

func (s *stubProvider) Initialize(context.Context) error {
	i := s.initCalls
	s.initCalls++
	if i < len(s.initErrs) {
		return s.initErrs[i]
	}
	return nil
}

func (s *stubProvider) Invoke(context.Context, ChatRequest) (string, error) {
	r := s.next()
	return r.text, r.err
}

func (s *stubProvider) Stream(context.Context, ChatRequest) iter.Seq2[string, error] {
	r := s.next()
	return func(yield func(string, error) bool) {
		for _, sentence := range r.sentences {
			if !yield(sentence, nil) {
				return
			}
		}
		if r.err != nil {
			yield("", r.err)
		}
	}
}

var _ InferenceProvider = (*stubProvider)(nil)

// stubEmbedding returns a fixed vector per text and counts calls.
type stubEmbedding struct {
	calls int
	vec   []float32
	errs  []error
}

func (s *stubEmbedding) Name() string    { return "stub-embed" }
func (s *stubEmbedding) Dimensions() int { return len(s.vec) }

func (s *stubEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	out := make([][]float32, len(texts))
	for j := range texts {
		out[j] = s.vec
	}
	return out, nil
}

var _ EmbeddingProvider = (*stubEmbedding)(nil)

// recordingStore captures the last SearchRequest and returns canned docs.
type recordingStore struct {
	last SearchRequest
	docs []Document
	err  error
}

func (s *recordingStore) Add(context.Context, [][]float32, []string, []map[string]any) ([]string, error) {
	return nil, nil
}

func (s *recordingStore) Search(_ context.Context, req SearchRequest) ([]Document, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Document, 0, len(s.docs))
	out = append(out, s.docs...)
	if len(out) > req.TopK {
		out = out[:req.TopK]
	}
	return out, nil
}

func (s *recordingStore) Init(context.Context) error { return nil }
func (s *recordingStore) Close() error               { return nil }

var _ VectorStore = (*recordingStore)(nil)
