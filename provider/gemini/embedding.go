package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nevindra/ragkit"
)

// DefaultEmbeddingModel is used when NewEmbedding is called with an empty model.
const DefaultEmbeddingModel = "text-embedding-004"

// GeminiEmbedding implements ragkit.EmbeddingProvider for Gemini embedding models.
type GeminiEmbedding struct {
	apiKey     string
	model      string
	dims       int
	taskType   string
	httpClient *http.Client
}

// NewEmbedding creates a Gemini embedding provider producing dims-sized vectors.
func NewEmbedding(apiKey, model string, dims int, opts ...EmbeddingOption) *GeminiEmbedding {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	e := &GeminiEmbedding{
		apiKey:     apiKey,
		model:      model,
		dims:       dims,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns "gemini".
func (e *GeminiEmbedding) Name() string { return providerName }

// Dimensions returns the configured embedding dimensionality.
func (e *GeminiEmbedding) Dimensions() int { return e.dims }

// Embed embeds all texts in one batchEmbedContents request. The result has
// one vector per text, in input order.
func (e *GeminiEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqs := make([]map[string]any, 0, len(texts))
	for _, text := range texts {
		r := map[string]any{
			"model": "models/" + e.model,
			"content": map[string]any{
				"parts": []map[string]any{{"text": text}},
			},
		}
		if e.dims > 0 {
			r["outputDimensionality"] = e.dims
		}
		if e.taskType != "" {
			r["taskType"] = e.taskType
		}
		reqs = append(reqs, r)
	}

	payload, err := json.Marshal(map[string]any{"requests": reqs})
	if err != nil {
		return nil, e.wrapErr(fmt.Errorf("marshal embed body: %w", err))
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents", baseURL, e.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, e.wrapErr(fmt.Errorf("create embed request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(apiKeyHeader, e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, e.wrapErr(fmt.Errorf("embed request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, e.wrapErr(fmt.Errorf("read embed response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, e.wrapErr(httpErr(resp, string(respBody)))
	}

	var parsed batchEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, e.wrapErr(fmt.Errorf("parse embed response: %w", err))
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, e.wrapErr(fmt.Errorf("got %d embeddings for %d texts", len(parsed.Embeddings), len(texts)))
	}

	out := make([][]float32, len(parsed.Embeddings))
	for i, emb := range parsed.Embeddings {
		vec := make([]float32, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *GeminiEmbedding) wrapErr(err error) error {
	return &ragkit.InvocationError{Provider: providerName, Err: err}
}

type batchEmbedResponse struct {
	Embeddings []embedValues `json:"embeddings"`
}

type embedValues struct {
	Values []float64 `json:"values"`
}

var _ ragkit.EmbeddingProvider = (*GeminiEmbedding)(nil)
