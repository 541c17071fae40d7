package gemini

import (
	"log/slog"
	"net/http"

	"github.com/nevindra/ragkit"
)

// Option configures a Gemini provider.
type Option func(*Gemini)

// WithTemperature sets the sampling temperature (default 0.3).
func WithTemperature(t float64) Option {
	return func(g *Gemini) { g.temperature = t }
}

// WithTopP sets nucleus sampling top-p. Omitted from requests unless set.
func WithTopP(p float64) Option {
	return func(g *Gemini) { g.topP = p }
}

// WithMaxOutputTokens caps the response length. Omitted unless set.
func WithMaxOutputTokens(n int) Option {
	return func(g *Gemini) { g.maxOutputTokens = n }
}

// WithThinking enables or disables thinking mode (default false).
// When enabled, sends thinkingConfig with budget -1 (dynamic).
// Thought parts are never returned as text.
func WithThinking(enabled bool) Option {
	return func(g *Gemini) { g.thinkingEnabled = enabled }
}

// WithFlushRemainder makes Stream yield the unterminated tail of the
// response as a final sentence instead of dropping it.
func WithFlushRemainder(enabled bool) Option {
	return func(g *Gemini) {
		g.segOpts = append(g.segOpts, ragkit.WithFlushRemainder(enabled))
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gemini) { g.httpClient = c }
}

// WithLogger sets a structured logger for the provider. Initialization and
// request failures are logged at ERROR with a provider attribute.
// If not set, nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gemini) { g.logger = l }
}

// EmbeddingOption configures a GeminiEmbedding.
type EmbeddingOption func(*GeminiEmbedding)

// WithEmbeddingHTTPClient replaces the default HTTP client.
func WithEmbeddingHTTPClient(c *http.Client) EmbeddingOption {
	return func(e *GeminiEmbedding) { e.httpClient = c }
}

// WithTaskType sets the embedding task type, e.g. "RETRIEVAL_DOCUMENT" or
// "RETRIEVAL_QUERY". Omitted unless set.
func WithTaskType(t string) EmbeddingOption {
	return func(e *GeminiEmbedding) { e.taskType = t }
}
