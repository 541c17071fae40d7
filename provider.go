package ragkit

import (
	"context"
	"iter"
	"log/slog"
)

// InferenceProvider abstracts a chat-completion backend.
//
// Initialize must be called once before Invoke or Stream. Implementations
// hold only immutable configuration after Initialize, so one provider may
// serve concurrent calls; each Stream call owns its own Segmenter.
type InferenceProvider interface {
	// Initialize establishes the backend session and verifies the configured
	// credentials and model. Failures are *InitializationError.
	Initialize(ctx context.Context) error
	// Invoke sends the prompt and returns the complete text response.
	Invoke(ctx context.Context, req ChatRequest) (string, error)
	// Stream sends the prompt and yields complete, trimmed sentences in order.
	// Breaking out of the loop cancels the backend call. An error is yielded
	// at most once and ends the sequence.
	Stream(ctx context.Context, req ChatRequest) iter.Seq2[string, error]
	// Name returns the provider name (e.g. "gemini").
	Name() string
}

// EmbeddingProvider abstracts text embedding.
type EmbeddingProvider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}

// nopLogger is a logger that discards all output. Used when no logger is set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// NopLogger returns a logger that discards everything. Sub-packages use it as
// their default.
func NopLogger() *slog.Logger { return nopLogger }
