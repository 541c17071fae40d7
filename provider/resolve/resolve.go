// Package resolve builds providers from provider-agnostic configuration.
package resolve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nevindra/ragkit"
	"github.com/nevindra/ragkit/provider/gemini"
	"github.com/nevindra/ragkit/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating an InferenceProvider.
type Config struct {
	Provider string // "gemini", "openai", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // required for openai-compat; auto-filled for known providers

	// Common cross-provider options (nil = use provider default).
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Thinking    *bool

	// FlushRemainder makes Stream yield the unterminated tail of a response.
	FlushRemainder bool
	Logger         *slog.Logger
}

// EmbeddingConfig holds provider-agnostic configuration for creating an EmbeddingProvider.
type EmbeddingConfig struct {
	Provider   string
	APIKey     string
	Model      string
	Dimensions int
	TaskType   string
}

// Provider creates an uninitialized ragkit.InferenceProvider from cfg.
func Provider(cfg Config) (ragkit.InferenceProvider, error) {
	switch cfg.Provider {
	case "gemini":
		return geminiProvider(cfg), nil
	case "openai", "groq", "deepseek", "together", "mistral", "ollama":
		return openaiCompatProvider(cfg), nil
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}

// Open creates the provider described by cfg and initializes it.
func Open(ctx context.Context, cfg Config) (ragkit.InferenceProvider, error) {
	p, err := Provider(cfg)
	if err != nil {
		return nil, err
	}
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// EmbeddingProvider creates a ragkit.EmbeddingProvider from a provider-agnostic EmbeddingConfig.
func EmbeddingProvider(cfg EmbeddingConfig) (ragkit.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "gemini":
		var opts []gemini.EmbeddingOption
		if cfg.TaskType != "" {
			opts = append(opts, gemini.WithTaskType(cfg.TaskType))
		}
		return gemini.NewEmbedding(cfg.APIKey, cfg.Model, cfg.Dimensions, opts...), nil
	default:
		return nil, fmt.Errorf("resolve: embedding provider %q not supported", cfg.Provider)
	}
}

func geminiProvider(cfg Config) ragkit.InferenceProvider {
	var opts []gemini.Option
	if cfg.Temperature != nil {
		opts = append(opts, gemini.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		opts = append(opts, gemini.WithTopP(*cfg.TopP))
	}
	if cfg.MaxTokens != nil {
		opts = append(opts, gemini.WithMaxOutputTokens(*cfg.MaxTokens))
	}
	if cfg.Thinking != nil {
		opts = append(opts, gemini.WithThinking(*cfg.Thinking))
	}
	if cfg.FlushRemainder {
		opts = append(opts, gemini.WithFlushRemainder(true))
	}
	if cfg.Logger != nil {
		opts = append(opts, gemini.WithLogger(cfg.Logger))
	}
	return gemini.New(cfg.APIKey, cfg.Model, opts...)
}

func openaiCompatProvider(cfg Config) ragkit.InferenceProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	provOpts := []openaicompat.ProviderOption{openaicompat.WithName(cfg.Provider)}

	var reqOpts []openaicompat.Option
	if cfg.Temperature != nil {
		reqOpts = append(reqOpts, openaicompat.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		reqOpts = append(reqOpts, openaicompat.WithTopP(*cfg.TopP))
	}
	if cfg.MaxTokens != nil {
		reqOpts = append(reqOpts, openaicompat.WithMaxTokens(*cfg.MaxTokens))
	}
	if len(reqOpts) > 0 {
		provOpts = append(provOpts, openaicompat.WithOptions(reqOpts...))
	}
	if cfg.FlushRemainder {
		provOpts = append(provOpts, openaicompat.WithFlushRemainder(true))
	}
	if cfg.Logger != nil {
		provOpts = append(provOpts, openaicompat.WithLogger(cfg.Logger))
	}
	return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL, provOpts...)
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
