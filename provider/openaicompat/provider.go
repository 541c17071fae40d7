package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nevindra/ragkit"
)

// Provider implements ragkit.InferenceProvider for any OpenAI-compatible API.
//
// Works with OpenAI, OpenRouter, Groq, Together, DeepSeek, Mistral, Ollama,
// vLLM, LM Studio and any other server that implements the OpenAI chat
// completions and models endpoints.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	opts    []Option
	segOpts []ragkit.SegmenterOption
	logger  *slog.Logger

	initMu      sync.Mutex
	initialized atomic.Bool
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1").
// The /models and /chat/completions paths are appended automatically.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = ragkit.NopLogger()
	}
	return p
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

// Initialize verifies that the server knows the configured model. It
// succeeds at most once; later calls return ErrAlreadyInitialized.
func (p *Provider) Initialize(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	if p.initialized.Load() {
		return &ragkit.InitializationError{Provider: p.name, Err: ragkit.ErrAlreadyInitialized}
	}
	if err := p.checkModel(ctx); err != nil {
		p.logger.Error("initialize failed", "provider", p.name, "model", p.model, "error", err)
		return &ragkit.InitializationError{Provider: p.name, Err: err}
	}
	p.initialized.Store(true)
	p.logger.Info("initialized", "provider", p.name, "model", p.model)
	return nil
}

func (p *Provider) checkModel(ctx context.Context) error {
	if p.baseURL == "" {
		return errors.New("base url is empty")
	}
	if p.model == "" {
		return errors.New("model is empty")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models/"+url.PathEscape(p.model), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	p.authorize(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return httpErr(resp)
	}
	return nil
}

// Invoke sends a non-streaming chat request and returns the response text.
func (p *Provider) Invoke(ctx context.Context, req ragkit.ChatRequest) (string, error) {
	if !p.initialized.Load() {
		return "", &ragkit.InitializationError{Provider: p.name, Err: ragkit.ErrNotInitialized}
	}
	text, err := p.doRequest(ctx, BuildBody(req.Messages, p.model, p.opts...))
	if err != nil {
		p.logger.Error("invoke failed", "provider", p.name, "model", p.model, "error", err)
		return "", &ragkit.InvocationError{Provider: p.name, Err: err}
	}
	return text, nil
}

// Stream sends a streaming chat request and yields complete sentences.
// Breaking out of the loop cancels the request.
func (p *Provider) Stream(ctx context.Context, req ragkit.ChatRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !p.initialized.Load() {
			yield("", &ragkit.InitializationError{Provider: p.name, Err: ragkit.ErrNotInitialized})
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		body := BuildBody(req.Messages, p.model, p.opts...)
		body.Stream = true
		body.StreamOptions = &StreamOptions{IncludeUsage: true}

		resp, err := p.send(ctx, body)
		if err != nil {
			p.logger.Error("stream failed", "provider", p.name, "model", p.model, "error", err)
			yield("", &ragkit.StreamError{Provider: p.name, Err: err})
			return
		}
		defer resp.Body.Close()

		sent := 0
		for sentence, err := range ragkit.Sentences(StreamChunks(resp.Body), p.segOpts...) {
			if err != nil {
				p.logger.Error("stream failed", "provider", p.name, "model", p.model, "sentences", sent, "error", err)
				yield("", &ragkit.StreamError{Provider: p.name, Sentences: sent, Err: err})
				return
			}
			sent++
			if !yield(sentence, nil) {
				return
			}
		}
	}
}

// doRequest sends a non-streaming request and parses the response.
func (p *Provider) doRequest(ctx context.Context, body ChatRequest) (string, error) {
	resp, err := p.send(ctx, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if chatResp.Usage != nil {
		p.logger.Debug("usage", "provider", p.name,
			"input_tokens", chatResp.Usage.PromptTokens,
			"output_tokens", chatResp.Usage.CompletionTokens)
	}
	return ParseResponse(chatResp)
}

// send marshals the request body and posts it to the chat completions
// endpoint. Non-200 responses are returned as *ragkit.ErrHTTP.
func (p *Provider) send(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.authorize(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, httpErr(resp)
	}
	return resp, nil
}

func (p *Provider) authorize(r *http.Request) {
	if p.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// httpErr reads the response body and returns an ErrHTTP for retry middleware.
func httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return ragkit.NewErrHTTP(resp, string(body))
}

// Compile-time interface check.
var _ ragkit.InferenceProvider = (*Provider)(nil)
