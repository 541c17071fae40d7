// Package gemini implements the Google Gemini inference and embedding providers.
package gemini

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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nevindra/ragkit"
)

var baseURL = "https://generativelanguage.googleapis.com/v1beta"

// apiKeyHeader carries the API key. The key never appears in a request URL,
// so transport errors cannot leak it.
const apiKeyHeader = "x-goog-api-key"

// DefaultModel is used when New is called with an empty model.
const DefaultModel = "gemini-1.5-flash"

const providerName = "gemini"

// State is the lifecycle state of a Gemini provider.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Gemini implements ragkit.InferenceProvider for Google Gemini models.
type Gemini struct {
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger

	temperature     float64
	topP            float64
	maxOutputTokens int
	thinkingEnabled bool
	segOpts         []ragkit.SegmenterOption

	initMu      sync.Mutex
	initialized atomic.Bool
	state       atomic.Int32
}

// New creates a Gemini chat provider. Call Initialize before use.
func New(apiKey, model string, opts ...Option) *Gemini {
	if model == "" {
		model = DefaultModel
	}
	g := &Gemini{
		apiKey:      apiKey,
		model:       model,
		httpClient:  &http.Client{},
		temperature: 0.3,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = ragkit.NopLogger()
	}
	return g
}

// Name returns "gemini".
func (g *Gemini) Name() string { return providerName }

// Model returns the configured model id.
func (g *Gemini) Model() string { return g.model }

// State reports the provider's lifecycle state.
func (g *Gemini) State() State { return State(g.state.Load()) }

// Initialize verifies the API key and model by fetching the model resource.
// It succeeds at most once; later calls return ErrAlreadyInitialized. A
// failed Initialize may be retried.
func (g *Gemini) Initialize(ctx context.Context) error {
	g.initMu.Lock()
	defer g.initMu.Unlock()

	if g.initialized.Load() {
		return &ragkit.InitializationError{Provider: providerName, Err: ragkit.ErrAlreadyInitialized}
	}

	if err := g.checkModel(ctx); err != nil {
		g.state.Store(int32(StateFailed))
		g.logger.Error("initialize failed", "provider", providerName, "model", g.model, "error", err)
		return &ragkit.InitializationError{Provider: providerName, Err: err}
	}

	g.initialized.Store(true)
	g.state.Store(int32(StateReady))
	g.logger.Info("initialized", "provider", providerName, "model", g.model)
	return nil
}

func (g *Gemini) checkModel(ctx context.Context) error {
	if strings.TrimSpace(g.apiKey) == "" {
		return errors.New("api key is empty")
	}
	url := fmt.Sprintf("%s/models/%s", baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set(apiKeyHeader, g.apiKey)
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpErr(resp, string(body))
	}
	return nil
}

// Invoke sends a non-streaming generateContent request and returns the text
// of the first candidate.
func (g *Gemini) Invoke(ctx context.Context, req ragkit.ChatRequest) (string, error) {
	if !g.initialized.Load() {
		return "", &ragkit.InitializationError{Provider: providerName, Err: ragkit.ErrNotInitialized}
	}

	text, err := g.doGenerate(ctx, g.buildBody(req.Messages))
	if err != nil {
		g.fail("invoke failed", err)
		return "", &ragkit.InvocationError{Provider: providerName, Err: err}
	}
	return text, nil
}

// Stream sends a streamGenerateContent request and yields complete sentences
// as they form. Breaking out of the loop cancels the request.
func (g *Gemini) Stream(ctx context.Context, req ragkit.ChatRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !g.initialized.Load() {
			yield("", &ragkit.InitializationError{Provider: providerName, Err: ragkit.ErrNotInitialized})
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		resp, err := g.post(ctx, "streamGenerateContent", "alt=sse", g.buildBody(req.Messages))
		if err != nil {
			g.fail("stream failed", err)
			yield("", &ragkit.StreamError{Provider: providerName, Err: err})
			return
		}
		defer resp.Body.Close()

		sent := 0
		for sentence, err := range ragkit.Sentences(streamChunks(resp.Body), g.segOpts...) {
			if err != nil {
				g.fail("stream failed", err, "sentences", sent)
				yield("", &ragkit.StreamError{Provider: providerName, Sentences: sent, Err: err})
				return
			}
			sent++
			if !yield(sentence, nil) {
				return
			}
		}
	}
}

// fail records a request failure. The provider stays usable.
func (g *Gemini) fail(msg string, err error, attrs ...any) {
	g.state.Store(int32(StateFailed))
	g.logger.Error(msg, append([]any{"provider", providerName, "model", g.model, "error", err}, attrs...)...)
}

// post sends body to the model's method endpoint and returns the response
// when its status is 2xx. The caller closes the body.
func (g *Gemini) post(ctx context.Context, method, query string, body map[string]any) (*http.Response, error) {
	url := fmt.Sprintf("%s/models/%s:%s", baseURL, g.model, method)
	if query != "" {
		url += "?" + query
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(apiKeyHeader, g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, httpErr(resp, string(b))
	}
	return resp, nil
}

// doGenerate performs a generateContent call and extracts the response text.
func (g *Gemini) doGenerate(ctx context.Context, body map[string]any) (string, error) {
	resp, err := g.post(ctx, "generateContent", "", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse response JSON: %w", err)
	}
	if parsed.UsageMetadata != nil {
		g.logger.Debug("usage", "provider", providerName,
			"input_tokens", parsed.UsageMetadata.PromptTokenCount,
			"output_tokens", parsed.UsageMetadata.CandidatesTokenCount)
	}
	return responseText(parsed)
}

// responseText concatenates the text parts of the first candidate. Any
// function call or inline data part, or the absence of a text part, is
// ErrNonTextContent.
func responseText(r geminiResponse) (string, error) {
	if len(r.Candidates) == 0 {
		return "", ragkit.ErrNonTextContent
	}
	var sb strings.Builder
	hasText := false
	for _, part := range r.Candidates[0].Content.Parts {
		if part.Thought {
			continue
		}
		if part.FunctionCall != nil || part.InlineData != nil {
			return "", ragkit.ErrNonTextContent
		}
		if part.Text != nil {
			hasText = true
			sb.WriteString(*part.Text)
		}
	}
	if !hasText {
		return "", ragkit.ErrNonTextContent
	}
	return sb.String(), nil
}

// httpErr creates an ErrHTTP from an HTTP response, extracting the retry delay
// from the Retry-After header or from the Gemini-specific google.rpc.RetryInfo
// detail in the JSON error body.
func httpErr(resp *http.Response, body string) *ragkit.ErrHTTP {
	e := ragkit.NewErrHTTP(resp, body)
	if e.RetryAfter == 0 {
		e.RetryAfter = parseRetryInfo(body)
	}
	return e
}

// parseRetryInfo extracts the retryDelay from a Gemini error body containing
// a google.rpc.RetryInfo detail. Returns 0 if not found or unparseable.
func parseRetryInfo(body string) time.Duration {
	var envelope struct {
		Error struct {
			Details []json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &envelope) != nil {
		return 0
	}
	for _, raw := range envelope.Error.Details {
		var detail struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		}
		if json.Unmarshal(raw, &detail) != nil {
			continue
		}
		if detail.Type == "type.googleapis.com/google.rpc.RetryInfo" && detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
	}
	return 0
}

// ---- Body builder ----

// buildBody constructs the Gemini API request body from chat messages.
func (g *Gemini) buildBody(messages []ragkit.ChatMessage) map[string]any {
	var systemParts []string
	var contents []map[string]any

	for _, m := range messages {
		if m.Role == "system" {
			systemParts = append(systemParts, m.Content)
			continue
		}
		contents = append(contents, map[string]any{
			"role": mapRole(m.Role),
			"parts": []map[string]any{
				{"text": m.Content},
			},
		})
	}

	body := map[string]any{
		"contents": contents,
	}

	if len(systemParts) > 0 {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{
				{"text": strings.Join(systemParts, "\n\n")},
			},
		}
	}

	// Text only: the provider never offers tools.
	body["toolConfig"] = map[string]any{
		"functionCallingConfig": map[string]any{"mode": "NONE"},
	}

	genConfig := map[string]any{
		"temperature": g.temperature,
	}
	if g.topP > 0 {
		genConfig["topP"] = g.topP
	}
	if g.maxOutputTokens > 0 {
		genConfig["maxOutputTokens"] = g.maxOutputTokens
	}
	if g.thinkingEnabled {
		genConfig["thinkingConfig"] = map[string]any{
			"thinkingBudget": -1,
		}
	}
	body["generationConfig"] = genConfig

	return body
}

// mapRole converts standard roles to Gemini API roles.
func mapRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return role
}

// ---- Response parsing types ----

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata"`
	Error         *geminiError      `json:"error"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text         *string         `json:"text,omitempty"`
	FunctionCall json.RawMessage `json:"functionCall,omitempty"`
	InlineData   json.RawMessage `json:"inlineData,omitempty"`
	Thought      bool            `json:"thought,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Compile-time interface assertion.
var _ ragkit.InferenceProvider = (*Gemini)(nil)
