package ragkit

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotInitialized is returned when Invoke or Stream is called before
	// Initialize succeeded.
	ErrNotInitialized = errors.New("provider not initialized")

	// ErrAlreadyInitialized is returned by a second call to Initialize.
	ErrAlreadyInitialized = errors.New("provider already initialized")

	// ErrNonTextContent is returned when the backend answers with structured
	// content (tool calls, inline data) instead of text.
	ErrNonTextContent = errors.New("backend returned non-text content")

	// ErrInvalidSearch is returned by VectorStore.Search when the request has
	// no user id or neither a query nor a query vector.
	ErrInvalidSearch = errors.New("invalid search request")

	// ErrNoEmbedding is returned when a text query has to be embedded but no
	// EmbeddingProvider is configured.
	ErrNoEmbedding = errors.New("no embedding provider configured")
)

// ConfigurationError reports a required setting that is missing or invalid.
// It is fatal: the process should not start.
type ConfigurationError struct {
	Key     string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Message)
}

// InitializationError reports a failed backend session setup, or use of a
// provider that was never initialized.
type InitializationError struct {
	Provider string
	Err      error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("%s: initialize: %v", e.Provider, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// InvocationError reports a failed single request.
type InvocationError struct {
	Provider string
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: invoke: %v", e.Provider, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// StreamError reports a failure after a stream started. Sentences is the
// number of sentences already yielded to the caller; those remain valid.
type StreamError struct {
	Provider  string
	Sentences int
	Err       error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: stream (after %d sentences): %v", e.Provider, e.Sentences, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// ErrHTTP is a non-2xx response from a backend.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// NewErrHTTP builds an ErrHTTP from resp, reading the Retry-After header.
func NewErrHTTP(resp *http.Response, body string) *ErrHTTP {
	return &ErrHTTP{
		Status:     resp.StatusCode,
		Body:       body,
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// ParseRetryAfter parses a Retry-After header value given either as
// delay-seconds or as an HTTP date. Returns 0 when absent or unparseable.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
