package ragkit

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

// retryConfig holds the shared settings for retrying wrappers.
type retryConfig struct {
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration // overall timeout across all attempts; 0 = no limit
	logger      *slog.Logger
}

// RetryOption configures WithRetry and WithEmbeddingRetry.
type RetryOption func(*retryConfig)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(c *retryConfig) { c.maxAttempts = n }
}

// RetryBaseDelay sets the delay before the second attempt (default: 1s).
// Each subsequent delay doubles.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.baseDelay = d }
}

// RetryTimeout bounds the whole retry sequence. Zero disables the bound.
func RetryTimeout(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.timeout = d }
}

// RetryLogger sets the logger for retry events. Retries log at WARN and
// exhausted attempts at ERROR.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(c *retryConfig) { c.logger = l }
}

func newRetryConfig(opts []RetryOption) retryConfig {
	c := retryConfig{maxAttempts: 3, baseDelay: time.Second}
	for _, opt := range opts {
		opt(&c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	return c
}

// withTimeout returns a child context with a deadline if c.timeout is set and
// earlier than any deadline ctx already carries.
func (c retryConfig) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	deadline := time.Now().Add(c.timeout)
	if existing, ok := ctx.Deadline(); ok && existing.Before(deadline) {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline)
}

// retryProvider wraps an InferenceProvider and retries transient HTTP errors
// (429 and 503) with exponential backoff.
type retryProvider struct {
	inner InferenceProvider
	cfg   retryConfig
}

// WithRetry wraps p with automatic retry on transient HTTP errors (429, 503).
// Retries use exponential backoff with jitter and honour Retry-After.
//
//	llm := ragkit.WithRetry(gemini.New(apiKey, model))
//	llm := ragkit.WithRetry(gemini.New(apiKey, model), ragkit.RetryMaxAttempts(5))
func WithRetry(p InferenceProvider, opts ...RetryOption) InferenceProvider {
	return &retryProvider{inner: p, cfg: newRetryConfig(opts)}
}

func (r *retryProvider) Name() string { return r.inner.Name() }

// Initialize implements InferenceProvider with retry.
func (r *retryProvider) Initialize(ctx context.Context) error {
	ctx, cancel := r.cfg.withTimeout(ctx)
	defer cancel()
	_, err := retryCall(ctx, r.cfg, r.inner.Name(), func() (struct{}, error) {
		return struct{}{}, r.inner.Initialize(ctx)
	})
	return err
}

// Invoke implements InferenceProvider with retry.
func (r *retryProvider) Invoke(ctx context.Context, req ChatRequest) (string, error) {
	ctx, cancel := r.cfg.withTimeout(ctx)
	defer cancel()
	return retryCall(ctx, r.cfg, r.inner.Name(), func() (string, error) {
		return r.inner.Invoke(ctx, req)
	})
}

// Stream implements InferenceProvider with retry. An attempt is retried only
// if it failed before yielding any sentence; once a sentence reached the
// caller, errors pass through so no content is repeated.
func (r *retryProvider) Stream(ctx context.Context, req ChatRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := r.cfg.withTimeout(ctx)
		defer cancel()

		var lastErr error
		for i := 0; i < r.cfg.maxAttempts; i++ {
			sent := false
			var streamErr error
			for s, err := range r.inner.Stream(ctx, req) {
				if err != nil {
					streamErr = err
					break
				}
				sent = true
				if !yield(s, nil) {
					return
				}
			}
			if streamErr == nil {
				return
			}
			if sent || !isTransient(streamErr) {
				yield("", streamErr)
				return
			}

			lastErr = streamErr
			r.cfg.logger.Warn("retrying transient error",
				"provider", r.inner.Name(),
				"status", statusOf(streamErr),
				"attempt", i+1,
				"max_attempts", r.cfg.maxAttempts)
			if i < r.cfg.maxAttempts-1 {
				if err := sleepCtx(ctx, retryDelay(r.cfg.baseDelay, i, streamErr)); err != nil {
					yield("", err)
					return
				}
			}
		}
		r.cfg.logger.Error("all retry attempts exhausted (stream)",
			"provider", r.inner.Name(),
			"attempts", r.cfg.maxAttempts,
			"error", lastErr)
		yield("", lastErr)
	}
}

// retryEmbeddingProvider wraps an EmbeddingProvider with the same policy.
type retryEmbeddingProvider struct {
	inner EmbeddingProvider
	cfg   retryConfig
}

// WithEmbeddingRetry wraps p with automatic retry on transient HTTP errors.
// Accepts the same RetryOption functions as WithRetry.
func WithEmbeddingRetry(p EmbeddingProvider, opts ...RetryOption) EmbeddingProvider {
	return &retryEmbeddingProvider{inner: p, cfg: newRetryConfig(opts)}
}

func (r *retryEmbeddingProvider) Name() string    { return r.inner.Name() }
func (r *retryEmbeddingProvider) Dimensions() int { return r.inner.Dimensions() }

func (r *retryEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := r.cfg.withTimeout(ctx)
	defer cancel()
	return retryCall(ctx, r.cfg, r.inner.Name(), func() ([][]float32, error) {
		return r.inner.Embed(ctx, texts)
	})
}

// isTransient reports whether err wraps a retryable HTTP error (429 or 503).
func isTransient(err error) bool {
	s := statusOf(err)
	return s == http.StatusTooManyRequests || s == http.StatusServiceUnavailable
}

// statusOf extracts the HTTP status code from an ErrHTTP, or 0.
func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryDelay is max(backoff, Retry-After).
func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	var e *ErrHTTP
	if errors.As(err, &e) && e.RetryAfter > backoff {
		return e.RetryAfter
	}
	return backoff
}

// retryBackoff returns base * 2^i plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryCall calls fn up to cfg.maxAttempts times, sleeping between transient
// failures.
func retryCall[T any](ctx context.Context, cfg retryConfig, name string, fn func() (T, error)) (T, error) {
	var zero T
	var last error
	for i := 0; i < cfg.maxAttempts; i++ {
		result, err := fn()
		if err == nil || !isTransient(err) {
			return result, err
		}
		last = err
		cfg.logger.Warn("retrying transient error",
			"provider", name,
			"status", statusOf(err),
			"attempt", i+1,
			"max_attempts", cfg.maxAttempts)
		if i < cfg.maxAttempts-1 {
			if err := sleepCtx(ctx, retryDelay(cfg.baseDelay, i, err)); err != nil {
				return zero, err
			}
		}
	}
	cfg.logger.Error("all retry attempts exhausted",
		"provider", name,
		"attempts", cfg.maxAttempts,
		"error", last)
	return zero, last
}

var (
	_ InferenceProvider = (*retryProvider)(nil)
	_ EmbeddingProvider = (*retryEmbeddingProvider)(nil)
)
