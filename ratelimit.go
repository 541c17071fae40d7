package ragkit

import (
	"context"
	"iter"
	"sync"
	"time"
)

// rateLimitProvider wraps an InferenceProvider with proactive rate limiting.
// Requests block until the rate budget allows them to proceed.
type rateLimitProvider struct {
	inner InferenceProvider
	mu    sync.Mutex

	// RPM state: sliding window of request timestamps.
	rpm       int
	rpmWindow []time.Time

	// TPM state: sliding window of (timestamp, estimated tokens) pairs.
	tpm       int
	tpmWindow []tpmEntry
}

type tpmEntry struct {
	at     time.Time
	tokens int
}

// RateLimitOption configures WithRateLimit.
type RateLimitOption func(*rateLimitProvider)

// RPM sets the maximum requests per minute.
func RPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.rpm = n }
}

// TPM sets the maximum tokens per minute, prompt and response combined.
// Backends here report no usage, so tokens are estimated as one per four
// bytes of text. It is a soft limit: the request that crosses the budget
// completes, later ones block until the window slides.
func TPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.tpm = n }
}

// WithRateLimit wraps p with proactive rate limiting. Compose with other wrappers:
//
//	p = ragkit.WithRateLimit(provider, ragkit.RPM(60))
//	p = ragkit.WithRateLimit(ragkit.WithRetry(provider), ragkit.RPM(60), ragkit.TPM(100000))
//
// Initialize is not counted against the budget.
func WithRateLimit(p InferenceProvider, opts ...RateLimitOption) InferenceProvider {
	r := &rateLimitProvider{inner: p}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *rateLimitProvider) Name() string { return r.inner.Name() }

func (r *rateLimitProvider) Initialize(ctx context.Context) error {
	return r.inner.Initialize(ctx)
}

func (r *rateLimitProvider) Invoke(ctx context.Context, req ChatRequest) (string, error) {
	if err := r.waitForBudget(ctx); err != nil {
		return "", err
	}
	text, err := r.inner.Invoke(ctx, req)
	if err == nil {
		r.recordUsage(promptBytes(req) + len(text))
	}
	return text, err
}

func (r *rateLimitProvider) Stream(ctx context.Context, req ChatRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := r.waitForBudget(ctx); err != nil {
			yield("", err)
			return
		}
		n := promptBytes(req)
		defer func() { r.recordUsage(n) }()
		for sentence, err := range r.inner.Stream(ctx, req) {
			n += len(sentence)
			if !yield(sentence, err) || err != nil {
				return
			}
		}
	}
}

// waitForBudget blocks until both RPM and TPM budgets allow a request.
// Returns ctx.Err() if the context is cancelled while waiting.
func (r *rateLimitProvider) waitForBudget(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-time.Minute)

		r.rpmWindow = pruneTime(r.rpmWindow, cutoff)
		r.tpmWindow = pruneTpm(r.tpmWindow, cutoff)

		rpmOK := r.rpm <= 0 || len(r.rpmWindow) < r.rpm

		tpmOK := true
		if r.tpm > 0 {
			var total int
			for _, e := range r.tpmWindow {
				total += e.tokens
			}
			tpmOK = total < r.tpm
		}

		if rpmOK && tpmOK {
			if r.rpm > 0 {
				r.rpmWindow = append(r.rpmWindow, now)
			}
			r.mu.Unlock()
			return nil
		}

		// Wait until the oldest entry in the blocking window expires.
		var wait time.Duration
		if !rpmOK && len(r.rpmWindow) > 0 {
			wait = r.rpmWindow[0].Add(time.Minute).Sub(now)
		}
		if !tpmOK && len(r.tpmWindow) > 0 {
			w := r.tpmWindow[0].at.Add(time.Minute).Sub(now)
			if wait == 0 || w < wait {
				wait = w
			}
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// recordUsage adds the token estimate for n bytes of text to the TPM window.
func (r *rateLimitProvider) recordUsage(n int) {
	if r.tpm <= 0 || n <= 0 {
		return
	}
	tokens := max(n/4, 1)
	r.mu.Lock()
	r.tpmWindow = append(r.tpmWindow, tpmEntry{at: time.Now(), tokens: tokens})
	r.mu.Unlock()
}

func promptBytes(req ChatRequest) int {
	n := 0
	for _, m := range req.Messages {
		n += len(m.Content)
	}
	return n
}

// pruneTime removes entries older than cutoff from a sorted time slice.
func pruneTime(s []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(s) && s[i].Before(cutoff) {
		i++
	}
	return s[i:]
}

// pruneTpm removes entries older than cutoff from a sorted tpmEntry slice.
func pruneTpm(s []tpmEntry, cutoff time.Time) []tpmEntry {
	i := 0
	for i < len(s) && s[i].at.Before(cutoff) {
		i++
	}
	return s[i:]
}

var _ InferenceProvider = (*rateLimitProvider)(nil)
