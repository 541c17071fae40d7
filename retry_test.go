package ragkit

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestWithRetry_Invoke_SucceedsFirstAttempt(t *testing.T) {
	stub := &stubProvider{results: []stubResult{{text: "hello"}}}
	p := WithRetry(stub, RetryBaseDelay(0))

	got, err := p.Invoke(context.Background(), NewPrompt("hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1", stub.calls)
	}
}

func TestWithRetry_Invoke_RetriesTransient(t *testing.T) {
	for _, status := range []int{429, 503} {
		stub := &stubProvider{results: []stubResult{
			{err: &InvocationError{Provider: "stub", Err: &ErrHTTP{Status: status}}},
			{text: "ok"},
		}}
		p := WithRetry(stub, RetryBaseDelay(0))

		got, err := p.Invoke(context.Background(), NewPrompt("hi"))
		if err != nil {
			t.Fatalf("status %d: unexpected error: %v", status, err)
		}
		if got != "ok" || stub.calls != 2 {
			t.Errorf("status %d: got %q after %d calls", status, got, stub.calls)
		}
	}
}

func TestWithRetry_Invoke_DoesNotRetryNonTransient(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 500, Body: "internal error"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	if _, err := p.Invoke(context.Background(), NewPrompt("hi")); err == nil {
		t.Fatal("expected error, got nil")
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1 (no retry for 500)", stub.calls)
	}
}

func TestWithRetry_Invoke_ExhaustsMaxAttempts(t *testing.T) {
	transient := stubResult{err: &ErrHTTP{Status: 503, Body: "unavailable"}}
	stub := &stubProvider{results: []stubResult{transient, transient, transient, transient}}
	p := WithRetry(stub, RetryBaseDelay(0), RetryMaxAttempts(3))

	_, err := p.Invoke(context.Background(), NewPrompt("hi"))
	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != 503 {
		t.Fatalf("err = %v, want http 503", err)
	}
	if stub.calls != 3 {
		t.Errorf("got %d calls, want 3", stub.calls)
	}
}

func TestWithRetry_Invoke_RespectsContextCancel(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 429}},
		{text: "never"},
	}}
	p := WithRetry(stub, RetryBaseDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Invoke(ctx, NewPrompt("hi"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1", stub.calls)
	}
}

func TestWithRetry_Initialize(t *testing.T) {
	stub := &stubProvider{initErrs: []error{
		&InitializationError{Provider: "stub", Err: &ErrHTTP{Status: 503}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.initCalls != 2 {
		t.Errorf("got %d Initialize calls, want 2", stub.initCalls)
	}
}

func TestWithRetry_Stream_RetriesBeforeFirstSentence(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: &StreamError{Provider: "stub", Err: &ErrHTTP{Status: 429}}},
		{sentences: []string{"One.", "Two."}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	got, err := Collect(p.Stream(context.Background(), NewPrompt("hi")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(got, []string{"One.", "Two."}) {
		t.Errorf("got %q", got)
	}
	if stub.calls != 2 {
		t.Errorf("got %d calls, want 2", stub.calls)
	}
}

func TestWithRetry_Stream_NoRetryAfterSentence(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{sentences: []string{"Partial."}, err: &StreamError{Provider: "stub", Sentences: 1, Err: &ErrHTTP{Status: 503}}},
		{sentences: []string{"Duplicate."}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	got, err := Collect(p.Stream(context.Background(), NewPrompt("hi")))
	var se *StreamError
	if !errors.As(err, &se) || se.Sentences != 1 {
		t.Fatalf("err = %v, want StreamError after 1 sentence", err)
	}
	if !slices.Equal(got, []string{"Partial."}) {
		t.Errorf("got %q", got)
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1", stub.calls)
	}
}

func TestWithRetry_Stream_EarlyBreak(t *testing.T) {
	stub := &stubProvider{results: []stubResult{{sentences: []string{"A.", "B.", "C."}}}}
	p := WithRetry(stub, RetryBaseDelay(0))

	var got []string
	for s, err := range p.Stream(context.Background(), NewPrompt("hi")) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, s)
		break
	}
	if !slices.Equal(got, []string{"A."}) {
		t.Errorf("got %q", got)
	}
}

func TestWithEmbeddingRetry(t *testing.T) {
	stub := &stubEmbedding{vec: []float32{1, 0}, errs: []error{&ErrHTTP{Status: 429}}}
	p := WithEmbeddingRetry(stub, RetryBaseDelay(0))

	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 2 || stub.calls != 2 {
		t.Errorf("got %d vectors after %d calls", len(vecs), stub.calls)
	}
	if p.Dimensions() != 2 || p.Name() != "stub-embed" {
		t.Errorf("delegation broken: %d %q", p.Dimensions(), p.Name())
	}
}

func TestRetryDelayHonoursRetryAfter(t *testing.T) {
	err := &ErrHTTP{Status: 429, RetryAfter: 10 * time.Second}
	if d := retryDelay(time.Millisecond, 0, err); d != 10*time.Second {
		t.Errorf("delay = %v, want 10s", d)
	}
	if d := retryDelay(time.Second, 2, &ErrHTTP{Status: 503}); d < 4*time.Second || d > 6*time.Second {
		t.Errorf("backoff = %v, want within [4s, 6s]", d)
	}
}
