package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nevindra/ragkit"
)

func TestDefaultBaseURL(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"openai", "https://api.openai.com/v1"},
		{"groq", "https://api.groq.com/openai/v1"},
		{"deepseek", "https://api.deepseek.com/v1"},
		{"together", "https://api.together.xyz/v1"},
		{"mistral", "https://api.mistral.ai/v1"},
		{"ollama", "http://localhost:11434/v1"},
		{"unknown", ""},
	}
	for _, tt := range tests {
		if got := defaultBaseURL(tt.provider); got != tt.want {
			t.Errorf("defaultBaseURL(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestProvider_Gemini(t *testing.T) {
	temp := 0.7
	thinking := true
	p, err := Provider(Config{
		Provider:    "gemini",
		APIKey:      "test-key",
		Model:       "gemini-1.5-flash",
		Temperature: &temp,
		Thinking:    &thinking,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "gemini" {
		t.Errorf("Name() = %q, want %q", p.Name(), "gemini")
	}
}

func TestProvider_OpenAICompat(t *testing.T) {
	for _, name := range []string{"openai", "groq", "ollama"} {
		p, err := Provider(Config{Provider: name, APIKey: "k", Model: "m"})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if p.Name() != name {
			t.Errorf("Name() = %q, want %q", p.Name(), name)
		}
	}
}

func TestProvider_Unknown(t *testing.T) {
	if _, err := Provider(Config{Provider: "nope"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models/good" {
			fmt.Fprint(w, `{"id":"good"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p, err := Open(context.Background(), Config{Provider: "ollama", Model: "good", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := p.Initialize(context.Background()); !errors.Is(err, ragkit.ErrAlreadyInitialized) {
		t.Errorf("provider from Open not initialized: %v", err)
	}

	_, err = Open(context.Background(), Config{Provider: "ollama", Model: "missing", BaseURL: srv.URL})
	var initErr *ragkit.InitializationError
	if !errors.As(err, &initErr) {
		t.Errorf("err = %v, want InitializationError", err)
	}
}

func TestEmbeddingProvider(t *testing.T) {
	e, err := EmbeddingProvider(EmbeddingConfig{Provider: "gemini", APIKey: "k", Dimensions: 768})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Dimensions() != 768 || e.Name() != "gemini" {
		t.Errorf("got %q/%d", e.Name(), e.Dimensions())
	}
	if _, err := EmbeddingProvider(EmbeddingConfig{Provider: "openai"}); err == nil {
		t.Error("expected error for unsupported embedding provider")
	}
}
