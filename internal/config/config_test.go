package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nevindra/ragkit"
)

// clearEnv unsets every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"RAGKIT_CONFIG", "GEMINI_API_KEY", "GEMINI_MODEL_ID",
		"RAGKIT_LLM_PROVIDER", "RAGKIT_LLM_API_KEY", "RAGKIT_LLM_MODEL", "RAGKIT_LLM_BASE_URL",
		"RAGKIT_EMBEDDING_API_KEY", "RAGKIT_DATABASE_URL", "RAGKIT_USER_ID",
		"RAGKIT_LOG_LEVEL", "RAGKIT_OBSERVER_ENABLED",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ragkit.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.LLM.Provider != "gemini" || cfg.LLM.Model != "gemini-1.5-flash" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Retrieval.TopK != 5 || cfg.Store.Driver != "sqlite" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Retry.BaseDelay != time.Second {
		t.Errorf("retry base delay = %v", cfg.Retry.BaseDelay)
	}
}

func TestLoadFromTOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
[llm]
model = "gemini-2.0-flash"
temperature = 0.5
flush_remainder = true
rpm = 30

[retrieval]
top_k = 8

[retry]
base_delay = "250ms"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Model != "gemini-2.0-flash" || cfg.LLM.Temperature == nil || *cfg.LLM.Temperature != 0.5 {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if !cfg.LLM.FlushRemainder || cfg.LLM.RPM != 30 || cfg.Retrieval.TopK != 8 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("base delay = %v", cfg.Retry.BaseDelay)
	}
	// Defaults preserved
	if cfg.LLM.Provider != "gemini" || cfg.Store.Path != "ragkit.db" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadMissingDefaultFileIsFine(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	if _, err := Load(""); err != nil {
		t.Errorf("Load without a file: %v", err)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoadMalformed(t *testing.T) {
	clearEnv(t)
	if _, err := Load(writeFile(t, "[llm\nmodel=")); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("RAGKIT_CONFIG", writeFile(t, "[retrieval]\nuser_id = \"alice\"\n"))
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retrieval.UserID != "alice" {
		t.Errorf("user id = %q", cfg.Retrieval.UserID)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("GEMINI_MODEL_ID", "gemini-2.5-pro")
	t.Setenv("RAGKIT_DATABASE_URL", "postgres://localhost/ragkit")
	t.Setenv("RAGKIT_OBSERVER_ENABLED", "true")

	cfg, err := Load(writeFile(t, "[llm]\nmodel = \"from-file\"\napi_key = \"file-key\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "env-key" || cfg.LLM.Model != "gemini-2.5-pro" {
		t.Errorf("env did not win: %+v", cfg.LLM)
	}
	if cfg.Embedding.APIKey != "env-key" {
		t.Errorf("embedding key = %q", cfg.Embedding.APIKey)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN == "" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if !cfg.Observer.Enabled {
		t.Error("observer not enabled from env")
	}
}

func TestGeminiEnvIgnoredForOtherProviders(t *testing.T) {
	clearEnv(t)
	t.Setenv("RAGKIT_LLM_PROVIDER", "groq")
	t.Setenv("GEMINI_MODEL_ID", "gemini-2.5-pro")
	cfg, err := Load(writeFile(t, "[llm]\nmodel = \"llama3\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "llama3" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.LLM.APIKey = "k"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantKey string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing gemini key", func(c *Config) { c.LLM.APIKey = "" }, "GEMINI_API_KEY"},
		{"missing provider", func(c *Config) { c.LLM.Provider = "" }, "llm.provider"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "nope" }, "llm.provider"},
		{"ollama needs no key", func(c *Config) { c.LLM.Provider = "ollama"; c.LLM.APIKey = "" }, ""},
		{"openai needs key", func(c *Config) { c.LLM.Provider = "openai"; c.LLM.APIKey = "" }, "llm.api_key"},
		{"postgres needs dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"missing user", func(c *Config) { c.Retrieval.UserID = "" }, "retrieval.user_id"},
		{"negative rate limit", func(c *Config) { c.LLM.TPM = -1 }, "llm.rpm"},
		{"negative top k", func(c *Config) { c.Retrieval.TopK = -1 }, "retrieval.top_k"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantKey == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var cfgErr *ragkit.ConfigurationError
			if !errors.As(err, &cfgErr) || cfgErr.Key != tt.wantKey {
				t.Fatalf("err = %v, want ConfigurationError for %s", err, tt.wantKey)
			}
		})
	}
}

func TestValidateEmbedding(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateEmbedding(); err == nil {
		t.Error("expected error without embedding key")
	}
	cfg.Embedding.APIKey = "k"
	if err := cfg.ValidateEmbedding(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	cfg.Embedding.Provider = "openai"
	if err := cfg.ValidateEmbedding(); err == nil {
		t.Error("expected error for unsupported embedding provider")
	}
}

func TestProviderConfig(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "k"
	cfg.LLM.FlushRemainder = true
	pc := cfg.Provider()
	if pc.Provider != "gemini" || pc.APIKey != "k" || !pc.FlushRemainder {
		t.Errorf("provider config = %+v", pc)
	}
	ec := cfg.EmbeddingProvider()
	if ec.Dimensions != 768 || ec.Model != "text-embedding-004" {
		t.Errorf("embedding config = %+v", ec)
	}
}
