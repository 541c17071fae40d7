// Package config loads ragkit settings: defaults, then a TOML file, then
// environment variables (env wins), then validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nevindra/ragkit"
	"github.com/nevindra/ragkit/provider/gemini"
	"github.com/nevindra/ragkit/provider/resolve"
)

// DefaultPath is read when neither --config nor RAGKIT_CONFIG is set.
const DefaultPath = "ragkit.toml"

type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Store     StoreConfig     `toml:"store"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Retry     RetryConfig     `toml:"retry"`
	Log       LogConfig       `toml:"log"`
	Observer  ObserverConfig  `toml:"observer"`
}

type LLMConfig struct {
	Provider       string   `toml:"provider"`
	Model          string   `toml:"model"`
	APIKey         string   `toml:"api_key"`
	BaseURL        string   `toml:"base_url"`
	Temperature    *float64 `toml:"temperature"`
	TopP           *float64 `toml:"top_p"`
	MaxTokens      *int     `toml:"max_tokens"`
	Thinking       *bool    `toml:"thinking"`
	FlushRemainder bool     `toml:"flush_remainder"`

	// Client-side rate limits; 0 disables.
	RPM int `toml:"rpm"`
	TPM int `toml:"tpm"`
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	APIKey     string `toml:"api_key"`
	Dimensions int    `toml:"dimensions"`
	TaskType   string `toml:"task_type"`
}

type StoreConfig struct {
	Driver         string `toml:"driver"` // "sqlite" or "postgres"
	Path           string `toml:"path"`
	DSN            string `toml:"dsn"`
	HNSWM          int    `toml:"hnsw_m"`
	EFConstruction int    `toml:"ef_construction"`
	EFSearch       int    `toml:"ef_search"`
}

type RetrievalConfig struct {
	UserID    string  `toml:"user_id"`
	TopK      int     `toml:"top_k"`
	MinScore  float32 `toml:"min_score"`
	Overfetch int     `toml:"overfetch"`
}

type RetryConfig struct {
	Enabled     bool          `toml:"enabled"`
	MaxAttempts int           `toml:"max_attempts"`
	BaseDelay   time.Duration `toml:"base_delay"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text", "json" or "pretty"
	File   string `toml:"file"`
}

type ObserverConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM:       LLMConfig{Provider: "gemini", Model: gemini.DefaultModel},
		Embedding: EmbeddingConfig{Provider: "gemini", Model: gemini.DefaultEmbeddingModel, Dimensions: 768},
		Store:     StoreConfig{Driver: "sqlite", Path: "ragkit.db"},
		Retrieval: RetrievalConfig{UserID: "default", TopK: ragkit.DefaultTopK, Overfetch: 3},
		Retry:     RetryConfig{Enabled: true, MaxAttempts: 3, BaseDelay: time.Second},
		Log:       LogConfig{Level: "info", Format: "text"},
		Observer:  ObserverConfig{ServiceName: "ragkit"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins). An empty
// path falls back to RAGKIT_CONFIG, then DefaultPath. A missing file is not
// an error; a malformed one is. Load does not validate.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = os.Getenv("RAGKIT_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if explicit {
			return cfg, fmt.Errorf("config: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RAGKIT_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if cfg.LLM.Provider == "gemini" {
		if v := os.Getenv("GEMINI_API_KEY"); v != "" {
			cfg.LLM.APIKey = v
		}
		if v := os.Getenv("GEMINI_MODEL_ID"); v != "" {
			cfg.LLM.Model = v
		}
	}
	if v := os.Getenv("RAGKIT_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("RAGKIT_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("RAGKIT_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}

	if v := os.Getenv("RAGKIT_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	} else if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "gemini" {
		cfg.Embedding.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == cfg.LLM.Provider {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}

	if v := os.Getenv("RAGKIT_DATABASE_URL"); v != "" {
		cfg.Store.Driver = "postgres"
		cfg.Store.DSN = v
	}
	if v := os.Getenv("RAGKIT_USER_ID"); v != "" {
		cfg.Retrieval.UserID = v
	}
	if v := os.Getenv("RAGKIT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v, err := strconv.ParseBool(os.Getenv("RAGKIT_OBSERVER_ENABLED")); err == nil {
		cfg.Observer.Enabled = v
	}
}

// Validate reports the first missing or invalid setting as a
// *ragkit.ConfigurationError.
func (c Config) Validate() error {
	switch c.LLM.Provider {
	case "":
		return &ragkit.ConfigurationError{Key: "llm.provider", Message: "is required"}
	case "gemini":
		if c.LLM.APIKey == "" {
			return &ragkit.ConfigurationError{Key: "GEMINI_API_KEY", Message: "is required when the llm provider is gemini"}
		}
	case "ollama":
	default:
		if c.LLM.APIKey == "" {
			return &ragkit.ConfigurationError{Key: "llm.api_key", Message: fmt.Sprintf("is required for provider %q", c.LLM.Provider)}
		}
	}
	if _, err := resolve.Provider(c.Provider()); err != nil {
		return &ragkit.ConfigurationError{Key: "llm.provider", Message: err.Error()}
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return &ragkit.ConfigurationError{Key: "store.path", Message: "is required for the sqlite store"}
		}
	case "postgres":
		if c.Store.DSN == "" {
			return &ragkit.ConfigurationError{Key: "store.dsn", Message: "is required for the postgres store"}
		}
	default:
		return &ragkit.ConfigurationError{Key: "store.driver", Message: fmt.Sprintf("unknown driver %q", c.Store.Driver)}
	}

	if c.Retrieval.UserID == "" {
		return &ragkit.ConfigurationError{Key: "retrieval.user_id", Message: "is required"}
	}
	if c.LLM.RPM < 0 || c.LLM.TPM < 0 {
		return &ragkit.ConfigurationError{Key: "llm.rpm", Message: "rate limits must not be negative"}
	}
	if c.Retrieval.TopK < 0 {
		return &ragkit.ConfigurationError{Key: "retrieval.top_k", Message: "must not be negative"}
	}
	switch c.Log.Format {
	case "", "text", "json", "pretty":
	default:
		return &ragkit.ConfigurationError{Key: "log.format", Message: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	return nil
}

// ValidateEmbedding checks the settings needed by commands that embed text.
func (c Config) ValidateEmbedding() error {
	if c.Embedding.APIKey == "" {
		return &ragkit.ConfigurationError{Key: "embedding.api_key", Message: "is required"}
	}
	if _, err := resolve.EmbeddingProvider(c.EmbeddingProvider()); err != nil {
		return &ragkit.ConfigurationError{Key: "embedding.provider", Message: err.Error()}
	}
	return nil
}

// Provider returns the resolve.Config for the configured LLM.
func (c Config) Provider() resolve.Config {
	return resolve.Config{
		Provider:       c.LLM.Provider,
		APIKey:         c.LLM.APIKey,
		Model:          c.LLM.Model,
		BaseURL:        c.LLM.BaseURL,
		Temperature:    c.LLM.Temperature,
		TopP:           c.LLM.TopP,
		MaxTokens:      c.LLM.MaxTokens,
		Thinking:       c.LLM.Thinking,
		FlushRemainder: c.LLM.FlushRemainder,
	}
}

// EmbeddingProvider returns the resolve.EmbeddingConfig for the configured
// embedding model.
func (c Config) EmbeddingProvider() resolve.EmbeddingConfig {
	return resolve.EmbeddingConfig{
		Provider:   c.Embedding.Provider,
		APIKey:     c.Embedding.APIKey,
		Model:      c.Embedding.Model,
		Dimensions: c.Embedding.Dimensions,
		TaskType:   c.Embedding.TaskType,
	}
}
