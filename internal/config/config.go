// Package config provides YAML-based configuration for papyr.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so container deployments can override any key.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. PAPYR_CONFIG environment variable
//  3. ~/.papyr/config.yaml
//  4. ./papyr.yaml
//
// If no file is found the system runs from defaults plus env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for the papyr service.
type Config struct {
	// Model configures the LLM chat model used for answer generation.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Reranker configures the passage reranking service.
	Reranker RerankerConfig `yaml:"reranker"`

	// Qdrant configures the vector index connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Store configures the SQLite document/message/note store.
	Store StoreConfig `yaml:"store"`

	// Retrieval configures the query-time retrieval parameters.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Plans maps a plan name to its per-document page ceiling.
	Plans map[string]int `yaml:"plans"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama or openai.
	Provider string `yaml:"provider"`
	// MaxTokens caps the number of tokens generated per response.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`
	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`
	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai).
	// If empty, inherits the chat model provider.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// RerankerConfig holds reranking service settings.
type RerankerConfig struct {
	// Endpoint is the rerank API base URL.
	Endpoint string `yaml:"endpoint"`
	// Model is the reranking model name. The default is multilingual so
	// non-English documents rank correctly.
	Model string `yaml:"model"`
	// APIKey is the rerank API key. Prefer env var RERANKER_API_KEY.
	APIKey string `yaml:"api_key"`
}

// QdrantConfig holds Qdrant vector index settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var PAPYR_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit is the sustained request rate allowed per IP (requests/second).
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the maximum instantaneous burst per IP.
	RateBurst int `yaml:"rate_burst"`
}

// StoreConfig holds relational store settings.
type StoreConfig struct {
	// DBPath is the SQLite database path. Defaults to ~/.papyr/papyr.db.
	DBPath string `yaml:"db_path"`
}

// RetrievalConfig holds the query-time retrieval parameters.
type RetrievalConfig struct {
	// SingleTopK is the similarity-search candidate count in single-document mode.
	SingleTopK int `yaml:"single_top_k"`
	// GlobalPerDoc is the per-document candidate count in global mode.
	GlobalPerDoc int `yaml:"global_per_doc"`
	// GlobalCap bounds the combined global candidate list before reranking.
	GlobalCap int `yaml:"global_cap"`
	// RerankTopN is the number of passages kept after reranking.
	RerankTopN int `yaml:"rerank_top_n"`
	// HistoryDepth is the number of prior messages injected per query.
	HistoryDepth int `yaml:"history_depth"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "ollama",
			MaxTokens:   4096,
			Temperature: 0.2,
			Ollama: OllamaConfig{
				Host:  "http://localhost:11434",
				Model: "llama3",
			},
			OpenAI: OpenAIConfig{
				Model: "gpt-4o",
			},
		},
		Embedding: EmbeddingConfig{
			Model: "nomic-embed-text",
		},
		Reranker: RerankerConfig{
			Endpoint: "http://localhost:8787",
			Model:    "jina-reranker-v2-base-multilingual",
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "papyr_pages",
		},
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			RateLimit: 10,
			RateBurst: 20,
		},
		Retrieval: RetrievalConfig{
			SingleTopK:   20,
			GlobalPerDoc: 5,
			GlobalCap:    20,
			RerankTopN:   4,
			HistoryDepth: 6,
		},
		Plans: map[string]int{
			"free": 15,
			"pro":  120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load resolves the configuration: defaults, then the YAML file (if any),
// then env var overrides. Returns the config and the path that was loaded
// (empty string if no file was found).
func Load(explicitPath string, log *slog.Logger) (*Config, string, error) {
	cfg := Default()

	path := resolveConfigPath(explicitPath)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
		log.Info("config: loaded YAML config", slog.String("path", path))
	} else {
		log.Debug("config: no YAML config file found, using defaults + env vars")
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, "", err
	}

	return cfg, path, nil
}

// applyEnv overrides config fields from environment variables.
// Env vars always win over YAML and defaults.
func (c *Config) applyEnv() {
	setStr(&c.Model.Provider, "MODEL_PROVIDER")
	setInt(&c.Model.MaxTokens, "MODEL_MAX_TOKENS")
	setFloat32(&c.Model.Temperature, "MODEL_TEMPERATURE")
	setStr(&c.Model.Ollama.Host, "OLLAMA_HOST")
	setStr(&c.Model.Ollama.Model, "OLLAMA_MODEL")
	setStr(&c.Model.OpenAI.APIKey, "OPENAI_API_KEY")
	setStr(&c.Model.OpenAI.Model, "OPENAI_MODEL")

	setStr(&c.Embedding.Provider, "EMBEDDING_PROVIDER")
	setStr(&c.Embedding.Model, "EMBEDDING_MODEL")
	setInt(&c.Embedding.Dimensions, "EMBEDDING_DIMENSIONS")
	setStr(&c.Embedding.APIKey, "EMBEDDING_API_KEY")
	setStr(&c.Embedding.Endpoint, "EMBEDDING_ENDPOINT")

	setStr(&c.Reranker.Endpoint, "RERANKER_ENDPOINT")
	setStr(&c.Reranker.Model, "RERANKER_MODEL")
	setStr(&c.Reranker.APIKey, "RERANKER_API_KEY")

	setStr(&c.Qdrant.Host, "QDRANT_HOST")
	setInt(&c.Qdrant.Port, "QDRANT_PORT")
	setStr(&c.Qdrant.Collection, "QDRANT_COLLECTION")
	setStr(&c.Qdrant.APIKey, "QDRANT_API_KEY")
	setBool(&c.Qdrant.TLS, "QDRANT_TLS")

	setStr(&c.Server.Host, "PAPYR_HOST")
	setInt(&c.Server.Port, "PAPYR_PORT")
	setStr(&c.Server.APIKey, "PAPYR_API_KEY")

	setStr(&c.Store.DBPath, "PAPYR_DB")

	setStr(&c.Logging.Level, "LOG_LEVEL")
	setStr(&c.Logging.Format, "LOG_FORMAT")
}

// validate rejects configurations that cannot produce a working service.
func (c *Config) validate() error {
	switch c.Model.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("config: unknown model provider %q — valid values: ollama, openai", c.Model.Provider)
	}
	if c.Retrieval.SingleTopK <= 0 || c.Retrieval.GlobalPerDoc <= 0 ||
		c.Retrieval.GlobalCap <= 0 || c.Retrieval.RerankTopN <= 0 {
		return fmt.Errorf("config: retrieval parameters must be positive")
	}
	if len(c.Plans) == 0 {
		return fmt.Errorf("config: at least one plan must be defined")
	}
	for name, ceiling := range c.Plans {
		if ceiling <= 0 {
			return fmt.Errorf("config: plan %q has non-positive page ceiling %d", name, ceiling)
		}
	}
	return nil
}

// PageCeiling returns the per-document page ceiling for the given plan.
// Unknown plans fall back to the most restrictive configured ceiling.
func (c *Config) PageCeiling(plan string) int {
	if v, ok := c.Plans[plan]; ok {
		return v
	}
	min := 0
	for _, v := range c.Plans {
		if min == 0 || v < min {
			min = v
		}
	}
	return min
}

// DefaultDBPath returns the default SQLite path (~/.papyr/papyr.db),
// creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".papyr")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("config: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "papyr.db"), nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("PAPYR_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".papyr", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("papyr.yaml"); err == nil {
		return "papyr.yaml"
	}

	return ""
}

// setStr overrides dst with the named env var when set.
func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setInt overrides dst with the named env var when set and parseable.
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

// setFloat32 overrides dst with the named env var when set and parseable.
func setFloat32(dst *float32, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			*dst = float32(f)
		}
	}
}

// setBool overrides dst with the named env var when set.
func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}
