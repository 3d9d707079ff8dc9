package embedder

import (
	"fmt"

	"github.com/papyr-ai/papyr-go/internal/config"
	"github.com/papyr-ai/papyr-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ — override with embedding.dimensions.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// Dimensions returns the embedding vector size for the resolved backend.
// Callers that pre-configure the vector store (Qdrant collection creation)
// should use this rather than hardcoding a value. An explicit
// embedding.dimensions config value always wins.
func Dimensions(cfg *config.Config) int {
	if cfg.Embedding.Dimensions > 0 {
		return cfg.Embedding.Dimensions
	}
	switch resolveBackend(cfg) {
	case "ollama":
		return defaultOllamaDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// resolveBackend returns the embedding provider, inheriting the chat model
// provider when no embedding-specific override is configured.
func resolveBackend(cfg *config.Config) string {
	if cfg.Embedding.Provider != "" {
		return cfg.Embedding.Provider
	}
	return cfg.Model.Provider
}

// New constructs the process-wide rag.Embedder from the resolved config.
// It is called once at startup; the returned client is shared by the
// ingestion pipeline and the query orchestrator.
func New(cfg *config.Config) (rag.Embedder, error) {
	backend := resolveBackend(cfg)

	switch backend {
	case "ollama":
		host := cfg.Embedding.Endpoint
		if host == "" {
			host = cfg.Model.Ollama.Host
		}
		model := cfg.Embedding.Model
		if model == "" {
			model = defaultOllamaModel
		}
		return NewOllamaEmbedder(&OllamaConfig{
			Host:  host,
			Model: model,
		}), nil

	case "openai":
		apiKey := cfg.Embedding.APIKey
		if apiKey == "" {
			apiKey = cfg.Model.OpenAI.APIKey
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai backend requires an API key (embedding.api_key or OPENAI_API_KEY)")
		}
		model := cfg.Embedding.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Embedding.Endpoint,
			APIKey:     apiKey,
			Model:      model,
			Dimensions: cfg.Embedding.Dimensions,
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q — valid values: ollama, openai", backend)
	}
}
