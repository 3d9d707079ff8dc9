// Package provider constructs the LLM chat model used for answer generation.
// Supported backends: Ollama (local) and OpenAI. The model is built once at
// startup from the resolved configuration and shared across all requests.
package provider

import (
	"context"
	"fmt"

	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/papyr-ai/papyr-go/internal/config"
)

// New constructs a ChatModel from the resolved config, delegating to the
// appropriate backend constructor. It validates the config first so callers
// get a clear error at startup rather than on the first request.
func New(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	switch cfg.Model.Provider {
	case "ollama":
		return newOllama(ctx, cfg)
	case "openai":
		return newOpenAI(ctx, cfg)
	default:
		return nil, fmt.Errorf("provider: unknown backend %q — valid values: ollama, openai", cfg.Model.Provider)
	}
}

// newOllama constructs a ChatModel backed by a local Ollama instance.
func newOllama(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	baseURL := cfg.Model.Ollama.Host
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	m, err := einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{
		BaseURL: baseURL,
		Model:   cfg.Model.Ollama.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: ollama chat model: %w", err)
	}
	return m, nil
}

// newOpenAI constructs a ChatModel backed by the OpenAI API.
func newOpenAI(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	if cfg.Model.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("provider: OPENAI_API_KEY is required for the openai backend")
	}
	maxTokens := cfg.Model.MaxTokens
	temperature := cfg.Model.Temperature
	m, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		Model:       cfg.Model.OpenAI.Model,
		APIKey:      cfg.Model.OpenAI.APIKey,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: openai chat model: %w", err)
	}
	return m, nil
}
