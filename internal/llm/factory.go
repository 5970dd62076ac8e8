package llm

import (
	"fmt"

	"github.com/scrypster/lorekeeper/internal/config"
)

// Provider names accepted in config.
const (
	ProviderNone      = "none"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// NewTextGenerator creates the TextGenerator selected by cfg.Provider.
// It returns (nil, nil) for "none", which puts every summarizing
// component on its deterministic fallback.
func NewTextGenerator(cfg config.LLMConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case ProviderNone, "":
		return nil, nil
	case ProviderOpenAI:
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel}), nil
	case ProviderAnthropic:
		return NewAnthropicClient(AnthropicConfig{APIKey: cfg.AnthropicAPIKey, Model: cfg.AnthropicModel}), nil
	case ProviderOllama:
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.OllamaURL, Model: cfg.OllamaModel}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator creates the EmbeddingGenerator selected by
// cfg.EmbeddingProvider, or (nil, nil) for "none".
func NewEmbeddingGenerator(cfg config.LLMConfig) (EmbeddingGenerator, error) {
	switch cfg.EmbeddingProvider {
	case ProviderNone, "":
		return nil, nil
	case ProviderOpenAI:
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.EmbeddingModel}), nil
	case ProviderOllama:
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.OllamaURL, Model: cfg.EmbeddingModel}), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.EmbeddingProvider)
	}
}
