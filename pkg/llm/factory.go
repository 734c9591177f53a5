package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// NewGenerationClient creates the draft generation backend selected by
// provider: "anthropic" targets the Anthropic API, anything else is treated
// as an OpenAI-compatible endpoint.
func NewGenerationClient(provider, baseURL, model, apiKey string, logger *zap.Logger) (LLMClient, error) {
	switch provider {
	case "anthropic":
		client, err := NewAnthropicClient(apiKey, model, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return client, nil
	case "", "openai":
		client, err := NewClient(&Config{
			Endpoint: baseURL,
			Model:    model,
			APIKey:   apiKey,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", provider)
	}
}

// NewEmbeddingClient creates the embedding backend. Embeddings always go
// through an OpenAI-compatible endpoint.
func NewEmbeddingClient(baseURL, model, apiKey string, logger *zap.Logger) (LLMClient, error) {
	client, err := NewClient(&Config{
		Endpoint:       baseURL,
		EmbeddingModel: model,
		APIKey:         apiKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return client, nil
}
