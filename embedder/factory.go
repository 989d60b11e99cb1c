package embedder

import (
	"fmt"

	"github.com/reposcope/reposcope/config"
)

// NewFromConfig creates an Embedder for the configured provider, wrapped in a
// rate limiter when one is configured.
func NewFromConfig(cfg *config.Config) (Embedder, error) {
	emb, err := newProvider(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	if cfg.Embedder.RateLimit > 0 {
		return NewRateLimited(emb, cfg.Embedder.RateLimit, cfg.Embedder.Burst), nil
	}
	return emb, nil
}

func newProvider(ec config.EmbedderConfig) (Embedder, error) {
	switch ec.Provider {
	case "hash", "":
		opts := []HashOption{}
		if ec.Dimensions != nil {
			opts = append(opts, WithHashDimensions(*ec.Dimensions))
		}
		return NewHashEmbedder(opts...), nil

	case "ollama":
		opts := []OllamaOption{
			WithOllamaEndpoint(ec.Endpoint),
			WithOllamaModel(ec.Model),
		}
		if ec.Dimensions != nil {
			opts = append(opts, WithOllamaDimensions(*ec.Dimensions))
		}
		return NewOllamaEmbedder(opts...), nil

	case "openai":
		opts := []OpenAIOption{
			WithOpenAIModel(ec.Model),
			WithOpenAIKey(ec.APIKey),
			WithOpenAIEndpoint(ec.Endpoint),
		}
		if ec.Dimensions != nil {
			opts = append(opts, WithOpenAIDimensions(*ec.Dimensions))
		}
		return NewOpenAIEmbedder(opts...)

	case "openrouter":
		opts := []OpenRouterOption{
			WithOpenRouterModel(ec.Model),
			WithOpenRouterKey(ec.APIKey),
			WithOpenRouterEndpoint(ec.Endpoint),
		}
		if ec.Dimensions != nil {
			opts = append(opts, WithOpenRouterDimensions(*ec.Dimensions))
		}
		return NewOpenRouterEmbedder(opts...)

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", ec.Provider)
	}
}
