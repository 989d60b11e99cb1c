package chat

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/reposcope/reposcope/config"
)

const (
	defaultOpenRouterEndpoint = "https://openrouter.ai/api/v1"
	defaultOllamaEndpoint     = "http://localhost:11434/v1"
)

// OpenAIGenerator answers with a chat completion model behind any
// OpenAI-compatible endpoint.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
}

func NewOpenAIGenerator(endpoint, apiKey, model string, temperature float32) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = strings.TrimRight(endpoint, "/")
	}
	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
	}
}

func (g *OpenAIGenerator) Name() string {
	return "openai:" + g.model
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: g.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req.Analysis)},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req.Question, req.Context)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("chat completion returned an empty answer")
	}
	return text, nil
}

// NewGeneratorFromConfig creates the configured answer generator.
func NewGeneratorFromConfig(cfg config.ChatConfig) (Generator, error) {
	switch cfg.Provider {
	case "extractive", "":
		return ExtractiveGenerator{}, nil

	case "openai":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openai API key not set (use OPENAI_API_KEY environment variable)")
		}
		return NewOpenAIGenerator(cfg.Endpoint, key, cfg.Model, cfg.Temperature), nil

	case "openrouter":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENROUTER_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openrouter API key not set (use OPENROUTER_API_KEY environment variable)")
		}
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOpenRouterEndpoint
		}
		return NewOpenAIGenerator(endpoint, key, cfg.Model, cfg.Temperature), nil

	case "ollama":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOllamaEndpoint
		}
		return NewOpenAIGenerator(endpoint, "ollama", cfg.Model, cfg.Temperature), nil

	default:
		return nil, fmt.Errorf("unknown chat provider: %s", cfg.Provider)
	}
}
