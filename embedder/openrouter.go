package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

const (
	defaultOpenRouterEndpoint = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel    = "openai/text-embedding-3-small"
	openRouterDimensions      = 1536
)

// OpenRouterEmbedder implements Embedder for the OpenRouter embeddings API.
type OpenRouterEmbedder struct {
	endpoint   string
	model      string
	apiKey     string
	dimensions *int
	client     *http.Client
}

type openRouterEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions *int     `json:"dimensions,omitempty"`
}

type openRouterEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type openRouterErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type OpenRouterOption func(*OpenRouterEmbedder)

func WithOpenRouterEndpoint(endpoint string) OpenRouterOption {
	return func(e *OpenRouterEmbedder) {
		if endpoint != "" {
			e.endpoint = endpoint
		}
	}
}

func WithOpenRouterModel(model string) OpenRouterOption {
	return func(e *OpenRouterEmbedder) {
		if model != "" {
			e.model = model
		}
	}
}

func WithOpenRouterKey(key string) OpenRouterOption {
	return func(e *OpenRouterEmbedder) {
		e.apiKey = key
	}
}

func WithOpenRouterDimensions(dimensions int) OpenRouterOption {
	return func(e *OpenRouterEmbedder) {
		e.dimensions = &dimensions
	}
}

func WithOpenRouterHTTPClient(client *http.Client) OpenRouterOption {
	return func(e *OpenRouterEmbedder) {
		e.client = client
	}
}

func NewOpenRouterEmbedder(opts ...OpenRouterOption) (*OpenRouterEmbedder, error) {
	e := &OpenRouterEmbedder{
		endpoint: defaultOpenRouterEndpoint,
		model:    defaultOpenRouterModel,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.apiKey == "" {
		e.apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if e.apiKey == "" {
		e.apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if e.apiKey == "" {
		return nil, fmt.Errorf("openrouter API key not set (use OPENROUTER_API_KEY or OPENAI_API_KEY environment variable)")
	}

	return e, nil
}

func (e *OpenRouterEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (e *OpenRouterEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var result openRouterEmbedResponse
	err := postJSON(ctx, e.client, e.endpoint+"/embeddings", e.headers(),
		openRouterEmbedRequest{Model: e.model, Input: texts, Dimensions: e.dimensions},
		&result, openRouterErrorMessage)
	if err != nil {
		return nil, fmt.Errorf("openrouter: %w", err)
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openrouter: expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	// Results may arrive out of order
	embeddings := make([][]float32, len(texts))
	for _, item := range result.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("openrouter: embedding index %d out of range", item.Index)
		}
		embeddings[item.Index] = Normalize(item.Embedding)
	}

	return embeddings, nil
}

func (e *OpenRouterEmbedder) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + e.apiKey,
		"HTTP-Referer":  "reposcope",
		"X-Title":       "reposcope",
	}
}

func openRouterErrorMessage(body []byte) string {
	var errResp openRouterErrorResponse
	if json.Unmarshal(body, &errResp) == nil {
		return errResp.Error.Message
	}
	return ""
}

func (e *OpenRouterEmbedder) Dimensions() int {
	if e.dimensions == nil {
		return openRouterDimensions
	}
	return *e.dimensions
}

func (e *OpenRouterEmbedder) Version() string {
	return fmt.Sprintf("openrouter:%s:%d", e.model, e.Dimensions())
}

func (e *OpenRouterEmbedder) Close() error {
	return nil
}

// Ping checks if the OpenRouter API is reachable with the configured key.
func (e *OpenRouterEmbedder) Ping(ctx context.Context) error {
	if _, err := e.EmbedBatch(ctx, []string{"ping"}); err != nil {
		return fmt.Errorf("failed to reach OpenRouter at %s: %w", e.endpoint, err)
	}
	return nil
}
