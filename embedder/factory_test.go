package embedder

import (
	"fmt"
	"testing"

	"github.com/reposcope/reposcope/config"
)

func TestNewFromConfig_Providers(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENROUTER_API_KEY", "test-key")

	tests := []struct {
		provider string
		wantType string
	}{
		{"hash", "*embedder.HashEmbedder"},
		{"ollama", "*embedder.OllamaEmbedder"},
		{"openai", "*embedder.OpenAIEmbedder"},
		{"openrouter", "*embedder.OpenRouterEmbedder"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Embedder.Provider = tt.provider

			emb, err := NewFromConfig(cfg)
			if err != nil {
				t.Fatalf("failed to create embedder: %v", err)
			}
			defer emb.Close()

			if got := typeName(emb); got != tt.wantType {
				t.Errorf("expected %s, got %s", tt.wantType, got)
			}
		})
	}
}

func TestNewFromConfig_AppliesDimensions(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	for _, provider := range []string{"hash", "ollama", "openai"} {
		t.Run(provider, func(t *testing.T) {
			dims := 256
			cfg := config.DefaultConfig()
			cfg.Embedder.Provider = provider
			cfg.Embedder.Dimensions = &dims

			emb, err := NewFromConfig(cfg)
			if err != nil {
				t.Fatalf("failed to create embedder: %v", err)
			}
			if emb.Dimensions() != dims {
				t.Errorf("expected %d dimensions, got %d", dims, emb.Dimensions())
			}
		})
	}
}

func TestNewFromConfig_RateLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Embedder.RateLimit = 5

	emb, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("failed to create embedder: %v", err)
	}
	if _, ok := emb.(*RateLimited); !ok {
		t.Errorf("expected *RateLimited, got %T", emb)
	}
}

func TestNewFromConfig_UnknownProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Embedder.Provider = "carrier-pigeon"

	if _, err := NewFromConfig(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
