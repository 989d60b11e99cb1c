package embedder

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to a remote embedder with a token bucket. Each
// batch request consumes one token.
type RateLimited struct {
	Embedder
	limiter *rate.Limiter
}

// NewRateLimited wraps e so that at most requestsPerSecond calls (with the
// given burst) reach the provider.
func NewRateLimited(e Embedder, requestsPerSecond float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		Embedder: e,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.Embedder.Embed(ctx, text)
}

func (r *RateLimited) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.Embedder.EmbedBatch(ctx, texts)
}

// Unwrap returns the throttled embedder.
func (r *RateLimited) Unwrap() Embedder {
	return r.Embedder
}
