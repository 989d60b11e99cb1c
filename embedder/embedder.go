// Package embedder turns text into fixed-size vectors.
package embedder

import (
	"context"
	"math"
)

// Embedder produces embeddings for chunks and queries. Version identifies the
// embedding space: vectors from different versions must never be compared.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Version() string
	Close() error
}

// Pinger is implemented by remote embedders that can check connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Normalize scales v to unit length in place and returns it. Zero vectors are
// left untouched.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
