package store

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// MemoryBackend keeps every index in process memory.
type MemoryBackend struct{}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Name() string {
	return "memory"
}

func (b *MemoryBackend) NewIndex(ctx context.Context, repoID string, generation uint64, dims int) (VectorIndex, error) {
	return NewFlatIndex(dims), nil
}

func (b *MemoryBackend) Close() error {
	return nil
}

// FlatIndex is an exhaustive cosine index.
type FlatIndex struct {
	dims   int
	chunks []Chunk
	mu     sync.RWMutex
}

func NewFlatIndex(dims int) *FlatIndex {
	return &FlatIndex{dims: dims}
}

func (f *FlatIndex) Add(ctx context.Context, chunks []Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range chunks {
		if len(c.Vector) != f.dims {
			return fmt.Errorf("chunk %s has %d dimensions, index expects %d", c.ID, len(c.Vector), f.dims)
		}
		f.chunks = append(f.chunks, c)
	}
	return nil
}

func (f *FlatIndex) Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(queryVector) != f.dims {
		return nil, fmt.Errorf("query has %d dimensions, index expects %d", len(queryVector), f.dims)
	}

	results := make([]SearchResult, 0, len(f.chunks))
	for _, chunk := range f.chunks {
		results = append(results, SearchResult{
			Chunk: chunk,
			Score: cosineSimilarity(queryVector, chunk.Vector),
		})
	}

	SortResults(results)

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.chunks)
}

func (f *FlatIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = nil
	return nil
}

func (f *FlatIndex) Drop(context.Context) error {
	return f.Close()
}

// cosineSimilarity calculates the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64

	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}
