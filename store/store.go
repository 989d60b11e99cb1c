package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Chunk represents a piece of code with its vector embedding
type Chunk struct {
	ID        string    `json:"id"`
	FilePath  string    `json:"file_path"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	Content   string    `json:"content"`
	Vector    []float32 `json:"vector,omitempty"`
	Hash      string    `json:"hash"`
}

// SearchResult represents a search match with its relevance score
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// Snapshot is everything one build of a repository produced. It is never
// modified after the build returns.
type Snapshot struct {
	RepoID          string
	RepoDir         string
	Generation      uint64
	EmbedderVersion string
	Dimensions      int
	BuiltAt         time.Time
	FileCount       int
	GitCommit       string
	Chunks          []Chunk
}

// VectorIndex answers nearest-neighbour queries over the chunks of one
// snapshot. Close releases backend resources (collections, rows) that
// belong to the snapshot.
type VectorIndex interface {
	// Add stores chunks; it is only called while the snapshot is built
	Add(ctx context.Context, chunks []Chunk) error

	// Search returns at most limit chunks ordered by SortResults
	Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error)

	Len() int

	// Close releases the index; data kept by a remote backend stays
	Close() error

	// Drop deletes the generation from the backend and releases the index
	Drop(ctx context.Context) error
}

// ErrIndexMissing is returned by Reopener when a generation's data is absent
// or incomplete in the backend.
var ErrIndexMissing = errors.New("index missing from backend")

// Reopener is implemented by backends whose data outlives the process, so a
// persisted generation can be searched again without re-uploading it.
type Reopener interface {
	OpenIndex(ctx context.Context, repoID string, generation uint64, dims, size int) (VectorIndex, error)
}

// Backend creates one VectorIndex per repository generation.
type Backend interface {
	Name() string
	NewIndex(ctx context.Context, repoID string, generation uint64, dims int) (VectorIndex, error)
	Close() error
}

// ChunkLess orders chunks by file, start line, then ID.
func ChunkLess(a, b Chunk) bool {
	if a.FilePath != b.FilePath {
		return a.FilePath < b.FilePath
	}
	if a.StartLine != b.StartLine {
		return a.StartLine < b.StartLine
	}
	return a.ID < b.ID
}

// IDLess orders chunk IDs shorter first, then lexically.
func IDLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// SortResults orders results by score descending, ties broken by IDLess.
func SortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return IDLess(results[i].Chunk.ID, results[j].Chunk.ID)
	})
}
