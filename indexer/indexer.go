package indexer

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/reposcope/reposcope/config"
	"github.com/reposcope/reposcope/domain"
	"github.com/reposcope/reposcope/embedder"
	"github.com/reposcope/reposcope/store"
	"golang.org/x/sync/errgroup"
)

// ProgressInfo reports build progress for one repository.
type ProgressInfo struct {
	Stage   string // "scan", "chunk" or "embed"
	Current int
	Total   int
}

// ProgressCallback is called from build goroutines; implementations must be
// safe for concurrent use.
type ProgressCallback func(repoDir string, info ProgressInfo)

// Builder produces immutable snapshots (chunks plus embeddings) of a
// repository directory.
type Builder struct {
	chunker           *Chunker
	embedder          embedder.Embedder
	ignoreNames       []string
	externalGitignore string
	maxFileBytes      int64
	batchSize         int
	parallelism       int
	onProgress        ProgressCallback
}

type BuilderOption func(*Builder)

func WithIgnore(names []string, externalGitignore string) BuilderOption {
	return func(b *Builder) {
		b.ignoreNames = names
		b.externalGitignore = externalGitignore
	}
}

func WithMaxFileBytes(n int64) BuilderOption {
	return func(b *Builder) {
		b.maxFileBytes = n
	}
}

func WithBatching(batchSize, parallelism int) BuilderOption {
	return func(b *Builder) {
		if batchSize > 0 {
			b.batchSize = batchSize
		}
		if parallelism > 0 {
			b.parallelism = parallelism
		}
	}
}

func WithProgress(cb ProgressCallback) BuilderOption {
	return func(b *Builder) {
		b.onProgress = cb
	}
}

func NewBuilder(emb embedder.Embedder, chunker *Chunker, opts ...BuilderOption) *Builder {
	b := &Builder{
		chunker:     chunker,
		embedder:    emb,
		batchSize:   32,
		parallelism: 4,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewBuilderFromConfig wires chunking, ignore rules and batching from cfg.
func NewBuilderFromConfig(cfg *config.Config, emb embedder.Embedder, opts ...BuilderOption) *Builder {
	chunker := NewChunker(ChunkOptions{
		MinLines:     cfg.Chunking.MinLines,
		MaxLines:     cfg.Chunking.MaxLines,
		WindowLines:  cfg.Chunking.WindowLines,
		OverlapLines: cfg.Chunking.OverlapLines,
		MaxChars:     cfg.Chunking.MaxChars,
	}, NewBoundaryFinder(cfg.Chunking.Mode))

	base := []BuilderOption{
		WithIgnore(cfg.Ignore, cfg.ExternalGitignore),
		WithMaxFileBytes(cfg.Index.MaxFileBytes),
		WithBatching(cfg.Embedder.BatchSize, cfg.Embedder.Parallelism),
	}
	return NewBuilder(emb, chunker, append(base, opts...)...)
}

// EmbedderVersion is the version stamped on every snapshot this builder makes.
func (b *Builder) EmbedderVersion() string {
	return b.embedder.Version()
}

// Build scans, chunks and embeds repoDir. Vectors from prev are reused for
// chunks whose path and content did not change, provided prev was built with
// the same embedder version. Build fails with domain.ErrIndex when the
// directory is missing or holds nothing indexable.
func (b *Builder) Build(ctx context.Context, repoDir string, prev *store.Snapshot) (*store.Snapshot, error) {
	start := time.Now()

	info, err := os.Stat(repoDir)
	if err != nil {
		return nil, domain.IndexErrorf("cannot read %s: %v", repoDir, err)
	}
	if !info.IsDir() {
		return nil, domain.IndexErrorf("%s is not a directory", repoDir)
	}

	matcher, err := NewIgnoreMatcher(repoDir, b.ignoreNames, b.externalGitignore)
	if err != nil {
		return nil, domain.IndexErrorf("failed to load ignore rules: %v", err)
	}

	files, skipped, err := NewScanner(repoDir, matcher, b.maxFileBytes).Scan()
	if err != nil {
		return nil, domain.IndexErrorf("failed to scan %s: %v", repoDir, err)
	}
	b.report(repoDir, ProgressInfo{Stage: "scan", Current: len(files), Total: len(files)})
	if len(files) == 0 {
		return nil, domain.IndexErrorf("no indexable files in %s (%d skipped)", repoDir, len(skipped))
	}

	var chunks []store.Chunk
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, ci := range b.chunker.Chunk(f.Path, f.Content) {
			chunks = append(chunks, store.Chunk{
				ID:        ci.ID,
				FilePath:  ci.FilePath,
				StartLine: ci.StartLine,
				EndLine:   ci.EndLine,
				Content:   ci.Content,
				Hash:      ci.Hash,
			})
		}
		b.report(repoDir, ProgressInfo{Stage: "chunk", Current: i + 1, Total: len(files)})
	}
	if len(chunks) == 0 {
		return nil, domain.IndexErrorf("no chunks produced for %s", repoDir)
	}

	reused, err := b.embed(ctx, repoDir, chunks, prev)
	if err != nil {
		return nil, err
	}

	sort.Slice(chunks, func(i, j int) bool {
		return store.ChunkLess(chunks[i], chunks[j])
	})

	log.Printf("Indexed %s: %d files, %d chunks (%d reused embeddings) in %v",
		repoDir, len(files), len(chunks), reused, time.Since(start).Round(time.Millisecond))

	return &store.Snapshot{
		RepoDir:         repoDir,
		EmbedderVersion: b.embedder.Version(),
		Dimensions:      b.embedder.Dimensions(),
		BuiltAt:         time.Now().UTC(),
		FileCount:       len(files),
		Chunks:          chunks,
	}, nil
}

// embed fills chunk vectors in place and returns how many came from prev.
func (b *Builder) embed(ctx context.Context, repoDir string, chunks []store.Chunk, prev *store.Snapshot) (int, error) {
	cache := make(map[string][]float32)
	if prev != nil && prev.EmbedderVersion == b.embedder.Version() {
		for _, c := range prev.Chunks {
			cache[cacheKey(c)] = c.Vector
		}
	}

	reused := 0
	// identical chunks inside this build are embedded once
	owners := make(map[string]int)
	var pending []int
	for i := range chunks {
		key := cacheKey(chunks[i])
		if vec, ok := cache[key]; ok {
			chunks[i].Vector = vec
			reused++
			continue
		}
		if _, ok := owners[key]; ok {
			continue
		}
		owners[key] = i
		pending = append(pending, i)
	}

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallelism)
	for startIdx := 0; startIdx < len(pending); startIdx += b.batchSize {
		end := startIdx + b.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[startIdx:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for j, idx := range batch {
				texts[j] = EmbeddingText(chunks[idx].FilePath, chunks[idx].Content)
			}
			vecs, err := b.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
			}
			for j, idx := range batch {
				if len(vecs[j]) != b.embedder.Dimensions() {
					return fmt.Errorf("embedder returned %d dimensions, expected %d", len(vecs[j]), b.embedder.Dimensions())
				}
				chunks[idx].Vector = embedder.Normalize(vecs[j])
			}
			n := done.Add(int64(len(batch)))
			b.report(repoDir, ProgressInfo{Stage: "embed", Current: int(n), Total: len(pending)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("%w: embedding failed: %w", domain.ErrIndex, err)
	}

	for i := range chunks {
		if chunks[i].Vector == nil {
			chunks[i].Vector = chunks[owners[cacheKey(chunks[i])]].Vector
		}
	}
	return reused, nil
}

func (b *Builder) report(repoDir string, info ProgressInfo) {
	if b.onProgress != nil {
		b.onProgress(repoDir, info)
	}
}

// cacheKey identifies the embedding input of a chunk: the path is part of
// the embedded text, so it is part of the key.
func cacheKey(c store.Chunk) string {
	return c.FilePath + "\x00" + c.Hash
}
