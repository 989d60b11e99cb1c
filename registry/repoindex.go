package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/reposcope/reposcope/domain"
	"github.com/reposcope/reposcope/store"
)

// RepoIndex is the registry entry of one repository. It points at the
// current generation and swaps it atomically on rebuild, so a reader sees
// either the old or the new generation in full.
type RepoIndex struct {
	repoID  string
	repoDir string

	mu      sync.RWMutex
	current *Generation

	// buildMu serializes builds and removal of this repository
	buildMu sync.Mutex
	// removed is set under buildMu once the entry left the registry; a build
	// queued behind the removal must not bring it back
	removed bool
	stale   atomic.Bool
}

func newRepoIndex(repoID, repoDir string) *RepoIndex {
	return &RepoIndex{repoID: repoID, repoDir: repoDir}
}

func (r *RepoIndex) RepoID() string {
	return r.repoID
}

func (r *RepoIndex) RepoDir() string {
	return r.repoDir
}

// Acquire returns the current generation with a reference held. Callers
// must call Release on it.
func (r *RepoIndex) Acquire() (*Generation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.current == nil {
		return nil, &domain.RepoError{RepoID: r.repoID, RepoDir: r.repoDir, Op: "search", Err: domain.ErrRepoNotIndexed}
	}
	r.current.acquire()
	return r.current, nil
}

// Search runs a nearest-neighbour lookup on the current generation.
// embedderVersion must match the version the generation was built with.
func (r *RepoIndex) Search(ctx context.Context, queryVector []float32, embedderVersion string, k int) ([]store.SearchResult, uint64, error) {
	gen, err := r.Acquire()
	if err != nil {
		return nil, 0, err
	}
	defer gen.Release()

	snap := gen.Snapshot()
	if snap.EmbedderVersion != embedderVersion {
		return nil, 0, &domain.RepoError{
			RepoID: r.repoID, RepoDir: r.repoDir, Op: "search",
			Err: fmt.Errorf("%w: index built with %s, query embedded with %s (re-index required)",
				domain.ErrEmbeddingVersionMismatch, snap.EmbedderVersion, embedderVersion),
		}
	}
	if len(queryVector) != snap.Dimensions {
		return nil, 0, &domain.RepoError{
			RepoID: r.repoID, RepoDir: r.repoDir, Op: "search",
			Err: fmt.Errorf("%w: index has %d dimensions, query has %d",
				domain.ErrEmbeddingVersionMismatch, snap.Dimensions, len(queryVector)),
		}
	}

	results, err := gen.index.Search(ctx, queryVector, k)
	if err != nil {
		return nil, 0, &domain.RepoError{RepoID: r.repoID, RepoDir: r.repoDir, Op: "search", Err: err}
	}
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, gen.ID(), nil
}

// Info returns the repository metadata of the current generation.
func (r *RepoIndex) Info() domain.Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()

	repo := domain.Repository{
		RepoID:  r.repoID,
		RepoDir: r.repoDir,
		Stale:   r.stale.Load(),
	}
	if r.current != nil {
		snap := r.current.Snapshot()
		repo.IndexedAt = snap.BuiltAt
		repo.ChunkCount = len(snap.Chunks)
		repo.FileCount = snap.FileCount
		repo.Embedder = snap.EmbedderVersion
		repo.Generation = snap.Generation
		repo.GitCommit = snap.GitCommit
	}
	return repo
}

// Stale reports whether files changed since the current generation was built.
func (r *RepoIndex) Stale() bool {
	return r.stale.Load()
}

func (r *RepoIndex) snapshot() *store.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return nil
	}
	return r.current.Snapshot()
}

// swap installs next as the current generation and retires the previous
// one, dropping its backend data.
func (r *RepoIndex) swap(next *Generation) {
	r.replace(next, true)
}

// shutdown retires the current generation and keeps its backend data.
func (r *RepoIndex) shutdown() {
	r.replace(nil, false)
}

func (r *RepoIndex) replace(next *Generation, drop bool) {
	r.mu.Lock()
	old := r.current
	r.current = next
	r.mu.Unlock()

	if old != nil {
		old.retire(drop)
	}
}
