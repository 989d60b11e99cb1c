// Package registry owns the process-wide mapping from repository id to its
// index. Every mutation goes through a per-repository lock; unrelated
// repositories never contend.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/reposcope/reposcope/domain"
	"github.com/reposcope/reposcope/events"
	"github.com/reposcope/reposcope/git"
	"github.com/reposcope/reposcope/store"
)

// Builder produces a snapshot of a repository directory.
type Builder interface {
	Build(ctx context.Context, repoDir string, prev *store.Snapshot) (*store.Snapshot, error)
	EmbedderVersion() string
}

// Catalog persists repository metadata across restarts.
type Catalog interface {
	Upsert(ctx context.Context, repo domain.Repository) error
	Delete(ctx context.Context, repoID string) error
	List(ctx context.Context) ([]domain.Repository, error)
}

// Options configures optional collaborators. Nil fields disable the feature.
type Options struct {
	Snapshots *store.SnapshotStore
	Catalog   Catalog
	Publisher events.Publisher
	// RecordGit stores the HEAD commit of git checkouts on each build
	RecordGit bool
}

// Registry maps repository ids to their RepoIndex.
type Registry struct {
	builder   Builder
	backend   store.Backend
	snapshots *store.SnapshotStore
	catalog   Catalog
	publisher events.Publisher
	recordGit bool

	entries sync.Map // repo_id -> *RepoIndex
	group   singleflight.Group
	closed  sync.Once

	// highest generation issued per repo_id, kept across removal so backend
	// keys of a retired generation are never reused while it is still read
	genMu   sync.Mutex
	lastGen map[string]uint64
}

func New(builder Builder, backend store.Backend, opts Options) *Registry {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Registry{
		builder:   builder,
		backend:   backend,
		snapshots: opts.Snapshots,
		catalog:   opts.Catalog,
		publisher: publisher,
		recordGit: opts.RecordGit,
		lastGen:   make(map[string]uint64),
	}
}

// EmbedderVersion is the version new generations are built with.
func (r *Registry) EmbedderVersion() string {
	return r.builder.EmbedderVersion()
}

// Register indexes repoDir and installs the result as the current generation
// of its repository. Registering the same directory again rebuilds and
// replaces; concurrent registrations of one directory share a single build,
// which runs under the first caller's context.
func (r *Registry) Register(ctx context.Context, repoDir string) (domain.Repository, error) {
	dir, err := NormalizeDir(repoDir)
	if err != nil {
		return domain.Repository{}, &domain.RepoError{RepoDir: repoDir, Op: "index", Err: domain.IndexErrorf("%v", err)}
	}
	return r.index(ctx, RepoID(dir), dir, false)
}

// Rebuild re-indexes a registered repository from its directory.
func (r *Registry) Rebuild(ctx context.Context, repoID string) (domain.Repository, error) {
	entry, err := r.Get(repoID)
	if err != nil {
		return domain.Repository{}, err
	}
	return r.index(ctx, repoID, entry.RepoDir(), true)
}

// index runs one build per key at a time. Rebuilds share a flight of their
// own so a registration never inherits a rebuild's not-indexed failure.
func (r *Registry) index(ctx context.Context, repoID, dir string, mustExist bool) (domain.Repository, error) {
	key := repoID
	if mustExist {
		key = "rebuild:" + repoID
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.build(ctx, repoID, dir, mustExist)
	})
	if err != nil {
		return domain.Repository{}, err
	}
	return v.(domain.Repository), nil
}

// lockEntry returns the entry of repoID with its build lock held. An entry
// removed while this caller waited is never reused: a rebuild fails and a
// registration starts over from a fresh entry.
func (r *Registry) lockEntry(repoID, dir string, mustExist bool) (*RepoIndex, error) {
	for {
		var entry *RepoIndex
		if v, ok := r.entries.Load(repoID); ok {
			entry = v.(*RepoIndex)
		} else if mustExist {
			return nil, &domain.RepoError{RepoID: repoID, RepoDir: dir, Op: "index", Err: domain.ErrRepoNotIndexed}
		} else {
			entry = newRepoIndex(repoID, dir)
		}

		entry.buildMu.Lock()
		if !entry.removed {
			return entry, nil
		}
		entry.buildMu.Unlock()
		if mustExist {
			return nil, &domain.RepoError{RepoID: repoID, RepoDir: dir, Op: "index", Err: domain.ErrRepoNotIndexed}
		}
	}
}

// nextGeneration issues a generation number above every one this registry
// has used for repoID.
func (r *Registry) nextGeneration(repoID string, prev *store.Snapshot) uint64 {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	next := r.lastGen[repoID] + 1
	if prev != nil && prev.Generation >= next {
		next = prev.Generation + 1
	}
	r.lastGen[repoID] = next
	return next
}

func (r *Registry) noteGeneration(repoID string, generation uint64) {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	if generation > r.lastGen[repoID] {
		r.lastGen[repoID] = generation
	}
}

func (r *Registry) build(ctx context.Context, repoID, dir string, mustExist bool) (domain.Repository, error) {
	entry, err := r.lockEntry(repoID, dir, mustExist)
	if err != nil {
		return domain.Repository{}, err
	}
	defer entry.buildMu.Unlock()

	// changes seen while this build runs mark the repository stale again
	wasStale := entry.stale.Swap(false)

	fail := func(err error) (domain.Repository, error) {
		if wasStale {
			entry.stale.Store(true)
		}
		r.publisher.Publish(ctx, events.IndexEvent{
			Type: events.TypeIndexFailed, RepoID: repoID, RepoDir: dir, Error: err.Error(),
		})
		return domain.Repository{}, &domain.RepoError{RepoID: repoID, RepoDir: dir, Op: "index", Err: err}
	}

	prev := entry.snapshot()
	generation := r.nextGeneration(repoID, prev)

	snap, err := r.builder.Build(ctx, dir, prev)
	if err != nil {
		return fail(err)
	}
	snap.RepoID = repoID
	snap.RepoDir = dir
	snap.Generation = generation
	if r.recordGit {
		if info, err := git.Inspect(ctx, dir); err == nil {
			snap.GitCommit = info.Commit
		}
	}

	gen, err := r.materialize(ctx, snap)
	if err != nil {
		return fail(err)
	}

	if r.snapshots != nil {
		if err := r.snapshots.Save(snap); err != nil {
			log.Printf("Warning: failed to persist snapshot of %s: %v", repoID, err)
		}
	}

	entry.swap(gen)
	r.entries.Store(repoID, entry)

	repo := entry.Info()
	if r.catalog != nil {
		if err := r.catalog.Upsert(ctx, repo); err != nil {
			log.Printf("Warning: failed to record %s in catalog: %v", repoID, err)
		}
	}
	r.publisher.Publish(ctx, events.IndexEvent{
		Type: events.TypeIndexed, RepoID: repoID, RepoDir: dir,
		Generation: generation, ChunkCount: repo.ChunkCount,
	})
	return repo, nil
}

// materialize loads a snapshot into a fresh vector index.
func (r *Registry) materialize(ctx context.Context, snap *store.Snapshot) (*Generation, error) {
	index, err := r.backend.NewIndex(ctx, snap.RepoID, snap.Generation, snap.Dimensions)
	if err != nil {
		return nil, domain.IndexErrorf("failed to create %s index: %v", r.backend.Name(), err)
	}
	if err := index.Add(ctx, snap.Chunks); err != nil {
		_ = index.Close()
		return nil, domain.IndexErrorf("failed to load chunks into %s index: %v", r.backend.Name(), err)
	}
	return newGeneration(snap, index), nil
}

// reopen attaches to backend data a previous process left for snap, and
// uploads the snapshot again when the backend does not have it.
func (r *Registry) reopen(ctx context.Context, snap *store.Snapshot) (*Generation, error) {
	if ro, ok := r.backend.(store.Reopener); ok {
		index, err := ro.OpenIndex(ctx, snap.RepoID, snap.Generation, snap.Dimensions, len(snap.Chunks))
		if err == nil {
			return newGeneration(snap, index), nil
		}
		if !errors.Is(err, store.ErrIndexMissing) {
			log.Printf("Warning: cannot reopen %s index of %s, uploading again: %v", r.backend.Name(), snap.RepoID, err)
		}
	}
	return r.materialize(ctx, snap)
}

// Get returns the entry of repoID or an error matching domain.ErrRepoNotIndexed.
func (r *Registry) Get(repoID string) (*RepoIndex, error) {
	if v, ok := r.entries.Load(repoID); ok {
		return v.(*RepoIndex), nil
	}
	return nil, &domain.RepoError{RepoID: repoID, Op: "lookup", Err: domain.ErrRepoNotIndexed}
}

// Resolve maps a repository id or directory to a registered repository id.
// For directories that are not registered it returns the id they would get
// and false.
func (r *Registry) Resolve(target string) (string, bool) {
	if _, ok := r.entries.Load(target); ok {
		return target, true
	}
	dir, err := NormalizeDir(target)
	if err != nil {
		return target, false
	}
	id := RepoID(dir)
	_, ok := r.entries.Load(id)
	return id, ok
}

// List returns the metadata of every registered repository ordered by id.
func (r *Registry) List() []domain.Repository {
	var repos []domain.Repository
	r.entries.Range(func(_, v any) bool {
		repos = append(repos, v.(*RepoIndex).Info())
		return true
	})
	sort.Slice(repos, func(i, j int) bool {
		return repos[i].RepoID < repos[j].RepoID
	})
	return repos
}

// Remove drops a repository, its persisted snapshot and catalog record.
func (r *Registry) Remove(ctx context.Context, repoID string) error {
	entry, err := r.Get(repoID)
	if err != nil {
		return err
	}

	entry.buildMu.Lock()
	defer entry.buildMu.Unlock()
	return r.removeLocked(ctx, entry)
}

// removeLocked requires entry.buildMu.
func (r *Registry) removeLocked(ctx context.Context, entry *RepoIndex) error {
	repoID := entry.RepoID()
	if entry.removed {
		return &domain.RepoError{RepoID: repoID, Op: "remove", Err: domain.ErrRepoNotIndexed}
	}

	entry.removed = true
	r.entries.Delete(repoID)
	entry.swap(nil)

	if r.snapshots != nil {
		if err := r.snapshots.Delete(repoID); err != nil {
			log.Printf("Warning: failed to delete snapshot of %s: %v", repoID, err)
		}
	}
	if r.catalog != nil {
		if err := r.catalog.Delete(ctx, repoID); err != nil {
			log.Printf("Warning: failed to remove %s from catalog: %v", repoID, err)
		}
	}
	r.publisher.Publish(ctx, events.IndexEvent{Type: events.TypeRemoved, RepoID: repoID, RepoDir: entry.RepoDir()})
	return nil
}

// MarkStale flags a repository whose files changed since its last build.
func (r *Registry) MarkStale(repoID string) bool {
	entry, err := r.Get(repoID)
	if err != nil {
		return false
	}
	if !entry.stale.Swap(true) {
		r.publisher.Publish(context.Background(), events.IndexEvent{
			Type: events.TypeMarkedStale, RepoID: repoID, RepoDir: entry.RepoDir(),
		})
	}
	return true
}

// RefreshResult is the outcome of rebuilding one stale repository.
type RefreshResult struct {
	RepoID     string
	Repository domain.Repository
	Err        error
}

// RefreshStale rebuilds every stale repository, one at a time.
func (r *Registry) RefreshStale(ctx context.Context) []RefreshResult {
	var stale []string
	r.entries.Range(func(k, v any) bool {
		if v.(*RepoIndex).Stale() {
			stale = append(stale, k.(string))
		}
		return true
	})
	sort.Strings(stale)

	results := make([]RefreshResult, 0, len(stale))
	for _, id := range stale {
		if ctx.Err() != nil {
			break
		}
		r.publisher.Publish(ctx, events.IndexEvent{Type: events.TypeRefreshStart, RepoID: id})
		repo, err := r.Rebuild(ctx, id)
		if err != nil {
			log.Printf("Warning: failed to refresh %s: %v", id, err)
		}
		results = append(results, RefreshResult{RepoID: id, Repository: repo, Err: err})
	}
	return results
}

// Load restores repositories from persisted snapshots. Repositories whose
// snapshot is missing or unreadable are skipped with a warning. It returns
// the number of repositories restored.
func (r *Registry) Load(ctx context.Context) (int, error) {
	if r.snapshots == nil {
		return 0, nil
	}

	ids, err := r.persistedIDs(ctx)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, id := range ids {
		snap, err := r.snapshots.Load(id)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Printf("Warning: skipping %s: %v", id, err)
			}
			continue
		}
		if snap.EmbedderVersion != r.builder.EmbedderVersion() {
			log.Printf("Warning: %s was indexed with %s, current embedder is %s; re-index it",
				id, snap.EmbedderVersion, r.builder.EmbedderVersion())
		}

		r.noteGeneration(snap.RepoID, snap.Generation)

		gen, err := r.reopen(ctx, snap)
		if err != nil {
			log.Printf("Warning: failed to restore %s: %v", id, err)
			continue
		}
		entry := newRepoIndex(snap.RepoID, snap.RepoDir)
		entry.swap(gen)
		if _, exists := r.entries.LoadOrStore(snap.RepoID, entry); exists {
			entry.shutdown()
			continue
		}
		loaded++
	}
	return loaded, nil
}

func (r *Registry) persistedIDs(ctx context.Context) ([]string, error) {
	if r.catalog == nil {
		return r.snapshots.List()
	}
	repos, err := r.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	ids := make([]string, len(repos))
	for i, repo := range repos {
		ids[i] = repo.RepoID
	}
	return ids, nil
}

// Close retires every generation without deleting backend data, so the next
// process can reopen it. The registry must not be used afterwards.
func (r *Registry) Close() error {
	r.closed.Do(func() {
		r.entries.Range(func(k, v any) bool {
			entry := v.(*RepoIndex)
			entry.buildMu.Lock()
			entry.removed = true
			entry.shutdown()
			entry.buildMu.Unlock()
			r.entries.Delete(k)
			return true
		})
	})
	return nil
}
