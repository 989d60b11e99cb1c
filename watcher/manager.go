package watcher

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/reposcope/reposcope/config"
	"github.com/reposcope/reposcope/domain"
	"github.com/reposcope/reposcope/indexer"
	"github.com/reposcope/reposcope/registry"
)

// resyncInterval is how often the set of watched repositories is compared
// with the registry.
const resyncInterval = 30 * time.Second

// Target is the index the manager keeps fresh.
type Target interface {
	ListRepositories() []domain.Repository
	MarkStale(repoID string) bool
	RefreshStale(ctx context.Context) []registry.RefreshResult
}

type watch struct {
	watcher *Watcher
	cancel  context.CancelFunc
}

// Manager runs one Watcher per indexed repository. Changes mark the
// repository stale; stale repositories are rebuilt once no change has been
// seen for the refresh delay.
type Manager struct {
	target            Target
	ignoreNames       []string
	externalGitignore string
	debounce          time.Duration
	refreshDelay      time.Duration

	// OnRefresh, when set, receives the outcome of every refresh round.
	OnRefresh func([]registry.RefreshResult)

	mu      sync.Mutex
	watches map[string]*watch // repo_id -> watch
	refresh chan struct{}
	timer   *time.Timer
	timerMu sync.Mutex
}

func NewManager(target Target, cfg *config.Config) *Manager {
	return &Manager{
		target:            target,
		ignoreNames:       cfg.Ignore,
		externalGitignore: cfg.ExternalGitignore,
		debounce:          time.Duration(cfg.Watch.DebounceMs) * time.Millisecond,
		refreshDelay:      time.Duration(cfg.Watch.RefreshMs) * time.Millisecond,
		watches:           make(map[string]*watch),
		refresh:           make(chan struct{}, 1),
	}
}

// Watched returns the ids of the repositories currently watched.
func (m *Manager) Watched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.watches))
	for id := range m.watches {
		ids = append(ids, id)
	}
	return ids
}

// Run watches every indexed repository until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	defer m.closeAll()

	m.Sync(ctx)
	ticker := time.NewTicker(resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sync(ctx)
		case <-m.refresh:
			results := m.target.RefreshStale(ctx)
			for _, r := range results {
				if r.Err == nil {
					log.Printf("Refreshed %s (generation %d, %d chunks)", r.RepoID, r.Repository.Generation, r.Repository.ChunkCount)
				}
			}
			if m.OnRefresh != nil {
				m.OnRefresh(results)
			}
			m.Sync(ctx)
		}
	}
}

// Sync starts watchers for newly indexed repositories and stops those of
// removed ones.
func (m *Manager) Sync(ctx context.Context) {
	repos := m.target.ListRepositories()
	live := make(map[string]bool, len(repos))

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, repo := range repos {
		live[repo.RepoID] = true
		if _, ok := m.watches[repo.RepoID]; ok {
			continue
		}
		w, err := m.start(ctx, repo)
		if err != nil {
			log.Printf("Warning: cannot watch %s: %v", repo.RepoDir, err)
			continue
		}
		m.watches[repo.RepoID] = w
	}

	for id, w := range m.watches {
		if !live[id] {
			w.cancel()
			_ = w.watcher.Close()
			delete(m.watches, id)
		}
	}
}

func (m *Manager) start(ctx context.Context, repo domain.Repository) (*watch, error) {
	ignore, err := indexer.NewIgnoreMatcher(repo.RepoDir, m.ignoreNames, m.externalGitignore)
	if err != nil {
		return nil, err
	}
	w, err := NewWatcher(repo.RepoDir, ignore, m.debounce)
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithCancel(ctx)
	if err := w.Start(wctx); err != nil {
		cancel()
		_ = w.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case <-wctx.Done():
				return
			case ev := <-w.Events():
				m.changed(repo.RepoID, ev)
			}
		}
	}()
	return &watch{watcher: w, cancel: cancel}, nil
}

func (m *Manager) changed(repoID string, ev FileEvent) {
	if !m.target.MarkStale(repoID) {
		return
	}
	log.Printf("%s %s in %s", ev.Type, ev.Path, repoID)

	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.refreshDelay, func() {
		select {
		case m.refresh <- struct{}{}:
		default:
		}
	})
}

func (m *Manager) closeAll() {
	m.timerMu.Lock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.watches {
		w.cancel()
		_ = w.watcher.Close()
		delete(m.watches, id)
	}
}
