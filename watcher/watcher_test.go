package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/reposcope/reposcope/config"
	"github.com/reposcope/reposcope/domain"
	"github.com/reposcope/reposcope/indexer"
	"github.com/reposcope/reposcope/registry"
)

func startWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	ignore, err := indexer.NewIgnoreMatcher(root, []string{"node_modules"}, "")
	if err != nil {
		t.Fatalf("NewIgnoreMatcher failed: %v", err)
	}
	w, err := NewWatcher(root, ignore, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
	})
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return w
}

func nextEvent(t *testing.T, w *Watcher) FileEvent {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return FileEvent{}
	}
}

func noEvent(t *testing.T, w *Watcher, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event %s %s", ev.Type, ev.Path)
	case <-time.After(wait):
	}
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	path := filepath.Join(root, "main.go")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("package main\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	ev := nextEvent(t, w)
	if ev.Path != "main.go" {
		t.Errorf("Path = %q, want main.go", ev.Path)
	}
	noEvent(t, w, 200*time.Millisecond)
}

func TestWatcher_SkipsIgnoredAndHiddenFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "node_modules", "lib"), 0755); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, root)

	writes := map[string]string{
		"node_modules/lib/index.js": "module.exports = 1\n",
		".env":                      "SECRET=1\n",
		"logo.png":                  "not really a png",
	}
	for name, content := range writes {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	noEvent(t, w, 300*time.Millisecond)

	if err := os.WriteFile(filepath.Join(root, "util.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if ev := nextEvent(t, w); ev.Path != "util.go" {
		t.Errorf("Path = %q, want util.go", ev.Path)
	}
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	if err := os.Mkdir(filepath.Join(root, "pkg"), 0755); err != nil {
		t.Fatal(err)
	}
	if ev := nextEvent(t, w); ev.Path != "pkg" || ev.Type != EventCreate {
		t.Fatalf("got %s %s, want CREATE pkg", ev.Type, ev.Path)
	}

	if err := os.WriteFile(filepath.Join(root, "pkg", "a.go"), []byte("package pkg\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if ev := nextEvent(t, w); ev.Path != "pkg/a.go" {
		t.Errorf("Path = %q, want pkg/a.go", ev.Path)
	}
}

func TestEventType_String(t *testing.T) {
	tests := map[EventType]string{
		EventCreate:   "CREATE",
		EventModify:   "MODIFY",
		EventDelete:   "DELETE",
		EventRename:   "RENAME",
		EventType(42): "UNKNOWN",
	}
	for ev, want := range tests {
		if got := ev.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", ev, got, want)
		}
	}
}

type fakeTarget struct {
	mu        sync.Mutex
	repos     []domain.Repository
	stale     map[string]int
	refreshed chan struct{}
}

func (f *fakeTarget) ListRepositories() []domain.Repository {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Repository(nil), f.repos...)
}

func (f *fakeTarget) MarkStale(repoID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stale[repoID]++
	return true
}

func (f *fakeTarget) RefreshStale(ctx context.Context) []registry.RefreshResult {
	f.mu.Lock()
	var results []registry.RefreshResult
	for id := range f.stale {
		results = append(results, registry.RefreshResult{RepoID: id})
	}
	f.stale = map[string]int{}
	f.mu.Unlock()

	select {
	case f.refreshed <- struct{}{}:
	default:
	}
	return results
}

func TestManager_MarksStaleAndRefreshes(t *testing.T) {
	root := t.TempDir()
	target := &fakeTarget{
		repos:     []domain.Repository{{RepoID: "app-000000000001", RepoDir: root}},
		stale:     map[string]int{},
		refreshed: make(chan struct{}, 1),
	}
	cfg := config.DefaultConfig()
	cfg.Watch.DebounceMs = 20
	cfg.Watch.RefreshMs = 50

	m := NewManager(target, cfg)
	var got []registry.RefreshResult
	var gotMu sync.Mutex
	m.OnRefresh = func(results []registry.RefreshResult) {
		gotMu.Lock()
		got = append(got, results...)
		gotMu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(3 * time.Second)
	for len(m.Watched()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("repository never watched")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-target.refreshed:
	case <-time.After(3 * time.Second):
		t.Fatal("stale repository was never refreshed")
	}

	time.Sleep(20 * time.Millisecond)
	gotMu.Lock()
	defer gotMu.Unlock()
	if len(got) != 1 || got[0].RepoID != "app-000000000001" {
		t.Errorf("refresh results = %+v, want one result for app-000000000001", got)
	}
}

func TestManager_StopsWatchingRemovedRepositories(t *testing.T) {
	target := &fakeTarget{
		repos: []domain.Repository{{RepoID: "app-000000000001", RepoDir: t.TempDir()}},
		stale: map[string]int{},
	}
	m := NewManager(target, config.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Sync(ctx)
	if n := len(m.Watched()); n != 1 {
		t.Fatalf("watched %d repositories, want 1", n)
	}

	target.mu.Lock()
	target.repos = nil
	target.mu.Unlock()

	m.Sync(ctx)
	if n := len(m.Watched()); n != 0 {
		t.Errorf("watched %d repositories after removal, want 0", n)
	}
	m.closeAll()
}
