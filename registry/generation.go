package registry

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/reposcope/reposcope/store"
)

// Generation is one immutable build of a repository: its snapshot and the
// vector index over it. Readers hold a reference while they search; the
// generation is closed once it is retired and the last reader releases it.
// A generation replaced by a rebuild or removal also drops its backend data;
// one retired at shutdown keeps it for the next process.
type Generation struct {
	snapshot *store.Snapshot
	index    store.VectorIndex

	refs      atomic.Int64
	retired   atomic.Bool
	drop      atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

func newGeneration(snap *store.Snapshot, index store.VectorIndex) *Generation {
	return &Generation{snapshot: snap, index: index}
}

// ID returns the generation number.
func (g *Generation) ID() uint64 {
	return g.snapshot.Generation
}

// Snapshot returns the build product. Callers must not modify it.
func (g *Generation) Snapshot() *store.Snapshot {
	return g.snapshot
}

// Closed reports whether the generation released its index.
func (g *Generation) Closed() bool {
	return g.closed.Load()
}

func (g *Generation) acquire() {
	g.refs.Add(1)
}

// Release returns a reference taken by RepoIndex.Acquire.
func (g *Generation) Release() {
	if g.refs.Add(-1) == 0 && g.retired.Load() {
		g.close()
	}
}

func (g *Generation) retire(drop bool) {
	g.drop.Store(drop)
	g.retired.Store(true)
	if g.refs.Load() == 0 {
		g.close()
	}
}

func (g *Generation) close() {
	g.closeOnce.Do(func() {
		g.closed.Store(true)
		var err error
		if g.drop.Load() {
			err = g.index.Drop(context.Background())
		} else {
			err = g.index.Close()
		}
		if err != nil {
			log.Printf("Warning: failed to close generation %d of %s: %v", g.ID(), g.snapshot.RepoID, err)
		}
	})
}
