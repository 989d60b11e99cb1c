// Package engine exposes the transport-agnostic operations of reposcope:
// listing, indexing and removing repositories, searching them and answering
// questions about them. The CLI, HTTP server and MCP server are thin layers
// over an Engine.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/reposcope/reposcope/catalog"
	"github.com/reposcope/reposcope/chat"
	"github.com/reposcope/reposcope/config"
	"github.com/reposcope/reposcope/embedder"
	"github.com/reposcope/reposcope/events"
	"github.com/reposcope/reposcope/indexer"
	"github.com/reposcope/reposcope/query"
	"github.com/reposcope/reposcope/registry"
	"github.com/reposcope/reposcope/store"
)

// Options overrides collaborators that are otherwise built from the config.
type Options struct {
	// HomeDir holds the catalog and snapshots. Empty keeps everything in memory.
	HomeDir   string
	Embedder  embedder.Embedder
	Backend   store.Backend
	Generator chat.Generator
	Publisher events.Publisher
	Progress  indexer.ProgressCallback
}

// Engine owns the index registry and everything that reads from it. Create
// one per process and Close it at shutdown.
type Engine struct {
	cfg       *config.Config
	emb       embedder.Embedder
	backend   store.Backend
	catalog   *catalog.Catalog
	publisher events.Publisher
	registry  *registry.Registry
	planner   *query.Planner
	responder *chat.Responder

	closeOnce sync.Once
}

// Open loads the configuration under homeDir and creates an Engine over it.
func Open(ctx context.Context, homeDir string, opts Options) (*Engine, error) {
	config.LoadEnv(homeDir)
	cfg, err := config.Load(homeDir)
	if err != nil {
		return nil, err
	}
	opts.HomeDir = homeDir
	return New(ctx, cfg, opts)
}

// New creates an Engine and restores previously indexed repositories.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *Engine, err error) {
	e := &Engine{cfg: cfg}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	e.emb = opts.Embedder
	if e.emb == nil {
		if e.emb, err = embedder.NewFromConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
	}

	e.backend = opts.Backend
	if e.backend == nil {
		if e.backend, err = store.NewBackend(ctx, cfg.Store); err != nil {
			return nil, fmt.Errorf("failed to create %s backend: %w", cfg.Store.Backend, err)
		}
	}

	e.publisher = opts.Publisher
	if e.publisher == nil {
		if e.publisher, err = events.New(cfg.Events.NATSURL, cfg.Events.Subject); err != nil {
			return nil, err
		}
	}

	regOpts := registry.Options{Publisher: e.publisher, RecordGit: true}
	if opts.HomeDir != "" && cfg.Store.Persist {
		regOpts.Snapshots = store.NewSnapshotStore(config.GetIndexDir(opts.HomeDir))
		if e.catalog, err = catalog.Open(config.GetCatalogPath(opts.HomeDir)); err != nil {
			return nil, err
		}
		regOpts.Catalog = e.catalog
	}

	var builderOpts []indexer.BuilderOption
	if opts.Progress != nil {
		builderOpts = append(builderOpts, indexer.WithProgress(opts.Progress))
	}
	builder := indexer.NewBuilderFromConfig(cfg, e.emb, builderOpts...)
	e.registry = registry.New(builder, e.backend, regOpts)

	if e.planner, err = query.NewPlanner(e.emb, query.RegistryLookup(e.registry), query.OptionsFromConfig(cfg.Search)); err != nil {
		return nil, err
	}

	generator := opts.Generator
	if generator == nil {
		if generator, err = chat.NewGeneratorFromConfig(cfg.Chat); err != nil {
			return nil, err
		}
	}
	e.responder = chat.NewResponder(e.planner, generator, chat.OptionsFromConfig(cfg.Chat))

	n, err := e.registry.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to restore indexes: %w", err)
	}
	if n > 0 {
		log.Printf("Restored %d indexed repositories", n)
	}
	return e, nil
}

// Config returns the configuration the engine runs with.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Registry returns the index registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Close releases every index and connection. It is safe to call twice.
func (e *Engine) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.closeOnce.Do(func() {
		if e.registry != nil {
			keep(e.registry.Close())
		}
		if e.backend != nil {
			keep(e.backend.Close())
		}
		if e.catalog != nil {
			keep(e.catalog.Close())
		}
		if e.publisher != nil {
			keep(e.publisher.Close())
		}
		if e.emb != nil {
			keep(e.emb.Close())
		}
	})
	return firstErr
}
