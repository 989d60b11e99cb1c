package store

import (
	"context"
	"fmt"

	"github.com/reposcope/reposcope/config"
)

// NewBackend opens the vector backend selected in cfg.
func NewBackend(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "postgres":
		b, err := NewPostgresBackend(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "qdrant":
		q := cfg.Qdrant
		b, err := NewQdrantBackend(q.Endpoint, q.Port, q.CollectionPrefix, q.APIKey, q.UseTLS)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}
