package store

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

const postgresSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS reposcope_chunks (
	repo_id    TEXT   NOT NULL,
	generation BIGINT NOT NULL,
	chunk_id   TEXT   NOT NULL,
	file_path  TEXT   NOT NULL,
	start_line INT    NOT NULL,
	end_line   INT    NOT NULL,
	content    TEXT   NOT NULL,
	hash       TEXT   NOT NULL,
	embedding  vector NOT NULL,
	PRIMARY KEY (repo_id, generation, chunk_id)
);
`

// PostgresBackend keeps every generation in one pgvector table, keyed by
// repository and generation.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend creates the schema and a pool whose connections know
// the vector type.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	_, err = conn.Exec(ctx, postgresSchema)
	conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (b *PostgresBackend) Name() string {
	return "postgres"
}

func (b *PostgresBackend) NewIndex(ctx context.Context, repoID string, generation uint64, dims int) (VectorIndex, error) {
	if _, err := b.pool.Exec(ctx,
		`DELETE FROM reposcope_chunks WHERE repo_id = $1 AND generation = $2`,
		repoID, int64(generation)); err != nil {
		return nil, fmt.Errorf("failed to clear stale rows: %w", err)
	}
	return &postgresIndex{pool: b.pool, repoID: repoID, generation: int64(generation), dims: dims}, nil
}

// OpenIndex reattaches to the rows of a persisted generation. It fails with
// ErrIndexMissing unless exactly size rows are present.
func (b *PostgresBackend) OpenIndex(ctx context.Context, repoID string, generation uint64, dims, size int) (VectorIndex, error) {
	var n int64
	if err := b.pool.QueryRow(ctx,
		`SELECT count(*) FROM reposcope_chunks WHERE repo_id = $1 AND generation = $2`,
		repoID, int64(generation)).Scan(&n); err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}
	if n != int64(size) {
		return nil, fmt.Errorf("%w: generation %d of %s has %d rows, snapshot has %d",
			ErrIndexMissing, generation, repoID, n, size)
	}
	idx := &postgresIndex{pool: b.pool, repoID: repoID, generation: int64(generation), dims: dims}
	idx.count.Store(n)
	return idx, nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

type postgresIndex struct {
	pool       *pgxpool.Pool
	repoID     string
	generation int64
	dims       int
	count      atomic.Int64
}

func (p *postgresIndex) Add(ctx context.Context, chunks []Chunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		if len(c.Vector) != p.dims {
			return fmt.Errorf("chunk %s has %d dimensions, index expects %d", c.ID, len(c.Vector), p.dims)
		}
		batch.Queue(`
			INSERT INTO reposcope_chunks
				(repo_id, generation, chunk_id, file_path, start_line, end_line, content, hash, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (repo_id, generation, chunk_id) DO UPDATE SET
				file_path = EXCLUDED.file_path,
				start_line = EXCLUDED.start_line,
				end_line = EXCLUDED.end_line,
				content = EXCLUDED.content,
				hash = EXCLUDED.hash,
				embedding = EXCLUDED.embedding`,
			p.repoID, p.generation, c.ID, c.FilePath, c.StartLine, c.EndLine, c.Content, c.Hash,
			pgvector.NewVector(c.Vector))
	}

	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	p.count.Add(int64(len(chunks)))
	return nil
}

func (p *postgresIndex) Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error) {
	if len(queryVector) != p.dims {
		return nil, fmt.Errorf("query has %d dimensions, index expects %d", len(queryVector), p.dims)
	}
	if limit <= 0 {
		limit = int(p.count.Load())
	}

	rows, err := p.pool.Query(ctx, `
		SELECT chunk_id, file_path, start_line, end_line, content, hash,
		       1 - (embedding <=> $1) AS score
		FROM reposcope_chunks
		WHERE repo_id = $2 AND generation = $3
		ORDER BY embedding <=> $1, chunk_id
		LIMIT $4`,
		pgvector.NewVector(queryVector), p.repoID, p.generation, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var c Chunk
		var score float64
		if err := rows.Scan(&c.ID, &c.FilePath, &c.StartLine, &c.EndLine, &c.Content, &c.Hash, &score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		results = append(results, SearchResult{Chunk: c, Score: float32(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	SortResults(results)
	return results, nil
}

func (p *postgresIndex) Len() int {
	return int(p.count.Load())
}

// Close is a no-op; the pool belongs to the backend.
func (p *postgresIndex) Close() error {
	return nil
}

// Drop deletes the rows of a retired generation.
func (p *postgresIndex) Drop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := p.pool.Exec(ctx,
		`DELETE FROM reposcope_chunks WHERE repo_id = $1 AND generation = $2`,
		p.repoID, p.generation); err != nil {
		log.Printf("Warning: failed to delete generation %d of %s: %v", p.generation, p.repoID, err)
		return err
	}
	return nil
}
