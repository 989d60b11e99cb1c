// Package catalog records which repositories are registered, so a restarted
// process knows what to reload.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/reposcope/reposcope/domain"
	"github.com/reposcope/reposcope/internal/fileutil"
)

const schema = `
CREATE TABLE IF NOT EXISTS repositories (
	repo_id     TEXT PRIMARY KEY,
	repo_dir    TEXT NOT NULL UNIQUE,
	indexed_at  TEXT NOT NULL,
	chunk_count INTEGER NOT NULL,
	file_count  INTEGER NOT NULL,
	embedder    TEXT NOT NULL,
	generation  INTEGER NOT NULL,
	git_commit  TEXT
)
`

// Catalog is the SQLite-backed list of registered repositories.
type Catalog struct {
	db   *sql.DB
	path string
}

// Open creates or opens the catalog database at path.
func Open(path string) (*Catalog, error) {
	if err := fileutil.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("creating catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating catalog schema: %w", err)
	}
	return &Catalog{db: db, path: path}, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Path returns the database file path.
func (c *Catalog) Path() string {
	return c.path
}

// Upsert records the current state of a repository.
func (c *Catalog) Upsert(ctx context.Context, repo domain.Repository) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO repositories (repo_id, repo_dir, indexed_at, chunk_count, file_count, embedder, generation, git_commit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id) DO UPDATE SET
			repo_dir = excluded.repo_dir,
			indexed_at = excluded.indexed_at,
			chunk_count = excluded.chunk_count,
			file_count = excluded.file_count,
			embedder = excluded.embedder,
			generation = excluded.generation,
			git_commit = excluded.git_commit
	`, repo.RepoID, repo.RepoDir, repo.IndexedAt.UTC().Format(time.RFC3339Nano),
		repo.ChunkCount, repo.FileCount, repo.Embedder, int64(repo.Generation), nullString(repo.GitCommit))
	if err != nil {
		return fmt.Errorf("saving repository %s: %w", repo.RepoID, err)
	}
	return nil
}

// Delete removes a repository. Deleting an unknown id is not an error.
func (c *Catalog) Delete(ctx context.Context, repoID string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM repositories WHERE repo_id = ?", repoID); err != nil {
		return fmt.Errorf("deleting repository %s: %w", repoID, err)
	}
	return nil
}

// Get returns the repository with the given id, or nil when it is unknown.
func (c *Catalog) Get(ctx context.Context, repoID string) (*domain.Repository, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT repo_id, repo_dir, indexed_at, chunk_count, file_count, embedder, generation, git_commit
		FROM repositories WHERE repo_id = ?
	`, repoID)

	repo, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// List returns every repository ordered by id.
func (c *Catalog) List(ctx context.Context) ([]domain.Repository, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT repo_id, repo_dir, indexed_at, chunk_count, file_count, embedder, generation, git_commit
		FROM repositories ORDER BY repo_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying repositories: %w", err)
	}
	defer rows.Close()

	var repos []domain.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating repositories: %w", err)
	}
	return repos, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRepository(row scanner) (*domain.Repository, error) {
	var (
		repo       domain.Repository
		indexedAt  string
		generation int64
		gitCommit  sql.NullString
	)
	if err := row.Scan(&repo.RepoID, &repo.RepoDir, &indexedAt, &repo.ChunkCount, &repo.FileCount,
		&repo.Embedder, &generation, &gitCommit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning repository: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, indexedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing indexed_at of %s: %w", repo.RepoID, err)
	}
	repo.IndexedAt = t
	repo.Generation = uint64(generation)
	repo.GitCommit = gitCommit.String
	return &repo, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
