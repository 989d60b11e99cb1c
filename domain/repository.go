package domain

import "time"

// Repository is the metadata of one indexed source directory.
type Repository struct {
	RepoID     string    `json:"repo_id"`
	RepoDir    string    `json:"repo_dir"`
	IndexedAt  time.Time `json:"indexed_at"`
	ChunkCount int       `json:"chunk_count"`
	FileCount  int       `json:"file_count"`
	Embedder   string    `json:"embedder"`
	Generation uint64    `json:"generation"`
	GitCommit  string    `json:"git_commit,omitempty"`
	Stale      bool      `json:"stale"`
}
