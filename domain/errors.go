// Package domain holds the types and errors shared by every reposcope layer.
package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the external operations.
var (
	ErrInvalidQuery             = errors.New("invalid query")
	ErrRepoNotIndexed           = errors.New("repository not indexed")
	ErrIndex                    = errors.New("index error")
	ErrEmbeddingVersionMismatch = errors.New("embedding version mismatch")
	ErrTimeout                  = errors.New("timeout")

	// ErrNotFound is returned by registry lookups; it is ErrRepoNotIndexed.
	ErrNotFound = ErrRepoNotIndexed
)

// RepoError ties a failure to the repository it happened in.
type RepoError struct {
	RepoID  string
	RepoDir string
	Op      string
	Err     error
}

func (e *RepoError) Error() string {
	target := e.RepoID
	if target == "" {
		target = e.RepoDir
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", target, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, target, e.Err)
}

func (e *RepoError) Unwrap() error {
	return e.Err
}

// InvalidQueryf builds an ErrInvalidQuery with a detail message.
func InvalidQueryf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

// IndexErrorf builds an ErrIndex with a detail message.
func IndexErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIndex, fmt.Sprintf(format, args...))
}

// Kind returns the taxonomy name of err, or "Internal" when it matches none.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidQuery):
		return "InvalidQuery"
	case errors.Is(err, ErrRepoNotIndexed):
		return "RepoNotIndexed"
	case errors.Is(err, ErrEmbeddingVersionMismatch):
		return "EmbeddingVersionMismatch"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrIndex):
		return "IndexError"
	default:
		return "Internal"
	}
}
