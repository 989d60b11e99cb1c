package store

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/reposcope/reposcope/internal/fileutil"
)

const snapshotExt = ".gob"

// SnapshotStore persists snapshots as one gob file per repository so a
// restarted process can serve without re-embedding.
type SnapshotStore struct {
	dir string
}

func NewSnapshotStore(dir string) *SnapshotStore {
	return &SnapshotStore{dir: dir}
}

func (s *SnapshotStore) path(repoID string) string {
	return filepath.Join(s.dir, repoID+snapshotExt)
}

func (s *SnapshotStore) lockPath(repoID string) string {
	return s.path(repoID) + ".lock"
}

// Save replaces the stored snapshot of snap.RepoID.
func (s *SnapshotStore) Save(snap *Snapshot) error {
	if snap.RepoID == "" {
		return errors.New("snapshot has no repository id")
	}
	return fileutil.WithLock(s.lockPath(snap.RepoID), true, func() error {
		return fileutil.WriteFileAtomically(s.path(snap.RepoID), func(f *os.File) error {
			if err := gob.NewEncoder(f).Encode(snap); err != nil {
				return fmt.Errorf("failed to encode snapshot: %w", err)
			}
			return nil
		})
	})
}

// Load reads the snapshot of repoID. A missing snapshot returns an error
// matching fs.ErrNotExist.
func (s *SnapshotStore) Load(repoID string) (*Snapshot, error) {
	var snap Snapshot
	err := fileutil.WithLock(s.lockPath(repoID), false, func() error {
		file, err := os.Open(s.path(repoID))
		if err != nil {
			return err
		}
		defer file.Close()

		if err := gob.NewDecoder(file).Decode(&snap); err != nil {
			return fmt.Errorf("failed to decode snapshot %s: %w", repoID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Delete removes the snapshot of repoID. Deleting a missing snapshot is not
// an error.
func (s *SnapshotStore) Delete(repoID string) error {
	err := fileutil.WithLock(s.lockPath(repoID), true, func() error {
		if err := os.Remove(s.path(repoID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	_ = os.Remove(s.lockPath(repoID))
	return nil
}

// List returns the repository ids that have a stored snapshot.
func (s *SnapshotStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), snapshotExt))
	}
	sort.Strings(ids)
	return ids, nil
}
