// Package fileutil holds the file primitives shared by the snapshot store and
// the catalog: parent directory creation, advisory locks and atomic writes.
package fileutil

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// EnsureParentDir creates parent directories for the given path if they do not exist.
func EnsureParentDir(filePath string) error {
	return os.MkdirAll(filepath.Dir(filePath), 0755)
}

// WithLock runs fn while holding an advisory lock on lockPath. Readers take a
// shared lock, writers an exclusive one. When the lock cannot be taken fn
// still runs, so a read-only or exotic filesystem degrades to unlocked access.
func WithLock(lockPath string, exclusive bool, fn func() error) error {
	if err := EnsureParentDir(lockPath); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		log.Printf("Warning: proceeding without lock %s: %v", lockPath, err)
		return fn()
	}
	defer f.Close()

	if err := lockFile(f, exclusive); err != nil {
		log.Printf("Warning: proceeding without lock %s: %v", lockPath, err)
		return fn()
	}
	defer func() {
		_ = unlockFile(f)
	}()

	return fn()
}

// WriteFileAtomically streams data through write into a temp file next to
// targetPath and renames it into place.
func WriteFileAtomically(targetPath string, write func(f *os.File) error) error {
	if err := EnsureParentDir(targetPath); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(targetPath), filepath.Base(targetPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := ReplaceFileAtomically(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", targetPath, err)
	}
	return nil
}

// ReplaceFileAtomically renames tempPath to targetPath. On systems where
// rename over an existing file fails, it falls back to remove-then-rename.
func ReplaceFileAtomically(tempPath, targetPath string) error {
	if err := os.Rename(tempPath, targetPath); err == nil {
		return nil
	}

	if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	return os.Rename(tempPath, targetPath)
}
