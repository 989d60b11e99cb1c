package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NormalizeDir returns the absolute, cleaned form of dir with symlinks
// resolved when the path exists.
func NormalizeDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("empty repository path")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)
	if _, err := os.Lstat(abs); err == nil {
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
	}
	return abs, nil
}

// RepoID derives the repository id from a normalized directory:
// <sanitized basename>-<first 12 hex chars of sha256(dir)>.
func RepoID(normalizedDir string) string {
	sum := sha256.Sum256([]byte(filepath.ToSlash(normalizedDir)))
	return sanitizeName(filepath.Base(normalizedDir)) + "-" + hex.EncodeToString(sum[:])[:12]
}

func sanitizeName(name string) string {
	var sb strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(sb.String(), "-.")
	if out == "" {
		return "repo"
	}
	if len(out) > 40 {
		out = strings.TrimRight(out[:40], "-.")
	}
	return out
}
