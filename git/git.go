// Package git reads repository metadata recorded next to an index.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const commandTimeout = 5 * time.Second

// Info describes the checkout an index was built from.
type Info struct {
	Root   string // git rev-parse --show-toplevel
	Commit string // full HEAD hash, empty for a repository without commits
	Branch string // empty when HEAD is detached
	Dirty  bool   // uncommitted changes to tracked files
}

// Inspect reads git metadata for path. It returns an error when git is not
// installed or path is not inside a repository.
func Inspect(ctx context.Context, path string) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	root, err := run(ctx, path, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, err
	}

	info := &Info{Root: root}

	// a fresh repository has no HEAD yet
	if commit, err := run(ctx, path, "rev-parse", "--verify", "--quiet", "HEAD"); err == nil {
		info.Commit = commit
	}
	if branch, err := run(ctx, path, "symbolic-ref", "--quiet", "--short", "HEAD"); err == nil {
		info.Branch = branch
	}
	if status, err := run(ctx, path, "status", "--porcelain", "--untracked-files=no"); err == nil {
		info.Dirty = status != ""
	}

	return info, nil
}

// IsGitRepo returns true if the given path is within a git repository.
// Returns false on any error (git not installed, not a repo, etc.).
func IsGitRepo(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	_, err := run(ctx, path, "rev-parse", "--git-dir")
	return err == nil
}

func run(ctx context.Context, path string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", path}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s failed: %w (stderr: %s)", args[0], err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("failed to execute git command (is git installed?): %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
