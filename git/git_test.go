package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func assertSamePath(t *testing.T, label, got, want string) {
	t.Helper()

	gotClean := filepath.Clean(got)
	wantClean := filepath.Clean(want)

	gotInfo, gotErr := os.Stat(gotClean)
	wantInfo, wantErr := os.Stat(wantClean)
	if gotErr == nil && wantErr == nil {
		if !os.SameFile(gotInfo, wantInfo) {
			t.Errorf("%s = %q, want same location as %q", label, got, want)
		}
		return
	}

	if runtime.GOOS == "windows" {
		if !strings.EqualFold(gotClean, wantClean) {
			t.Errorf("%s = %q, want %q", label, got, want)
		}
		return
	}

	if gotClean != wantClean {
		t.Errorf("%s = %q, want %q", label, got, want)
	}
}

func gitCmd(t *testing.T, path string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", path}, args...)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

// setupGitRepo initializes a git repo in the given directory, optionally with
// one commit of a tracked file.
func setupGitRepo(t *testing.T, path string, withCommit bool) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	gitCmd(t, path, "init", "-b", "main")
	gitCmd(t, path, "config", "user.email", "test@test.com")
	gitCmd(t, path, "config", "user.name", "Test")

	if withCommit {
		if err := os.WriteFile(filepath.Join(path, "main.go"), []byte("package main\n"), 0644); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
		gitCmd(t, path, "add", "main.go")
		gitCmd(t, path, "commit", "-m", "init")
	}
}

func TestInspect_Commit(t *testing.T) {
	repoPath := t.TempDir()
	setupGitRepo(t, repoPath, true)

	info, err := Inspect(context.Background(), repoPath)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}

	assertSamePath(t, "Root", info.Root, repoPath)
	if len(info.Commit) < 40 {
		t.Errorf("Commit = %q, expected a full hash", info.Commit)
	}
	if info.Branch != "main" {
		t.Errorf("Branch = %q, expected main", info.Branch)
	}
	if info.Dirty {
		t.Error("fresh commit should not be dirty")
	}

	if err := os.WriteFile(filepath.Join(repoPath, "main.go"), []byte("package changed\n"), 0644); err != nil {
		t.Fatalf("failed to modify file: %v", err)
	}
	info, err = Inspect(context.Background(), repoPath)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if !info.Dirty {
		t.Error("modified tracked file should make the checkout dirty")
	}
}

func TestInspect_NoCommits(t *testing.T) {
	repoPath := t.TempDir()
	setupGitRepo(t, repoPath, false)

	info, err := Inspect(context.Background(), repoPath)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if info.Commit != "" {
		t.Errorf("Commit = %q, expected empty", info.Commit)
	}
}

func TestInspect_Subdirectory(t *testing.T) {
	repoPath := t.TempDir()
	setupGitRepo(t, repoPath, true)

	sub := filepath.Join(repoPath, "pkg", "inner")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatalf("failed to create subdirectory: %v", err)
	}

	info, err := Inspect(context.Background(), sub)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	assertSamePath(t, "Root", info.Root, repoPath)
}

func TestInspect_NotARepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	if _, err := Inspect(context.Background(), t.TempDir()); err == nil {
		t.Error("expected error for a directory outside git")
	}
}

func TestIsGitRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repoPath := t.TempDir()
	setupGitRepo(t, repoPath, false)

	if !IsGitRepo(context.Background(), repoPath) {
		t.Error("expected IsGitRepo to be true for an initialized repository")
	}
	if IsGitRepo(context.Background(), t.TempDir()) {
		t.Error("expected IsGitRepo to be false for a plain directory")
	}
}
