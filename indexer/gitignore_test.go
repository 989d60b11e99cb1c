package indexer

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create dir for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", rel, err)
	}
}

type ignoreCase struct {
	path     string
	expected bool
	desc     string
}

func runIgnoreCases(t *testing.T, matcher *IgnoreMatcher, tests []ignoreCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := matcher.ShouldIgnore(tt.path); got != tt.expected {
				t.Errorf("ShouldIgnore(%q) = %v, expected %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestIgnoreMatcher_GitignorePatterns(t *testing.T) {
	tmpDir := t.TempDir()
	writeTestFile(t, tmpDir, ".gitignore", `# Build artifacts
build/
dist/

# Logs
*.log

secret.txt
`)

	matcher, err := NewIgnoreMatcher(tmpDir, nil, "")
	if err != nil {
		t.Fatalf("failed to create ignore matcher: %v", err)
	}

	runIgnoreCases(t, matcher, []ignoreCase{
		{"main.go", false, "regular go file"},
		{"src/app.go", false, "go file in src"},
		{"build", true, "build directory itself"},
		{"build/sub/file.go", true, "nested file inside build"},
		{"debug.log", true, "log file in root"},
		{"logs/app.log", true, "log file in subdirectory"},
		{"secret.txt", true, "specific ignored file"},
	})
}

func TestIgnoreMatcher_ExtraNames(t *testing.T) {
	tmpDir := t.TempDir()

	matcher, err := NewIgnoreMatcher(tmpDir, []string{".git", "node_modules", "__pycache__"}, "")
	if err != nil {
		t.Fatalf("failed to create ignore matcher: %v", err)
	}

	runIgnoreCases(t, matcher, []ignoreCase{
		{".git", true, "git dir"},
		{"node_modules", true, "node_modules at root"},
		{"web/node_modules", true, "nested node_modules"},
		{"pkg/__pycache__", true, "nested pycache"},
		{"src/main.py", false, "source file"},
	})
}

func TestIgnoreMatcher_NestedGitignore(t *testing.T) {
	tmpDir := t.TempDir()
	writeTestFile(t, tmpDir, ".gitignore", "*.log\n")
	writeTestFile(t, tmpDir, "src/.gitignore", "*.tmp\ngenerated/\n")

	matcher, err := NewIgnoreMatcher(tmpDir, nil, "")
	if err != nil {
		t.Fatalf("failed to create ignore matcher: %v", err)
	}

	runIgnoreCases(t, matcher, []ignoreCase{
		{"src/app.log", true, "root pattern applies in src"},
		{"src/temp.tmp", true, "src pattern in src"},
		{"src/generated/code.go", true, "src dir pattern content"},
		{"temp.tmp", false, "src pattern does not apply in root"},
		{"docs/temp.tmp", false, "src pattern does not apply in docs"},
		{"src/main.go", false, "regular file in src"},
	})
}

func TestIgnoreMatcher_OverrideExclusion(t *testing.T) {
	tmpDir := t.TempDir()
	writeTestFile(t, tmpDir, OverrideFileName, "secret-data/\n*.generated.go\n")

	matcher, err := NewIgnoreMatcher(tmpDir, nil, "")
	if err != nil {
		t.Fatalf("failed to create ignore matcher: %v", err)
	}

	runIgnoreCases(t, matcher, []ignoreCase{
		{"secret-data", true, "directory excluded by override"},
		{"secret-data/keys.go", true, "file inside excluded directory"},
		{"src/models.generated.go", true, "nested wildcard match"},
		{"src/models.go", false, "unrelated file"},
	})
}

func TestIgnoreMatcher_OverrideSelectiveNegation(t *testing.T) {
	tmpDir := t.TempDir()
	writeTestFile(t, tmpDir, ".gitignore", "vendor/\n")
	writeTestFile(t, tmpDir, OverrideFileName, "vendor/\n!vendor/important/\n")
	writeTestFile(t, tmpDir, "vendor/important/lib.go", "package important\n")
	writeTestFile(t, tmpDir, "vendor/other/lib.go", "package other\n")

	matcher, err := NewIgnoreMatcher(tmpDir, nil, "")
	if err != nil {
		t.Fatalf("failed to create ignore matcher: %v", err)
	}

	runIgnoreCases(t, matcher, []ignoreCase{
		{"vendor/important", false, "re-included directory"},
		{"vendor/important/lib.go", false, "file in re-included directory"},
		{"vendor/other", true, "sibling still excluded"},
		{"vendor/other/lib.go", true, "file in sibling still excluded"},
	})
}

func TestIgnoreMatcher_OverrideReincludesExtraName(t *testing.T) {
	tmpDir := t.TempDir()
	writeTestFile(t, tmpDir, OverrideFileName, "!vendor/\n")

	matcher, err := NewIgnoreMatcher(tmpDir, []string{"vendor"}, "")
	if err != nil {
		t.Fatalf("failed to create ignore matcher: %v", err)
	}

	if matcher.ShouldIgnore("vendor") {
		t.Error("expected vendor to be re-included")
	}
}

func TestIgnoreMatcher_ShouldSkipDirWithoutNegations(t *testing.T) {
	tmpDir := t.TempDir()
	writeTestFile(t, tmpDir, ".gitignore", "build/\n")

	matcher, err := NewIgnoreMatcher(tmpDir, nil, "")
	if err != nil {
		t.Fatalf("failed to create ignore matcher: %v", err)
	}

	if !matcher.ShouldSkipDir("build") {
		t.Error("expected build to be skipped")
	}
	if matcher.ShouldSkipDir("src") {
		t.Error("src must not be skipped")
	}
}

func TestIgnoreMatcher_ExternalGitignore(t *testing.T) {
	tmpDir := t.TempDir()
	external := filepath.Join(t.TempDir(), "global.gitignore")
	if err := os.WriteFile(external, []byte("*.secret\n"), 0644); err != nil {
		t.Fatalf("failed to write external gitignore: %v", err)
	}

	matcher, err := NewIgnoreMatcher(tmpDir, nil, external)
	if err != nil {
		t.Fatalf("failed to create ignore matcher: %v", err)
	}

	runIgnoreCases(t, matcher, []ignoreCase{
		{"keys.secret", true, "external pattern at root"},
		{"cfg/db.secret", true, "external pattern nested"},
		{"main.go", false, "regular file"},
	})
}

func TestIgnoreMatcher_ExternalGitignoreMissing(t *testing.T) {
	matcher, err := NewIgnoreMatcher(t.TempDir(), nil, "/nonexistent/path/.gitignore")
	if err != nil {
		t.Fatalf("missing external gitignore must not fail: %v", err)
	}
	if matcher.ShouldIgnore("main.go") {
		t.Error("main.go should not be ignored")
	}
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		input    string
		expected string
	}{
		{"~", home},
		{"~/.gitignore", filepath.Join(home, ".gitignore")},
		{"/abs/path", "/abs/path"},
		{"~user/file", "~user/file"},
	}

	for _, tt := range tests {
		if got := expandTilde(tt.input); got != tt.expected {
			t.Errorf("expandTilde(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}
