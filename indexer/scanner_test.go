package indexer

import (
	"reflect"
	"strings"
	"testing"
)

func TestScanner_Scan(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, ".gitignore", "secret.txt\n")
	writeTestFile(t, root, "main.go", "package main\n")
	writeTestFile(t, root, "sub/util.go", "package sub\n")
	writeTestFile(t, root, "secret.txt", "token\n")
	writeTestFile(t, root, "node_modules/dep/index.js", "module.exports = 1\n")
	writeTestFile(t, root, "logo.png", "not really a png")
	writeTestFile(t, root, "big.txt", strings.Repeat("x", 200))
	writeTestFile(t, root, "nul.txt", "abc\x00def")
	writeTestFile(t, root, "empty.txt", "  \n")

	matcher, err := NewIgnoreMatcher(root, []string{"node_modules"}, "")
	if err != nil {
		t.Fatalf("failed to create ignore matcher: %v", err)
	}

	files, skipped, err := NewScanner(root, matcher, 100).Scan()
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
		if f.Hash == "" || f.Content == "" {
			t.Errorf("%s is missing hash or content", f.Path)
		}
	}
	expected := []string{".gitignore", "main.go", "sub/util.go"}
	if !reflect.DeepEqual(paths, expected) {
		t.Errorf("files = %v, expected %v", paths, expected)
	}

	reasons := make(map[string]string)
	for _, s := range skipped {
		reasons[s.Path] = s.Reason
	}
	expectedReasons := map[string]string{
		"logo.png":  "binary extension",
		"big.txt":   "larger than 100 bytes",
		"nul.txt":   "binary content",
		"empty.txt": "empty",
	}
	if !reflect.DeepEqual(reasons, expectedReasons) {
		t.Errorf("skipped = %v, expected %v", reasons, expectedReasons)
	}
}

func TestScanner_MissingRoot(t *testing.T) {
	if _, _, err := NewScanner("/nonexistent/reposcope/root", nil, 0).Scan(); err == nil {
		t.Error("expected error scanning a missing root")
	}
}

func TestIsIndexablePath(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"main.go", true},
		{"README", true},
		{"docs/guide.md", true},
		{"assets/logo.PNG", false},
		{"web/app.min.js", false},
		{"Cargo.lock", false},
		{"build/tool.exe", false},
	}
	for _, tt := range tests {
		if got := IsIndexablePath(tt.path); got != tt.expected {
			t.Errorf("IsIndexablePath(%q) = %v, expected %v", tt.path, got, tt.expected)
		}
	}
}

func TestIsBinary(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{"plain text", []byte("hello world\n"), false},
		{"utf8 text", []byte("héllo wörld\n"), false},
		{"nul byte", []byte("ab\x00cd"), true},
		{"invalid utf8", []byte{0xff, 0xfe, 'a'}, true},
		{"rune cut at sniff boundary", []byte(strings.Repeat("a", sniffLen-1) + "é" + "tail"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isBinary(tt.data); got != tt.expected {
				t.Errorf("isBinary = %v, expected %v", got, tt.expected)
			}
		})
	}
}
