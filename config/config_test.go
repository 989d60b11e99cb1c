package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Search.MaxK != 50 {
		t.Errorf("expected max_k 50, got %d", cfg.Search.MaxK)
	}
	if cfg.Search.Normalization != "minmax" {
		t.Errorf("expected minmax normalization, got %q", cfg.Search.Normalization)
	}
	if cfg.Chat.EvidenceCap != 8 || cfg.Chat.Oversample != 3 {
		t.Errorf("unexpected evidence settings cap=%d oversample=%d", cfg.Chat.EvidenceCap, cfg.Chat.Oversample)
	}
}

func TestLoad_AppliesDefaultsToPartialFile(t *testing.T) {
	dir := t.TempDir()
	partial := `version: 1
embedder:
  provider: ollama
  model: nomic-embed-text
search:
  max_k: 20
`
	if err := os.WriteFile(GetConfigPath(dir), []byte(partial), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Embedder.Endpoint != "http://localhost:11434" {
		t.Errorf("expected ollama endpoint default, got %q", cfg.Embedder.Endpoint)
	}
	if cfg.Embedder.GetDimensions() != 768 {
		t.Errorf("expected 768 dimensions, got %d", cfg.Embedder.GetDimensions())
	}
	if cfg.Search.MaxK != 20 {
		t.Errorf("expected max_k 20, got %d", cfg.Search.MaxK)
	}
	if cfg.Search.DefaultK != 10 {
		t.Errorf("expected default_k 10, got %d", cfg.Search.DefaultK)
	}
	if cfg.Chunking.WindowLines != 40 || cfg.Chunking.OverlapLines != 10 {
		t.Errorf("unexpected chunking defaults %+v", cfg.Chunking)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("expected memory backend, got %q", cfg.Store.Backend)
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "normalization",
			content: "search:\n  normalization: zscore\n",
			wantErr: "search.normalization",
		},
		{
			name:    "backend",
			content: "store:\n  backend: sqlite\n",
			wantErr: "unknown store backend",
		},
		{
			name:    "postgres without dsn",
			content: "store:\n  backend: postgres\n",
			wantErr: "store.postgres.dsn",
		},
		{
			name:    "overlap too large",
			content: "chunking:\n  window_lines: 10\n  overlap_lines: 10\n",
			wantErr: "overlap_lines",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(GetConfigPath(dir), []byte(tt.content), 0600); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}

			_, err := Load(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "home")

	cfg := DefaultConfig()
	cfg.Search.RepoTimeoutMs = 1234
	cfg.Chat.Provider = "openai"

	if err := cfg.Save(dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !Exists(dir) {
		t.Fatal("expected config file to exist")
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Search.RepoTimeoutMs != 1234 {
		t.Errorf("expected repo timeout 1234, got %d", loaded.Search.RepoTimeoutMs)
	}
	if loaded.Chat.Provider != "openai" {
		t.Errorf("expected openai chat provider, got %q", loaded.Chat.Provider)
	}
}

func TestHomeDir_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnvVar, dir)

	got, err := HomeDir()
	if err != nil {
		t.Fatalf("HomeDir failed: %v", err)
	}
	if got != dir {
		t.Errorf("expected %q, got %q", dir, got)
	}
}

func TestLoadEnv_DoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	envFile := "REPOSCOPE_TEST_KEEP=from-file\nREPOSCOPE_TEST_NEW=from-file\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(envFile), 0600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	t.Setenv("REPOSCOPE_TEST_KEEP", "from-env")
	t.Setenv("REPOSCOPE_TEST_NEW", "")
	os.Unsetenv("REPOSCOPE_TEST_NEW")

	LoadEnv(dir)

	if got := os.Getenv("REPOSCOPE_TEST_KEEP"); got != "from-env" {
		t.Errorf("expected existing value preserved, got %q", got)
	}
	if got := os.Getenv("REPOSCOPE_TEST_NEW"); got != "from-file" {
		t.Errorf("expected value from .env, got %q", got)
	}
}
