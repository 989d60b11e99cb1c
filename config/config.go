package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	HomeEnvVar      = "REPOSCOPE_HOME"
	DefaultHomeDir  = ".reposcope"
	ConfigFileName  = "config.yaml"
	CatalogFileName = "catalog.db"
	IndexDirName    = "indexes"
)

type Config struct {
	Version           int            `yaml:"version"`
	Embedder          EmbedderConfig `yaml:"embedder"`
	Store             StoreConfig    `yaml:"store"`
	Chunking          ChunkingConfig `yaml:"chunking"`
	Index             IndexConfig    `yaml:"index"`
	Search            SearchConfig   `yaml:"search"`
	Chat              ChatConfig     `yaml:"chat"`
	Watch             WatchConfig    `yaml:"watch"`
	Server            ServerConfig   `yaml:"server"`
	Events            EventsConfig   `yaml:"events"`
	Ignore            []string       `yaml:"ignore"`
	ExternalGitignore string         `yaml:"external_gitignore,omitempty"`
}

type EmbedderConfig struct {
	Provider    string  `yaml:"provider"` // hash | ollama | openai | openrouter
	Model       string  `yaml:"model"`
	Endpoint    string  `yaml:"endpoint,omitempty"`
	APIKey      string  `yaml:"api_key,omitempty"`
	Dimensions  *int    `yaml:"dimensions,omitempty"`
	Parallelism int     `yaml:"parallelism"` // concurrent embedding batches per repository
	BatchSize   int     `yaml:"batch_size"`
	RateLimit   float64 `yaml:"rate_limit,omitempty"` // requests per second, 0 disables
	Burst       int     `yaml:"burst,omitempty"`
}

// GetDimensions returns the configured dimensions or the provider default.
func (e *EmbedderConfig) GetDimensions() int {
	if e.Dimensions != nil {
		return *e.Dimensions
	}
	switch e.Provider {
	case "openai", "openrouter":
		return 1536
	case "ollama":
		return 768
	default:
		return 384
	}
}

type StoreConfig struct {
	Backend  string         `yaml:"backend"` // memory | postgres | qdrant
	Persist  bool           `yaml:"persist"` // write snapshots under the home directory
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
	Qdrant   QdrantConfig   `yaml:"qdrant,omitempty"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type QdrantConfig struct {
	Endpoint         string `yaml:"endpoint"`                    // e.g. "localhost"
	Port             int    `yaml:"port,omitempty"`              // gRPC port, 6334 by default
	CollectionPrefix string `yaml:"collection_prefix,omitempty"` // collections are <prefix>_<repo_id>_g<generation>
	APIKey           string `yaml:"api_key,omitempty"`
	UseTLS           bool   `yaml:"use_tls,omitempty"`
}

type ChunkingConfig struct {
	Mode         string `yaml:"mode"` // fast (regex) or precise (tree-sitter)
	MinLines     int    `yaml:"min_lines"`
	MaxLines     int    `yaml:"max_lines"`
	WindowLines  int    `yaml:"window_lines"`
	OverlapLines int    `yaml:"overlap_lines"`
	MaxChars     int    `yaml:"max_chars"`
}

type IndexConfig struct {
	Workers      int   `yaml:"workers"` // repositories indexed concurrently
	MaxFileBytes int64 `yaml:"max_file_bytes"`
}

type SearchConfig struct {
	DefaultK      int         `yaml:"default_k"`
	MaxK          int         `yaml:"max_k"`
	RepoTimeoutMs int         `yaml:"repo_timeout_ms"`
	Normalization string      `yaml:"normalization"` // minmax | none
	Workers       int         `yaml:"workers"`
	Boost         BoostConfig `yaml:"boost"`
}

type BoostConfig struct {
	Enabled   bool        `yaml:"enabled"`
	Penalties []BoostRule `yaml:"penalties"`
	Bonuses   []BoostRule `yaml:"bonuses"`
}

type BoostRule struct {
	Pattern string  `yaml:"pattern"`
	Factor  float32 `yaml:"factor"`
}

type ChatConfig struct {
	Provider     string  `yaml:"provider"` // extractive | openai | openrouter | ollama
	Model        string  `yaml:"model,omitempty"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	APIKey       string  `yaml:"api_key,omitempty"`
	Temperature  float32 `yaml:"temperature"`
	TimeoutMs    int     `yaml:"timeout_ms"`
	EvidenceCap  int     `yaml:"evidence_cap"`
	Oversample   int     `yaml:"oversample"`
	MinRelevance float32 `yaml:"min_relevance"`
	ContextChars int     `yaml:"context_chars"`
}

type WatchConfig struct {
	DebounceMs int `yaml:"debounce_ms"`
	RefreshMs  int `yaml:"refresh_ms"` // delay between a change and the rebuild of stale repositories
}

type ServerConfig struct {
	Addr      string  `yaml:"addr"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second, 0 disables
	Burst     int     `yaml:"burst"`
}

type EventsConfig struct {
	NATSURL string `yaml:"nats_url,omitempty"` // empty disables publishing
	Subject string `yaml:"subject,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Embedder: EmbedderConfig{
			Provider:    "hash",
			Model:       "hash-v1",
			Parallelism: 4,
			BatchSize:   32,
		},
		Store: StoreConfig{
			Backend: "memory",
			Persist: true,
		},
		Chunking: ChunkingConfig{
			Mode:         "fast",
			MinLines:     3,
			MaxLines:     80,
			WindowLines:  40,
			OverlapLines: 10,
			MaxChars:     6000,
		},
		Index: IndexConfig{
			Workers:      4,
			MaxFileBytes: 1 << 20,
		},
		Search: SearchConfig{
			DefaultK:      10,
			MaxK:          50,
			RepoTimeoutMs: 5000,
			Normalization: "minmax",
			Workers:       8,
			Boost: BoostConfig{
				Enabled: true,
				Penalties: []BoostRule{
					// Test files (multi-language)
					{Pattern: "/tests/", Factor: 0.5},
					{Pattern: "/test/", Factor: 0.5},
					{Pattern: "__tests__", Factor: 0.5},
					{Pattern: "_test.", Factor: 0.5},
					{Pattern: ".test.", Factor: 0.5},
					{Pattern: ".spec.", Factor: 0.5},
					// Mocks and fixtures
					{Pattern: "/mocks/", Factor: 0.4},
					{Pattern: "/fixtures/", Factor: 0.4},
					{Pattern: "/testdata/", Factor: 0.4},
					// Generated code
					{Pattern: "/generated/", Factor: 0.4},
					{Pattern: ".gen.", Factor: 0.4},
					{Pattern: ".pb.go", Factor: 0.4},
					// Documentation
					{Pattern: ".md", Factor: 0.6},
					{Pattern: "/docs/", Factor: 0.6},
				},
				Bonuses: []BoostRule{
					{Pattern: "/src/", Factor: 1.1},
					{Pattern: "/lib/", Factor: 1.1},
					{Pattern: "/internal/", Factor: 1.1},
				},
			},
		},
		Chat: ChatConfig{
			Provider:     "extractive",
			Model:        "gpt-4o-mini",
			Temperature:  0.1,
			TimeoutMs:    60000,
			EvidenceCap:  8,
			Oversample:   3,
			MinRelevance: 0.1,
			ContextChars: 12000,
		},
		Watch: WatchConfig{
			DebounceMs: 500,
			RefreshMs:  2000,
		},
		Server: ServerConfig{
			Addr:      "127.0.0.1:8420",
			RateLimit: 20,
			Burst:     40,
		},
		Events: EventsConfig{
			Subject: "reposcope.index",
		},
		Ignore: []string{
			".git",
			".reposcope",
			"node_modules",
			"vendor",
			"bin",
			"build",
			"dist",
			"target",
			"__pycache__",
			".venv",
			"venv",
			".idea",
			".vscode",
			".next",
			"coverage",
		},
	}
}

// HomeDir returns the directory holding config, catalog and snapshots.
func HomeDir() (string, error) {
	if dir := os.Getenv(HomeEnvVar); dir != "" {
		return filepath.Abs(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultHomeDir), nil
}

func GetConfigPath(homeDir string) string {
	return filepath.Join(homeDir, ConfigFileName)
}

func GetCatalogPath(homeDir string) string {
	return filepath.Join(homeDir, CatalogFileName)
}

func GetIndexDir(homeDir string) string {
	return filepath.Join(homeDir, IndexDirName)
}

// LoadEnv reads .env files from the working directory and the home directory.
// Variables already present in the environment are never overridden.
func LoadEnv(homeDir string) {
	for _, path := range []string{".env", filepath.Join(homeDir, ".env")} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = godotenv.Load(path)
	}
}

// Load reads the config file under homeDir. A missing file yields the defaults.
func Load(homeDir string) (*Config, error) {
	data, err := os.ReadFile(GetConfigPath(homeDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills in missing configuration values so older or partial
// config files keep working.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Embedder.Provider == "" {
		c.Embedder = defaults.Embedder
	}
	if c.Embedder.Endpoint == "" {
		switch c.Embedder.Provider {
		case "ollama":
			c.Embedder.Endpoint = "http://localhost:11434"
		case "openai":
			c.Embedder.Endpoint = "https://api.openai.com/v1"
		case "openrouter":
			c.Embedder.Endpoint = "https://openrouter.ai/api/v1"
		}
	}
	if c.Embedder.Parallelism <= 0 {
		c.Embedder.Parallelism = defaults.Embedder.Parallelism
	}
	if c.Embedder.BatchSize <= 0 {
		c.Embedder.BatchSize = defaults.Embedder.BatchSize
	}
	if c.Embedder.RateLimit > 0 && c.Embedder.Burst <= 0 {
		c.Embedder.Burst = 1
	}

	if c.Store.Backend == "" {
		c.Store.Backend = defaults.Store.Backend
	}
	if c.Store.Backend == "qdrant" && c.Store.Qdrant.Port <= 0 {
		c.Store.Qdrant.Port = 6334
	}
	if c.Store.Qdrant.CollectionPrefix == "" {
		c.Store.Qdrant.CollectionPrefix = "reposcope"
	}

	if c.Chunking.Mode == "" {
		c.Chunking.Mode = defaults.Chunking.Mode
	}
	if c.Chunking.MinLines <= 0 {
		c.Chunking.MinLines = defaults.Chunking.MinLines
	}
	if c.Chunking.MaxLines <= 0 {
		c.Chunking.MaxLines = defaults.Chunking.MaxLines
	}
	if c.Chunking.WindowLines <= 0 {
		c.Chunking.WindowLines = defaults.Chunking.WindowLines
	}
	if c.Chunking.OverlapLines <= 0 {
		c.Chunking.OverlapLines = defaults.Chunking.OverlapLines
	}
	if c.Chunking.MaxChars <= 0 {
		c.Chunking.MaxChars = defaults.Chunking.MaxChars
	}

	if c.Index.Workers <= 0 {
		c.Index.Workers = defaults.Index.Workers
	}
	if c.Index.MaxFileBytes <= 0 {
		c.Index.MaxFileBytes = defaults.Index.MaxFileBytes
	}

	if c.Search.DefaultK <= 0 {
		c.Search.DefaultK = defaults.Search.DefaultK
	}
	if c.Search.MaxK <= 0 {
		c.Search.MaxK = defaults.Search.MaxK
	}
	if c.Search.RepoTimeoutMs <= 0 {
		c.Search.RepoTimeoutMs = defaults.Search.RepoTimeoutMs
	}
	if c.Search.Normalization == "" {
		c.Search.Normalization = defaults.Search.Normalization
	}
	if c.Search.Workers <= 0 {
		c.Search.Workers = defaults.Search.Workers
	}

	if c.Chat.Provider == "" {
		c.Chat.Provider = defaults.Chat.Provider
	}
	if c.Chat.Model == "" {
		c.Chat.Model = defaults.Chat.Model
	}
	if c.Chat.TimeoutMs <= 0 {
		c.Chat.TimeoutMs = defaults.Chat.TimeoutMs
	}
	if c.Chat.EvidenceCap <= 0 {
		c.Chat.EvidenceCap = defaults.Chat.EvidenceCap
	}
	if c.Chat.Oversample <= 0 {
		c.Chat.Oversample = defaults.Chat.Oversample
	}
	if c.Chat.ContextChars <= 0 {
		c.Chat.ContextChars = defaults.Chat.ContextChars
	}

	if c.Watch.DebounceMs <= 0 {
		c.Watch.DebounceMs = defaults.Watch.DebounceMs
	}
	if c.Watch.RefreshMs <= 0 {
		c.Watch.RefreshMs = defaults.Watch.RefreshMs
	}

	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.RateLimit > 0 && c.Server.Burst <= 0 {
		c.Server.Burst = defaults.Server.Burst
	}

	if c.Events.Subject == "" {
		c.Events.Subject = defaults.Events.Subject
	}

	if c.Ignore == nil {
		c.Ignore = defaults.Ignore
	}
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string

	switch c.Search.Normalization {
	case "minmax", "none":
	default:
		problems = append(problems, fmt.Sprintf("search.normalization must be minmax or none, got %q", c.Search.Normalization))
	}
	switch c.Store.Backend {
	case "memory", "qdrant", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}
	switch c.Chunking.Mode {
	case "fast", "precise":
	default:
		problems = append(problems, fmt.Sprintf("chunking.mode must be fast or precise, got %q", c.Chunking.Mode))
	}
	switch c.Chat.Provider {
	case "extractive", "openai", "openrouter", "ollama":
	default:
		problems = append(problems, fmt.Sprintf("unknown chat provider %q", c.Chat.Provider))
	}
	if c.Chunking.OverlapLines >= c.Chunking.WindowLines {
		problems = append(problems, "chunking.overlap_lines must be smaller than chunking.window_lines")
	}
	if c.Search.DefaultK > c.Search.MaxK {
		problems = append(problems, "search.default_k must not exceed search.max_k")
	}
	if c.Store.Backend == "postgres" && c.Store.Postgres.DSN == "" {
		problems = append(problems, "store.postgres.dsn is required for the postgres backend")
	}
	if c.Store.Backend == "qdrant" && c.Store.Qdrant.Endpoint == "" {
		problems = append(problems, "store.qdrant.endpoint is required for the qdrant backend")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) Save(homeDir string) error {
	if err := os.MkdirAll(homeDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(GetConfigPath(homeDir), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func Exists(homeDir string) bool {
	_, err := os.Stat(GetConfigPath(homeDir))
	return err == nil
}
