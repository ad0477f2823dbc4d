// Package config provides configuration loading and structs for the newsvault server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the document database and indices.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	BleveIndexPath string `yaml:"bleve_index_path"`
	// IndexDir holds the vector snapshots (CURRENT, manifests and artifacts).
	IndexDir    string `yaml:"index_dir"`
	Compression string `yaml:"compression"`
	// StrictLoad refuses to start when the vector snapshot is unreadable
	// instead of starting with an empty index.
	StrictLoad bool `yaml:"strict_load"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`
	ModelPath         string  `yaml:"model_path"`
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Dimensions        int     `yaml:"dimensions"`
	MaxTokens         int     `yaml:"max_tokens"`
	CacheSize         int     `yaml:"cache_size"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BatchSize         int     `yaml:"batch_size"`
	BatchConcurrency  int     `yaml:"batch_concurrency"`
}

// SearchConfig holds search and chunking settings.
type SearchConfig struct {
	DefaultLimit        int     `yaml:"default_limit"`
	MaxLimit            int     `yaml:"max_limit"`
	MinScore            float64 `yaml:"min_score"`
	ChunkSize           int     `yaml:"chunk_size"`
	ChunkOverlap        int     `yaml:"chunk_overlap"`
	CandidateMultiplier int     `yaml:"candidate_multiplier"`
	KeywordEnabled      *bool   `yaml:"keyword_enabled"`
}

// KeywordEnabledOrDefault reports whether keyword search runs alongside semantic search; defaults to true.
func (s *SearchConfig) KeywordEnabledOrDefault() bool {
	if s.KeywordEnabled != nil {
		return *s.KeywordEnabled
	}
	return true
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	// Include holds doublestar patterns matched against paths relative to the watched directory.
	Include   []string `yaml:"include"`
	Recursive *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, expands paths and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.IndexDir = expandPath(cfg.Storage.IndexDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var problems []string
	if c.Embedding.Dimensions <= 0 {
		problems = append(problems, "embedding.dimensions must be positive")
	}
	switch c.Embedding.Provider {
	case "onnx", "http", "openai", "gemini", "mock":
	default:
		problems = append(problems, fmt.Sprintf("embedding.provider %q is not one of onnx, http, gemini, mock", c.Embedding.Provider))
	}
	switch strings.ToLower(c.Storage.Compression) {
	case "", "none", "zstd", "lz4":
	default:
		problems = append(problems, fmt.Sprintf("storage.compression %q is not one of none, zstd, lz4", c.Storage.Compression))
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		problems = append(problems, "search.max_limit must be >= search.default_limit")
	}
	if c.Search.ChunkOverlap >= c.Search.ChunkSize {
		problems = append(problems, "search.chunk_overlap must be smaller than search.chunk_size")
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		problems = append(problems, "search.min_score must be within [0, 1]")
	}
	for _, p := range c.Watch.Include {
		if !doublestar.ValidatePattern(p) {
			problems = append(problems, fmt.Sprintf("watch.include pattern %q is invalid", p))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
