// Package config handles configuration loading and validation.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/vecindex/engine/pkg/types"
)

// Config represents the complete engine configuration.
type Config struct {
	Embedding   EmbeddingConfig   `mapstructure:"embedding" yaml:"embedding"`
	Chunking    ChunkingConfig    `mapstructure:"chunking" yaml:"chunking"`
	VectorStore VectorStoreConfig `mapstructure:"vectorstore" yaml:"vectorstore"`
	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	RemoteCache RemoteCacheConfig `mapstructure:"remote_cache" yaml:"remote_cache"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval" yaml:"retrieval"`
	Index       IndexConfig       `mapstructure:"index" yaml:"index"`
	Limits      LimitsConfig      `mapstructure:"limits" yaml:"limits"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// EmbeddingConfig contains embedding provider configuration.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider" yaml:"provider"`     // ollama, openai
	Model     string `mapstructure:"model" yaml:"model"`           // model name
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`     // API endpoint
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`       // API key
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size"` // documents per batch
}

// ChunkingConfig contains chunking strategy configuration.
type ChunkingConfig struct {
	Strategy     string `mapstructure:"strategy" yaml:"strategy"`             // simple
	MaxChunkSize int    `mapstructure:"max_chunk_size" yaml:"max_chunk_size"` // max size per chunk
}

// VectorStoreConfig contains vector store configuration.
type VectorStoreConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // sqlitevec
}

// CacheConfig contains embedding cache configuration.
type CacheConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // sqlite
}

// RemoteCacheConfig contains remote cache client configuration.
type RemoteCacheConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	RepoName string `mapstructure:"repo_name" yaml:"repo_name"`
}

// RetrievalConfig contains retrieval-time defaults.
type RetrievalConfig struct {
	DefaultLimit    int `mapstructure:"default_limit" yaml:"default_limit"`
	PerTagSearchCap int `mapstructure:"per_tag_search_cap" yaml:"per_tag_search_cap"`
}

// IndexConfig contains indexing configuration.
type IndexConfig struct {
	Include      []string `mapstructure:"include" yaml:"include"`             // glob patterns to include
	Exclude      []string `mapstructure:"exclude" yaml:"exclude"`             // glob patterns to exclude
	UseGitIgnore bool     `mapstructure:"use_gitignore" yaml:"use_gitignore"` // loaded and saved; no command reads .gitignore
}

// LimitsConfig contains resource limits. They are loaded and saved with the
// rest of the configuration, but no command applies them.
type LimitsConfig struct {
	MaxFileSize string        `mapstructure:"max_file_size" yaml:"max_file_size"` // e.g., "1MB"
	MaxFiles    int           `mapstructure:"max_files" yaml:"max_files"`         // max files to index
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`             // refresh timeout
	Workers     int           `mapstructure:"workers" yaml:"workers"`             // parallel workers
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-code",
			Endpoint:  "http://localhost:11434",
			BatchSize: 32,
		},
		Chunking: ChunkingConfig{
			Strategy:     "simple",
			MaxChunkSize: 2000,
		},
		VectorStore: VectorStoreConfig{
			Provider: "sqlitevec",
		},
		Cache: CacheConfig{
			Provider: "sqlite",
		},
		RemoteCache: RemoteCacheConfig{
			Enabled: false,
		},
		Retrieval: RetrievalConfig{
			DefaultLimit:    10,
			PerTagSearchCap: 300,
		},
		Index: IndexConfig{
			Include: []string{
				"**/*.go", "**/*.py", "**/*.js", "**/*.mjs", "**/*.cjs", "**/*.ts",
				"**/*.jsx", "**/*.tsx", "**/*.rs", "**/*.java",
				"**/*.c", "**/*.cpp", "**/*.cc", "**/*.cxx", "**/*.h", "**/*.hpp",
				"**/*.rb", "**/*.php", "**/*.cs", "**/*.kt", "**/*.kts",
				"**/*.swift", "**/*.scala", "**/*.sc",
				"**/*.lua", "**/*.sql", "**/*.proto",
				"**/*.sh", "**/*.bash",
				"**/*.yaml", "**/*.yml", "**/*.toml", "**/*.json",
				"**/*.md",
			},
			Exclude: []string{
				"**/vendor/**", "**/node_modules/**", "**/.git/**",
				"**/dist/**", "**/build/**", "**/target/**", "**/bin/**", "**/obj/**",
				"**/*.min.js", "**/*.min.css", "**/*.generated.*",
				"**/package-lock.json", "**/yarn.lock", "**/pnpm-lock.yaml",
				"**/go.sum", "**/Cargo.lock", "**/composer.lock",
			},
			UseGitIgnore: true,
		},
		Limits: LimitsConfig{
			MaxFileSize: "1MB",
			MaxFiles:    50000,
			Timeout:     30 * time.Minute,
			Workers:     0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigDir returns the path to the .vecindex directory.
func ConfigDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".vecindex")
}

// ConfigPath returns the path to config.yaml.
func ConfigPath(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "config.yaml")
}

// CacheDBPath returns the path to the embedding cache database.
func CacheDBPath(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "cache.db")
}

// VectorDBPath returns the path to the vector table database.
func VectorDBPath(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "vectors.db")
}

// Load loads configuration from file, falling back to defaults.
func Load(projectRoot string) (*Config, []string, error) {
	cfg := DefaultConfig()
	warnings := []string{}

	configPath := ConfigPath(projectRoot)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		warnings = append(warnings, "No config file found, using defaults")
		return cfg, warnings, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
		warnings = append(warnings, "Using default embedding provider: ollama")
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-code"
	}
	if cfg.Embedding.Endpoint == "" {
		cfg.Embedding.Endpoint = "http://localhost:11434"
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}

	if cfg.Chunking.Strategy == "" {
		cfg.Chunking.Strategy = "simple"
	}
	if cfg.Chunking.MaxChunkSize == 0 {
		cfg.Chunking.MaxChunkSize = 2000
	}

	if cfg.Retrieval.DefaultLimit == 0 {
		cfg.Retrieval.DefaultLimit = 10
	}
	if cfg.Retrieval.PerTagSearchCap == 0 {
		cfg.Retrieval.PerTagSearchCap = 300
	}

	return cfg, warnings, nil
}

// Save saves configuration to file.
func Save(projectRoot string, cfg *Config) error {
	configDir := ConfigDir(projectRoot)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(ConfigPath(projectRoot))
	v.SetConfigType("yaml")

	v.Set("embedding", cfg.Embedding)
	v.Set("chunking", cfg.Chunking)
	v.Set("vectorstore", cfg.VectorStore)
	v.Set("cache", cfg.Cache)
	v.Set("remote_cache", cfg.RemoteCache)
	v.Set("retrieval", cfg.Retrieval)
	v.Set("index", cfg.Index)
	v.Set("limits", cfg.Limits)
	v.Set("logging", cfg.Logging)

	return v.WriteConfig()
}

// Validate validates the configuration.
func Validate(cfg *Config) []error {
	var errs []error

	validEmbeddingProviders := map[string]bool{"ollama": true, "openai": true}
	if !validEmbeddingProviders[cfg.Embedding.Provider] {
		errs = append(errs, fmt.Errorf("invalid embedding provider %q: %w", cfg.Embedding.Provider, types.ErrInvalidConfig))
	}

	validChunkingStrategies := map[string]bool{"simple": true}
	if !validChunkingStrategies[cfg.Chunking.Strategy] {
		errs = append(errs, fmt.Errorf("invalid chunking strategy %q: %w", cfg.Chunking.Strategy, types.ErrInvalidConfig))
	}

	validVectorStores := map[string]bool{"sqlitevec": true}
	if !validVectorStores[cfg.VectorStore.Provider] {
		errs = append(errs, fmt.Errorf("invalid vector store provider %q: %w", cfg.VectorStore.Provider, types.ErrInvalidConfig))
	}

	validCaches := map[string]bool{"sqlite": true}
	if !validCaches[cfg.Cache.Provider] {
		errs = append(errs, fmt.Errorf("invalid cache provider %q: %w", cfg.Cache.Provider, types.ErrInvalidConfig))
	}

	if cfg.RemoteCache.Enabled && cfg.RemoteCache.Endpoint == "" {
		errs = append(errs, fmt.Errorf("remote_cache.enabled requires remote_cache.endpoint: %w", types.ErrInvalidConfig))
	}

	return errs
}

// Hash returns a hash of configuration fields that affect the shape of
// computed embeddings. Used to detect when a tag needs a full reindex
// instead of an incremental refresh.
func (c *Config) Hash() string {
	data := fmt.Sprintf("%s:%s:%s:%d",
		c.Embedding.Provider,
		c.Embedding.Model,
		c.Chunking.Strategy,
		c.Chunking.MaxChunkSize,
	)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

// Copy creates a deep copy of the config, for runtime modifications that
// should not affect the original.
func (c *Config) Copy() *Config {
	dup := *c

	if c.Index.Include != nil {
		dup.Index.Include = append([]string(nil), c.Index.Include...)
	}
	if c.Index.Exclude != nil {
		dup.Index.Exclude = append([]string(nil), c.Index.Exclude...)
	}

	return &dup
}
