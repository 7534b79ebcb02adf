// Package builtin registers all built-in providers with the default registry.
package builtin

import (
	simpleChunker "github.com/vecindex/engine/builtin/chunking/simple"
	ollamaEmbed "github.com/vecindex/engine/builtin/embedding/ollama"
	openaiEmbed "github.com/vecindex/engine/builtin/embedding/openai"
	cachesqlite "github.com/vecindex/engine/internal/cache/sqlite"
	remotecachehttp "github.com/vecindex/engine/internal/remotecache/http"
	"github.com/vecindex/engine/internal/vectorstore/sqlitevec"
	"github.com/vecindex/engine/pkg/provider"
)

func init() {
	provider.RegisterEmbedding("ollama", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return ollamaEmbed.New(ollamaEmbed.Config{
			Endpoint:  cfg.Endpoint,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
		}), nil
	})

	provider.RegisterEmbedding("openai", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return openaiEmbed.New(openaiEmbed.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
		}), nil
	})

	provider.RegisterChunking("simple", func(cfg provider.ChunkingConfig) (provider.Chunker, error) {
		return simpleChunker.New(simpleChunker.Config{
			MaxChunkSize: cfg.MaxChunkSize,
		}), nil
	})

	provider.RegisterVectorStore("sqlitevec", func(cfg provider.VectorStoreConfig) (provider.VectorStore, error) {
		s := sqlitevec.New()
		if err := s.Init(cfg.Path); err != nil {
			return nil, err
		}
		return s, nil
	})

	provider.RegisterCache("sqlite", func(cfg provider.CacheConfig) (provider.EmbeddingCache, error) {
		c := cachesqlite.New()
		if err := c.Init(cfg.Path); err != nil {
			return nil, err
		}
		return c, nil
	})

	provider.RegisterRemoteCache("http", func(cfg provider.RemoteCacheConfig) (provider.RemoteCache, error) {
		return remotecachehttp.New(remotecachehttp.Config{
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
		}), nil
	})
}
