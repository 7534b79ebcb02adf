package provider

import (
	"context"

	"github.com/vecindex/engine/pkg/types"
)

// CacheStats reports embedding-cache size for status reporting.
type CacheStats struct {
	Rows           int64
	ArtifactCounts map[string]int64
}

// EmbeddingCache is the durable system of record for computed embeddings,
// keyed by (ArtifactID, CacheKey, Path). A vector table is a disposable
// derived view over this store; losing a vector table costs a rebuild, but
// losing the cache costs re-embedding.
type EmbeddingCache interface {
	// Init opens or creates the cache at the given path.
	Init(path string) error

	// Insert durably records rows. UUIDs are assigned by the caller.
	Insert(ctx context.Context, records []types.CacheRecord) error

	// SelectByKey returns cache rows for the given artifact whose CacheKey
	// and Path match items. Used to reconstruct rows for AddTag without
	// recomputing embeddings.
	SelectByKey(ctx context.Context, artifactID string, items []types.RefreshItem) ([]types.CacheRecord, error)

	// SelectByUUIDs returns cache rows by primary key, used by the retriever
	// to join vector-table search hits back to their text.
	SelectByUUIDs(ctx context.Context, uuids []string) ([]types.CacheRecord, error)

	// Delete removes rows for the given artifact matching items.
	Delete(ctx context.Context, artifactID string, items []types.RefreshItem) error

	// Stats reports cache size, broken down by artifact.
	Stats(ctx context.Context) (CacheStats, error)

	// Close releases resources.
	Close() error
}

// CacheConfig contains configuration for the embedding cache.
type CacheConfig struct {
	Provider string // "sqlite"
	Path     string
}
