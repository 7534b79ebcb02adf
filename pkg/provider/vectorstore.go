package provider

import (
	"context"

	"github.com/vecindex/engine/pkg/types"
)

// Predicate narrows a VectorStore delete to rows matching the given
// fields. A zero-value field is not applied as a filter.
type Predicate struct {
	CacheKey string
	Path     string
}

// SearchHit is one nearest-neighbor result from a VectorStore.Search call,
// scoped to a single tag's table.
type SearchHit struct {
	UUID     string
	Path     string
	CacheKey string
	Distance float64
}

// VectorStore manages the derived, per-tag vector tables used for nearest-
// neighbor search. Unlike the EmbeddingCache, a VectorStore is not a system
// of record: every row it holds can be rebuilt from the cache, so
// implementations are free to trade durability for query speed.
type VectorStore interface {
	// TableNames lists every sanitized tag table currently present.
	TableNames(ctx context.Context) ([]string, error)

	// CreateTable creates the table for the given sanitized tag name if it
	// does not already exist. Idempotent.
	CreateTable(ctx context.Context, table string, dimensions int) error

	// OpenTable returns true if the given sanitized tag table exists.
	OpenTable(ctx context.Context, table string) (bool, error)

	// AddRows inserts rows into the given table.
	AddRows(ctx context.Context, table string, rows []types.ChunkRow) error

	// DeleteWhere removes every row in the table matching pred. A zero-value
	// Predicate is rejected with an error (callers must supply at least one field).
	DeleteWhere(ctx context.Context, table string, pred Predicate) error

	// DropTable removes a table entirely.
	DropTable(ctx context.Context, table string) error

	// Search returns the topK nearest neighbors to vector in the given
	// table. pathPrefix, if non-empty, restricts results to rows whose Path
	// starts with it (directory filtering).
	Search(ctx context.Context, table string, vector []float32, topK int, pathPrefix string) ([]SearchHit, error)

	// Close releases resources and closes connections.
	Close() error
}

// VectorStoreConfig contains configuration for vector stores.
type VectorStoreConfig struct {
	Provider string // "sqlitevec"
	Path     string // Path to database file
}
