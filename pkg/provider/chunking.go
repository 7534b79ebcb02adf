package provider

import (
	"context"

	"github.com/vecindex/engine/pkg/types"
)

// ChunkOrErr is one element of a Chunker's lazy output sequence.
type ChunkOrErr struct {
	Chunk types.Chunk
	Err   error
}

// Chunker splits a file's contents into chunks. The engine treats chunking
// strategy as pluggable and out of its own concern beyond this contract: it
// only relies on the fact that chunks are emitted in file order over the
// returned channel, and that the channel is closed when done (or on error,
// after sending the error as the final item).
type Chunker interface {
	// Name identifies the chunking strategy (e.g. "simple").
	Name() string

	// Chunk streams chunks for a single file's contents. maxChunkSize is the
	// embedding provider's own MaxChunkSize, so the chunker can size chunks
	// to what the destination embedding call will accept. digest is the
	// file's cache key, passed through for chunkers that want to attribute
	// diagnostics to a specific version.
	Chunk(ctx context.Context, path string, contents []byte, maxChunkSize int, digest string) <-chan ChunkOrErr
}

// ChunkingConfig contains configuration for chunking strategies.
type ChunkingConfig struct {
	Strategy     string // "simple"
	MaxChunkSize int    // Max size per chunk, in the chunker's own units
}

// FileReader reads file contents for the compute pipeline. Kept as its own
// interface so tests can substitute an in-memory reader without touching disk.
type FileReader interface {
	Read(path string) ([]byte, error)
}
