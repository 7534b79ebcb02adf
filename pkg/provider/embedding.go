// Package provider defines the interfaces implemented by pluggable engine
// components: embedding providers, chunkers, file readers, remote caches and
// vector stores.
package provider

import "context"

// EmbeddingProvider generates vector embeddings from text. Implementations
// are black boxes to the engine: it never inspects model internals, only the
// contract below.
type EmbeddingProvider interface {
	// ID identifies the provider+model combination, e.g. "openai:text-embedding-3-small".
	// It is used to build a Tag's ArtifactID, so it must be stable across
	// process restarts and unique per distinct embedding space.
	ID() string

	// MaxChunkSize returns the largest chunk, in characters, this provider
	// will accept in a single Embed call element.
	MaxChunkSize() int

	// Embed returns one vector per input text, in the same order. A
	// provider returning a different count than len(texts) violates its
	// contract; callers should treat that as types.ErrProviderContractViolation.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector length this provider produces.
	Dimensions() int

	// Close releases any resources (HTTP clients, connections).
	Close() error
}

// EmbeddingConfig contains configuration for embedding providers.
type EmbeddingConfig struct {
	Provider  string // "ollama", "openai"
	Model     string // Model name
	Endpoint  string // API endpoint (for Ollama)
	APIKey    string // API key (for OpenAI)
	BatchSize int    // Documents per batch
}
