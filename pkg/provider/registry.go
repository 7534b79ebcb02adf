package provider

import (
	"fmt"
	"sync"

	"github.com/vecindex/engine/pkg/types"
)

// EmbeddingFactory creates an EmbeddingProvider from configuration.
type EmbeddingFactory func(config EmbeddingConfig) (EmbeddingProvider, error)

// ChunkingFactory creates a Chunker from configuration.
type ChunkingFactory func(config ChunkingConfig) (Chunker, error)

// VectorStoreFactory creates a VectorStore from configuration.
type VectorStoreFactory func(config VectorStoreConfig) (VectorStore, error)

// CacheFactory creates an EmbeddingCache from configuration.
type CacheFactory func(config CacheConfig) (EmbeddingCache, error)

// RemoteCacheFactory creates a RemoteCache from configuration.
type RemoteCacheFactory func(config RemoteCacheConfig) (RemoteCache, error)

// Registry holds factories for all provider types.
type Registry struct {
	mu sync.RWMutex

	embeddingFactories   map[string]EmbeddingFactory
	chunkingFactories    map[string]ChunkingFactory
	vectorStoreFactories map[string]VectorStoreFactory
	cacheFactories       map[string]CacheFactory
	remoteCacheFactories map[string]RemoteCacheFactory
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		embeddingFactories:   make(map[string]EmbeddingFactory),
		chunkingFactories:    make(map[string]ChunkingFactory),
		vectorStoreFactories: make(map[string]VectorStoreFactory),
		cacheFactories:       make(map[string]CacheFactory),
		remoteCacheFactories: make(map[string]RemoteCacheFactory),
	}
}

// RegisterEmbedding registers an embedding provider factory.
func (r *Registry) RegisterEmbedding(name string, factory EmbeddingFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddingFactories[name] = factory
}

// RegisterChunking registers a chunker factory.
func (r *Registry) RegisterChunking(name string, factory ChunkingFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunkingFactories[name] = factory
}

// RegisterVectorStore registers a vector store factory.
func (r *Registry) RegisterVectorStore(name string, factory VectorStoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vectorStoreFactories[name] = factory
}

// RegisterCache registers an embedding cache factory.
func (r *Registry) RegisterCache(name string, factory CacheFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheFactories[name] = factory
}

// RegisterRemoteCache registers a remote cache factory.
func (r *Registry) RegisterRemoteCache(name string, factory RemoteCacheFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remoteCacheFactories[name] = factory
}

// CreateEmbedding creates an embedding provider by name.
func (r *Registry) CreateEmbedding(name string, config EmbeddingConfig) (EmbeddingProvider, error) {
	r.mu.RLock()
	factory, ok := r.embeddingFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown embedding provider %q (available: %v): %w", name, r.ListEmbeddings(), types.ErrProviderNotAvailable)
	}
	return factory(config)
}

// CreateChunking creates a chunker by name.
func (r *Registry) CreateChunking(name string, config ChunkingConfig) (Chunker, error) {
	r.mu.RLock()
	factory, ok := r.chunkingFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown chunking strategy %q (available: %v): %w", name, r.ListChunkings(), types.ErrProviderNotAvailable)
	}
	return factory(config)
}

// CreateVectorStore creates a vector store by name.
func (r *Registry) CreateVectorStore(name string, config VectorStoreConfig) (VectorStore, error) {
	r.mu.RLock()
	factory, ok := r.vectorStoreFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown vector store %q (available: %v): %w", name, r.ListVectorStores(), types.ErrProviderNotAvailable)
	}
	return factory(config)
}

// CreateCache creates an embedding cache by name.
func (r *Registry) CreateCache(name string, config CacheConfig) (EmbeddingCache, error) {
	r.mu.RLock()
	factory, ok := r.cacheFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown cache backend %q (available: %v): %w", name, r.ListCaches(), types.ErrProviderNotAvailable)
	}
	return factory(config)
}

// CreateRemoteCache creates a remote cache client by name.
func (r *Registry) CreateRemoteCache(name string, config RemoteCacheConfig) (RemoteCache, error) {
	r.mu.RLock()
	factory, ok := r.remoteCacheFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown remote cache backend %q (available: %v): %w", name, r.ListRemoteCaches(), types.ErrProviderNotAvailable)
	}
	return factory(config)
}

// ListEmbeddings returns all registered embedding provider names.
func (r *Registry) ListEmbeddings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.embeddingFactories))
	for name := range r.embeddingFactories {
		names = append(names, name)
	}
	return names
}

// ListChunkings returns all registered chunker names.
func (r *Registry) ListChunkings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.chunkingFactories))
	for name := range r.chunkingFactories {
		names = append(names, name)
	}
	return names
}

// ListVectorStores returns all registered vector store names.
func (r *Registry) ListVectorStores() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.vectorStoreFactories))
	for name := range r.vectorStoreFactories {
		names = append(names, name)
	}
	return names
}

// ListCaches returns all registered embedding cache backend names.
func (r *Registry) ListCaches() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.cacheFactories))
	for name := range r.cacheFactories {
		names = append(names, name)
	}
	return names
}

// ListRemoteCaches returns all registered remote cache backend names.
func (r *Registry) ListRemoteCaches() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.remoteCacheFactories))
	for name := range r.remoteCacheFactories {
		names = append(names, name)
	}
	return names
}

// DefaultRegistry is the global default registry, populated by the builtin
// package's init function.
var DefaultRegistry = NewRegistry()

// RegisterEmbedding registers an embedding provider in the default registry.
func RegisterEmbedding(name string, factory EmbeddingFactory) {
	DefaultRegistry.RegisterEmbedding(name, factory)
}

// RegisterChunking registers a chunker in the default registry.
func RegisterChunking(name string, factory ChunkingFactory) {
	DefaultRegistry.RegisterChunking(name, factory)
}

// RegisterVectorStore registers a vector store in the default registry.
func RegisterVectorStore(name string, factory VectorStoreFactory) {
	DefaultRegistry.RegisterVectorStore(name, factory)
}

// RegisterCache registers an embedding cache backend in the default registry.
func RegisterCache(name string, factory CacheFactory) {
	DefaultRegistry.RegisterCache(name, factory)
}

// RegisterRemoteCache registers a remote cache backend in the default registry.
func RegisterRemoteCache(name string, factory RemoteCacheFactory) {
	DefaultRegistry.RegisterRemoteCache(name, factory)
}
