package provider

import (
	"context"

	"github.com/vecindex/engine/pkg/types"
)

// RemoteCacheResult is a single hit returned by a RemoteCache.Get call.
type RemoteCacheResult struct {
	CacheKey  string
	Contents  string
	StartLine int
	EndLine   int
	Vector    []float32
}

// RemoteCache is an optional short-circuit consulted before local computation:
// if a remote index already holds embeddings for a given (cacheKey, label,
// repoName) triple, the refresh coordinator can skip local chunk+embed work
// for that file entirely. Implementations that have no remote backend should
// report Connected() == false rather than erroring on every call.
type RemoteCache interface {
	// Connected reports whether the remote cache is reachable. The refresh
	// coordinator treats a disconnected cache exactly like an empty result
	// set, never as a fatal error.
	Connected(ctx context.Context) bool

	// Get looks up embeddings for the given cache keys under label and
	// repoName. Keys with no remote match are simply absent from the
	// result slice, not represented as an error.
	Get(ctx context.Context, keys []string, label string, repoName string) ([]RemoteCacheResult, error)
}

// RemoteCacheConfig contains configuration for the remote cache client.
type RemoteCacheConfig struct {
	Enabled  bool
	Endpoint string
	APIKey   string
}

// ArtifactFromRemote turns a remote result plus provider/path context into a
// CacheRecord ready for local insertion, so a remote hit is indistinguishable
// from a locally computed one once cached.
func ArtifactFromRemote(r RemoteCacheResult, uuid, path, artifactID string) types.CacheRecord {
	return types.CacheRecord{
		UUID:       uuid,
		CacheKey:   r.CacheKey,
		Path:       path,
		ArtifactID: artifactID,
		Vector:     r.Vector,
		StartLine:  r.StartLine,
		EndLine:    r.EndLine,
		Contents:   r.Contents,
	}
}
