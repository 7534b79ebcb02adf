// Package retrieve implements nearest-neighbor retrieval across a set of
// tags, joining vector search hits back to their stored chunk text.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/vecindex/engine/pkg/provider"
	"github.com/vecindex/engine/pkg/types"
)

// perTagSearchCapDefault bounds the per-tag result count when a directory
// filter is applied and post-filtering is expected to discard most hits.
const perTagSearchCapDefault = 300

// TagRef names one corpus to search: a (branch, directory) pair, joined
// with an artifact identifier to form the full Tag at query time.
type TagRef struct {
	Branch    string
	Directory string
}

// Retriever answers nearest-neighbor queries across a set of tags sharing
// one embedding provider.
type Retriever struct {
	VectorStore provider.VectorStore
	Cache       provider.EmbeddingCache
	Embedder    provider.EmbeddingProvider

	// PerTagSearchCap overrides perTagSearchCapDefault when non-zero.
	PerTagSearchCap int
}

// New creates a Retriever from its collaborators.
func New(vs provider.VectorStore, cache provider.EmbeddingCache, embedder provider.EmbeddingProvider) *Retriever {
	return &Retriever{VectorStore: vs, Cache: cache, Embedder: embedder}
}

type scoredHit struct {
	tag types.Tag
	hit provider.SearchHit
}

// Retrieve embeds queryText once, searches every tag formed from tags with
// artifactId, merges and truncates to n, and joins the survivors back to
// their chunk text via the embedding cache.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, n int, tags []TagRef, artifactID, filterDirectory string) ([]types.RetrievedChunk, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	vectors, err := r.Embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 || vectors[0] == nil {
		return nil, fmt.Errorf("%w: embed returned no vector for query", types.ErrProviderContractViolation)
	}
	queryVector := vectors[0]

	searchCap := r.PerTagSearchCap
	if searchCap == 0 {
		searchCap = perTagSearchCapDefault
	}

	limit := n
	pathPrefix := ""
	if filterDirectory != "" {
		limit = searchCap
		pathPrefix = filterDirectory
	}

	var all []scoredHit
	for _, ref := range tags {
		tag := types.Tag{Branch: ref.Branch, Directory: ref.Directory, ArtifactID: artifactID}
		table := types.Sanitize(tag)

		exists, err := r.VectorStore.OpenTable(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("opening table for tag %s: %w", table, err)
		}
		if !exists {
			slog.Warn("retrieve: no table for tag, skipping", "table", table)
			continue
		}

		hits, err := r.VectorStore.Search(ctx, table, queryVector, limit, pathPrefix)
		if err != nil {
			return nil, fmt.Errorf("searching table %s: %w", table, err)
		}
		for _, h := range hits {
			all = append(all, scoredHit{tag: tag, hit: h})
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].hit.Distance < all[j].hit.Distance })
	if len(all) > n {
		all = all[:n]
	}

	if len(all) == 0 {
		return nil, nil
	}

	uuids := make([]string, len(all))
	for i, s := range all {
		uuids[i] = s.hit.UUID
	}

	records, err := r.Cache.SelectByUUIDs(ctx, uuids)
	if err != nil {
		return nil, fmt.Errorf("joining chunk text: %w", err)
	}
	byUUID := make(map[string]types.CacheRecord, len(records))
	for _, rec := range records {
		byUUID[rec.UUID] = rec
	}

	chunks := make([]types.RetrievedChunk, 0, len(all))
	for _, s := range all {
		rec, ok := byUUID[s.hit.UUID]
		if !ok {
			slog.Warn("retrieve: search hit has no matching cache record, skipping", "uuid", s.hit.UUID)
			continue
		}
		chunks = append(chunks, types.RetrievedChunk{
			Digest:    rec.CacheKey,
			FilePath:  rec.Path,
			StartLine: rec.StartLine,
			EndLine:   rec.EndLine,
			Content:   rec.Contents,
			Index:     0,
			Distance:  s.hit.Distance,
		})
	}

	return chunks, nil
}
