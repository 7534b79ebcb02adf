package retrieve

import (
	"context"
	"testing"

	"github.com/vecindex/engine/pkg/provider"
	"github.com/vecindex/engine/pkg/types"
)

type fakeVectorStore struct {
	tables map[string][]provider.SearchHit
	// searches records the (table, topK, pathPrefix) of each Search call.
	searches []searchCall
}

type searchCall struct {
	table      string
	topK       int
	pathPrefix string
}

func (f *fakeVectorStore) TableNames(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeVectorStore) CreateTable(ctx context.Context, table string, dimensions int) error {
	return nil
}
func (f *fakeVectorStore) OpenTable(ctx context.Context, table string) (bool, error) {
	_, ok := f.tables[table]
	return ok, nil
}
func (f *fakeVectorStore) AddRows(ctx context.Context, table string, rows []types.ChunkRow) error {
	return nil
}
func (f *fakeVectorStore) DeleteWhere(ctx context.Context, table string, pred provider.Predicate) error {
	return nil
}
func (f *fakeVectorStore) DropTable(ctx context.Context, table string) error { return nil }
func (f *fakeVectorStore) Search(ctx context.Context, table string, vector []float32, topK int, pathPrefix string) ([]provider.SearchHit, error) {
	f.searches = append(f.searches, searchCall{table: table, topK: topK, pathPrefix: pathPrefix})
	return f.tables[table], nil
}
func (f *fakeVectorStore) Close() error { return nil }

type fakeCache struct {
	records map[string]types.CacheRecord
}

func (c *fakeCache) Init(path string) error { return nil }
func (c *fakeCache) Insert(ctx context.Context, records []types.CacheRecord) error { return nil }
func (c *fakeCache) SelectByKey(ctx context.Context, artifactID string, items []types.RefreshItem) ([]types.CacheRecord, error) {
	return nil, nil
}
func (c *fakeCache) SelectByUUIDs(ctx context.Context, uuids []string) ([]types.CacheRecord, error) {
	var out []types.CacheRecord
	for _, u := range uuids {
		if r, ok := c.records[u]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}
func (c *fakeCache) Delete(ctx context.Context, artifactID string, items []types.RefreshItem) error {
	return nil
}
func (c *fakeCache) Stats(ctx context.Context) (provider.CacheStats, error) {
	return provider.CacheStats{}, nil
}
func (c *fakeCache) Close() error { return nil }

type fakeEmbedder struct{ dim int }

func (e *fakeEmbedder) ID() string        { return "fake:test" }
func (e *fakeEmbedder) MaxChunkSize() int { return 2000 }
func (e *fakeEmbedder) Dimensions() int   { return e.dim }
func (e *fakeEmbedder) Close() error      { return nil }
func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

func TestRetrieveEmptyTagsReturnsEmpty(t *testing.T) {
	r := New(&fakeVectorStore{tables: map[string][]provider.SearchHit{}}, &fakeCache{}, &fakeEmbedder{dim: 4})
	chunks, err := r.Retrieve(context.Background(), "query", 5, nil, "vectordb::fake:test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected empty result, got %d chunks", len(chunks))
	}
}

func TestRetrieveMissingTableSkipsWithoutError(t *testing.T) {
	vs := &fakeVectorStore{tables: map[string][]provider.SearchHit{}}
	r := New(vs, &fakeCache{}, &fakeEmbedder{dim: 4})
	chunks, err := r.Retrieve(context.Background(), "query", 5, []TagRef{{Branch: "main", Directory: "/"}}, "vectordb::fake:test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected empty result for missing table, got %d", len(chunks))
	}
}

func TestRetrieveMergesSortsAndTruncates(t *testing.T) {
	tagA := types.Tag{Branch: "main", Directory: "/", ArtifactID: "vectordb::fake:test"}
	tagB := types.Tag{Branch: "main", Directory: "/lib", ArtifactID: "vectordb::fake:test"}
	tableA := types.Sanitize(tagA)
	tableB := types.Sanitize(tagB)

	vs := &fakeVectorStore{tables: map[string][]provider.SearchHit{
		tableA: {
			{UUID: "u1", Path: "a.go", CacheKey: "k1", Distance: 0.5},
			{UUID: "u2", Path: "b.go", CacheKey: "k2", Distance: 0.1},
		},
		tableB: {
			{UUID: "u3", Path: "lib/c.go", CacheKey: "k3", Distance: 0.3},
		},
	}}

	cache := &fakeCache{records: map[string]types.CacheRecord{
		"u1": {UUID: "u1", CacheKey: "k1", Path: "a.go", Contents: "one", StartLine: 1, EndLine: 2},
		"u2": {UUID: "u2", CacheKey: "k2", Path: "b.go", Contents: "two", StartLine: 3, EndLine: 4},
		"u3": {UUID: "u3", CacheKey: "k3", Path: "lib/c.go", Contents: "three", StartLine: 5, EndLine: 6},
	}}

	r := New(vs, cache, &fakeEmbedder{dim: 4})
	chunks, err := r.Retrieve(context.Background(), "query", 2, []TagRef{
		{Branch: "main", Directory: "/"},
		{Branch: "main", Directory: "/lib"},
	}, "vectordb::fake:test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks after truncation to n=2, got %d", len(chunks))
	}
	if chunks[0].Content != "two" || chunks[1].Content != "three" {
		t.Fatalf("expected ascending distance order [two, three], got %+v", chunks)
	}
	if chunks[0].Distance > chunks[1].Distance {
		t.Fatal("expected ascending distance order")
	}
}

func TestRetrieveWithDirectoryFilterUsesCapAndPrefix(t *testing.T) {
	tag := types.Tag{Branch: "main", Directory: "/", ArtifactID: "vectordb::fake:test"}
	table := types.Sanitize(tag)
	vs := &fakeVectorStore{tables: map[string][]provider.SearchHit{table: {{UUID: "u1", Path: "src/a.go", CacheKey: "k1"}}}}
	cache := &fakeCache{records: map[string]types.CacheRecord{
		"u1": {UUID: "u1", CacheKey: "k1", Path: "src/a.go", Contents: "x"},
	}}

	r := New(vs, cache, &fakeEmbedder{dim: 4})
	_, err := r.Retrieve(context.Background(), "query", 3, []TagRef{{Branch: "main", Directory: "/"}}, "vectordb::fake:test", "src/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vs.searches) != 1 {
		t.Fatalf("expected one search call, got %d", len(vs.searches))
	}
	call := vs.searches[0]
	if call.pathPrefix != "src/" {
		t.Fatalf("expected pathPrefix 'src/', got %q", call.pathPrefix)
	}
	if call.topK != perTagSearchCapDefault {
		t.Fatalf("expected topK capped at %d, got %d", perTagSearchCapDefault, call.topK)
	}
}
