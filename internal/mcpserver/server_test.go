package mcpserver

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vecindex/engine/internal/retrieve"
	"github.com/vecindex/engine/pkg/provider"
	"github.com/vecindex/engine/pkg/types"
)

type fakeVectorStore struct {
	hits []provider.SearchHit
}

func (f *fakeVectorStore) TableNames(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeVectorStore) CreateTable(ctx context.Context, table string, dimensions int) error {
	return nil
}
func (f *fakeVectorStore) OpenTable(ctx context.Context, table string) (bool, error) { return true, nil }
func (f *fakeVectorStore) AddRows(ctx context.Context, table string, rows []types.ChunkRow) error {
	return nil
}
func (f *fakeVectorStore) DeleteWhere(ctx context.Context, table string, pred provider.Predicate) error {
	return nil
}
func (f *fakeVectorStore) DropTable(ctx context.Context, table string) error { return nil }
func (f *fakeVectorStore) Search(ctx context.Context, table string, vector []float32, topK int, pathPrefix string) ([]provider.SearchHit, error) {
	return f.hits, nil
}
func (f *fakeVectorStore) Close() error { return nil }

type fakeCache struct {
	records map[string]types.CacheRecord
}

func (c *fakeCache) Init(path string) error                                       { return nil }
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

func toolRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "search_code",
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("expected exactly one content item, got %d", len(res.Content))
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return tc.Text
}

func TestHandleSearchCodeRequiresQuery(t *testing.T) {
	s := New(Config{
		Retriever: retrieve.New(&fakeVectorStore{}, &fakeCache{}, &fakeEmbedder{dim: 4}),
	})

	res, err := s.handleSearchCode(context.Background(), toolRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result when query is missing")
	}
}

func TestHandleSearchCodeReturnsFormattedResults(t *testing.T) {
	vs := &fakeVectorStore{hits: []provider.SearchHit{
		{UUID: "u1", Path: "a.go", CacheKey: "k1", Distance: 0.2},
	}}
	cache := &fakeCache{records: map[string]types.CacheRecord{
		"u1": {UUID: "u1", CacheKey: "k1", Path: "a.go", Contents: "func main() {}", StartLine: 1, EndLine: 1},
	}}

	s := New(Config{
		Retriever:  retrieve.New(vs, cache, &fakeEmbedder{dim: 4}),
		ArtifactID: "vectordb::fake:test",
		Tags:       []retrieve.TagRef{{Branch: "main", Directory: "/"}},
	})

	res, err := s.handleSearchCode(context.Background(), toolRequest(map[string]any{
		"query": "main entrypoint",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}

	text := resultText(t, res)
	if !strings.Contains(text, "func main() {}") {
		t.Fatalf("expected result to contain the chunk contents, got: %s", text)
	}
	if !strings.Contains(text, "a.go") {
		t.Fatalf("expected result to contain the file path, got: %s", text)
	}
}
