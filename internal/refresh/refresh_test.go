package refresh

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/vecindex/engine/pkg/provider"
	"github.com/vecindex/engine/pkg/types"
)

// fakeVectorStore is an in-memory provider.VectorStore for coordinator tests.
type fakeVectorStore struct {
	mu     sync.Mutex
	tables map[string][]types.ChunkRow
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{tables: make(map[string][]types.ChunkRow)}
}

func (f *fakeVectorStore) TableNames(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for n := range f.tables {
		names = append(names, n)
	}
	return names, nil
}

func (f *fakeVectorStore) CreateTable(ctx context.Context, table string, dimensions int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[table]; !ok {
		f.tables[table] = nil
	}
	return nil
}

func (f *fakeVectorStore) OpenTable(ctx context.Context, table string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tables[table]
	return ok, nil
}

func (f *fakeVectorStore) AddRows(ctx context.Context, table string, rows []types.ChunkRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = append(f.tables[table], rows...)
	return nil
}

func (f *fakeVectorStore) DeleteWhere(ctx context.Context, table string, pred provider.Predicate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []types.ChunkRow
	for _, r := range f.tables[table] {
		match := true
		if pred.CacheKey != "" && r.CacheKey != pred.CacheKey {
			match = false
		}
		if pred.Path != "" && r.Path != pred.Path {
			match = false
		}
		if !match {
			kept = append(kept, r)
		}
	}
	f.tables[table] = kept
	return nil
}

func (f *fakeVectorStore) DropTable(ctx context.Context, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tables, table)
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, table string, vector []float32, topK int, pathPrefix string) ([]provider.SearchHit, error) {
	return nil, nil
}

func (f *fakeVectorStore) Close() error { return nil }

// fakeCache is an in-memory provider.EmbeddingCache for coordinator tests.
type fakeCache struct {
	mu      sync.Mutex
	records map[string]types.CacheRecord
}

func newFakeCache() *fakeCache {
	return &fakeCache{records: make(map[string]types.CacheRecord)}
}

func (c *fakeCache) Init(path string) error { return nil }

func (c *fakeCache) Insert(ctx context.Context, records []types.CacheRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		c.records[r.UUID] = r
	}
	return nil
}

func (c *fakeCache) SelectByKey(ctx context.Context, artifactID string, items []types.RefreshItem) ([]types.CacheRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.CacheRecord
	for _, r := range c.records {
		for _, item := range items {
			if r.ArtifactID == artifactID && r.CacheKey == item.CacheKey && r.Path == item.Path {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (c *fakeCache) SelectByUUIDs(ctx context.Context, uuids []string) ([]types.CacheRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.CacheRecord
	for _, u := range uuids {
		if r, ok := c.records[u]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *fakeCache) Delete(ctx context.Context, artifactID string, items []types.RefreshItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for uuid, r := range c.records {
		for _, item := range items {
			if r.ArtifactID == artifactID && r.CacheKey == item.CacheKey && r.Path == item.Path {
				delete(c.records, uuid)
			}
		}
	}
	return nil
}

func (c *fakeCache) Stats(ctx context.Context) (provider.CacheStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return provider.CacheStats{Rows: int64(len(c.records))}, nil
}

func (c *fakeCache) Close() error { return nil }

// fakeReader/oneChunkPerFile/fakeEmbedder play the roles of the pipeline
// package's fakeReader/fixedChunker/fakeEmbedder.
type fakeReader struct{ files map[string][]byte }

func (r *fakeReader) Read(path string) ([]byte, error) {
	c, ok := r.files[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	return c, nil
}

type oneChunkPerFile struct{}

func (o *oneChunkPerFile) Name() string { return "one" }
func (o *oneChunkPerFile) Chunk(ctx context.Context, path string, contents []byte, maxChunkSize int, digest string) <-chan provider.ChunkOrErr {
	out := make(chan provider.ChunkOrErr, 1)
	out <- provider.ChunkOrErr{Chunk: types.Chunk{FilePath: path, Content: string(contents), StartLine: 1, EndLine: 1}}
	close(out)
	return out
}

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

// fakeRemoteCache is a provider.RemoteCache stub for coordinator tests.
type fakeRemoteCache struct {
	getErr  error
	results []provider.RemoteCacheResult
}

func (r *fakeRemoteCache) Connected(ctx context.Context) bool { return true }
func (r *fakeRemoteCache) Get(ctx context.Context, keys []string, label, repoName string) ([]provider.RemoteCacheResult, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.results, nil
}

// failingVectorStore embeds a working fakeVectorStore but fails AddRows,
// simulating a durable-write failure after a remote cache hit is found.
type failingVectorStore struct {
	*fakeVectorStore
}

func (f *failingVectorStore) AddRows(ctx context.Context, table string, rows []types.ChunkRow) error {
	return fmt.Errorf("simulated write failure")
}

func collectComplete() (types.MarkCompleteFunc, func() map[types.ResultKind][]types.RefreshItem) {
	var mu sync.Mutex
	completed := make(map[types.ResultKind][]types.RefreshItem)
	fn := func(items []types.RefreshItem, kind types.ResultKind) {
		mu.Lock()
		defer mu.Unlock()
		completed[kind] = append(completed[kind], items...)
	}
	return fn, func() map[types.ResultKind][]types.RefreshItem {
		mu.Lock()
		defer mu.Unlock()
		return completed
	}
}

func TestUpdateComputeCreatesTableAndCompletes(t *testing.T) {
	vs := newFakeVectorStore()
	cache := newFakeCache()
	reader := &fakeReader{files: map[string][]byte{"a.go": []byte("package a")}}
	coord := New(vs, cache, nil, reader, &oneChunkPerFile{}, &fakeEmbedder{dim: 4})

	tag := types.Tag{Branch: "main", Directory: "/", ArtifactID: "vectordb::fake:test"}
	results := types.RefreshResults{Compute: []types.RefreshItem{{Path: "a.go", CacheKey: "v1"}}}

	markComplete, getCompleted := collectComplete()

	var last types.ProgressEvent
	for ev := range coord.Update(context.Background(), tag, results, markComplete, "repo") {
		if ev.Err != nil {
			t.Fatalf("unexpected error: %v", ev.Err)
		}
		last = ev
	}
	if !last.Done || last.Progress != 1 {
		t.Fatalf("expected terminal done event with progress 1, got %+v", last)
	}

	completed := getCompleted()
	if len(completed[types.ResultCompute]) != 1 {
		t.Fatalf("expected one compute completion, got %+v", completed)
	}

	table := types.Sanitize(tag)
	exists, _ := vs.OpenTable(context.Background(), table)
	if !exists {
		t.Fatal("expected vector table to be created")
	}
	if len(vs.tables[table]) != 1 {
		t.Fatalf("expected 1 row in vector table, got %d", len(vs.tables[table]))
	}
}

func TestUpdateAddTagReusesCache(t *testing.T) {
	vs := newFakeVectorStore()
	cache := newFakeCache()
	tag := types.Tag{Branch: "main", Directory: "/", ArtifactID: "vectordb::fake:test"}

	cache.records["existing-uuid"] = types.CacheRecord{
		UUID: "existing-uuid", CacheKey: "v1", Path: "a.go", ArtifactID: tag.ArtifactID,
		Vector: []float32{1, 2, 3, 4},
	}

	coord := New(vs, cache, nil, &fakeReader{}, &oneChunkPerFile{}, &fakeEmbedder{dim: 4})
	results := types.RefreshResults{AddTag: []types.RefreshItem{{Path: "a.go", CacheKey: "v1"}}}
	markComplete, getCompleted := collectComplete()

	for ev := range coord.Update(context.Background(), tag, results, markComplete, "repo") {
		if ev.Err != nil {
			t.Fatalf("unexpected error: %v", ev.Err)
		}
	}

	completed := getCompleted()
	if len(completed[types.ResultAddTag]) != 1 {
		t.Fatalf("expected one addTag completion, got %+v", completed)
	}

	table := types.Sanitize(tag)
	if len(vs.tables[table]) != 1 {
		t.Fatalf("expected 1 row added from cache reuse, got %d", len(vs.tables[table]))
	}
}

func TestUpdateRemoveTagDeletesFromTableOnly(t *testing.T) {
	vs := newFakeVectorStore()
	cache := newFakeCache()
	tag := types.Tag{Branch: "main", Directory: "/", ArtifactID: "vectordb::fake:test"}
	table := types.Sanitize(tag)

	vs.CreateTable(context.Background(), table, 4)
	vs.tables[table] = []types.ChunkRow{{UUID: "u1", Path: "a.go", CacheKey: "v1", Vector: []float32{1, 2, 3, 4}}}
	cache.records["u1"] = types.CacheRecord{UUID: "u1", Path: "a.go", CacheKey: "v1", ArtifactID: tag.ArtifactID}

	coord := New(vs, cache, nil, &fakeReader{}, &oneChunkPerFile{}, &fakeEmbedder{dim: 4})
	results := types.RefreshResults{RemoveTag: []types.RefreshItem{{Path: "a.go", CacheKey: "v1"}}}
	markComplete, getCompleted := collectComplete()

	for ev := range coord.Update(context.Background(), tag, results, markComplete, "repo") {
		if ev.Err != nil {
			t.Fatalf("unexpected error: %v", ev.Err)
		}
	}

	if len(vs.tables[table]) != 0 {
		t.Fatalf("expected row removed from table, got %d rows", len(vs.tables[table]))
	}
	if len(cache.records) != 1 {
		t.Fatalf("expected cache record to survive removeTag, got %d records", len(cache.records))
	}
	if len(getCompleted()[types.ResultRemoveTag]) != 1 {
		t.Fatal("expected removeTag completion")
	}
}

func TestUpdateDeleteRemovesFromBoth(t *testing.T) {
	vs := newFakeVectorStore()
	cache := newFakeCache()
	tag := types.Tag{Branch: "main", Directory: "/", ArtifactID: "vectordb::fake:test"}
	table := types.Sanitize(tag)

	vs.CreateTable(context.Background(), table, 4)
	vs.tables[table] = []types.ChunkRow{{UUID: "u1", Path: "a.go", CacheKey: "v1", Vector: []float32{1, 2, 3, 4}}}
	cache.records["u1"] = types.CacheRecord{UUID: "u1", Path: "a.go", CacheKey: "v1", ArtifactID: tag.ArtifactID}

	coord := New(vs, cache, nil, &fakeReader{}, &oneChunkPerFile{}, &fakeEmbedder{dim: 4})
	results := types.RefreshResults{Del: []types.RefreshItem{{Path: "a.go", CacheKey: "v1"}}}
	markComplete, getCompleted := collectComplete()

	for ev := range coord.Update(context.Background(), tag, results, markComplete, "repo") {
		if ev.Err != nil {
			t.Fatalf("unexpected error: %v", ev.Err)
		}
	}

	if len(vs.tables[table]) != 0 {
		t.Fatal("expected row removed from table")
	}
	if len(cache.records) != 0 {
		t.Fatal("expected cache record removed")
	}
	if len(getCompleted()[types.ResultDelete]) != 1 {
		t.Fatal("expected delete completion")
	}
	if len(getCompleted()[types.ResultRemoveTag]) != 1 {
		t.Fatal("expected a del item to also receive a removeTag completion for its table row removal")
	}
}

func TestUpdateSkipsFailedFileWithoutMarkingComplete(t *testing.T) {
	vs := newFakeVectorStore()
	cache := newFakeCache()
	tag := types.Tag{Branch: "main", Directory: "/", ArtifactID: "vectordb::fake:test"}

	// reader has no files, so the read will fail and the pipeline must skip it.
	coord := New(vs, cache, nil, &fakeReader{files: map[string][]byte{}}, &oneChunkPerFile{}, &fakeEmbedder{dim: 4})
	results := types.RefreshResults{Compute: []types.RefreshItem{{Path: "missing.go", CacheKey: "v1"}}}
	markComplete, getCompleted := collectComplete()

	for ev := range coord.Update(context.Background(), tag, results, markComplete, "repo") {
		if ev.Err != nil {
			t.Fatalf("unexpected fatal error: %v", ev.Err)
		}
	}

	if len(getCompleted()[types.ResultCompute]) != 0 {
		t.Fatal("expected no completion for a skipped file")
	}
}

func TestUpdateRemoteLookupFailureFallsBackToLocalCompute(t *testing.T) {
	vs := newFakeVectorStore()
	cache := newFakeCache()
	tag := types.Tag{Branch: "main", Directory: "/", ArtifactID: "vectordb::fake:test"}

	remote := &fakeRemoteCache{getErr: fmt.Errorf("remote unreachable")}
	reader := &fakeReader{files: map[string][]byte{"a.go": []byte("package a")}}
	coord := New(vs, cache, remote, reader, &oneChunkPerFile{}, &fakeEmbedder{dim: 4})

	results := types.RefreshResults{Compute: []types.RefreshItem{{Path: "a.go", CacheKey: "v1"}}}
	markComplete, getCompleted := collectComplete()

	for ev := range coord.Update(context.Background(), tag, results, markComplete, "repo") {
		if ev.Err != nil {
			t.Fatalf("expected the remote lookup failure to degrade silently, got error: %v", ev.Err)
		}
	}

	if len(getCompleted()[types.ResultCompute]) != 1 {
		t.Fatalf("expected local compute to complete the item after remote lookup failure, got %+v", getCompleted())
	}
}

func TestUpdateRemoteWriteFailureIsFatal(t *testing.T) {
	vs := &failingVectorStore{fakeVectorStore: newFakeVectorStore()}
	cache := newFakeCache()
	tag := types.Tag{Branch: "main", Directory: "/", ArtifactID: "vectordb::fake:test"}

	remote := &fakeRemoteCache{results: []provider.RemoteCacheResult{
		{CacheKey: "v1", Contents: "package a", Vector: []float32{1, 2, 3, 4}},
	}}
	reader := &fakeReader{files: map[string][]byte{"a.go": []byte("package a")}}
	coord := New(vs, cache, remote, reader, &oneChunkPerFile{}, &fakeEmbedder{dim: 4})

	results := types.RefreshResults{Compute: []types.RefreshItem{{Path: "a.go", CacheKey: "v1"}}}
	markComplete, getCompleted := collectComplete()

	var sawErr bool
	for ev := range coord.Update(context.Background(), tag, results, markComplete, "repo") {
		if ev.Err != nil {
			sawErr = true
		}
	}
	if !sawErr {
		t.Fatal("expected a durable-write failure on a remote hit to be fatal")
	}
	if len(getCompleted()[types.ResultCompute]) != 0 {
		t.Fatalf("expected no completion once the durable write failed, got %+v", getCompleted())
	}
}

func TestUpdateRejectsConcurrentCallsOverSameTag(t *testing.T) {
	vs := newFakeVectorStore()
	cache := newFakeCache()
	tag := types.Tag{Branch: "main", Directory: "/", ArtifactID: "vectordb::fake:test"}

	// The reader blocks until the test releases it, holding the first
	// Update's tag lock open so the second call is guaranteed to observe it.
	blocking := make(chan struct{})
	reader := &blockingReader{files: map[string][]byte{"a.go": []byte("package a")}, unblock: blocking}
	coord := New(vs, cache, nil, reader, &oneChunkPerFile{}, &fakeEmbedder{dim: 4})

	results := types.RefreshResults{Compute: []types.RefreshItem{{Path: "a.go", CacheKey: "v1"}}}
	markComplete, _ := collectComplete()

	// Update acquires the tag lock synchronously before returning its
	// channel, so by the time this call returns the lock is already held.
	first := coord.Update(context.Background(), tag, results, markComplete, "repo")

	var lastErr error
	for ev := range coord.Update(context.Background(), tag, results, markComplete, "repo") {
		if ev.Err != nil {
			lastErr = ev.Err
		}
	}
	if lastErr == nil {
		t.Fatal("expected second concurrent Update over the same tag to fail")
	}

	close(blocking)
	for range first {
	}
}

// blockingReader blocks every Read until unblock is closed.
type blockingReader struct {
	files   map[string][]byte
	unblock chan struct{}
}

func (r *blockingReader) Read(path string) ([]byte, error) {
	<-r.unblock
	c, ok := r.files[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	return c, nil
}
