// Package refresh implements the refresh coordinator: the fixed eight-step
// protocol that reconciles a tag's vector table against an upstream diff of
// compute/addTag/removeTag/del items.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vecindex/engine/internal/pipeline"
	"github.com/vecindex/engine/pkg/provider"
	"github.com/vecindex/engine/pkg/types"
)

// Coordinator drives one tag's refresh against its backing stores.
type Coordinator struct {
	VectorStore provider.VectorStore
	Cache       provider.EmbeddingCache
	RemoteCache provider.RemoteCache // may be nil
	Reader      provider.FileReader
	Chunker     provider.Chunker
	Embedder    provider.EmbeddingProvider

	tagLocksMu sync.Mutex
	tagLocks   map[string]struct{}
}

// New creates a refresh coordinator from its collaborators.
func New(vs provider.VectorStore, cache provider.EmbeddingCache, remote provider.RemoteCache, reader provider.FileReader, chunker provider.Chunker, embedder provider.EmbeddingProvider) *Coordinator {
	return &Coordinator{
		VectorStore: vs,
		Cache:       cache,
		RemoteCache: remote,
		Reader:      reader,
		Chunker:     chunker,
		Embedder:    embedder,
		tagLocks:    make(map[string]struct{}),
	}
}

// Update runs the refresh protocol for tag against results, invoking
// markComplete as each item is durably applied, and returns a channel of
// progress events. The channel is closed after the terminal done event, or
// immediately after a fatal error event. A second Update call over the same
// tag while one is already running fails fast with ErrTagLocked instead of
// interleaving with the running update, since the protocol is not
// serializable at any finer grain than a whole tag.
func (c *Coordinator) Update(ctx context.Context, tag types.Tag, results types.RefreshResults, markComplete types.MarkCompleteFunc, repoName string) <-chan types.ProgressEvent {
	out := make(chan types.ProgressEvent)
	table := types.Sanitize(tag)

	if !c.acquireTagLock(table) {
		go func() {
			defer close(out)
			emit(ctx, out, types.ProgressEvent{Phase: "refresh", Err: fmt.Errorf("tag %s: %w", table, types.ErrTagLocked), Done: true})
		}()
		return out
	}

	go func() {
		defer close(out)
		defer c.releaseTagLock(table)
		if err := c.run(ctx, tag, results, markComplete, repoName, out); err != nil {
			emit(ctx, out, types.ProgressEvent{Phase: "refresh", Err: err, Done: true})
		}
	}()

	return out
}

func (c *Coordinator) acquireTagLock(table string) bool {
	c.tagLocksMu.Lock()
	defer c.tagLocksMu.Unlock()
	if _, locked := c.tagLocks[table]; locked {
		return false
	}
	c.tagLocks[table] = struct{}{}
	return true
}

func (c *Coordinator) releaseTagLock(table string) {
	c.tagLocksMu.Lock()
	defer c.tagLocksMu.Unlock()
	delete(c.tagLocks, table)
}

func (c *Coordinator) run(ctx context.Context, tag types.Tag, results types.RefreshResults, markComplete types.MarkCompleteFunc, repoName string, out chan<- types.ProgressEvent) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	table := types.Sanitize(tag)
	dimensions := c.Embedder.Dimensions()

	// Step 1: open the vector store, note whether the table already exists.
	tableExists, err := c.VectorStore.OpenTable(ctx, table)
	if err != nil {
		return fmt.Errorf("opening vector table: %w", err)
	}

	// Step 2: cache schema is ensured at cache construction time (see
	// internal/cache/sqlite.Init); nothing further is required here.

	compute := append([]types.RefreshItem(nil), results.Compute...)

	// Step 3: remote short-circuit. A failure to reach the remote cache
	// degrades silently to local compute; a failure while durably applying
	// a remote hit (cache/table write) is fatal, matching local compute's
	// treatment of the same store operations.
	if c.RemoteCache != nil && c.RemoteCache.Connected(ctx) {
		remaining, lookupFailed, err := c.remoteShortCircuit(ctx, tag, table, &tableExists, dimensions, compute, markComplete, repoName, out)
		if err != nil {
			if !lookupFailed {
				return fmt.Errorf("remote cache short-circuit: %w", err)
			}
			slog.Warn("remote cache lookup failed, falling back to local compute", "error", err)
		} else {
			compute = remaining
		}
	}

	// Step 4: local compute — 90% of the progress range.
	if err := c.localCompute(ctx, tag, table, &tableExists, dimensions, compute, markComplete, out); err != nil {
		if cErr := ctxErr(ctx); cErr != nil {
			return cErr
		}
		return err
	}
	if err := ctxErr(ctx); err != nil {
		return err
	}

	// Steps 5-7 share the remaining 10%, one third each.
	const tailBudget = 0.10
	const stepShare = tailBudget / 3

	// Step 5: add-tag.
	if err := c.addTag(ctx, tag, table, &tableExists, dimensions, results.AddTag, markComplete, stepShare, out); err != nil {
		return err
	}

	// Step 6: remove-tag and delete-from-table.
	if err := c.removeAndDeleteFromTable(ctx, table, tableExists, results.RemoveTag, results.Del, markComplete, stepShare, out); err != nil {
		return err
	}

	// Step 7: delete from cache.
	if err := c.deleteFromCache(ctx, tag, results.Del, markComplete, stepShare, out); err != nil {
		return err
	}

	// Step 8: terminal event.
	emit(ctx, out, types.ProgressEvent{Phase: "done", Progress: 1, Done: true})
	return nil
}

// remoteShortCircuit consults the remote cache for compute, durably applying
// every hit and returning the items still needing local computation. The
// bool return is true only when the failure is the remote lookup itself
// (Get), which the caller treats as a silent fallback to local compute; any
// other error is a failed durable write and must be treated as fatal by the
// caller, since the compute set cannot be safely reprocessed without risking
// a duplicate markComplete call for items already applied in this loop.
func (c *Coordinator) remoteShortCircuit(ctx context.Context, tag types.Tag, table string, tableExists *bool, dimensions int, compute []types.RefreshItem, markComplete types.MarkCompleteFunc, repoName string, out chan<- types.ProgressEvent) ([]types.RefreshItem, bool, error) {
	if len(compute) == 0 {
		return compute, false, nil
	}

	byKey := make(map[string]types.RefreshItem, len(compute))
	keys := make([]string, 0, len(compute))
	for _, item := range compute {
		byKey[item.CacheKey] = item
		keys = append(keys, item.CacheKey)
	}

	results, err := c.RemoteCache.Get(ctx, keys, "embeddings", repoName)
	if err != nil {
		return compute, true, err
	}

	byCacheKey := make(map[string][]provider.RemoteCacheResult)
	answered := make(map[string]bool)
	for _, r := range results {
		if _, ok := byKey[r.CacheKey]; !ok {
			slog.Warn("remote cache returned unknown cache key, dropping", "cacheKey", r.CacheKey)
			continue
		}
		byCacheKey[r.CacheKey] = append(byCacheKey[r.CacheKey], r)
		answered[r.CacheKey] = true
	}

	for cacheKey, chunkResults := range byCacheKey {
		item := byKey[cacheKey]

		if err := ensureTable(ctx, c.VectorStore, table, tableExists, dimensions); err != nil {
			return compute, false, err
		}

		records := make([]types.CacheRecord, len(chunkResults))
		rows := make([]types.ChunkRow, len(chunkResults))
		for i, r := range chunkResults {
			uuid := newUUID()
			records[i] = provider.ArtifactFromRemote(r, uuid, item.Path, tag.ArtifactID)
			rows[i] = records[i].Row()
		}

		if err := c.Cache.Insert(ctx, records); err != nil {
			return compute, false, fmt.Errorf("inserting remote cache records: %w", err)
		}
		if err := c.VectorStore.AddRows(ctx, table, rows); err != nil {
			return compute, false, fmt.Errorf("adding remote rows to vector table: %w", err)
		}

		markComplete([]types.RefreshItem{item}, types.ResultCompute)
		emit(ctx, out, types.ProgressEvent{Phase: "compute", Item: &item, Kind: types.ResultCompute, Message: "remote hit: " + item.String()})
	}

	var remaining []types.RefreshItem
	for _, item := range compute {
		if !answered[item.CacheKey] {
			remaining = append(remaining, item)
		}
	}
	return remaining, false, nil
}

func (c *Coordinator) localCompute(ctx context.Context, tag types.Tag, table string, tableExists *bool, dimensions int, compute []types.RefreshItem, markComplete types.MarkCompleteFunc, out chan<- types.ProgressEvent) error {
	if len(compute) == 0 {
		return nil
	}

	p := pipeline.New(c.Reader, c.Chunker, c.Embedder)

	var batch []types.ChunkRow

	for ev := range p.Run(ctx, compute, tag.ArtifactID) {
		if ev.Err != nil {
			return fmt.Errorf("compute pipeline: %w", ev.Err)
		}

		if ev.Row != nil {
			record := ev.Row.Record
			record.UUID = newUUID()

			if err := c.Cache.Insert(ctx, []types.CacheRecord{record}); err != nil {
				return fmt.Errorf("inserting cache record: %w", err)
			}
			batch = append(batch, record.Row())

			item := ev.Row.Item
			emit(ctx, out, types.ProgressEvent{
				Phase:    "compute",
				Progress: ev.Row.Progress * 0.90,
				Item:     &item,
				Kind:     types.ResultCompute,
				Message:  ev.Row.Message,
			})
			continue
		}

		if ev.EOF != nil {
			item := ev.EOF.Item
			if !ev.EOF.Skipped && len(batch) > 0 {
				if err := ensureTable(ctx, c.VectorStore, table, tableExists, dimensions); err != nil {
					return err
				}
				if err := c.VectorStore.AddRows(ctx, table, batch); err != nil {
					return fmt.Errorf("flushing compute batch to vector table: %w", err)
				}
				markComplete([]types.RefreshItem{item}, types.ResultCompute)
			}
			batch = nil
		}
	}

	return nil
}

func (c *Coordinator) addTag(ctx context.Context, tag types.Tag, table string, tableExists *bool, dimensions int, items []types.RefreshItem, markComplete types.MarkCompleteFunc, budget float64, out chan<- types.ProgressEvent) error {
	if len(items) == 0 {
		return nil
	}

	perItem := budget / float64(len(items))

	for i, item := range items {
		records, err := c.Cache.SelectByKey(ctx, tag.ArtifactID, []types.RefreshItem{item})
		if err != nil {
			return fmt.Errorf("selecting cache records for add-tag: %w", err)
		}
		if len(records) == 0 {
			slog.Warn("addTag item has no cache records, nothing to add", "item", item.String())
			markComplete([]types.RefreshItem{item}, types.ResultAddTag)
			emit(ctx, out, types.ProgressEvent{Phase: "addTag", Progress: 0.90 + perItem*float64(i+1), Item: &item, Kind: types.ResultAddTag, Message: item.String()})
			continue
		}

		if err := ensureTable(ctx, c.VectorStore, table, tableExists, dimensions); err != nil {
			return err
		}

		rows := make([]types.ChunkRow, len(records))
		for j, r := range records {
			rows[j] = r.Row()
		}
		if err := c.VectorStore.AddRows(ctx, table, rows); err != nil {
			return fmt.Errorf("adding tag rows: %w", err)
		}

		markComplete([]types.RefreshItem{item}, types.ResultAddTag)
		emit(ctx, out, types.ProgressEvent{
			Phase:    "addTag",
			Progress: 0.90 + perItem*float64(i+1),
			Item:     &item,
			Kind:     types.ResultAddTag,
			Message:  item.String(),
		})
	}

	return nil
}

func (c *Coordinator) removeAndDeleteFromTable(ctx context.Context, table string, tableExists bool, removeTag, del []types.RefreshItem, markComplete types.MarkCompleteFunc, budget float64, out chan<- types.ProgressEvent) error {
	all := append(append([]types.RefreshItem(nil), removeTag...), del...)
	if len(all) == 0 {
		return nil
	}
	if !tableExists {
		// Nothing to remove from a table that was never created.
		markComplete(all, types.ResultRemoveTag)
		return nil
	}

	perItem := budget / float64(len(all))
	step := 0

	for _, item := range all {
		if err := c.VectorStore.DeleteWhere(ctx, table, provider.Predicate{CacheKey: item.CacheKey, Path: item.Path}); err != nil {
			return fmt.Errorf("predicate delete failed for %s: %w", item.String(), err)
		}
		step++
		emit(ctx, out, types.ProgressEvent{
			Phase:    "removeTag",
			Progress: 0.90 + budget + perItem*float64(step),
			Item:     &item,
			Message:  item.String(),
		})
	}

	markComplete(all, types.ResultRemoveTag)
	return nil
}

func (c *Coordinator) deleteFromCache(ctx context.Context, tag types.Tag, del []types.RefreshItem, markComplete types.MarkCompleteFunc, budget float64, out chan<- types.ProgressEvent) error {
	if len(del) == 0 {
		return nil
	}

	perItem := budget / float64(len(del))
	for i, item := range del {
		if err := c.Cache.Delete(ctx, tag.ArtifactID, []types.RefreshItem{item}); err != nil {
			return fmt.Errorf("deleting cache record for %s: %w", item.String(), err)
		}
		emit(ctx, out, types.ProgressEvent{
			Phase:    "delete",
			Progress: 0.90 + 2*(budget) + perItem*float64(i+1),
			Item:     &item,
			Kind:     types.ResultDelete,
			Message:  item.String(),
		})
	}
	markComplete(del, types.ResultDelete)
	return nil
}

// ensureTable creates the vector table on first use, memoizing the exists
// flag so repeated calls within one update do not reissue DDL.
func ensureTable(ctx context.Context, vs provider.VectorStore, table string, exists *bool, dimensions int) error {
	if *exists {
		return nil
	}
	if err := vs.CreateTable(ctx, table, dimensions); err != nil {
		return fmt.Errorf("creating vector table: %w", err)
	}
	*exists = true
	return nil
}

// ctxErr maps a cancelled or expired context to the coordinator's own
// sentinel errors, so callers can errors.Is against a stable value instead
// of the standard library's context error directly.
func ctxErr(ctx context.Context) error {
	switch ctx.Err() {
	case context.Canceled:
		return types.ErrCancelled
	case context.DeadlineExceeded:
		return types.ErrTimeout
	default:
		return nil
	}
}

func emit(ctx context.Context, out chan<- types.ProgressEvent, ev types.ProgressEvent) {
	select {
	case <-ctx.Done():
	case out <- ev:
	}
}
