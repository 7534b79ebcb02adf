// Package pipeline implements the chunk-embed-row compute pipeline: turning
// a list of (path, cacheKey) file versions into embedded chunk rows.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vecindex/engine/pkg/provider"
	"github.com/vecindex/engine/pkg/types"
)

// maxChunksPerFile bounds embedding cost per file; files chunking beyond
// this are treated as too-large and skipped entirely.
const maxChunksPerFile = 20

// Row is one emitted chunk, paired with its human-readable progress label.
type Row struct {
	Item     types.RefreshItem
	Record   types.CacheRecord
	Progress float64
	Message  string
}

// EndOfFile marks that every chunk for an item has been emitted (or that the
// item was skipped and nothing will follow for it).
type EndOfFile struct {
	Item    types.RefreshItem
	Skipped bool
}

// Event is one element of a Pipeline's lazy output: a Row, an EndOfFile, or
// a fatal error. A fatal error (provider contract violation) ends the
// pipeline immediately; the caller must abort the whole update.
type Event struct {
	Row *Row
	EOF *EndOfFile
	Err error
}

// Pipeline drives file read, chunk, and embed for a set of refresh items.
type Pipeline struct {
	reader   provider.FileReader
	chunker  provider.Chunker
	embedder provider.EmbeddingProvider
}

// New creates a new compute pipeline.
func New(reader provider.FileReader, chunker provider.Chunker, embedder provider.EmbeddingProvider) *Pipeline {
	return &Pipeline{reader: reader, chunker: chunker, embedder: embedder}
}

// Run streams pipeline events for items in order. Rows for one file are
// fully emitted, followed by that file's EndOfFile marker, before the next
// file's events begin.
func (p *Pipeline) Run(ctx context.Context, items []types.RefreshItem, artifactID string) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		for i, item := range items {
			select {
			case <-ctx.Done():
				return
			default:
			}

			skipped, fatal := p.runFile(ctx, item, i, len(items), artifactID, out)
			if fatal != nil {
				select {
				case <-ctx.Done():
				case out <- Event{Err: fatal}:
				}
				return
			}
			select {
			case <-ctx.Done():
				return
			case out <- Event{EOF: &EndOfFile{Item: item, Skipped: skipped}}:
			}
		}
	}()

	return out
}

// runFile processes one file. Returns (skipped, fatal): skipped is true if
// the file was abandoned and no rows were emitted; fatal is non-nil if the
// embedding provider violated its contract, which must abort the whole update.
func (p *Pipeline) runFile(ctx context.Context, item types.RefreshItem, index, total int, artifactID string, out chan<- Event) (bool, error) {
	contents, err := p.reader.Read(item.Path)
	if err != nil {
		slog.Warn("compute pipeline: failed to read file, skipping", "path", item.Path, "error", err)
		return true, nil
	}

	// The chunker's channel is unbuffered and its producer goroutine only
	// exits once every send is either received or its own context is done;
	// abandoning the range early without draining would leak that goroutine
	// forever. fileCtx lets us tell the producer to stop, and the skip flag
	// keeps ranging until it actually closes the channel.
	fileCtx, cancelFile := context.WithCancel(ctx)
	defer cancelFile()

	var chunks []types.Chunk
	var skip bool
	for ce := range p.chunker.Chunk(fileCtx, item.Path, contents, p.embedder.MaxChunkSize(), item.CacheKey) {
		if skip {
			continue
		}
		if ce.Err != nil {
			slog.Warn("compute pipeline: chunker error, skipping file", "path", item.Path, "error", ce.Err)
			skip = true
			cancelFile()
			continue
		}
		if ce.Chunk.Content == "" {
			slog.Warn("compute pipeline: empty chunk, skipping file", "path", item.Path)
			skip = true
			cancelFile()
			continue
		}
		chunks = append(chunks, ce.Chunk)
		if len(chunks) > maxChunksPerFile {
			slog.Warn("compute pipeline: too many chunks, skipping file", "path", item.Path, "limit", maxChunksPerFile)
			skip = true
			cancelFile()
			continue
		}
	}

	if skip || len(chunks) == 0 {
		return true, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		slog.Warn("compute pipeline: embedding failed, skipping file", "path", item.Path, "error", err)
		return true, nil
	}
	if len(vectors) != len(texts) {
		return false, fmt.Errorf("%w: embed returned %d vectors for %d inputs", types.ErrProviderContractViolation, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if v == nil {
			return false, fmt.Errorf("%w: embed returned an undefined vector at index %d", types.ErrProviderContractViolation, i)
		}
	}

	for j, chunk := range chunks {
		record := types.CacheRecord{
			CacheKey:   item.CacheKey,
			Path:       item.Path,
			ArtifactID: artifactID,
			Vector:     vectors[j],
			StartLine:  chunk.StartLine,
			EndLine:    chunk.EndLine,
			Contents:   chunk.Content,
		}
		progress := (float64(index) + float64(j+1)/float64(len(chunks))) / float64(total)

		select {
		case <-ctx.Done():
			return false, nil
		case out <- Event{Row: &Row{
			Item:     item,
			Record:   record,
			Progress: progress,
			Message:  fmt.Sprintf("%s (%d/%d)", item.Path, j+1, len(chunks)),
		}}:
		}
	}

	return false, nil
}
