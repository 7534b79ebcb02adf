// Package simple implements a line-based chunking strategy that works on any
// text without language-specific parsing.
package simple

import (
	"context"
	"strings"

	"github.com/vecindex/engine/pkg/provider"
	"github.com/vecindex/engine/pkg/types"
)

// Default values
const (
	DefaultMaxChunkSize = 2000 // chars per chunk
	DefaultMinChunkSize = 100  // minimum chars to create a chunk
)

// Config contains configuration for simple chunking.
type Config struct {
	MaxChunkSize int
	MinChunkSize int
}

// Chunker implements a simple line-based chunking strategy.
type Chunker struct {
	config Config
}

// New creates a new simple chunker.
func New(cfg Config) *Chunker {
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if cfg.MinChunkSize == 0 {
		cfg.MinChunkSize = DefaultMinChunkSize
	}
	return &Chunker{config: cfg}
}

// Name returns the strategy name.
func (c *Chunker) Name() string {
	return "simple"
}

// Chunk splits contents into chunks based on blank lines and size limits,
// streaming each chunk over the returned channel as it is produced.
func (c *Chunker) Chunk(ctx context.Context, path string, contents []byte, maxChunkSize int, digest string) <-chan provider.ChunkOrErr {
	out := make(chan provider.ChunkOrErr)

	limit := c.config.MaxChunkSize
	if maxChunkSize > 0 && maxChunkSize < limit {
		limit = maxChunkSize
	}

	go func() {
		defer close(out)

		content := string(contents)
		lines := strings.Split(content, "\n")

		var currentLines []string
		var currentChars int
		startLine := 1
		emitted := false

		flush := func(endLine int) bool {
			if len(currentLines) == 0 || currentChars < c.config.MinChunkSize {
				return true
			}
			select {
			case <-ctx.Done():
				out <- provider.ChunkOrErr{Err: ctx.Err()}
				return false
			case out <- provider.ChunkOrErr{Chunk: types.Chunk{
				FilePath:  path,
				Content:   strings.Join(currentLines, "\n"),
				StartLine: startLine,
				EndLine:   endLine,
			}}:
				emitted = true
				return true
			}
		}

		for i, line := range lines {
			lineNum := i + 1
			lineLen := len(line)

			shouldSplit := false
			if strings.TrimSpace(line) == "" && currentChars > c.config.MinChunkSize {
				shouldSplit = true
			}
			if currentChars+lineLen > limit && currentChars > 0 {
				shouldSplit = true
			}

			if shouldSplit {
				if !flush(lineNum - 1) {
					return
				}
				currentLines = nil
				currentChars = 0
				startLine = lineNum
			}

			currentLines = append(currentLines, line)
			currentChars += lineLen + 1
		}

		if !flush(len(lines)) {
			return
		}

		// A file with content but no chunk emitted (small file, below
		// MinChunkSize) still gets a single whole-file chunk.
		if !emitted && len(content) > 0 {
			select {
			case <-ctx.Done():
				out <- provider.ChunkOrErr{Err: ctx.Err()}
			case out <- provider.ChunkOrErr{Chunk: types.Chunk{
				FilePath:  path,
				Content:   content,
				StartLine: 1,
				EndLine:   len(lines),
			}}:
			}
		}
	}()

	return out
}

var _ provider.Chunker = (*Chunker)(nil)
