// Package types contains the data model shared across the vector-index engine:
// tags, chunk rows, cache records, refresh results, and progress events.
package types

import (
	"fmt"
	"strings"
)

// Tag names a logical corpus: a branch, a directory scope within that branch,
// and the embedding-provider artifact the vectors were produced under.
type Tag struct {
	Branch     string
	Directory  string
	ArtifactID string
}

func isAllowedTagChar(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// escapeTagField hex-escapes every byte outside [A-Za-z0-9] as "_XX" (uppercase
// hex). Escaping the entire non-alphanumeric range - including '.', '_' and '-',
// which the sanitized alphabet otherwise allows unescaped - keeps the encoding
// injective: no field's escaped form can contain an unescaped join separator.
func escapeTagField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAllowedTagChar(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "_%02X", c)
		}
	}
	return b.String()
}

// Sanitize returns the string used to name the vector table for t. Each field
// is escaped independently (see escapeTagField) and joined with a literal '.',
// which cannot appear unescaped inside any field, so distinct tags never
// collide on their sanitized form.
func Sanitize(t Tag) string {
	return escapeTagField(t.Branch) + "." + escapeTagField(t.Directory) + "." + escapeTagField(t.ArtifactID)
}

// ArtifactID builds the artifact identifier for an embedding provider.
func ArtifactID(providerID string) string {
	return "vectordb::" + providerID
}

// ChunkRow is a single vector-table entry.
type ChunkRow struct {
	UUID     string
	Path     string
	CacheKey string
	Vector   []float32
}

// CacheRecord is a durable embedding-cache row. UUID is the primary key;
// (ArtifactID, CacheKey, Path) is the logical reconstruction key used by
// add-tag and delete.
type CacheRecord struct {
	UUID       string
	CacheKey   string
	Path       string
	ArtifactID string
	Vector     []float32
	StartLine  int
	EndLine    int
	Contents   string
}

// Row projects a cache record down to its vector-table shape.
func (r CacheRecord) Row() ChunkRow {
	return ChunkRow{UUID: r.UUID, Path: r.Path, CacheKey: r.CacheKey, Vector: r.Vector}
}

// Chunk is a bounded fragment of a source file, as produced by a Chunker.
type Chunk struct {
	FilePath  string
	Content   string
	StartLine int
	EndLine   int
}

// RefreshItem is a single (path, cacheKey) file version named by an upstream
// refresh-result producer.
type RefreshItem struct {
	Path     string
	CacheKey string
}

// String renders the item the way progress messages and logs refer to it.
func (i RefreshItem) String() string {
	return i.Path + "/" + i.CacheKey
}

// RefreshResults is the four-way diff an upstream producer emits between
// desired and observed workspace indexing state.
type RefreshResults struct {
	Compute   []RefreshItem
	AddTag    []RefreshItem
	RemoveTag []RefreshItem
	Del       []RefreshItem
}

// ResultKind identifies which of the four refresh operation classes an item
// completed under.
type ResultKind int

const (
	ResultCompute ResultKind = iota
	ResultAddTag
	ResultRemoveTag
	ResultDelete
)

func (k ResultKind) String() string {
	switch k {
	case ResultCompute:
		return "compute"
	case ResultAddTag:
		return "addTag"
	case ResultRemoveTag:
		return "removeTag"
	case ResultDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// MarkCompleteFunc reports a batch of items as durably applied for a given
// result kind. Callers must pass back the exact RefreshItem values drawn from
// the originating RefreshResults slice, so that state tracked by identity
// (for instance a remote-cache response resolved to its request-set entry)
// sees the object the engine handed out, not a copy reconstructed from a
// remote payload.
type MarkCompleteFunc func(items []RefreshItem, kind ResultKind)

// ProgressEvent is one element of the lazy sequence a refresh emits.
type ProgressEvent struct {
	Phase    string
	Progress float64
	Item     *RefreshItem
	Kind     ResultKind
	Message  string
	Done     bool
	Err      error
}

// RetrievedChunk is a single result returned by a retrieval query.
type RetrievedChunk struct {
	Digest    string // cacheKey
	FilePath  string // path
	StartLine int
	EndLine   int
	Content   string
	Index     int
	Distance  float64
}
