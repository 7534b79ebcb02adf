// Package filereader implements provider.FileReader against the local filesystem.
package filereader

import (
	"os"

	"github.com/vecindex/engine/pkg/provider"
)

// FileReader reads files from disk.
type FileReader struct{}

// New creates a new filesystem-backed FileReader.
func New() *FileReader {
	return &FileReader{}
}

// Read returns the contents of path.
func (r *FileReader) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

var _ provider.FileReader = (*FileReader)(nil)
