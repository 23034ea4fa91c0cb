package storage

import (
	"os"
	"path/filepath"
	"sync"
)

// Blob is a single file rewritten atomically as a whole
type Blob struct {
	path string
	mu   sync.Mutex
}

// NewBlob addresses path. Its directory is created on first write.
func NewBlob(path string) *Blob {
	return &Blob{path: path}
}

// Path returns the file location
func (b *Blob) Path() string { return b.path }

// Read returns the file content, or nil when it does not exist
func (b *Blob) Read() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// Write replaces the file content
func (b *Blob) Write(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeAtomic(dir, b.path, data)
}
