package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// emptyDocument is written when the backing document does not exist yet.
const emptyDocument = "{}"

// Backend persists the dynamic-pathway document as one opaque blob. Backends
// create the document with an empty object on first use.
type Backend interface {
	// Load returns the full document.
	Load(ctx context.Context) ([]byte, error)

	// Save replaces the full document.
	Save(ctx context.Context, data []byte) error

	// LastModified returns the document's modification time, so cached copies
	// can be invalidated when another instance writes.
	LastModified(ctx context.Context) (time.Time, error)
}

// LocalBackend stores the document in a file on the local filesystem.
type LocalBackend struct {
	path string
}

// NewLocalBackend creates a file-backed Backend at path.
func NewLocalBackend(path string) *LocalBackend {
	return &LocalBackend{path: path}
}

// Load reads the document, creating it with an empty object if absent.
func (b *LocalBackend) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		if err := b.writeAtomic([]byte(emptyDocument)); err != nil {
			return nil, err
		}
		return []byte(emptyDocument), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pathway document: %w", err)
	}
	return data, nil
}

// Save atomically replaces the document.
func (b *LocalBackend) Save(_ context.Context, data []byte) error {
	return b.writeAtomic(data)
}

// LastModified returns the file modification time; a missing file reports the
// zero time.
func (b *LocalBackend) LastModified(_ context.Context) (time.Time, error) {
	info, err := os.Stat(b.path)
	if os.IsNotExist(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat pathway document: %w", err)
	}
	return info.ModTime(), nil
}

// writeAtomic writes through a temp file and rename so readers never observe
// a partial document.
func (b *LocalBackend) writeAtomic(data []byte) error {
	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp document: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write pathway document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close pathway document: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace pathway document: %w", err)
	}
	return nil
}
