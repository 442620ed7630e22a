// Package contextstore persists per-conversation context blobs.
//
// A context blob is a small string map keyed by an opaque context id. The
// engine reads the union of request args and the blob before each prompt
// dispatch, and writes results back through SaveResultTo keys. Writes are
// last-writer-wins: the context id is per-conversation, not multiplexed.
package contextstore

import (
	"context"
	"errors"
	"sync"
)

// ErrInvalidID is returned when an empty context id is provided.
var ErrInvalidID = errors.New("invalid context id")

// Store persists context blobs.
type Store interface {
	// Load returns the blob for id. A missing id yields an empty, non-nil map.
	Load(ctx context.Context, id string) (map[string]string, error)

	// Save replaces the blob for id.
	Save(ctx context.Context, id string, blob map[string]string) error
}

// MemoryStore is the in-process Store used in single-instance mode and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]map[string]string
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]map[string]string)}
}

// Load returns a copy of the blob for id.
func (s *MemoryStore) Load(_ context.Context, id string) (map[string]string, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob := make(map[string]string, len(s.blobs[id]))
	for k, v := range s.blobs[id] {
		blob[k] = v
	}
	return blob, nil
}

// Save replaces the blob for id with a copy of blob.
func (s *MemoryStore) Save(_ context.Context, id string, blob map[string]string) error {
	if id == "" {
		return ErrInvalidID
	}
	cp := make(map[string]string, len(blob))
	for k, v := range blob {
		cp[k] = v
	}

	s.mu.Lock()
	s.blobs[id] = cp
	s.mu.Unlock()
	return nil
}
