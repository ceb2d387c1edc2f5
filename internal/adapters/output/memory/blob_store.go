package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"agent-bridge/internal/domain"
	"agent-bridge/internal/ports/output"
)

var _ output.DurableStore = (*BlobStore)(nil)

// BlobStore struct - Output adapter keeping durable-store blobs in process memory.
// Used for local runs and as the object store fake in tests.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]domain.Blob
}

// NewBlobStore creates an empty in-memory blob store
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]domain.Blob)}
}

// Get func
func (s *BlobStore) Get(_ context.Context, path string) (*domain.Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
	}
	data := make([]byte, len(blob.Data))
	copy(data, blob.Data)
	blob.Data = data
	return &blob, nil
}

// Put func
func (s *BlobStore) Put(_ context.Context, path string, blob domain.Blob) error {
	data := make([]byte, len(blob.Data))
	copy(data, blob.Data)
	blob.Data = data
	if blob.UpdatedAt.IsZero() {
		blob.UpdatedAt = time.Now()
	}

	s.mu.Lock()
	s.blobs[path] = blob
	s.mu.Unlock()
	return nil
}

// Delete func
func (s *BlobStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	delete(s.blobs, path)
	s.mu.Unlock()
	return nil
}

// List func
func (s *BlobStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0)
	for path := range s.blobs {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Ping func
func (s *BlobStore) Ping(_ context.Context) error {
	return nil
}
