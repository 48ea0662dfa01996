package objectclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/markdave123-py/contexta/internal/core"
)

var _ core.BlobStore = (*MemoryBlobStore)(nil)

// MemoryBlobStore keeps uploads in a map. Used by tests and local runs.
type MemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Upload(_ context.Context, ownerID, documentID, filename string, data []byte, _ string) (string, error) {
	key := ObjectKey(ownerID, documentID, filename)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (m *MemoryBlobStore) Download(_ context.Context, handle string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[handle]
	if !ok {
		return nil, fmt.Errorf("blob %q: %w", handle, core.ErrNotFound)
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryBlobStore) Delete(_ context.Context, handle, ownerID string) error {
	if err := checkOwner(handle, ownerID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, handle)
	return nil
}

// Len reports how many objects are stored.
func (m *MemoryBlobStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
