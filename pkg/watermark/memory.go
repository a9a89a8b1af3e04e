package watermark

import (
	"context"
	"sync"
)

// MemoryStore keeps watermarks in process memory. Used by tests and
// local runs without an S3 endpoint.
type MemoryStore struct {
	mu    sync.Mutex
	marks map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{marks: make(map[string]int64)}
}

func (m *MemoryStore) Load(ctx context.Context, sourceID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	millis, ok := m.marks[sourceID]
	if !ok {
		return 0, ErrNotFound
	}
	return millis, nil
}

func (m *MemoryStore) Save(ctx context.Context, sourceID string, millis int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[sourceID] = millis
	return nil
}
