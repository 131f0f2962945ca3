package blob

import (
	"context"
	"sync"
)

// Memory is an in-memory Store used in tests. It honors the same
// conditional-create semantics as the GCS implementation.
type Memory struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, bucket, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[bucket+"/"+name] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Create(ctx context.Context, bucket, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucket + "/" + name
	if _, exists := m.blobs[key]; exists {
		return ErrPreconditionFailed
	}
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Get(ctx context.Context, bucket, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, exists := m.blobs[bucket+"/"+name]
	if !exists {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Delete(ctx context.Context, bucket, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucket + "/" + name
	if _, exists := m.blobs[key]; !exists {
		return ErrNotFound
	}
	delete(m.blobs, key)
	return nil
}
