package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memBlob struct {
	hash string
	data []byte
}

// MemoryStore is an in-process [Store] for tests and local development.
type MemoryStore struct {
	mu      sync.Mutex
	blobs   map[string]memBlob
	uploads int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memBlob)}
}

// FindByHash implements [Store].
func (m *MemoryStore) FindByHash(_ context.Context, hash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.blobs))
	for id, b := range m.blobs {
		if b.hash == hash {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", ErrNotFound
	}
	sort.Strings(ids)
	return ids[0], nil
}

// Upload implements [Store].
func (m *MemoryStore) Upload(_ context.Context, r io.ReadSeeker, hash string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}
	id := keyPrefix + hash + "/" + uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[id] = memBlob{hash: hash, data: data}
	m.uploads++
	return id, nil
}

// Download implements [Store].
func (m *MemoryStore) Download(_ context.Context, id string) (io.ReadCloser, Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[id]
	if !ok {
		return nil, Meta{}, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b.data)), Meta{Hash: b.hash, Size: int64(len(b.data))}, nil
}

// List implements [Store].
func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.blobs))
	for id := range m.blobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Uploads reports how many uploads the store has accepted.
func (m *MemoryStore) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}
