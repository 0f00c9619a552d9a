package server

import (
	"context"
	"slices"
	"strings"
	"sync"
)

type memRow struct {
	rec       Record
	writtenAt int64
	writer    string
}

type memKey struct {
	kind Kind
	uuid string
}

// MemoryBackend keeps everything in process. It is used by tests and by the
// server when no database is configured.
type MemoryBackend struct {
	mu       sync.Mutex
	records  map[memKey]memRow
	lastSync map[string]int64
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records:  make(map[memKey]memRow),
		lastSync: make(map[string]int64),
	}
}

// Put implements [Backend].
func (m *MemoryBackend) Put(_ context.Context, writer string, rec Record, writtenAt int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{rec.Kind, rec.UUID}
	if cur, ok := m.records[k]; ok && cur.rec.Updated > rec.Updated {
		return false, nil
	}
	rec.Body = slices.Clone(rec.Body)
	m.records[k] = memRow{rec: rec, writtenAt: writtenAt, writer: writer}
	return true, nil
}

// Get implements [Backend].
func (m *MemoryBackend) Get(_ context.Context, kind Kind, uuid string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.records[memKey{kind, uuid}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return row.rec, nil
}

// Changes implements [Backend].
func (m *MemoryBackend) Changes(_ context.Context, reader string, since int64) ([]Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Change
	for _, row := range m.records {
		if row.writtenAt < since || row.writer == reader {
			continue
		}
		out = append(out, Change{
			Kind:    row.rec.Kind,
			UUID:    row.rec.UUID,
			Updated: row.rec.Updated,
			Deleted: row.rec.Deleted,
		})
	}
	slices.SortFunc(out, func(a, b Change) int {
		if c := strings.Compare(string(a.Kind), string(b.Kind)); c != 0 {
			return c
		}
		return strings.Compare(a.UUID, b.UUID)
	})
	return out, nil
}

// LastSync implements [Backend].
func (m *MemoryBackend) LastSync(_ context.Context, clientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync[clientID], nil
}

// SetLastSync implements [Backend].
func (m *MemoryBackend) SetLastSync(_ context.Context, clientID string, t int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSync[clientID] = t
	return nil
}
