package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryStore keeps objects in process. It backs tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte

	// BeforeDownload, when set, runs before each download; tests use it to
	// inject latency or failures.
	BeforeDownload func(ctx context.Context, obj Object) error

	lists     atomic.Int64
	downloads atomic.Int64
	deletes   atomic.Int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{buckets: map[string]map[string][]byte{}}
}

// Put stores data under bucket/name.
func (m *MemoryStore) Put(bucket, name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets[bucket] == nil {
		m.buckets[bucket] = map[string][]byte{}
	}
	m.buckets[bucket][name] = data
}

// Has reports whether bucket/name exists.
func (m *MemoryStore) Has(bucket, name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.buckets[bucket][name]
	return ok
}

// Lists returns the number of List calls.
func (m *MemoryStore) Lists() int64 { return m.lists.Load() }

// Downloads returns the number of Download calls.
func (m *MemoryStore) Downloads() int64 { return m.downloads.Load() }

// Deletes returns the number of Delete calls.
func (m *MemoryStore) Deletes() int64 { return m.deletes.Load() }

// List implements Store.
func (m *MemoryStore) List(_ context.Context, bucket, prefix string) ([]Object, error) {
	m.lists.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Object
	for name, data := range m.buckets[bucket] {
		if strings.HasPrefix(name, prefix) {
			out = append(out, Object{Bucket: bucket, Name: name, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Download implements Store.
func (m *MemoryStore) Download(ctx context.Context, obj Object) ([]byte, error) {
	m.downloads.Add(1)
	if m.BeforeDownload != nil {
		if err := m.BeforeDownload(ctx, obj); err != nil {
			return nil, err
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.buckets[obj.Bucket][obj.Name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", obj.Name, ErrObjectNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, obj Object) error {
	m.deletes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[obj.Bucket][obj.Name]; !ok {
		return fmt.Errorf("%s: %w", obj.Name, ErrObjectNotFound)
	}
	delete(m.buckets[obj.Bucket], obj.Name)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
