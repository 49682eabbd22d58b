package l2

import (
	"slices"
	"sync"
)

// MemoryRegion keeps entries in a map.
type MemoryRegion struct {
	*spaces

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	spaces []string
	readAt int64
	value  []byte
}

var _ Region = (*MemoryRegion)(nil)

// NewMemoryRegion creates an empty region.
func NewMemoryRegion() *MemoryRegion {
	return &MemoryRegion{spaces: newSpaces(), entries: make(map[string]memoryEntry)}
}

func (r *MemoryRegion) Timestamp() int64 { return r.now() }

func (r *MemoryRegion) Get(key string) ([]byte, bool, error) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok || !r.valid(e.spaces, e.readAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (r *MemoryRegion) Put(key string, tags []string, value []byte, readAt int64) error {
	if !r.valid(tags, readAt) {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = memoryEntry{spaces: slices.Clone(tags), readAt: readAt, value: slices.Clone(value)}
	return nil
}

func (r *MemoryRegion) Lock(space string) (SoftLock, error) {
	return r.lock(space), nil
}

func (r *MemoryRegion) Unlock(lock SoftLock) error {
	return r.unlock(lock)
}

func (r *MemoryRegion) EvictSpace(space string) error {
	r.invalidate(space)
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		if slices.Contains(e.spaces, space) {
			delete(r.entries, key)
		}
	}
	return nil
}

// Len returns the number of stored entries, valid or not.
func (r *MemoryRegion) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *MemoryRegion) Close() error { return nil }
