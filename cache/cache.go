// Package cache persists the last synced fingerprints of every key so that
// unchanged files can skip the remote round trip.
package cache

import (
	"fmt"
	"sync"

	"github.com/sandeepkandula/poosh/file"
)

// Store is a keyed snapshot store. Get returns (nil, nil) for an absent key.
// Concurrent calls on different keys must be safe.
type Store interface {
	Get(key string) (*file.Snapshot, error)
	Set(key string, snap *file.Snapshot) error
	Delete(key string) error
}

// Error reports a failed cache operation.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// MemoryStore keeps snapshots in memory. Useful for dry runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]*file.Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]*file.Snapshot)}
}

func (m *MemoryStore) Get(key string) (*file.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[key]
	if !ok {
		return nil, nil
	}
	cp := *snap
	return &cp, nil
}

func (m *MemoryStore) Set(key string, snap *file.Snapshot) error {
	if snap == nil {
		return &Error{Op: "set", Key: key, Err: fmt.Errorf("nil snapshot")}
	}
	cp := *snap
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[key] = &cp
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, key)
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snaps)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*BoltStore)(nil)
)
