/*
Package kvstore defines the durable key-value contract the engine
persists through, plus an in-memory implementation.

PURPOSE:
  The engine treats persistence as an opaque dependency: JSON blobs
  addressed by string keys. One primary key holds the live dataset;
  timestamp-suffixed keys hold safety and backup snapshots, discovered
  by prefix listing.

IMPLEMENTATIONS:
  - Memory (this file): RWMutex map, for tests and dev
  - sqlite subpackage:  durable store on SQLite

SEE ALSO:
  - kvstore/sqlite/sqlite.go: production implementation
  - migrate: reads and stamps the live-data key at load time
*/
package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// =============================================================================
// STORE - Durable key-value contract
// =============================================================================

// Store is the persistence boundary. Values are raw JSON documents.
// Get returns (nil, nil) for a missing key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error

	// Keys lists every key with the given prefix, sorted ascending.
	// Used to find snapshot-history keys.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
