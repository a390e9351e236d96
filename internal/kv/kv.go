package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Store is a key to JSON document store with create-or-replace writes.
type Store interface {
	// GetJSON decodes the document under key into dest. It reports false
	// when no document exists.
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	UpsertJSON(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// Memory is a process-local Store. Documents are kept encoded so callers
// never share mutable state with the store.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.docs[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cannot decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) UpsertJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cannot encode %s: %w", key, err)
	}
	m.mu.Lock()
	m.docs[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.docs, key)
	m.mu.Unlock()
	return nil
}

// Keys returns the stored keys, mostly for tests and diagnostics.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.docs))
	for k := range m.docs {
		keys = append(keys, k)
	}
	return keys
}
