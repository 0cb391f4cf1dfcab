package kv

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore provides an in-memory implementation useful for testing and local development.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore constructs an empty memory-backed store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

// Read implements the Store interface.
func (s *MemoryStore) Read(_ context.Context, key string) (json.RawMessage, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), value...), true, nil
}

// Write implements the Store interface.
func (s *MemoryStore) Write(_ context.Context, key string, value json.RawMessage) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = append([]byte(nil), value...)
	return nil
}

// Remove implements the Store interface.
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// Len reports the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
