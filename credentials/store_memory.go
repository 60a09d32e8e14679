package credentials

import (
	"fmt"
	"sync"
)

// MemoryStore is an in-memory implementation of Store. Values do not survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory credential store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
	}
}

func (s *MemoryStore) Get(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *MemoryStore) Put(entries map[string]string) error {
	for k := range entries {
		if k == "" {
			return fmt.Errorf("key is required")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range entries {
		s.values[k] = v
	}
	return nil
}

func (s *MemoryStore) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}
