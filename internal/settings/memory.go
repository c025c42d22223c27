package settings

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]map[string]string{}}
}

func (m *MemoryStore) Get(_ context.Context, scope Scope) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.data[scope.Key()]))
	for k, v := range m.data[scope.Key()] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) Set(_ context.Context, scope Scope, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data[scope.Key()]
	if !ok {
		cur = map[string]string{}
		m.data[scope.Key()] = cur
	}
	for k, v := range values {
		cur[k] = v
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, scope Scope, names ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(names) == 0 {
		delete(m.data, scope.Key())
		return nil
	}
	for _, n := range names {
		delete(m.data[scope.Key()], n)
	}
	return nil
}
