package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

// MockCollectionStore is a mock implementation of CollectionStore for testing
type MockCollectionStore struct {
	mu          sync.RWMutex
	collections map[string]*domain.Collection

	// SaveErr is returned by Save when set
	SaveErr error
	// Saves counts successful Save calls
	Saves int
}

// NewMockCollectionStore creates a new MockCollectionStore
func NewMockCollectionStore() *MockCollectionStore {
	return &MockCollectionStore{
		collections: make(map[string]*domain.Collection),
	}
}

func (m *MockCollectionStore) Save(ctx context.Context, collection *domain.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	copied := *collection
	m.collections[collection.ID] = &copied
	m.Saves++
	return nil
}

func (m *MockCollectionStore) Get(ctx context.Context, id string) (*domain.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (m *MockCollectionStore) GetByName(ctx context.Context, name string) (*domain.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.collections {
		if c.Name == name {
			copied := *c
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockCollectionStore) List(ctx context.Context) ([]*domain.Collection, error) {
	return m.list(false), nil
}

func (m *MockCollectionStore) ListEnabled(ctx context.Context) ([]*domain.Collection, error) {
	return m.list(true), nil
}

func (m *MockCollectionStore) list(enabledOnly bool) []*domain.Collection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Collection
	for _, c := range m.collections {
		if enabledOnly && !c.Enabled {
			continue
		}
		copied := *c
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (m *MockCollectionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.collections, id)
	return nil
}

func (m *MockCollectionStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Enabled = enabled
	return nil
}

// Helper methods for testing

func (m *MockCollectionStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections = make(map[string]*domain.Collection)
	m.Saves = 0
}

func (m *MockCollectionStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections)
}
