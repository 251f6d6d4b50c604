package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

var _ driven.SyncStateStore = (*MockSyncStateStore)(nil)

// MockSyncStateStore is a mock implementation of SyncStateStore for testing
type MockSyncStateStore struct {
	mu     sync.RWMutex
	states map[string]*domain.SyncState

	SaveErr error
}

// NewMockSyncStateStore creates a new MockSyncStateStore
func NewMockSyncStateStore() *MockSyncStateStore {
	return &MockSyncStateStore{
		states: make(map[string]*domain.SyncState),
	}
}

func (m *MockSyncStateStore) Save(ctx context.Context, state *domain.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	stored := *state
	m.states[state.CollectionName] = &stored
	return nil
}

func (m *MockSyncStateStore) Get(ctx context.Context, collection string) (*domain.SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[collection]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *state
	return &out, nil
}

func (m *MockSyncStateStore) List(ctx context.Context) ([]*domain.SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.SyncState, 0, len(m.states))
	for _, state := range m.states {
		out := *state
		result = append(result, &out)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CollectionName < result[j].CollectionName })
	return result, nil
}

func (m *MockSyncStateStore) Delete(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, collection)
	return nil
}

// Helper methods for testing

func (m *MockSyncStateStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]*domain.SyncState)
}

func (m *MockSyncStateStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
