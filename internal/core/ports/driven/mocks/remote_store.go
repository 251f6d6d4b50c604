package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

// MockRemoteStore is an in-memory RemoteStore for testing
type MockRemoteStore struct {
	mu          sync.RWMutex
	collections map[string]*domain.CollectionSchema
	documents   map[string]map[string]*domain.Document

	// Custom behavior hooks (optional)
	CreateErr error
	ImportErr error
	UpsertErr error
	DeleteErr error
	HealthErr error
	SearchFn  func(collection string, params domain.SearchParams) (*domain.SearchResult, error)
	Keys      []domain.APIKey
	// ImportFailures maps document ids to the error the store reports for them
	ImportFailures map[string]string

	// Call counters
	CreateCalls int
	ImportCalls int
	UpsertCalls int
	DeleteCalls int
	// LastSearch records the parameters of the most recent search
	LastSearch domain.SearchParams
}

var _ driven.RemoteStore = (*MockRemoteStore)(nil)

// NewMockRemoteStore creates a new MockRemoteStore
func NewMockRemoteStore() *MockRemoteStore {
	return &MockRemoteStore{
		collections:    make(map[string]*domain.CollectionSchema),
		documents:      make(map[string]map[string]*domain.Document),
		ImportFailures: make(map[string]string),
	}
}

func (m *MockRemoteStore) CreateCollection(ctx context.Context, schema *domain.CollectionSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.collections[schema.Name]; ok {
		return fmt.Errorf("collection %s: %w", schema.Name, domain.ErrAlreadyExists)
	}
	m.collections[schema.Name] = schema
	m.documents[schema.Name] = make(map[string]*domain.Document)
	return nil
}

func (m *MockRemoteStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

func (m *MockRemoteStore) DeleteCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		return fmt.Errorf("collection %s: %w", name, domain.ErrNotFound)
	}
	delete(m.collections, name)
	delete(m.documents, name)
	return nil
}

func (m *MockRemoteStore) Import(ctx context.Context, collection string, docs []*domain.Document) ([]domain.ImportItemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ImportCalls++
	if m.ImportErr != nil {
		return nil, m.ImportErr
	}
	store, ok := m.documents[collection]
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", collection, domain.ErrNotFound)
	}
	results := make([]domain.ImportItemResult, 0, len(docs))
	for _, doc := range docs {
		if msg, failed := m.ImportFailures[doc.ID()]; failed {
			results = append(results, domain.ImportItemResult{ID: doc.ID(), Success: false, Error: msg})
			continue
		}
		store[doc.ID()] = doc
		results = append(results, domain.ImportItemResult{ID: doc.ID(), Success: true})
	}
	return results, nil
}

func (m *MockRemoteStore) Upsert(ctx context.Context, collection string, doc *domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	store, ok := m.documents[collection]
	if !ok {
		return fmt.Errorf("collection %s: %w", collection, domain.ErrNotFound)
	}
	store[doc.ID()] = doc
	return nil
}

func (m *MockRemoteStore) DeleteDocument(ctx context.Context, collection string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	store, ok := m.documents[collection]
	if !ok {
		return fmt.Errorf("collection %s: %w", collection, domain.ErrNotFound)
	}
	if _, ok := store[id]; !ok {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	delete(store, id)
	return nil
}

func (m *MockRemoteStore) Search(ctx context.Context, collection string, params domain.SearchParams) (*domain.SearchResult, error) {
	m.mu.Lock()
	m.LastSearch = params
	m.mu.Unlock()
	if m.SearchFn != nil {
		return m.SearchFn(collection, params)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := &domain.SearchResult{Collection: collection, Page: params.Page, PerPage: params.PerPage}
	for _, doc := range m.documents[collection] {
		result.Hits = append(result.Hits, &domain.SearchHit{Document: doc.Map()})
	}
	result.Found = len(result.Hits)
	return result, nil
}

func (m *MockRemoteStore) RetrieveKeys(ctx context.Context) ([]domain.APIKey, error) {
	return m.Keys, nil
}

func (m *MockRemoteStore) GenerateScopedSearchKey(searchKey string, scope map[string]any) (string, error) {
	return fmt.Sprintf("scoped:%s:%d", searchKey, len(scope)), nil
}

func (m *MockRemoteStore) Health(ctx context.Context) error {
	return m.HealthErr
}

// Helper methods for testing

// AddCollection creates a collection directly.
func (m *MockRemoteStore) AddCollection(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[name] = &domain.CollectionSchema{Name: name}
	m.documents[name] = make(map[string]*domain.Document)
}

// Document returns a stored document.
func (m *MockRemoteStore) Document(collection, id string) (*domain.Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[collection][id]
	return doc, ok
}

// DocumentCount returns the number of documents in a collection.
func (m *MockRemoteStore) DocumentCount(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.documents[collection])
}

// MockRemoteStoreFactory returns a fresh MockRemoteStore per call, or Store when set.
type MockRemoteStoreFactory struct {
	mu    sync.Mutex
	Store *MockRemoteStore
	Err   error
	Calls []domain.ConnectionParams
}

var _ driven.RemoteStoreFactory = (*MockRemoteStoreFactory)(nil)

func (f *MockRemoteStoreFactory) New(params domain.ConnectionParams) (driven.RemoteStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, params)
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Store != nil {
		return f.Store, nil
	}
	return NewMockRemoteStore(), nil
}

// CallCount returns how many clients were created.
func (f *MockRemoteStoreFactory) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// MockClientCache is a map-backed ClientCache
type MockClientCache struct {
	mu      sync.Mutex
	clients map[string]driven.RemoteStore
}

var _ driven.ClientCache = (*MockClientCache)(nil)

// NewMockClientCache creates an empty cache
func NewMockClientCache() *MockClientCache {
	return &MockClientCache{clients: make(map[string]driven.RemoteStore)}
}

func (c *MockClientCache) Get(key string) (driven.RemoteStore, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	client, ok := c.clients[key]
	return client, ok
}

func (c *MockClientCache) Put(key string, client driven.RemoteStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[key] = client
}

// Keys returns the cached keys
func (c *MockClientCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.clients))
	for k := range c.clients {
		keys = append(keys, k)
	}
	return keys
}
