package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/sercha-typesense/internal/normalisers"
)

const pagesMetadata = `{
	"name": "pages",
	"fields": [
		{"name": "Title", "type": "string"},
		{"name": "Content", "type": "string", "optional": true}
	]
}`

const productsMetadata = `{"name": "products", "fields": [{"name": "Title", "type": "string"}, {"name": "Price", "type": "float"}]}`

// testRecordTypes registers a versioned page hierarchy and a plain product type.
func testRecordTypes() *domain.RecordTypeRegistry {
	return domain.NewRecordTypeRegistry(
		&domain.RecordType{Name: "SiteTree", Parents: []string{"DataObject"}},
		&domain.RecordType{Name: "Page", Parents: []string{"SiteTree"}, Table: "pages", LiveTable: "pages_live", SupportsPublishing: true},
		&domain.RecordType{Name: "NewsPage", Parents: []string{"Page"}, Table: "pages", LiveTable: "pages_live", SupportsPublishing: true},
		&domain.RecordType{Name: "Product", Parents: []string{"DataObject"}, Table: "products"},
	)
}

func pageRow(id int64, title string) *domain.Row {
	return &domain.Row{ID: id, Type: "Page", Fields: map[string]domain.StoredValue{
		"Title":   {Kind: domain.StorageText, Value: title},
		"Content": {Kind: domain.StorageHTML, Value: "<p>" + title + "</p>"},
	}}
}

func addPages(src *mocks.MockRecordSource, n int) {
	for i := 1; i <= n; i++ {
		src.Add(pageRow(int64(i), fmt.Sprintf("Page %d", i)))
	}
}

type serviceFixture struct {
	store    *mocks.MockCollectionStore
	remote   *mocks.MockRemoteStore
	records  *mocks.MockRecordSource
	queue    *mocks.MockTaskQueue
	states   *mocks.MockSyncStateStore
	lock     *mocks.MockDistributedLock
	types    *domain.RecordTypeRegistry
	clients  *ClientProvider
	registry *CollectionRegistry
	mapper   *DocumentMapper
	engine   *BatchSyncEngine
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store:   mocks.NewMockCollectionStore(),
		remote:  mocks.NewMockRemoteStore(),
		records: mocks.NewMockRecordSource(),
		queue:   mocks.NewMockTaskQueue(),
		states:  mocks.NewMockSyncStateStore(),
		lock:    mocks.NewMockDistributedLock(),
		types:   testRecordTypes(),
	}
	clients, err := NewClientProvider(ClientProviderConfig{
		Factory: &mocks.MockRemoteStoreFactory{Store: f.remote},
		Cache:   mocks.NewMockClientCache(),
		APIKey:  "admin",
		Servers: "http://localhost:8108",
	})
	if err != nil {
		t.Fatalf("client provider: %v", err)
	}
	f.clients = clients
	f.registry = NewCollectionRegistry(CollectionRegistryConfig{
		Store:  f.store,
		Types:  f.types,
		Remote: clients,
	})
	f.mapper = NewDocumentMapper(DocumentMapperConfig{
		Types:       f.types,
		Normalisers: normalisers.DefaultRegistry(),
	})
	f.engine = NewBatchSyncEngine(BatchSyncEngineConfig{
		Records:     f.records,
		Types:       f.types,
		Mapper:      f.mapper,
		Collections: f.registry,
		Remote:      clients,
	})
	return f
}

// withCollection stores an enabled descriptor.
func (f *serviceFixture) withCollection(t *testing.T, name, recordType, metadata string) *domain.Collection {
	t.Helper()
	c, err := f.registry.FindOrCreate(context.Background(), name, recordType, metadata, false)
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	return c
}
