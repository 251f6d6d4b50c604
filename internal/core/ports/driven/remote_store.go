package driven

import (
	"context"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

// RemoteStore is the remote search document store (Typesense).
// Errors wrap domain.ErrAlreadyExists, domain.ErrNotFound or domain.ErrMalformed
// when the store reports them.
type RemoteStore interface {
	// CreateCollection creates a collection, ErrAlreadyExists if present
	CreateCollection(ctx context.Context, schema *domain.CollectionSchema) error

	// CollectionExists reports whether the collection exists
	CollectionExists(ctx context.Context, name string) (bool, error)

	// DeleteCollection drops a collection and its documents
	DeleteCollection(ctx context.Context, name string) error

	// Import bulk upserts documents and returns one result per document, in input order
	Import(ctx context.Context, collection string, docs []*domain.Document) ([]domain.ImportItemResult, error)

	// Upsert creates or replaces one document
	Upsert(ctx context.Context, collection string, doc *domain.Document) error

	// DeleteDocument deletes one document by id
	DeleteDocument(ctx context.Context, collection string, id string) error

	// Search runs a query against a collection
	Search(ctx context.Context, collection string, params domain.SearchParams) (*domain.SearchResult, error)

	// RetrieveKeys lists API keys visible to the client's key
	RetrieveKeys(ctx context.Context) ([]domain.APIKey, error)

	// GenerateScopedSearchKey derives a scoped key locally from a search key
	GenerateScopedSearchKey(searchKey string, scope map[string]any) (string, error)

	// Health verifies the remote store is available
	Health(ctx context.Context) error
}

// RemoteStoreFactory creates remote store clients for connection parameters.
type RemoteStoreFactory interface {
	New(params domain.ConnectionParams) (RemoteStore, error)
}

// ClientCache holds remote store clients keyed by a connection fingerprint.
// It lives for the process; entries are never invalidated explicitly.
type ClientCache interface {
	Get(key string) (RemoteStore, bool)
	Put(key string, client RemoteStore)
}
