package driving

import (
	"context"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

// CollectionService manages collection descriptors and their remote collections
type CollectionService interface {
	// FindOrCreate returns the descriptor with the given name, creating it when absent.
	// Metadata is only set when the descriptor has none.
	FindOrCreate(ctx context.Context, name, recordType, metadata string, fromConfig bool) (*domain.Collection, error)

	// ValidateMetadata checks raw schema JSON and returns the decoded schema
	ValidateMetadata(raw string) (*domain.CollectionSchema, error)

	// Save validates and persists a descriptor
	Save(ctx context.Context, collection *domain.Collection) error

	// Resolve returns a statically configured or enabled descriptor by name
	Resolve(ctx context.Context, name string) (*domain.Collection, error)

	// List returns every descriptor
	List(ctx context.Context) ([]*domain.Collection, error)

	// Get returns a descriptor by name, enabled or not
	Get(ctx context.Context, name string) (*domain.Collection, error)

	// SetEnabled toggles a descriptor
	SetEnabled(ctx context.Context, name string, enabled bool) error

	// Delete removes a descriptor and its remote collection
	Delete(ctx context.Context, name string) error

	// LinkedCollections returns enabled descriptors fed by a record type
	LinkedCollections(ctx context.Context, recordType string) ([]*domain.Collection, error)

	// EnsureRemote creates the remote collection if it does not exist
	EnsureRemote(ctx context.Context, collection *domain.Collection) error
}
