package driven

import (
	"context"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

// CollectionStore handles collection descriptor persistence (PostgreSQL)
type CollectionStore interface {
	// Save creates or updates a collection
	Save(ctx context.Context, collection *domain.Collection) error

	// Get retrieves a collection by ID
	Get(ctx context.Context, id string) (*domain.Collection, error)

	// GetByName retrieves a collection by its unique name
	GetByName(ctx context.Context, name string) (*domain.Collection, error)

	// List retrieves all collections ordered by name
	List(ctx context.Context) ([]*domain.Collection, error)

	// ListEnabled retrieves all enabled collections
	ListEnabled(ctx context.Context) ([]*domain.Collection, error)

	// Delete deletes a collection
	Delete(ctx context.Context, id string) error

	// SetEnabled updates the enabled status
	SetEnabled(ctx context.Context, id string, enabled bool) error
}
