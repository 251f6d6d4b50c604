package driven

import (
	"context"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

// SyncStateStore handles per-collection sync state persistence (PostgreSQL)
type SyncStateStore interface {
	// Save creates or updates sync state
	Save(ctx context.Context, state *domain.SyncState) error

	// Get retrieves sync state for a collection
	Get(ctx context.Context, collection string) (*domain.SyncState, error)

	// List retrieves sync states for all collections
	List(ctx context.Context) ([]*domain.SyncState, error)

	// Delete deletes sync state for a collection
	Delete(ctx context.Context, collection string) error
}
