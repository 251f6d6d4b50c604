package driving

import (
	"context"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

// SearchService queries collections on the remote store
type SearchService interface {
	// Search runs a term or field query against one collection
	Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error)

	// BuildParams derives remote search parameters for a request
	BuildParams(ctx context.Context, req domain.SearchRequest) (domain.SearchParams, error)

	// ScopedKey returns a search key restricted to the given scope, or the default scope when nil
	ScopedKey(ctx context.Context, scope map[string]any) (string, error)

	// ValidateSearchKey checks the configured search key is a search-only key
	ValidateSearchKey(ctx context.Context) error
}
