package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driving"
)

// Ensure searchService implements SearchService
var _ driving.SearchService = (*searchService)(nil)

// SearchClients provides the remote clients used for searching.
// ClientProvider implements it.
type SearchClients interface {
	Default() (driven.RemoteStore, error)
	SearchOnly() (driven.RemoteStore, error)
	SearchKey() string
}

// searchService implements the SearchService interface
type searchService struct {
	collections driving.CollectionService
	clients     SearchClients
}

// NewSearchService creates a new SearchService
func NewSearchService(collections driving.CollectionService, clients SearchClients) driving.SearchService {
	return &searchService{
		collections: collections,
		clients:     clients,
	}
}

// Search runs a query against one collection, using the search-only key when configured
func (s *searchService) Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error) {
	params, err := s.BuildParams(ctx, req)
	if err != nil {
		return nil, err
	}

	client, err := s.clients.SearchOnly()
	if err != nil {
		client, err = s.clients.Default()
		if err != nil {
			return nil, err
		}
	}

	result, err := client.Search(ctx, req.Collection, params)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", req.Collection, err)
	}
	result.Collection = req.Collection
	return result, nil
}

// BuildParams derives remote search parameters for a request.
// A term becomes q; a field map becomes a wildcard filter with q="*".
// Scope values only fill parameters the request did not derive, except
// query_by, which replaces the schema's indexed string fields.
func (s *searchService) BuildParams(ctx context.Context, req domain.SearchRequest) (domain.SearchParams, error) {
	var params domain.SearchParams
	if req.Collection == "" {
		return params, fmt.Errorf("%w: collection is required", domain.ErrInvalidInput)
	}

	collection, err := s.collections.Resolve(ctx, req.Collection)
	if err != nil {
		return params, err
	}
	schema, err := collection.Schema()
	if err != nil {
		return params, err
	}

	perPage := req.PerPage
	if perPage <= 0 {
		perPage = domain.DefaultPerPage
	}
	perPage = min(perPage, domain.MaxPerPage)
	start := max(req.Start, 0)

	params.PerPage = perPage
	params.Page = start/perPage + 1
	params.QueryBy = req.Scope["query_by"]
	if params.QueryBy == "" {
		params.QueryBy = strings.Join(schema.QueryByFields(), ",")
	}

	switch {
	case len(req.Fields) > 0:
		params.Q = "*"
		params.FilterBy = wildcardFilter(req.Fields)
	case req.Term != "":
		params.Q = req.Term
	default:
		params.Q = "*"
	}

	return mergeScope(params, req.Scope), nil
}

// wildcardFilter joins field:*value* clauses with OR, in field name order.
func wildcardFilter(fields map[string]string) string {
	clauses := make([]string, 0, len(fields))
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		clauses = append(clauses, fmt.Sprintf("%s:*%s*", name, fields[name]))
	}
	return strings.Join(clauses, " || ")
}

func mergeScope(params domain.SearchParams, scope map[string]string) domain.SearchParams {
	for key, value := range scope {
		switch key {
		case "q":
			if params.Q == "" {
				params.Q = value
			}
		case "query_by":
			if params.QueryBy == "" {
				params.QueryBy = value
			}
		case "filter_by":
			if params.FilterBy == "" {
				params.FilterBy = value
			}
		case "page", "per_page":
			// derived from start and per page
		default:
			if params.Extra == nil {
				params.Extra = make(map[string]string)
			}
			params.Extra[key] = value
		}
	}
	return params
}

// ScopedKey returns a search key restricted to scope, or to the default scope when nil
func (s *searchService) ScopedKey(ctx context.Context, scope map[string]any) (string, error) {
	searchKey := s.clients.SearchKey()
	if searchKey == "" {
		return "", fmt.Errorf("%w: no search key configured", domain.ErrInvalidInput)
	}
	if scope == nil {
		scope = domain.DefaultSearchScope()
	}
	client, err := s.clients.Default()
	if err != nil {
		return "", err
	}
	return client.GenerateScopedSearchKey(searchKey, scope)
}

// ValidateSearchKey checks that the configured search key exists on the
// remote store and may only search documents
func (s *searchService) ValidateSearchKey(ctx context.Context) error {
	searchKey := s.clients.SearchKey()
	if searchKey == "" {
		return fmt.Errorf("%w: no search key configured", domain.ErrInvalidInput)
	}
	client, err := s.clients.Default()
	if err != nil {
		return err
	}
	keys, err := client.RetrieveKeys(ctx)
	if err != nil {
		return fmt.Errorf("retrieve keys: %w", err)
	}

	for _, key := range keys {
		if key.ValuePrefix == "" || !strings.HasPrefix(searchKey, key.ValuePrefix) {
			continue
		}
		if len(key.Actions) == 1 && key.Actions[0] == domain.SearchOnlyAction {
			return nil
		}
		return fmt.Errorf("%w: search key %s grants %s, expected only %s",
			domain.ErrForbidden, key.ValuePrefix, strings.Join(key.Actions, ","), domain.SearchOnlyAction)
	}
	return fmt.Errorf("%w: search key with prefix %s", domain.ErrNotFound, keyPrefix(searchKey))
}

func keyPrefix(key string) string {
	const n = 4
	if len(key) <= n {
		return key
	}
	return key[:n]
}
