package typesense

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"github.com/typesense/typesense-go/typesense"
	"github.com/typesense/typesense-go/typesense/api"
	"github.com/typesense/typesense-go/typesense/api/pointer"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

// Verify interface compliance
var (
	_ driven.RemoteStore        = (*Store)(nil)
	_ driven.RemoteStoreFactory = (*Factory)(nil)
)

// healthTimeout bounds the /health request
const healthTimeout = 5 * time.Second

// Store implements driven.RemoteStore using the Typesense client.
// It holds one client per configured node and moves to the next node when
// a request fails without an HTTP response or with a server error.
type Store struct {
	nodes   []*typesense.Client
	current atomic.Int32
}

// NewStore creates a Store for the given connection parameters
func NewStore(params domain.ConnectionParams) (*Store, error) {
	if len(params.Nodes) == 0 {
		return nil, &domain.InvalidServerConfigError{Reason: "no nodes configured"}
	}

	s := &Store{nodes: make([]*typesense.Client, 0, len(params.Nodes))}
	for _, node := range params.Nodes {
		opts := []typesense.ClientOption{
			typesense.WithServer(node.URL()),
			typesense.WithAPIKey(params.APIKey),
			typesense.WithCircuitBreakerName("typesense-" + node.Host),
		}
		if params.ConnectionTimeout > 0 {
			opts = append(opts, typesense.WithConnectionTimeout(params.ConnectionTimeout))
		}
		s.nodes = append(s.nodes, typesense.NewClient(opts...))
	}
	return s, nil
}

// do runs fn against the current node and then each other node in turn
// while the failure is one another node may not share. The node that
// answered becomes current for later calls.
func (s *Store) do(ctx context.Context, fn func(*typesense.Client) error) error {
	start := int(s.current.Load())
	var err error
	for i := range s.nodes {
		n := (start + i) % len(s.nodes)
		err = fn(s.nodes[n])
		if err == nil || !nodeFailure(err) || ctx.Err() != nil {
			s.current.Store(int32(n))
			return err
		}
	}
	return err
}

func nodeFailure(err error) bool {
	var httpErr *typesense.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status >= http.StatusInternalServerError
	}
	return true
}

// Factory creates Stores. It is the production RemoteStoreFactory.
type Factory struct{}

// New creates a remote store client
func (Factory) New(params domain.ConnectionParams) (driven.RemoteStore, error) {
	return NewStore(params)
}

// CreateCollection creates a collection from a schema
func (s *Store) CreateCollection(ctx context.Context, schema *domain.CollectionSchema) error {
	err := s.do(ctx, func(c *typesense.Client) error {
		_, err := c.Collections().Create(ctx, toAPISchema(schema))
		return err
	})
	if err != nil {
		return mapError(fmt.Sprintf("create collection %s", schema.Name), err)
	}
	return nil
}

// CollectionExists reports whether the collection exists
func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	err := s.do(ctx, func(c *typesense.Client) error {
		_, err := c.Collection(name).Retrieve(ctx)
		return err
	})
	if err == nil {
		return true, nil
	}
	err = mapError("retrieve collection "+name, err)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// DeleteCollection drops a collection
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	err := s.do(ctx, func(c *typesense.Client) error {
		_, err := c.Collection(name).Delete(ctx)
		return err
	})
	if err != nil {
		return mapError("delete collection "+name, err)
	}
	return nil
}

// Import upserts documents in one JSONL request.
// The response carries one line per document in input order.
func (s *Store) Import(ctx context.Context, collection string, docs []*domain.Document) ([]domain.ImportItemResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	var body bytes.Buffer
	for _, doc := range docs {
		line, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode document %s: %w", doc.ID(), err)
		}
		body.Write(line)
		body.WriteByte('\n')
	}

	params := &api.ImportDocumentsParams{
		Action:    pointer.String("upsert"),
		BatchSize: pointer.Int(len(docs)),
	}
	var raw []byte
	err := s.do(ctx, func(c *typesense.Client) error {
		resp, err := c.Collection(collection).Documents().ImportJsonl(ctx, bytes.NewReader(body.Bytes()), params)
		if err != nil {
			return err
		}
		defer resp.Close()
		raw, err = io.ReadAll(resp)
		return err
	})
	if err != nil {
		return nil, mapError("import into "+collection, err)
	}
	return decodeImportResponse(raw, docs), nil
}

// decodeImportResponse pairs each JSONL result line with its input document.
// Missing lines are reported as failures.
func decodeImportResponse(raw []byte, docs []*domain.Document) []domain.ImportItemResult {
	results := make([]domain.ImportItemResult, 0, len(docs))
	i := 0
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || i >= len(docs) {
			continue
		}
		parsed := gjson.ParseBytes(line)
		item := domain.ImportItemResult{
			ID:      docs[i].ID(),
			Success: parsed.Get("success").Bool(),
		}
		if id := parsed.Get("id"); id.Exists() {
			item.ID = id.String()
		}
		if !item.Success {
			item.Error = parsed.Get("error").String()
		}
		results = append(results, item)
		i++
	}
	for ; i < len(docs); i++ {
		results = append(results, domain.ImportItemResult{ID: docs[i].ID(), Error: "no result returned"})
	}
	return results
}

// Upsert creates or replaces one document
func (s *Store) Upsert(ctx context.Context, collection string, doc *domain.Document) error {
	err := s.do(ctx, func(c *typesense.Client) error {
		_, err := c.Collection(collection).Documents().Upsert(ctx, doc.Map())
		return err
	})
	if err != nil {
		return mapError(fmt.Sprintf("upsert %s into %s", doc.ID(), collection), err)
	}
	return nil
}

// DeleteDocument deletes one document by id
func (s *Store) DeleteDocument(ctx context.Context, collection string, id string) error {
	err := s.do(ctx, func(c *typesense.Client) error {
		_, err := c.Collection(collection).Document(id).Delete(ctx)
		return err
	})
	if err != nil {
		return mapError(fmt.Sprintf("delete %s from %s", id, collection), err)
	}
	return nil
}

// Search runs a query against a collection
func (s *Store) Search(ctx context.Context, collection string, params domain.SearchParams) (*domain.SearchResult, error) {
	sp, err := toSearchParams(params)
	if err != nil {
		return nil, err
	}
	var resp *api.SearchResult
	err = s.do(ctx, func(c *typesense.Client) error {
		var err error
		resp, err = c.Collection(collection).Documents().Search(ctx, sp)
		return err
	})
	if err != nil {
		return nil, mapError("search "+collection, err)
	}

	result := &domain.SearchResult{
		Collection: collection,
		Page:       params.Page,
		PerPage:    params.PerPage,
	}
	if resp.Found != nil {
		result.Found = *resp.Found
	}
	if resp.Hits != nil {
		for _, hit := range *resp.Hits {
			result.Hits = append(result.Hits, toSearchHit(hit))
		}
	}
	return result, nil
}

func toSearchHit(hit api.SearchResultHit) *domain.SearchHit {
	h := &domain.SearchHit{}
	if hit.Document != nil {
		h.Document = *hit.Document
	}
	if hit.TextMatch != nil {
		h.TextMatch = *hit.TextMatch
	}
	if hit.Highlight != nil {
		h.Highlight = *hit.Highlight
	}
	if hit.Highlights != nil {
		for _, hl := range *hit.Highlights {
			h.Highlights = append(h.Highlights, domain.Highlight{
				Field:         deref(hl.Field),
				Snippet:       deref(hl.Snippet),
				Snippets:      deref(hl.Snippets),
				Value:         deref(hl.Value),
				Values:        deref(hl.Values),
				MatchedTokens: deref(hl.MatchedTokens),
				Indices:       deref(hl.Indices),
			})
		}
	}
	return h
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// searchParamFields indexes SearchCollectionParams fields by query parameter name.
var searchParamFields = func() map[string]int {
	t := reflect.TypeOf(api.SearchCollectionParams{})
	out := make(map[string]int, t.NumField())
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		out[name] = i
	}
	return out
}()

func toSearchParams(params domain.SearchParams) (*api.SearchCollectionParams, error) {
	sp := &api.SearchCollectionParams{}
	for _, key := range slices.Sorted(maps.Keys(params.Extra)) {
		if err := setSearchParam(sp, key, params.Extra[key]); err != nil {
			return nil, err
		}
	}
	sp.Q = params.Q
	sp.QueryBy = params.QueryBy
	sp.Page = pointer.Int(params.Page)
	sp.PerPage = pointer.Int(params.PerPage)
	if params.FilterBy != "" {
		sp.FilterBy = pointer.String(params.FilterBy)
	}
	return sp, nil
}

// setSearchParam stores a textual scope value in the matching typed field.
func setSearchParam(sp *api.SearchCollectionParams, key, value string) error {
	i, ok := searchParamFields[key]
	if !ok {
		return fmt.Errorf("%w: unknown search parameter %q", domain.ErrMalformed, key)
	}
	field := reflect.ValueOf(sp).Elem().Field(i)
	target := field
	if field.Kind() == reflect.Pointer {
		target = reflect.New(field.Type().Elem()).Elem()
	}

	switch target.Kind() {
	case reflect.String:
		target.SetString(value)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: search parameter %s wants a number, got %q", domain.ErrMalformed, key, value)
		}
		target.SetInt(int64(n))
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: search parameter %s wants true or false, got %q", domain.ErrMalformed, key, value)
		}
		target.SetBool(b)
	default:
		return fmt.Errorf("%w: unsupported search parameter %q", domain.ErrMalformed, key)
	}

	if field.Kind() == reflect.Pointer {
		field.Set(target.Addr())
	}
	return nil
}

// RetrieveKeys lists API keys visible to the client's key
func (s *Store) RetrieveKeys(ctx context.Context) ([]domain.APIKey, error) {
	var keys []*api.ApiKey
	err := s.do(ctx, func(c *typesense.Client) error {
		var err error
		keys, err = c.Keys().Retrieve(ctx)
		return err
	})
	if err != nil {
		return nil, mapError("retrieve keys", err)
	}
	out := make([]domain.APIKey, 0, len(keys))
	for _, k := range keys {
		key := domain.APIKey{
			Actions:     k.Actions,
			Collections: k.Collections,
		}
		if k.Id != nil {
			key.ID = *k.Id
		}
		if k.ValuePrefix != nil {
			key.ValuePrefix = *k.ValuePrefix
		}
		out = append(out, key)
	}
	return out, nil
}

// GenerateScopedSearchKey derives a scoped key locally, without a request
func (s *Store) GenerateScopedSearchKey(searchKey string, scope map[string]any) (string, error) {
	return s.nodes[0].Keys().GenerateScopedSearchKey(searchKey, scope)
}

// Health reports the store available when any node is healthy
func (s *Store) Health(ctx context.Context) error {
	var errs []error
	for i, c := range s.nodes {
		ok, err := c.Health(ctx, healthTimeout)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("node %d: %w", i, err))
		case !ok:
			errs = append(errs, fmt.Errorf("node %d reports unhealthy", i))
		default:
			return nil
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrServiceUnavailable, errors.Join(errs...))
}

func toAPISchema(schema *domain.CollectionSchema) *api.CollectionSchema {
	fields := make([]api.Field, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		field := api.Field{Name: f.Name, Type: string(f.Type)}
		if f.Facet {
			field.Facet = pointer.True()
		}
		if f.Optional {
			field.Optional = pointer.True()
		}
		if f.Index != nil {
			index := *f.Index
			field.Index = &index
		}
		fields = append(fields, field)
	}

	out := &api.CollectionSchema{Name: schema.Name, Fields: fields}
	if schema.DefaultSortingField != "" {
		out.DefaultSortingField = pointer.String(schema.DefaultSortingField)
	}
	if len(schema.TokenSeparators) > 0 {
		seps := schema.TokenSeparators
		out.TokenSeparators = &seps
	}
	if len(schema.SymbolsToIndex) > 0 {
		symbols := schema.SymbolsToIndex
		out.SymbolsToIndex = &symbols
	}
	return out
}

// mapError translates Typesense HTTP errors into domain errors.
func mapError(op string, err error) error {
	var httpErr *typesense.HTTPError
	if !errors.As(err, &httpErr) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrServiceUnavailable, err)
	}
	msg := gjson.GetBytes(httpErr.Body, "message").String()
	if msg == "" {
		msg = string(httpErr.Body)
	}
	switch httpErr.Status {
	case http.StatusConflict:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrAlreadyExists, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrNotFound, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrMalformed, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrForbidden, msg)
	}
	return fmt.Errorf("%s: status %d: %s", op, httpErr.Status, msg)
}
