package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.CollectionService = (*CollectionRegistry)(nil)

// RemoteClients supplies the admin remote store client.
type RemoteClients interface {
	Default() (driven.RemoteStore, error)
}

const fieldSchemaURL = "urn:sercha:collection-field"

// fieldSchemaJSON validates one entry of a collection's fields list.
const fieldSchemaJSON = `{
  "type": "object",
  "required": ["name", "type"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "type": {"type": "string", "minLength": 1},
    "facet": {"type": "boolean"},
    "optional": {"type": "boolean"},
    "index": {"type": "boolean"},
    "sort": {"type": "boolean"},
    "infix": {"type": "boolean"},
    "locale": {"type": "string"}
  }
}`

var fieldSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(fieldSchemaJSON))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(fieldSchemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(fieldSchemaURL)
})

// CollectionRegistry manages collection descriptors.
type CollectionRegistry struct {
	store  driven.CollectionStore
	types  *domain.RecordTypeRegistry
	remote RemoteClients
	logger *slog.Logger

	mu     sync.RWMutex
	static map[string]domain.StaticCollection
}

// CollectionRegistryConfig holds dependencies for the registry.
type CollectionRegistryConfig struct {
	Store  driven.CollectionStore
	Types  *domain.RecordTypeRegistry
	Remote RemoteClients
	Logger *slog.Logger
}

// NewCollectionRegistry creates a CollectionRegistry.
func NewCollectionRegistry(cfg CollectionRegistryConfig) *CollectionRegistry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	types := cfg.Types
	if types == nil {
		types = domain.NewRecordTypeRegistry()
	}
	return &CollectionRegistry{
		store:  cfg.Store,
		types:  types,
		remote: cfg.Remote,
		logger: logger,
		static: make(map[string]domain.StaticCollection),
	}
}

// Bootstrap records the statically configured collections and makes sure each has a descriptor.
func (r *CollectionRegistry) Bootstrap(ctx context.Context, static []domain.StaticCollection) error {
	r.mu.Lock()
	for _, sc := range static {
		r.static[sc.Name] = sc
	}
	r.mu.Unlock()

	for _, sc := range static {
		if _, err := r.FindOrCreate(ctx, sc.Name, sc.RecordType, sc.Metadata, true); err != nil {
			return fmt.Errorf("bootstrap collection %s: %w", sc.Name, err)
		}
		r.logger.Info("collection configured", "collection", sc.Name, "record_type", sc.RecordType)
	}
	return nil
}

// FindOrCreate returns the descriptor named name, creating an enabled one when absent.
func (r *CollectionRegistry) FindOrCreate(ctx context.Context, name, recordType, metadata string, fromConfig bool) (*domain.Collection, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: collection name is required", domain.ErrInvalidInput)
	}

	collection, err := r.store.GetByName(ctx, name)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		collection = domain.NewCollection(name, recordType)
	case err != nil:
		return nil, fmt.Errorf("find collection %s: %w", name, err)
	}

	if !collection.HasMetadata() && strings.TrimSpace(metadata) != "" {
		pretty, err := prettyJSON(metadata)
		if err != nil {
			return nil, &domain.SchemaValidationError{Reason: err.Error()}
		}
		collection.Metadata = pretty
	}
	if collection.RecordType == "" {
		collection.RecordType = recordType
	}
	if fromConfig {
		collection.FromConfig = true
	}
	collection.UpdatedAt = time.Now()

	if err := r.store.Save(ctx, collection); err != nil {
		return nil, &domain.PersistenceError{Op: "collection " + name, Err: err}
	}
	return collection, nil
}

// ValidateMetadata checks raw schema JSON and returns the decoded schema.
func (r *CollectionRegistry) ValidateMetadata(raw string) (*domain.CollectionSchema, error) {
	return ValidateMetadata(raw)
}

// ValidateMetadata checks raw schema JSON against the metadata rules.
func ValidateMetadata(raw string) (*domain.CollectionSchema, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &domain.SchemaValidationError{Reason: "metadata is empty"}
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, &domain.SchemaValidationError{Reason: "metadata is not valid JSON: " + err.Error()}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, &domain.SchemaValidationError{Reason: "metadata must be a JSON object"}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !slices.Contains(domain.MetadataKeys, k) {
			return nil, &domain.UnexpectedKeyError{Key: k}
		}
	}

	if name, ok := obj["name"].(string); !ok || name == "" {
		return nil, &domain.SchemaValidationError{Reason: "name must be a non-empty string"}
	}
	fields, ok := obj["fields"].([]any)
	if !ok || len(fields) == 0 {
		return nil, &domain.SchemaValidationError{Reason: "fields must be a non-empty list"}
	}
	sch, err := fieldSchema()
	if err != nil {
		return nil, fmt.Errorf("compile field schema: %w", err)
	}
	for i, f := range fields {
		if err := sch.Validate(f); err != nil {
			return nil, &domain.SchemaValidationError{Reason: fmt.Sprintf("field %d: %v", i, err)}
		}
	}
	for _, key := range []string{"token_separators", "symbols_to_index"} {
		v, present := obj[key]
		if !present {
			continue
		}
		if !isStringList(v) {
			return nil, &domain.SchemaValidationError{Reason: key + " must be a list of strings"}
		}
	}
	if v, present := obj["default_sorting_field"]; present {
		if _, ok := v.(string); !ok {
			return nil, &domain.SchemaValidationError{Reason: "default_sorting_field must be a string"}
		}
	}

	var schema domain.CollectionSchema
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		return nil, &domain.SchemaValidationError{Reason: err.Error()}
	}
	return &schema, nil
}

func isStringList(v any) bool {
	list, ok := v.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if _, ok := item.(string); !ok {
			return false
		}
	}
	return true
}

// Save validates and persists a descriptor.
func (r *CollectionRegistry) Save(ctx context.Context, collection *domain.Collection) error {
	schema, err := ValidateMetadata(collection.Metadata)
	if err != nil {
		return err
	}
	// The schema name is the collection name
	collection.Name = schema.Name
	if _, err := r.types.Get(collection.RecordType); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	pretty, err := prettyJSON(collection.Metadata)
	if err != nil {
		return &domain.SchemaValidationError{Reason: err.Error()}
	}
	collection.Metadata = pretty

	existing, err := r.store.GetByName(ctx, collection.Name)
	switch {
	case err == nil && existing.ID != collection.ID:
		return fmt.Errorf("collection %s: %w", collection.Name, domain.ErrAlreadyExists)
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("check collection name: %w", err)
	}

	if collection.ID == "" {
		fresh := domain.NewCollection(collection.Name, collection.RecordType)
		collection.ID = fresh.ID
		collection.CreatedAt = fresh.CreatedAt
	}
	collection.UpdatedAt = time.Now()

	if err := r.store.Save(ctx, collection); err != nil {
		return &domain.PersistenceError{Op: "collection " + collection.Name, Err: err}
	}
	return nil
}

// Resolve returns a statically configured descriptor, else an enabled stored one.
func (r *CollectionRegistry) Resolve(ctx context.Context, name string) (*domain.Collection, error) {
	r.mu.RLock()
	sc, isStatic := r.static[name]
	r.mu.RUnlock()

	if isStatic {
		collection, err := r.FindOrCreate(ctx, sc.Name, sc.RecordType, sc.Metadata, true)
		if err != nil {
			return nil, err
		}
		return collection, nil
	}

	collection, err := r.store.GetByName(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.CollectionNotFoundError{Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve collection %s: %w", name, err)
	}
	if !collection.Enabled {
		return nil, &domain.CollectionNotFoundError{Name: name}
	}
	return collection, nil
}

// List returns every descriptor.
func (r *CollectionRegistry) List(ctx context.Context) ([]*domain.Collection, error) {
	return r.store.List(ctx)
}

// Get returns a descriptor by name.
func (r *CollectionRegistry) Get(ctx context.Context, name string) (*domain.Collection, error) {
	return r.store.GetByName(ctx, name)
}

// SetEnabled toggles a descriptor.
func (r *CollectionRegistry) SetEnabled(ctx context.Context, name string, enabled bool) error {
	collection, err := r.store.GetByName(ctx, name)
	if err != nil {
		return err
	}
	return r.store.SetEnabled(ctx, collection.ID, enabled)
}

// Delete removes the remote collection, then the descriptor.
func (r *CollectionRegistry) Delete(ctx context.Context, name string) error {
	collection, err := r.store.GetByName(ctx, name)
	if err != nil {
		return err
	}

	client, err := r.remote.Default()
	if err != nil {
		return err
	}
	if err := client.DeleteCollection(ctx, name); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete remote collection %s: %w", name, err)
	}

	if err := r.store.Delete(ctx, collection.ID); err != nil {
		return &domain.PersistenceError{Op: "delete collection " + name, Err: err}
	}
	r.logger.Info("collection deleted", "collection", name)
	return nil
}

// LinkedCollections returns enabled descriptors fed by recordType or one of its ancestors.
func (r *CollectionRegistry) LinkedCollections(ctx context.Context, recordType string) ([]*domain.Collection, error) {
	enabled, err := r.store.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	var linked []*domain.Collection
	for _, c := range enabled {
		if r.types.IsLinked(recordType, c.RecordType) {
			linked = append(linked, c)
		}
	}
	return linked, nil
}

// EnsureRemote creates the remote collection. An existing collection is success.
func (r *CollectionRegistry) EnsureRemote(ctx context.Context, collection *domain.Collection) error {
	schema, err := collection.Schema()
	if err != nil {
		return err
	}
	if schema.Name == "" {
		schema.Name = collection.Name
	}
	remoteSchema := *schema
	remoteSchema.Fields = schema.WithDefaultFields()

	client, err := r.remote.Default()
	if err != nil {
		return err
	}
	err = client.CreateCollection(ctx, &remoteSchema)
	if err == nil {
		r.logger.Info("remote collection created", "collection", schema.Name)
		return nil
	}
	if errors.Is(err, domain.ErrAlreadyExists) {
		return nil
	}
	return fmt.Errorf("create remote collection %s: %w", schema.Name, err)
}

func prettyJSON(raw string) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(strings.TrimSpace(raw)), "", "    "); err != nil {
		return "", err
	}
	return buf.String(), nil
}
