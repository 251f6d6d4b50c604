package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

func TestValidateMetadata(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantErr    bool
		unexpected string
	}{
		{name: "valid", raw: pagesMetadata},
		{name: "valid with options", raw: `{"name":"x","fields":[{"name":"a","type":"string","facet":true}],"token_separators":["-"],"symbols_to_index":["+"],"default_sorting_field":"a"}`},
		{name: "empty", raw: "", wantErr: true},
		{name: "not json", raw: "{nope", wantErr: true},
		{name: "not object", raw: `["a"]`, wantErr: true},
		{name: "missing name", raw: `{"fields":[{"name":"a","type":"string"}]}`, wantErr: true},
		{name: "missing fields", raw: `{"name":"x"}`, wantErr: true},
		{name: "empty fields", raw: `{"name":"x","fields":[]}`, wantErr: true},
		{name: "field without type", raw: `{"name":"x","fields":[{"name":"a"}]}`, wantErr: true},
		{name: "field bad facet", raw: `{"name":"x","fields":[{"name":"a","type":"string","facet":"yes"}]}`, wantErr: true},
		{name: "bad token separators", raw: `{"name":"x","fields":[{"name":"a","type":"string"}],"token_separators":[1]}`, wantErr: true},
		{name: "bad sorting field", raw: `{"name":"x","fields":[{"name":"a","type":"string"}],"default_sorting_field":3}`, wantErr: true},
		{name: "unexpected key", raw: `{"name":"x","fields":[{"name":"a","type":"string"}],"enable_nested_fields":true}`, wantErr: true, unexpected: "enable_nested_fields"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema, err := ValidateMetadata(tt.raw)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.NotEmpty(t, schema.Fields)
				return
			}
			require.Error(t, err)
			var sve *domain.SchemaValidationError
			assert.True(t, errors.As(err, &sve), "expected SchemaValidationError, got %T", err)
			if tt.unexpected != "" {
				var uke *domain.UnexpectedKeyError
				require.True(t, errors.As(err, &uke))
				assert.Equal(t, tt.unexpected, uke.Key)
			}
		})
	}
}

func TestCollectionRegistry_FindOrCreate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, err := f.registry.FindOrCreate(ctx, "pages", "Page", pagesMetadata, false)
	require.NoError(t, err)
	assert.True(t, created.Enabled)
	assert.False(t, created.FromConfig)
	assert.Contains(t, created.Metadata, "\n    \"name\": \"pages\"")

	// Existing metadata is kept, config flag only ever set
	again, err := f.registry.FindOrCreate(ctx, "pages", "Page", productsMetadata, true)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
	assert.True(t, again.FromConfig)
	assert.Contains(t, again.Metadata, "pages")
	assert.NotContains(t, again.Metadata, "Price")

	third, err := f.registry.FindOrCreate(ctx, "pages", "Page", "", false)
	require.NoError(t, err)
	assert.True(t, third.FromConfig)
	assert.Equal(t, 1, f.store.Count())
}

func TestCollectionRegistry_FindOrCreate_PersistenceError(t *testing.T) {
	f := newServiceFixture(t)
	f.store.SaveErr = errors.New("db down")

	_, err := f.registry.FindOrCreate(context.Background(), "pages", "Page", pagesMetadata, false)
	var pe *domain.PersistenceError
	require.True(t, errors.As(err, &pe), "expected PersistenceError, got %v", err)
}

func TestCollectionRegistry_Save(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	c := &domain.Collection{RecordType: "Product", Enabled: true, Metadata: productsMetadata}
	require.NoError(t, f.registry.Save(ctx, c))
	assert.Equal(t, "products", c.Name, "name is taken from the schema")
	assert.NotEmpty(t, c.ID)

	// Editing itself is allowed
	c.Enabled = false
	require.NoError(t, f.registry.Save(ctx, c))

	dup := &domain.Collection{RecordType: "Product", Metadata: productsMetadata}
	assert.ErrorIs(t, f.registry.Save(ctx, dup), domain.ErrAlreadyExists)

	unknown := &domain.Collection{RecordType: "Nope", Metadata: pagesMetadata}
	assert.ErrorIs(t, f.registry.Save(ctx, unknown), domain.ErrInvalidInput)

	invalid := &domain.Collection{RecordType: "Page", Metadata: `{"name":"x"}`}
	assert.ErrorIs(t, f.registry.Save(ctx, invalid), domain.ErrInvalidInput)
}

func TestCollectionRegistry_Resolve(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	require.NoError(t, f.registry.Bootstrap(ctx, []domain.StaticCollection{
		{Name: "pages", RecordType: "Page", Metadata: pagesMetadata},
	}))

	// Static collections resolve even when disabled
	require.NoError(t, f.registry.SetEnabled(ctx, "pages", false))
	c, err := f.registry.Resolve(ctx, "pages")
	require.NoError(t, err)
	assert.True(t, c.FromConfig)

	f.withCollection(t, "products", "Product", productsMetadata)
	_, err = f.registry.Resolve(ctx, "products")
	require.NoError(t, err)

	require.NoError(t, f.registry.SetEnabled(ctx, "products", false))
	_, err = f.registry.Resolve(ctx, "products")
	var nf *domain.CollectionNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.True(t, strings.Contains(err.Error(), "maybe it is not enabled?"))

	_, err = f.registry.Resolve(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCollectionRegistry_LinkedCollections(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.withCollection(t, "pages", "Page", pagesMetadata)
	f.withCollection(t, "products", "Product", productsMetadata)
	f.withCollection(t, "everything", "SiteTree", pagesMetadata)

	linked, err := f.registry.LinkedCollections(ctx, "NewsPage")
	require.NoError(t, err)
	require.Len(t, linked, 1, "base types never link")
	assert.Equal(t, "pages", linked[0].Name)

	require.NoError(t, f.registry.SetEnabled(ctx, "pages", false))
	linked, err = f.registry.LinkedCollections(ctx, "NewsPage")
	require.NoError(t, err)
	assert.Empty(t, linked)
}

func TestCollectionRegistry_EnsureRemote(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	c := f.withCollection(t, "pages", "Page", pagesMetadata)

	require.NoError(t, f.registry.EnsureRemote(ctx, c))
	require.NoError(t, f.registry.EnsureRemote(ctx, c), "existing collection is success")
	assert.Equal(t, 2, f.remote.CreateCalls)

	exists, err := f.remote.CollectionExists(ctx, "pages")
	require.NoError(t, err)
	assert.True(t, exists)

	f.remote.CreateErr = errors.New("unauthorized")
	assert.Error(t, f.registry.EnsureRemote(ctx, c))
}

func TestCollectionRegistry_Delete(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	c := f.withCollection(t, "pages", "Page", pagesMetadata)
	require.NoError(t, f.registry.EnsureRemote(ctx, c))
	require.NoError(t, f.registry.Delete(ctx, "pages"))
	assert.Equal(t, 0, f.store.Count())

	// Remote already gone
	f.withCollection(t, "products", "Product", productsMetadata)
	require.NoError(t, f.registry.Delete(ctx, "products"))

	assert.ErrorIs(t, f.registry.Delete(ctx, "missing"), domain.ErrNotFound)
}
