package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CollectionStore = (*CollectionStore)(nil)

// uniqueViolation is the SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

var collectionsTable = table{
	name:    "collections",
	key:     "id",
	columns: []string{"id", "name", "record_type", "enabled", "from_config", "metadata", "created_at", "updated_at"},
	frozen:  []string{"created_at"},
}

// CollectionStore keeps collection definitions in the collections table.
type CollectionStore struct {
	db *DB
}

func NewCollectionStore(db *DB) *CollectionStore {
	return &CollectionStore{db: db}
}

// Save inserts or replaces a collection. Reusing another collection's
// name yields ErrAlreadyExists.
func (s *CollectionStore) Save(ctx context.Context, c *domain.Collection) error {
	_, err := s.db.ExecContext(ctx, collectionsTable.upsertSQL(),
		c.ID, c.Name, c.RecordType, c.Enabled, c.FromConfig, c.Metadata, c.CreatedAt, c.UpdatedAt)

	var pqErr *pq.Error
	switch {
	case errors.As(err, &pqErr) && pqErr.Code == uniqueViolation:
		return fmt.Errorf("%w: collection %s", domain.ErrAlreadyExists, c.Name)
	case err != nil:
		return &domain.PersistenceError{Op: "save collection", Err: err}
	}
	return nil
}

func (s *CollectionStore) Get(ctx context.Context, id string) (*domain.Collection, error) {
	return scanCollection(s.db.QueryRowContext(ctx, collectionsTable.selectSQL("id = $1"), id))
}

func (s *CollectionStore) GetByName(ctx context.Context, name string) (*domain.Collection, error) {
	return scanCollection(s.db.QueryRowContext(ctx, collectionsTable.selectSQL("name = $1"), name))
}

// List returns every collection by name.
func (s *CollectionStore) List(ctx context.Context) ([]*domain.Collection, error) {
	return s.list(ctx, "")
}

func (s *CollectionStore) ListEnabled(ctx context.Context) ([]*domain.Collection, error) {
	return s.list(ctx, "enabled = true")
}

func (s *CollectionStore) list(ctx context.Context, where string) ([]*domain.Collection, error) {
	rows, err := s.db.QueryContext(ctx, collectionsTable.selectSQL(where)+" ORDER BY name")
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list collections", Err: err}
	}
	return collect(rows, scanCollection)
}

func (s *CollectionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		return &domain.PersistenceError{Op: "delete collection", Err: err}
	}
	return requireRow(res)
}

func (s *CollectionStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE collections SET enabled = $1, updated_at = NOW() WHERE id = $2`, enabled, id)
	if err != nil {
		return &domain.PersistenceError{Op: "toggle collection", Err: err}
	}
	return requireRow(res)
}

func scanCollection(row rowScanner) (*domain.Collection, error) {
	c := new(domain.Collection)
	err := row.Scan(&c.ID, &c.Name, &c.RecordType, &c.Enabled, &c.FromConfig, &c.Metadata, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "scan collection", Err: err}
	}
	return c, nil
}
