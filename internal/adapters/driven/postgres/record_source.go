package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.RecordSource = (*RecordSource)(nil)

// RecordSource reads indexable rows from the application's own tables.
// Table and column names come from the record type registry and are always quoted.
type RecordSource struct {
	db    *DB
	types *domain.RecordTypeRegistry
}

// NewRecordSource creates a RecordSource over the registered record types.
func NewRecordSource(db *DB, types *domain.RecordTypeRegistry) *RecordSource {
	return &RecordSource{db: db, types: types}
}

// recordSelect is the compiled query shape of one record type.
type recordSelect struct {
	recordType *domain.RecordType
	columns    []string
	from       string
	where      []string
	args       []any
}

func (s *RecordSource) compile(recordType string) (*recordSelect, error) {
	rt, err := s.types.Get(recordType)
	if err != nil {
		return nil, err
	}
	if rt.SourceTable() == "" {
		return nil, fmt.Errorf("%w: record type %s has no table", domain.ErrInvalidInput, recordType)
	}

	q := &recordSelect{
		recordType: rt,
		columns:    []string{pq.QuoteIdentifier("id")},
		from:       pq.QuoteIdentifier(rt.SourceTable()),
	}
	if rt.ClassColumn != "" {
		q.columns = append(q.columns, pq.QuoteIdentifier(rt.ClassColumn))
		q.args = append(q.args, pq.Array(s.types.Descendants(rt.Name)))
		q.where = append(q.where, fmt.Sprintf("%s = ANY($%d)", pq.QuoteIdentifier(rt.ClassColumn), len(q.args)))
	}
	for _, c := range rt.Columns {
		q.columns = append(q.columns, pq.QuoteIdentifier(c.Column))
	}
	if rt.ShowInSearchColumn != "" {
		q.where = append(q.where, pq.QuoteIdentifier(rt.ShowInSearchColumn)+" = true")
	}
	return q, nil
}

func (q *recordSelect) whereClause() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

// List returns one ordered slice of the eligible set
func (s *RecordSource) List(ctx context.Context, query driven.RecordQuery) ([]domain.Record, error) {
	q, err := s.compile(query.RecordType)
	if err != nil {
		return nil, err
	}

	sortColumn := "id"
	if query.SortField != "" && query.SortField != domain.FieldID {
		col, ok := q.recordType.Column(query.SortField)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no field %s to sort by", domain.ErrInvalidInput, query.RecordType, query.SortField)
		}
		sortColumn = col.Column
	}
	direction := driven.SortAsc
	if query.Direction == driven.SortDesc {
		direction = driven.SortDesc
	}

	order := fmt.Sprintf(" ORDER BY %s %s", pq.QuoteIdentifier(sortColumn), direction)
	if sortColumn != "id" {
		// ties keep a stable order across batches
		order += fmt.Sprintf(", %s %s", pq.QuoteIdentifier("id"), direction)
	}

	args := append([]any{}, q.args...)
	stmt := "SELECT " + strings.Join(q.columns, ", ") + " FROM " + q.from + q.whereClause() + order
	if query.Limit > 0 {
		args = append(args, query.Limit)
		stmt += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if query.Offset > 0 {
		args = append(args, query.Offset)
		stmt += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list " + query.RecordType, Err: err}
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		row, err := q.scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "list " + query.RecordType, Err: err}
	}
	return records, nil
}

// Count returns the size of the eligible set
func (s *RecordSource) Count(ctx context.Context, recordType string) (int, error) {
	q, err := s.compile(recordType)
	if err != nil {
		return 0, err
	}
	var count int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+q.from+q.whereClause(), q.args...).Scan(&count)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "count " + recordType, Err: err}
	}
	return count, nil
}

// Get retrieves one eligible record, ErrNotFound if absent or hidden
func (s *RecordSource) Get(ctx context.Context, recordType string, id int64) (domain.Record, error) {
	q, err := s.compile(recordType)
	if err != nil {
		return nil, err
	}
	args := append(append([]any{}, q.args...), id)
	q.where = append(q.where, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier("id"), len(args)))

	stmt := "SELECT " + strings.Join(q.columns, ", ") + " FROM " + q.from + q.whereClause()
	row, err := q.scan(s.db.QueryRowContext(ctx, stmt, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return row, err
}

func (q *recordSelect) scan(row rowScanner) (*domain.Row, error) {
	rt := q.recordType
	out := &domain.Row{Type: rt.Name, Fields: make(map[string]domain.StoredValue, len(rt.Columns))}

	var class sql.NullString
	values := make([]any, len(rt.Columns))
	dest := []any{&out.ID}
	if rt.ClassColumn != "" {
		dest = append(dest, &class)
	}
	for i := range values {
		dest = append(dest, &values[i])
	}

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, &domain.PersistenceError{Op: "scan " + rt.Name, Err: err}
	}

	if class.Valid && class.String != "" {
		out.Type = class.String
	}
	for i, c := range rt.Columns {
		v := values[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out.Fields[c.Field] = domain.StoredValue{Kind: c.Kind, Value: v}
	}
	return out, nil
}
