package postgres

import (
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// table describes the columns a store reads and writes, in Scan order.
type table struct {
	name    string
	key     string
	columns []string
	// frozen columns keep their first written value on upsert
	frozen []string
}

func (t table) selectSQL(where string) string {
	q := "SELECT " + strings.Join(t.columns, ", ") + " FROM " + t.name
	if where != "" {
		q += " WHERE " + where
	}
	return q
}

// upsertSQL inserts a row or overwrites every non-key, non-frozen column
// of the row sharing its key.
func (t table) upsertSQL() string {
	binds := make([]string, len(t.columns))
	var sets []string
	for i, c := range t.columns {
		binds[i] = fmt.Sprintf("$%d", i+1)
		if c != t.key && !slices.Contains(t.frozen, c) {
			sets = append(sets, c+" = EXCLUDED."+c)
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		t.name, strings.Join(t.columns, ", "), strings.Join(binds, ", "), t.key, strings.Join(sets, ", "))
}

// collect scans every row with scan and closes rows.
func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// requireRow maps a write that touched nothing to ErrNotFound
func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
