package driven

import (
	"context"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

// SortDirection orders the eligible record set
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// RecordQuery selects a slice of the records eligible for indexing.
type RecordQuery struct {
	RecordType string
	// SortField is a record field, "id" when empty
	SortField string
	Direction SortDirection
	Limit     int
	Offset    int
}

// RecordSource reads local records (PostgreSQL).
// The eligible set is the live view for types that support publishing,
// without rows hidden from search.
type RecordSource interface {
	// List returns one ordered slice of the eligible set
	List(ctx context.Context, query RecordQuery) ([]domain.Record, error)

	// Count returns the size of the eligible set
	Count(ctx context.Context, recordType string) (int, error)

	// Get retrieves one eligible record, ErrNotFound if absent or hidden
	Get(ctx context.Context, recordType string, id int64) (domain.Record, error)
}
