package driving

import (
	"context"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

// SyncService drives batched collection synchronization
type SyncService interface {
	// Step runs one batch of a sync run and enqueues its successor, if any
	Step(ctx context.Context, task *domain.Task) (*domain.StepResult, error)

	// Enqueue starts a sync run at cursor 0
	Enqueue(ctx context.Context, collection string, repeatHours, limit int) (*domain.Task, error)

	// Retry resumes a failed run from its recorded cursor
	Retry(ctx context.Context, collection string) (*domain.Task, error)

	// GetSyncState retrieves the sync state for a collection
	GetSyncState(ctx context.Context, collection string) (*domain.SyncState, error)

	// ListSyncStates retrieves sync states for all collections
	ListSyncStates(ctx context.Context) ([]*domain.SyncState, error)
}

// ImportService runs a full synchronous import, as used by the CLI
type ImportService interface {
	Import(ctx context.Context, collection string, limit int, progress func(domain.BatchResult, int)) (*domain.ImportReport, error)
}
