package driving

import (
	"context"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

// RecordChangeService propagates record changes to linked collections
type RecordChangeService interface {
	// HandleLifecycle maps a lifecycle event to a change and routes it.
	// Returns whether the change was queued or applied.
	HandleLifecycle(ctx context.Context, event domain.LifecycleEvent) (bool, error)

	// Route propagates a change for a loaded record
	Route(ctx context.Context, record domain.Record, kind domain.ChangeKind, synchronous bool) bool

	// ProcessUpsert handles a queued upsert task
	ProcessUpsert(ctx context.Context, task *domain.Task) error

	// ProcessDelete handles a queued delete task
	ProcessDelete(ctx context.Context, task *domain.Task) error
}
