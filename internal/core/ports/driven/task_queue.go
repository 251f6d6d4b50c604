package driven

import (
	"context"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

// TaskQueue carries sync steps, record changes and purges to the workers.
// Redis Streams back it when Redis is configured, the tasks table otherwise.
//
// Every claimed task must be settled with Ack or Nack. A task whose
// consumer dies without settling is handed out again once its claim
// times out, so handlers must tolerate running twice.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *domain.Task) error

	// EnqueueBatch stores all tasks or none of them.
	EnqueueBatch(ctx context.Context, tasks []*domain.Task) error

	// Dequeue claims the next ready task, marking it processing.
	// Returns nil, nil when nothing is ready.
	Dequeue(ctx context.Context) (*domain.Task, error)

	// DequeueWithTimeout waits up to timeout seconds for a ready task.
	DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error)

	// Ack marks a claimed task completed.
	Ack(ctx context.Context, taskID string) error

	// Nack records reason on the task. It is retried after
	// domain.RetryDelay while attempts remain and failed otherwise.
	Nack(ctx context.Context, taskID string, reason string) error

	// SetMessages replaces the handler's message log on the task.
	SetMessages(ctx context.Context, taskID string, messages []string) error

	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	// ListTasks returns matching tasks, newest first.
	ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// CancelTask fails a pending task with the reason "cancelled".
	// Returns domain.ErrTaskNotPending once the task was claimed or settled.
	CancelTask(ctx context.Context, taskID string) error

	// PurgeTasks deletes completed and failed tasks not updated for
	// olderThan seconds and returns how many went.
	PurgeTasks(ctx context.Context, olderThan int) (int, error)

	Stats(ctx context.Context) (*QueueStats, error)
	Ping(ctx context.Context) error
	Close() error
}

// TaskFilter narrows ListTasks. Zero fields match everything.
type TaskFilter struct {
	// Collection matches the collection named in a sync task payload.
	Collection string
	Status     domain.TaskStatus
	Type       domain.TaskType

	Limit  int
	Offset int
}

// QueueStats counts tasks per status.
type QueueStats struct {
	PendingCount    int64 `json:"pending_count"`
	ProcessingCount int64 `json:"processing_count"`
	CompletedCount  int64 `json:"completed_count"`
	FailedCount     int64 `json:"failed_count"`

	// OldestPendingAge is the age in seconds of the oldest pending task.
	OldestPendingAge int64 `json:"oldest_pending_age"`
}

// SchedulerStore persists the recurring schedules. They are configuration
// that outlives queue entries, so they are kept apart from TaskQueue.
type SchedulerStore interface {
	GetScheduledTask(ctx context.Context, id string) (*domain.ScheduledTask, error)
	ListScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error)

	// SaveScheduledTask inserts or replaces a schedule.
	SaveScheduledTask(ctx context.Context, task *domain.ScheduledTask) error

	DeleteScheduledTask(ctx context.Context, id string) error

	// GetDueScheduledTasks returns enabled schedules whose next run has passed.
	GetDueScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error)

	// UpdateLastRun stamps a run, stores lastError and moves the next run
	// one interval ahead.
	UpdateLastRun(ctx context.Context, id string, lastError string) error
}
