package mocks

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

var _ driven.TaskQueue = (*MockTaskQueue)(nil)

// MockTaskQueue keeps tasks in memory. Dequeue picks the ready task the
// Postgres queue would: highest priority, then earliest due, then oldest.
type MockTaskQueue struct {
	mu    sync.Mutex
	tasks []*domain.Task

	// EnqueueErr fails every Enqueue and EnqueueBatch when set.
	EnqueueErr error
}

func NewMockTaskQueue() *MockTaskQueue {
	return &MockTaskQueue{}
}

func (m *MockTaskQueue) Enqueue(ctx context.Context, task *domain.Task) error {
	return m.EnqueueBatch(ctx, []*domain.Task{task})
}

// EnqueueBatch adds all tasks or none.
func (m *MockTaskQueue) EnqueueBatch(_ context.Context, tasks []*domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnqueueErr != nil {
		return m.EnqueueErr
	}
	m.tasks = append(m.tasks, tasks...)
	return nil
}

func (m *MockTaskQueue) Dequeue(context.Context) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *domain.Task
	for _, t := range m.tasks {
		if t.IsReady() && (next == nil || claimsBefore(t, next)) {
			next = t
		}
	}
	if next != nil {
		next.MarkProcessing()
	}
	return next, nil
}

func claimsBefore(a, b *domain.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledFor.Equal(b.ScheduledFor) {
		return a.ScheduledFor.Before(b.ScheduledFor)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (m *MockTaskQueue) DequeueWithTimeout(ctx context.Context, _ int) (*domain.Task, error) {
	return m.Dequeue(ctx)
}

func (m *MockTaskQueue) Ack(_ context.Context, taskID string) error {
	return m.update(taskID, (*domain.Task).MarkCompleted)
}

func (m *MockTaskQueue) Nack(_ context.Context, taskID string, reason string) error {
	return m.update(taskID, func(t *domain.Task) {
		if t.CanRetry() {
			t.Retry(reason)
		} else {
			t.MarkFailed(reason)
		}
	})
}

func (m *MockTaskQueue) SetMessages(_ context.Context, taskID string, messages []string) error {
	return m.update(taskID, func(t *domain.Task) {
		t.Messages = slices.Clone(messages)
	})
}

func (m *MockTaskQueue) GetTask(_ context.Context, taskID string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.index(taskID); i >= 0 {
		return m.tasks[i], nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockTaskQueue) ListTasks(_ context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Task
	for _, t := range m.tasks {
		switch {
		case filter.Status != "" && t.Status != filter.Status,
			filter.Type != "" && t.Type != filter.Type,
			filter.Collection != "" && t.CollectionName() != filter.Collection:
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// CancelTask only affects pending tasks, like the real queues.
func (m *MockTaskQueue) CancelTask(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(taskID)
	if i < 0 {
		return domain.ErrNotFound
	}
	if m.tasks[i].Status != domain.TaskStatusPending {
		return domain.ErrTaskNotPending
	}
	m.tasks[i].MarkFailed("cancelled")
	return nil
}

func (m *MockTaskQueue) PurgeTasks(_ context.Context, olderThan int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-time.Duration(olderThan) * time.Second)
	before := len(m.tasks)
	m.tasks = slices.DeleteFunc(m.tasks, func(t *domain.Task) bool {
		finished := t.Status == domain.TaskStatusCompleted || t.Status == domain.TaskStatusFailed
		return finished && t.UpdatedAt.Before(cutoff)
	})
	return before - len(m.tasks), nil
}

func (m *MockTaskQueue) Stats(context.Context) (*driven.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats driven.QueueStats
	for _, t := range m.tasks {
		switch t.Status {
		case domain.TaskStatusPending:
			stats.PendingCount++
		case domain.TaskStatusProcessing:
			stats.ProcessingCount++
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		}
	}
	return &stats, nil
}

func (m *MockTaskQueue) Ping(context.Context) error { return nil }

func (m *MockTaskQueue) Close() error { return nil }

// Tasks returns a snapshot of every enqueued task.
func (m *MockTaskQueue) Tasks() []*domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.tasks)
}

func (m *MockTaskQueue) update(taskID string, fn func(*domain.Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(taskID)
	if i < 0 {
		return domain.ErrNotFound
	}
	fn(m.tasks[i])
	return nil
}

func (m *MockTaskQueue) index(id string) int {
	return slices.IndexFunc(m.tasks, func(t *domain.Task) bool { return t.ID == id })
}
