package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

var taskRowColumns = []string{
	"id", "type", "payload", "status", "priority", "attempts", "max_attempts", "error", "messages",
	"created_at", "updated_at", "started_at", "completed_at", "scheduled_for",
}

var clock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T, cfg QueueConfig) (*Queue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	q := NewQueue(db, cfg)
	q.now = func() time.Time { return clock }
	return q, mock
}

func taskRow(id string, taskType domain.TaskType, payload string, status domain.TaskStatus, attempts, maxAttempts int) *sqlmock.Rows {
	return sqlmock.NewRows(taskRowColumns).AddRow(
		id, string(taskType), []byte(payload), string(status), 0, attempts, maxAttempts, "", []byte(`[]`),
		clock, clock, clock, nil, clock,
	)
}

func TestNewQueue_Defaults(t *testing.T) {
	q := NewQueue(nil, QueueConfig{})
	assert.Equal(t, DefaultPollInterval, q.poll)
	assert.Equal(t, DefaultLease, q.lease)
	assert.NotNil(t, q.logger)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "($1, $2, $3)", placeholders(1, 3))
	assert.Equal(t, "($13, $14)", placeholders(13, 2))
}

func TestQueue_Enqueue(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{})
	task := domain.NewSyncCollectionTask(domain.NewSyncJobState("articles", 0, 100), time.Time{})

	mock.ExpectExec(`INSERT INTO tasks .* VALUES \(\$1, .*\$12\)$`).
		WithArgs(task.ID, task.Type, sqlmock.AnyArg(), task.Status, task.Priority, 0, task.MaxAttempts, "", []byte("[]"),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, q.Enqueue(context.Background(), task))
}

func TestQueue_EnqueueBatchSingleStatement(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{})
	first := domain.NewRecordTask(domain.ChangeKindUpsert, "Page", 1)
	second := domain.NewRecordTask(domain.ChangeKindDelete, "Page", 2)

	mock.ExpectExec(`VALUES \(\$1, .*\$12\), \(\$13, .*\$24\)$`).
		WillReturnError(errors.New("disk full"))

	err := q.EnqueueBatch(context.Background(), []*domain.Task{first, second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestQueue_EnqueueBatchEmpty(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{})
	require.NoError(t, q.EnqueueBatch(context.Background(), nil))
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{Lease: time.Minute})

	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(clock.Add(-time.Minute)).
		WillReturnRows(sqlmock.NewRows(taskRowColumns))

	task, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestQueue_DequeueClaims(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{})

	mock.ExpectQuery(`UPDATE tasks SET.*RETURNING`).
		WithArgs(clock.Add(-DefaultLease)).
		WillReturnRows(taskRow("t1", domain.TaskTypeSyncCollection,
			`{"collection":"articles","batch_cursor":"100"}`, domain.TaskStatusProcessing, 1, 1))

	task, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, domain.TaskStatusProcessing, task.Status)
	assert.Equal(t, "articles", task.CollectionName())
	assert.NotNil(t, task.StartedAt)
	assert.Nil(t, task.CompletedAt)
}

func TestQueue_DequeueError(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{})

	mock.ExpectQuery("RETURNING").WillReturnError(errors.New("connection reset"))

	_, err := q.Dequeue(context.Background())
	assert.ErrorContains(t, err, "claim task")
}

func TestQueue_DequeueWithTimeoutGivesUp(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{PollInterval: time.Millisecond})

	mock.ExpectQuery("RETURNING").WillReturnRows(sqlmock.NewRows(taskRowColumns))

	task, err := q.DequeueWithTimeout(context.Background(), 0)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestQueue_DequeueWithTimeoutCancelled(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the first poll finds nothing, cancelling then ends the wait for the next one
	mock.ExpectQuery("RETURNING").WillReturnRows(sqlmock.NewRows(taskRowColumns))
	stop := time.AfterFunc(20*time.Millisecond, cancel)
	defer stop.Stop()

	task, err := q.DequeueWithTimeout(ctx, 30)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, task)
}

func TestQueue_DequeueWithTimeoutCancelledBeforeClaim(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task, err := q.DequeueWithTimeout(ctx, 30)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, task)
}

func TestQueue_Ack(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{})

	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(domain.TaskStatusCompleted, clock, "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(domain.TaskStatusCompleted, clock, "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, q.Ack(context.Background(), "t1"))
	assert.ErrorIs(t, q.Ack(context.Background(), "gone"), domain.ErrNotFound)
}

func TestQueue_NackRetries(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{})

	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE id = \$1 FOR UPDATE`).
		WithArgs("t1").
		WillReturnRows(taskRow("t1", domain.TaskTypeUpsertRecord, `{}`, domain.TaskStatusProcessing, 1, 3))
	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(domain.TaskStatusPending, "timeout", sqlmock.AnyArg(), nil, sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, q.Nack(context.Background(), "t1", "timeout"))
}

func TestQueue_NackExhausted(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{})

	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE id = \$1 FOR UPDATE`).
		WithArgs("t1").
		WillReturnRows(taskRow("t1", domain.TaskTypeUpsertRecord, `{}`, domain.TaskStatusProcessing, 1, 1))
	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(domain.TaskStatusFailed, "boom", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, q.Nack(context.Background(), "t1", "boom"))
}

func TestQueue_NackMissing(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{})

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("nope").WillReturnRows(sqlmock.NewRows(taskRowColumns))
	mock.ExpectRollback()

	assert.ErrorIs(t, q.Nack(context.Background(), "nope", "boom"), domain.ErrNotFound)
}

func TestQueue_GetTaskMissing(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{})

	mock.ExpectQuery(`FROM tasks WHERE id = \$1`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(taskRowColumns))

	_, err := q.GetTask(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueue_SetMessages(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{})

	mock.ExpectExec("UPDATE tasks SET messages").
		WithArgs([]byte(`["Batch count=100 of total=250"]`), clock, "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tasks SET messages").
		WithArgs([]byte(`[]`), clock, "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, q.SetMessages(context.Background(), "t1", []string{"Batch count=100 of total=250"}))
	assert.ErrorIs(t, q.SetMessages(context.Background(), "gone", nil), domain.ErrNotFound)
}

func TestQueue_ListTasks(t *testing.T) {
	tests := []struct {
		name   string
		filter driven.TaskFilter
		query  string
		args   []driver.Value
	}{
		{
			name:  "unfiltered",
			query: `FROM tasks ORDER BY created_at DESC$`,
		},
		{
			name:   "by collection and status",
			filter: driven.TaskFilter{Collection: "articles", Status: domain.TaskStatusPending, Limit: 10},
			query:  `WHERE payload->>'collection' = \$1 AND status = \$2 ORDER BY created_at DESC LIMIT \$3$`,
			args:   []driver.Value{"articles", domain.TaskStatusPending, 10},
		},
		{
			name:   "by type with paging",
			filter: driven.TaskFilter{Type: domain.TaskTypePurgeTasks, Limit: 5, Offset: 20},
			query:  `WHERE type = \$1 ORDER BY created_at DESC LIMIT \$2 OFFSET \$3$`,
			args:   []driver.Value{domain.TaskTypePurgeTasks, 5, 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, mock := newTestQueue(t, QueueConfig{})
			expect := mock.ExpectQuery(tt.query)
			if len(tt.args) > 0 {
				expect = expect.WithArgs(tt.args...)
			}
			expect.WillReturnRows(taskRow("t1", domain.TaskTypeSyncCollection, `{"collection":"articles"}`,
				domain.TaskStatusPending, 0, 3))

			tasks, err := q.ListTasks(context.Background(), tt.filter)
			require.NoError(t, err)
			require.Len(t, tasks, 1)
			assert.Equal(t, "articles", tasks[0].CollectionName())
		})
	}
}

func TestQueue_CancelTask(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{})

	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(domain.TaskStatusFailed, clock, "t1", domain.TaskStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.CancelTask(context.Background(), "t1"))
}

func TestQueue_CancelNotPending(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{})

	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(domain.TaskStatusFailed, clock, "t1", domain.TaskStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM tasks WHERE id = \$1`).
		WithArgs("t1").
		WillReturnRows(taskRow("t1", domain.TaskTypeUpsertRecord, `{}`, domain.TaskStatusProcessing, 1, 1))

	err := q.CancelTask(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrTaskNotPending)
	assert.ErrorContains(t, err, "processing")
}

func TestQueue_CancelMissing(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{})

	mock.ExpectExec("UPDATE tasks SET status").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM tasks WHERE id = \$1`).WillReturnRows(sqlmock.NewRows(taskRowColumns))

	assert.ErrorIs(t, q.CancelTask(context.Background(), "gone"), domain.ErrNotFound)
}

func TestQueue_PurgeTasks(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{})

	mock.ExpectExec("DELETE FROM tasks").
		WithArgs(domain.TaskStatusCompleted, domain.TaskStatusFailed, clock.Add(-time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := q.PurgeTasks(context.Background(), 3600)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestQueue_Stats(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{})

	mock.ExpectQuery(`COUNT\(\*\) FILTER`).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "processing", "completed", "failed", "age"}).
			AddRow(4, 1, 30, 2, 95))

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, driven.QueueStats{
		PendingCount:     4,
		ProcessingCount:  1,
		CompletedCount:   30,
		FailedCount:      2,
		OldestPendingAge: 95,
	}, *stats)
}

func TestQueue_StatsNoPending(t *testing.T) {
	q, mock := newTestQueue(t, QueueConfig{})

	mock.ExpectQuery(`COUNT\(\*\) FILTER`).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "processing", "completed", "failed", "age"}).
			AddRow(0, 0, 3, 0, nil))

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.OldestPendingAge)
	assert.EqualValues(t, 3, stats.CompletedCount)
}
