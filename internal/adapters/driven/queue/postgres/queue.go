package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.TaskQueue = (*Queue)(nil)

const (
	// DefaultPollInterval is how often a waiting dequeue re-checks the table.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultLease is how long a processing task may go without an ack
	// before another worker is allowed to claim it.
	DefaultLease = 15 * time.Minute
)

const taskColumns = `id, type, payload, status, priority, attempts, max_attempts, error, messages,
	created_at, updated_at, started_at, completed_at, scheduled_for`

// insertColumns is the number of bind parameters per inserted row.
const insertColumns = 12

// claimSQL hands the best ready task to the caller in one statement.
// A processing task whose lease ran out counts as ready again so work
// held by a crashed worker is not stranded.
const claimSQL = `
	UPDATE tasks SET
		status = 'processing',
		attempts = attempts + 1,
		started_at = NOW(),
		updated_at = NOW()
	WHERE id = (
		SELECT id FROM tasks
		WHERE scheduled_for <= NOW()
		  AND (status = 'pending' OR (status = 'processing' AND started_at < $1))
		ORDER BY priority DESC, scheduled_for, created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + taskColumns

// QueueConfig tunes the Postgres task queue.
type QueueConfig struct {
	// PollInterval between claim attempts while waiting for work.
	PollInterval time.Duration

	// Lease is how long a claimed task stays invisible to other workers.
	Lease time.Duration

	Logger *slog.Logger
}

// Queue is a TaskQueue stored in the tasks table. Workers claim rows
// with FOR UPDATE SKIP LOCKED so each task goes to exactly one of them.
// It is used when no Redis is configured.
type Queue struct {
	db     *sql.DB
	poll   time.Duration
	lease  time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewQueue creates a Queue over db. The tasks table comes from the
// postgres adapter schema.
func NewQueue(db *sql.DB, cfg QueueConfig) *Queue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue{
		db:     db,
		poll:   cfg.PollInterval,
		lease:  cfg.Lease,
		logger: cfg.Logger.With("component", "pg_queue"),
		now:    time.Now,
	}
}

// Enqueue adds a task to the queue
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	return q.EnqueueBatch(ctx, []*domain.Task{task})
}

// EnqueueBatch inserts every task in a single statement, so either all
// of them land or none do.
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO tasks (id, type, payload, status, priority, attempts, max_attempts,
		error, messages, created_at, updated_at, scheduled_for) VALUES `)
	args := make([]any, 0, len(tasks)*insertColumns)

	for i, task := range tasks {
		row, err := insertArgs(task)
		if err != nil {
			return fmt.Errorf("task %s: %w", task.ID, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(placeholders(len(args)+1, insertColumns))
		args = append(args, row...)
	}

	if _, err := q.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert tasks: %w", err)
	}
	return nil
}

func insertArgs(task *domain.Task) ([]any, error) {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	messages, err := json.Marshal(nonNil(task.Messages))
	if err != nil {
		return nil, fmt.Errorf("marshal messages: %w", err)
	}
	return []any{
		task.ID, task.Type, payload, task.Status, task.Priority, task.Attempts, task.MaxAttempts,
		task.Error, messages, task.CreatedAt, task.UpdatedAt, task.ScheduledFor,
	}, nil
}

// placeholders renders "($from, ..., $from+n-1)".
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Dequeue claims the next ready task, or returns nil when there is none.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Task, error) {
	task, err := scanTask(q.db.QueryRowContext(ctx, claimSQL, q.now().Add(-q.lease)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if task.Attempts > 1 {
		q.logger.Debug("claimed retried task", "task_id", task.ID, "type", task.Type, "attempts", task.Attempts)
	}
	return task, nil
}

// DequeueWithTimeout keeps trying to claim a task for up to timeout seconds.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	deadline := q.now().Add(time.Duration(timeout) * time.Second)
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		task, err := q.Dequeue(ctx)
		if err != nil || task != nil {
			return task, err
		}
		if !q.now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ack marks a task as completed
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	return q.exec(ctx, `
		UPDATE tasks SET status = $1, error = '', completed_at = $2, updated_at = $2
		WHERE id = $3
	`, domain.TaskStatusCompleted, q.now(), taskID)
}

// Nack records a failure. The task goes back to pending with a backoff
// while attempts remain and is failed for good otherwise.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	task, err := scanTask(tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock task: %w", err)
	}

	var finished *time.Time
	if task.CanRetry() {
		task.Retry(reason)
		q.logger.Info("task will be retried",
			"task_id", task.ID, "attempts", task.Attempts, "retry_at", task.ScheduledFor, "reason", reason)
	} else {
		task.MarkFailed(reason)
		finished = &task.UpdatedAt
		q.logger.Warn("task failed", "task_id", task.ID, "attempts", task.Attempts, "reason", reason)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = $1, error = $2, scheduled_for = $3, completed_at = $4, updated_at = $5
		WHERE id = $6
	`, task.Status, task.Error, task.ScheduledFor, nullTime(finished), task.UpdatedAt, taskID); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SetMessages stores the handler's message log on the task record
func (q *Queue) SetMessages(ctx context.Context, taskID string, messages []string) error {
	encoded, err := json.Marshal(nonNil(messages))
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	return q.exec(ctx, `UPDATE tasks SET messages = $1, updated_at = $2 WHERE id = $3`, encoded, q.now(), taskID)
}

// GetTask retrieves a task by ID
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := scanTask(q.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks matching filter, newest first.
func (q *Queue) ListTasks(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	var (
		where []string
		args  []any
	)
	bind := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Collection != "" {
		bind("payload->>'collection' = $%d", filter.Collection)
	}
	if filter.Status != "" {
		bind("status = $%d", filter.Status)
	}
	if filter.Type != "" {
		bind("type = $%d", filter.Type)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// CancelTask fails a task that has not been claimed yet.
func (q *Queue) CancelTask(ctx context.Context, taskID string) error {
	err := q.exec(ctx, `
		UPDATE tasks SET status = $1, error = 'cancelled', completed_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4
	`, domain.TaskStatusFailed, q.now(), taskID, domain.TaskStatusPending)
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: task %s is %s", domain.ErrTaskNotPending, taskID, task.Status)
}

// PurgeTasks deletes finished tasks last touched more than olderThanSeconds ago.
func (q *Queue) PurgeTasks(ctx context.Context, olderThanSeconds int) (int, error) {
	cutoff := q.now().Add(-time.Duration(olderThanSeconds) * time.Second)
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status IN ($1, $2) AND updated_at < $3`,
		domain.TaskStatusCompleted, domain.TaskStatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		q.logger.Info("purged tasks", "count", n, "cutoff", cutoff)
	}
	return int(n), nil
}

// Stats counts tasks per status in one pass.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	var (
		stats driven.QueueStats
		age   sql.NullInt64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			EXTRACT(EPOCH FROM NOW() - MIN(created_at) FILTER (WHERE status = 'pending'))::bigint
		FROM tasks
	`).Scan(&stats.PendingCount, &stats.ProcessingCount, &stats.CompletedCount, &stats.FailedCount, &age)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	stats.OldestPendingAge = age.Int64
	return &stats, nil
}

// Ping checks database connectivity
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close does nothing; the connection pool belongs to the caller.
func (q *Queue) Close() error {
	return nil
}

// exec runs a single-row update and maps zero affected rows to ErrNotFound.
func (q *Queue) exec(ctx context.Context, query string, args ...any) error {
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task                   domain.Task
		payload, messages      []byte
		startedAt, completedAt sql.NullTime
	)
	if err := row.Scan(
		&task.ID, &task.Type, &payload, &task.Status, &task.Priority,
		&task.Attempts, &task.MaxAttempts, &task.Error, &messages,
		&task.CreatedAt, &task.UpdatedAt, &startedAt, &completedAt, &task.ScheduledFor,
	); err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &task.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &task.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal messages: %w", err)
		}
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nonNil(messages []string) []string {
	if messages == nil {
		return []string{}
	}
	return messages
}
