package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SchedulerStore = (*SchedulerStore)(nil)

var scheduledTasksTable = table{
	name:    "scheduled_tasks",
	key:     "id",
	columns: []string{"id", "name", "type", "payload", "interval_ns", "enabled", "next_run", "last_run", "last_error"},
}

// advanceSQL stamps a run and moves next_run one interval past it.
// interval_ns is stored in nanoseconds and postgres intervals stop at
// microseconds.
const advanceSQL = `UPDATE scheduled_tasks
	SET last_run = $1::timestamptz,
		next_run = $1::timestamptz + (interval_ns / 1000) * INTERVAL '1 microsecond',
		last_error = $2
	WHERE id = $3`

// SchedulerStore keeps recurring schedules in the scheduled_tasks table.
type SchedulerStore struct {
	db  *DB
	now func() time.Time
}

func NewSchedulerStore(db *DB) *SchedulerStore {
	return &SchedulerStore{db: db, now: time.Now}
}

func (s *SchedulerStore) GetScheduledTask(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	return scanScheduledTask(s.db.QueryRowContext(ctx, scheduledTasksTable.selectSQL("id = $1"), id))
}

func (s *SchedulerStore) ListScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error) {
	return s.query(ctx, "")
}

func (s *SchedulerStore) GetDueScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error) {
	return s.query(ctx, "enabled = true AND next_run <= $1", s.now())
}

func (s *SchedulerStore) SaveScheduledTask(ctx context.Context, t *domain.ScheduledTask) error {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("encode schedule payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, scheduledTasksTable.upsertSQL(),
		t.ID, t.Name, string(t.Type), payload, int64(t.Interval), t.Enabled, t.NextRun, NullTime(t.LastRun), t.LastError)
	if err != nil {
		return &domain.PersistenceError{Op: "save schedule", Err: err}
	}
	return nil
}

func (s *SchedulerStore) DeleteScheduledTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, id)
	if err != nil {
		return &domain.PersistenceError{Op: "delete schedule", Err: err}
	}
	return requireRow(res)
}

func (s *SchedulerStore) UpdateLastRun(ctx context.Context, id string, lastError string) error {
	res, err := s.db.ExecContext(ctx, advanceSQL, s.now(), lastError, id)
	if err != nil {
		return &domain.PersistenceError{Op: "advance schedule", Err: err}
	}
	return requireRow(res)
}

func (s *SchedulerStore) query(ctx context.Context, where string, args ...any) ([]*domain.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, scheduledTasksTable.selectSQL(where)+" ORDER BY next_run", args...)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list schedules", Err: err}
	}
	return collect(rows, scanScheduledTask)
}

func scanScheduledTask(row rowScanner) (*domain.ScheduledTask, error) {
	t := new(domain.ScheduledTask)
	var (
		payload  []byte
		interval int64
		lastRun  sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Name, &t.Type, &payload, &interval, &t.Enabled, &t.NextRun, &lastRun, &t.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "scan schedule", Err: err}
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t.Payload); err != nil {
			return nil, &domain.PersistenceError{Op: "decode schedule payload", Err: err}
		}
	}
	t.Interval = time.Duration(interval)
	t.LastRun = TimePtr(lastRun)
	return t, nil
}
