package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// GenerateID returns a random UUIDv4 string.
func GenerateID() string {
	return uuid.NewString()
}

// TaskType selects the worker handler for a task.
type TaskType string

const (
	// TaskTypeSyncCollection runs one batch step of a collection sync
	TaskTypeSyncCollection TaskType = "sync_collection"
	// TaskTypeUpsertRecord upserts one record into every linked collection
	TaskTypeUpsertRecord TaskType = "upsert_record"
	// TaskTypeDeleteRecord deletes one record from every linked collection
	TaskTypeDeleteRecord TaskType = "delete_record"
	// TaskTypePurgeTasks removes finished tasks from the queue
	TaskTypePurgeTasks TaskType = "purge_tasks"
)

// TaskStatus moves pending -> processing -> completed or failed. A retried
// task goes back to pending.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Payload keys
const (
	PayloadCollection = "collection"
	PayloadRepeat     = "repeat_hours"
	PayloadLimit      = "batch_limit"
	PayloadCursor     = "batch_cursor"
	PayloadLastCount  = "last_batch_count"
	PayloadRecordID   = "record_id"
	PayloadRecordType = "record_type"
	PayloadOlderThan  = "older_than_seconds"
)

// Task is a unit of background work. Sync steps and record changes carry
// their arguments in Payload so every queue backend can persist them as JSON.
type Task struct {
	ID      string            `json:"id"`
	Type    TaskType          `json:"type"`
	Payload map[string]string `json:"payload"`
	Status  TaskStatus        `json:"status"`
	// Priority orders ready tasks, higher first.
	Priority    int    `json:"priority"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	Error       string `json:"error,omitempty"`
	// Messages is the human-readable log of a sync step.
	Messages     []string   `json:"messages,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ScheduledFor time.Time  `json:"scheduled_for"`
}

// DefaultMaxAttempts applies to tasks other than sync steps and record changes.
const DefaultMaxAttempts = 3

// maxRetryDelay caps the retry backoff.
const maxRetryDelay = 5 * time.Minute

// NewTask creates a pending task due now.
func NewTask(taskType TaskType, payload map[string]string) *Task {
	now := time.Now()
	if payload == nil {
		payload = map[string]string{}
	}
	return &Task{
		ID:           GenerateID(),
		Type:         taskType,
		Payload:      payload,
		Status:       TaskStatusPending,
		MaxAttempts:  DefaultMaxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// NewSyncCollectionTask creates a task carrying one sync step.
func NewSyncCollectionTask(state SyncJobState, runAt time.Time) *Task {
	task := NewTask(TaskTypeSyncCollection, state.Payload())
	// a failing step is never retried by the queue
	task.MaxAttempts = 1
	if !runAt.IsZero() {
		task.ScheduledFor = runAt
	}
	return task
}

// NewRecordTask creates an upsert or delete task for a record.
func NewRecordTask(kind ChangeKind, recordType string, recordID int64) *Task {
	taskType := TaskTypeUpsertRecord
	if kind == ChangeKindDelete {
		taskType = TaskTypeDeleteRecord
	}
	task := NewTask(taskType, map[string]string{
		PayloadRecordType: recordType,
		PayloadRecordID:   strconv.FormatInt(recordID, 10),
	})
	task.MaxAttempts = 1
	return task
}

// NewPurgeTask creates a task removing finished tasks older than olderThan.
func NewPurgeTask(olderThan time.Duration) *Task {
	return NewTask(TaskTypePurgeTasks, map[string]string{
		PayloadOlderThan: strconv.Itoa(int(olderThan.Seconds())),
	})
}

// CollectionName extracts the collection from the payload.
func (t *Task) CollectionName() string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload[PayloadCollection]
}

// RecordRef extracts the record type and id from the payload.
func (t *Task) RecordRef() (string, int64, error) {
	if t.Payload == nil {
		return "", 0, ErrInvalidInput
	}
	recordType := t.Payload[PayloadRecordType]
	id, err := strconv.ParseInt(t.Payload[PayloadRecordID], 10, 64)
	if err != nil || recordType == "" || id <= 0 {
		return "", 0, ErrInvalidInput
	}
	return recordType, id, nil
}

// AddMessage appends a line to the task message log.
func (t *Task) AddMessage(msg string) {
	t.Messages = append(t.Messages, msg)
}

func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// IsReady reports whether a pending task is due.
func (t *Task) IsReady() bool {
	return t.Status == TaskStatusPending && !time.Now().Before(t.ScheduledFor)
}

func (t *Task) MarkProcessing() {
	now := time.Now()
	t.Status = TaskStatusProcessing
	t.StartedAt = &now
	t.UpdatedAt = now
	t.Attempts++
}

func (t *Task) MarkCompleted() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Error = ""
}

func (t *Task) MarkFailed(reason string) {
	t.Status = TaskStatusFailed
	t.UpdatedAt = time.Now()
	t.Error = reason
}

// Retry returns the task to pending, due after RetryDelay(t.Attempts).
func (t *Task) Retry(reason string) {
	now := time.Now()
	t.Status = TaskStatusPending
	t.UpdatedAt = now
	t.Error = reason
	t.ScheduledFor = now.Add(RetryDelay(t.Attempts))
}

// RetryDelay doubles from one second per attempt, capped at five minutes.
func RetryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 9 {
		return maxRetryDelay
	}
	return min(time.Duration(1<<attempts)*time.Second, maxRetryDelay)
}

// ScheduledTask enqueues a fresh Task of Type every Interval. Schedules
// are persisted by the SchedulerStore and survive restarts.
type ScheduledTask struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Type TaskType `json:"type"`
	// Payload is copied into every task created from this schedule
	Payload  map[string]string `json:"payload,omitempty"`
	Interval time.Duration     `json:"interval"`
	Enabled  bool              `json:"enabled"`

	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   time.Time  `json:"next_run"`
	LastError string     `json:"last_error,omitempty"`
}

// NewScheduledTask creates an enabled schedule whose first run is one
// interval away.
func NewScheduledTask(id, name string, taskType TaskType, payload map[string]string, interval time.Duration) *ScheduledTask {
	return &ScheduledTask{
		ID:       id,
		Name:     name,
		Type:     taskType,
		Payload:  payload,
		Interval: interval,
		Enabled:  true,
		NextRun:  time.Now().Add(interval),
	}
}

// DueAt reports whether an enabled schedule should fire at now.
func (s *ScheduledTask) DueAt(now time.Time) bool {
	return s.Enabled && !now.Before(s.NextRun)
}

// Advance records a run at now and schedules the next one.
func (s *ScheduledTask) Advance(now time.Time) {
	s.LastRun = &now
	s.NextRun = now.Add(s.Interval)
}

// CollectionSyncSchedule creates a recurring full sync of one collection.
func CollectionSyncSchedule(collection string, interval time.Duration, batchLimit int) *ScheduledTask {
	state := NewSyncJobState(collection, 0, batchLimit)
	return NewScheduledTask(
		"sync-"+collection,
		"Sync collection "+collection,
		TaskTypeSyncCollection,
		state.Payload(),
		interval,
	)
}

// PurgeScheduleID identifies the daily purge of finished tasks.
const PurgeScheduleID = "task-purge"

// PurgeSchedule removes finished tasks older than olderThan once a day.
func PurgeSchedule(olderThan time.Duration) *ScheduledTask {
	return NewScheduledTask(
		PurgeScheduleID,
		"Purge finished tasks",
		TaskTypePurgeTasks,
		map[string]string{PayloadOlderThan: strconv.Itoa(int(olderThan.Seconds()))},
		24*time.Hour,
	)
}
