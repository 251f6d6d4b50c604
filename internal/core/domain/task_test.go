package domain

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateID()
	id2 := GenerateID()

	if id1 == "" || id2 == "" {
		t.Error("expected non-empty ID")
	}
	if id1 == id2 {
		t.Error("expected unique IDs")
	}
	if len(id1) != 36 {
		t.Errorf("expected UUID length 36, got %d", len(id1))
	}
}

func TestNewTask(t *testing.T) {
	payload := map[string]string{"key": "value"}

	task := NewTask(TaskTypeSyncCollection, payload)

	if task.ID == "" {
		t.Error("expected non-empty ID")
	}
	if task.Type != TaskTypeSyncCollection {
		t.Errorf("expected type %s, got %s", TaskTypeSyncCollection, task.Type)
	}
	if task.Payload["key"] != "value" {
		t.Error("expected payload to be set")
	}
	if task.Status != TaskStatusPending {
		t.Errorf("expected status %s, got %s", TaskStatusPending, task.Status)
	}
	if task.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("expected max attempts %d, got %d", DefaultMaxAttempts, task.MaxAttempts)
	}
	if task.ScheduledFor.IsZero() {
		t.Error("expected ScheduledFor to be set")
	}
}

func TestNewTask_NilPayload(t *testing.T) {
	task := NewTask(TaskTypePurgeTasks, nil)
	if task.Payload == nil {
		t.Error("expected empty payload map")
	}
}

func TestNewSyncCollectionTask(t *testing.T) {
	state := NewSyncJobState("docs", 24, 50)
	runAt := time.Now().Add(24 * time.Hour)

	task := NewSyncCollectionTask(state, runAt)

	if task.Type != TaskTypeSyncCollection {
		t.Errorf("expected type %s, got %s", TaskTypeSyncCollection, task.Type)
	}
	if task.CollectionName() != "docs" {
		t.Errorf("expected collection docs, got %s", task.CollectionName())
	}
	if !task.ScheduledFor.Equal(runAt) {
		t.Errorf("expected ScheduledFor %v, got %v", runAt, task.ScheduledFor)
	}
	if task.MaxAttempts != 1 {
		t.Errorf("expected sync steps not to be retried, got max attempts %d", task.MaxAttempts)
	}
	if got := SyncJobStateFromPayload(task.Payload); got != state {
		t.Errorf("expected payload to carry %+v, got %+v", state, got)
	}
}

func TestNewSyncCollectionTask_Immediate(t *testing.T) {
	before := time.Now()
	task := NewSyncCollectionTask(NewSyncJobState("docs", 0, 100), time.Time{})
	if task.ScheduledFor.Before(before) {
		t.Error("expected immediate task to be scheduled now")
	}
}

func TestNewRecordTask(t *testing.T) {
	upsert := NewRecordTask(ChangeKindUpsert, "Page", 42)
	if upsert.Type != TaskTypeUpsertRecord {
		t.Errorf("expected upsert task, got %s", upsert.Type)
	}
	recordType, id, err := upsert.RecordRef()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recordType != "Page" || id != 42 {
		t.Errorf("expected Page/42, got %s/%d", recordType, id)
	}

	del := NewRecordTask(ChangeKindDelete, "Page", 42)
	if del.Type != TaskTypeDeleteRecord {
		t.Errorf("expected delete task, got %s", del.Type)
	}
}

func TestTask_RecordRef_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]string
	}{
		{"nil payload", nil},
		{"missing type", map[string]string{PayloadRecordID: "1"}},
		{"bad id", map[string]string{PayloadRecordType: "Page", PayloadRecordID: "abc"}},
		{"zero id", map[string]string{PayloadRecordType: "Page", PayloadRecordID: "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{Payload: tt.payload}
			if _, _, err := task.RecordRef(); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestTask_AddMessage(t *testing.T) {
	task := NewTask(TaskTypeSyncCollection, nil)
	task.AddMessage("first")
	task.AddMessage("second")
	if len(task.Messages) != 2 || task.Messages[1] != "second" {
		t.Errorf("unexpected messages: %v", task.Messages)
	}
}

func TestTask_RecordChangeLifecycle(t *testing.T) {
	task := NewRecordTask(ChangeKindUpsert, "Page", 7)
	if !task.IsReady() {
		t.Fatal("expected a new record task to be ready")
	}

	task.MarkProcessing()
	if task.Status != TaskStatusProcessing || task.Attempts != 1 || task.StartedAt == nil {
		t.Fatalf("unexpected processing state: %+v", task)
	}
	if task.IsReady() {
		t.Error("expected a processing task not to be ready")
	}
	if task.CanRetry() {
		t.Error("expected record tasks to get a single attempt")
	}

	task.MarkFailed("typesense unavailable")
	if task.Status != TaskStatusFailed || task.Error != "typesense unavailable" {
		t.Errorf("unexpected failed state: %+v", task)
	}
}

func TestTask_PurgeRetriesThenCompletes(t *testing.T) {
	task := NewPurgeTask(7 * 24 * time.Hour)
	if task.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultMaxAttempts, task.MaxAttempts)
	}

	task.MarkProcessing()
	if !task.CanRetry() {
		t.Fatal("expected purge to be retryable after one attempt")
	}
	before := time.Now()
	task.Retry("database locked")
	if task.Status != TaskStatusPending || task.Error != "database locked" {
		t.Errorf("unexpected retry state: %+v", task)
	}
	if task.ScheduledFor.Before(before.Add(2*time.Second - 50*time.Millisecond)) {
		t.Errorf("expected retry after about 2s, got %v", task.ScheduledFor.Sub(before))
	}
	if task.IsReady() {
		t.Error("expected a backed off task not to be ready yet")
	}

	task.MarkProcessing()
	task.MarkCompleted()
	if task.Status != TaskStatusCompleted || task.Error != "" || task.CompletedAt == nil {
		t.Errorf("unexpected completed state: %+v", task)
	}
	if task.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", task.Attempts)
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, 5 * time.Minute},
		{63, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.attempts); got != tt.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestScheduledTask_Due(t *testing.T) {
	s := CollectionSyncSchedule("docs", time.Hour, 100)
	if s.DueAt(time.Now()) {
		t.Error("expected a new schedule to wait one interval")
	}

	s.NextRun = time.Now().Add(-time.Second)
	if !s.DueAt(time.Now()) {
		t.Error("expected an overdue schedule to be due")
	}
	s.Enabled = false
	if s.DueAt(time.Now()) {
		t.Error("expected a disabled schedule never to be due")
	}

	s.Enabled = true
	s.Advance(time.Now())
	if s.LastRun == nil || s.NextRun.Sub(*s.LastRun) != time.Hour {
		t.Errorf("expected next run one hour after last run, got %v / %v", s.LastRun, s.NextRun)
	}
}

func TestCollectionSyncSchedule(t *testing.T) {
	scheduled := CollectionSyncSchedule("docs", 6*time.Hour, 25)

	if scheduled.ID != "sync-docs" || scheduled.Type != TaskTypeSyncCollection || !scheduled.Enabled {
		t.Errorf("unexpected schedule: %+v", scheduled)
	}
	state := SyncJobStateFromPayload(scheduled.Payload)
	if state.CollectionName != "docs" || state.BatchLimit != 25 || state.BatchCursor != 0 || state.RepeatIntervalHours != 0 {
		t.Errorf("unexpected state in schedule payload: %+v", state)
	}
}

func TestPurgeSchedule(t *testing.T) {
	s := PurgeSchedule(48 * time.Hour)

	if s.ID != PurgeScheduleID || s.Type != TaskTypePurgeTasks || s.Interval != 24*time.Hour {
		t.Errorf("unexpected schedule: %+v", s)
	}
	if s.Payload[PayloadOlderThan] != "172800" {
		t.Errorf("expected 172800 seconds, got %q", s.Payload[PayloadOlderThan])
	}
}
