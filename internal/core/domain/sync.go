package domain

import (
	"strconv"
	"time"
)

// DefaultBatchLimit is the number of records processed per sync step.
const DefaultBatchLimit = 100

// SyncStatus represents the outcome of the most recent sync step
type SyncStatus string

const (
	SyncStatusCreated     SyncStatus = "created"
	SyncStatusRunning     SyncStatus = "running"
	SyncStatusRescheduled SyncStatus = "rescheduled"
	SyncStatusCompleted   SyncStatus = "completed"
	SyncStatusFailed      SyncStatus = "failed"
)

// SyncJobState is the resumable state of one scheduled synchronization run.
// It travels between steps as a task payload.
type SyncJobState struct {
	CollectionName      string `json:"collection_name"`
	RepeatIntervalHours int    `json:"repeat_interval_hours"`
	BatchLimit          int    `json:"batch_limit"`
	BatchCursor         int    `json:"batch_cursor"`
	LastBatchCount      int    `json:"last_batch_count"` // -1 until the first step runs
}

// NewSyncJobState creates the initial state of a sync run.
func NewSyncJobState(collection string, repeatHours, batchLimit int) SyncJobState {
	if repeatHours < 0 {
		repeatHours = -repeatHours
	}
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	return SyncJobState{
		CollectionName:      collection,
		RepeatIntervalHours: repeatHours,
		BatchLimit:          batchLimit,
		BatchCursor:         0,
		LastBatchCount:      -1,
	}
}

// Payload encodes the state as a task payload.
func (s SyncJobState) Payload() map[string]string {
	return map[string]string{
		PayloadCollection: s.CollectionName,
		PayloadRepeat:     strconv.Itoa(s.RepeatIntervalHours),
		PayloadLimit:      strconv.Itoa(s.BatchLimit),
		PayloadCursor:     strconv.Itoa(s.BatchCursor),
		PayloadLastCount:  strconv.Itoa(s.LastBatchCount),
	}
}

// SyncJobStateFromPayload decodes a task payload. Missing numbers take their defaults.
func SyncJobStateFromPayload(payload map[string]string) SyncJobState {
	atoi := func(key string, def int) int {
		v, err := strconv.Atoi(payload[key])
		if err != nil {
			return def
		}
		return v
	}
	state := NewSyncJobState(payload[PayloadCollection], atoi(PayloadRepeat, 0), atoi(PayloadLimit, DefaultBatchLimit))
	state.BatchCursor = atoi(PayloadCursor, 0)
	if state.BatchCursor < 0 {
		state.BatchCursor = 0
	}
	state.LastBatchCount = atoi(PayloadLastCount, -1)
	return state
}

// Next decides the successor of a step that processed LastBatchCount records.
// ok is false when the run is finished. delay is how long to wait before the next step.
func (s SyncJobState) Next() (next SyncJobState, delay time.Duration, ok bool) {
	switch {
	case s.LastBatchCount > 0:
		next = s
		next.BatchCursor = s.BatchCursor + s.BatchLimit
		next.LastBatchCount = -1
		return next, 0, true
	case s.LastBatchCount == 0 && s.RepeatIntervalHours > 0:
		next = NewSyncJobState(s.CollectionName, s.RepeatIntervalHours, s.BatchLimit)
		return next, time.Duration(s.RepeatIntervalHours) * time.Hour, true
	default:
		return SyncJobState{}, 0, false
	}
}

// SyncState tracks the most recent sync step for a collection
type SyncState struct {
	CollectionName string     `json:"collection_name"`
	Status         SyncStatus `json:"status"`
	Cursor         int        `json:"cursor"`
	BatchLimit     int        `json:"batch_limit"`
	RepeatHours    int        `json:"repeat_hours"`
	LastBatchCount int        `json:"last_batch_count"`
	Stats          SyncStats  `json:"stats"`
	Error          string     `json:"error,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	NextSyncAt     *time.Time `json:"next_sync_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// ActiveWithin reports whether a run is mid-way and has made progress within
// window before now. A run whose worker died stops counting once window passes.
func (s *SyncState) ActiveWithin(window time.Duration, now time.Time) bool {
	if s == nil || (s.Status != SyncStatusRunning && s.Status != SyncStatusRescheduled) {
		return false
	}
	var last time.Time
	for _, t := range []*time.Time{s.StartedAt, s.LastSyncAt} {
		if t != nil && t.After(last) {
			last = *t
		}
	}
	return !last.IsZero() && now.Sub(last) < window
}

// SyncStats holds document counts accumulated over a sync run
type SyncStats struct {
	RecordsProcessed int `json:"records_processed"`
	DocumentsIndexed int `json:"documents_indexed"`
	DocumentsFailed  int `json:"documents_failed"`
	DocumentsSkipped int `json:"documents_skipped"`
	Batches          int `json:"batches"`
}

// Add accumulates a batch result.
func (s *SyncStats) Add(r BatchResult) {
	s.RecordsProcessed += r.Count
	s.DocumentsIndexed += len(r.Successes)
	s.DocumentsFailed += len(r.Failures)
	s.DocumentsSkipped += r.Skipped
	if r.Count > 0 {
		s.Batches++
	}
}

// ImportItemResult is the remote outcome for one imported document
type ImportItemResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BatchResult is the outcome of one bounded batch export.
type BatchResult struct {
	// Count is the number of records in the slice, which drives cursor advancement.
	Count     int                `json:"count"`
	Skipped   int                `json:"skipped"`
	Bytes     int                `json:"bytes"`
	Successes []ImportItemResult `json:"successes,omitempty"`
	Failures  []ImportItemResult `json:"failures,omitempty"`
}

// StepResult is the outcome of one sync state machine step.
type StepResult struct {
	State    SyncJobState `json:"state"`
	Status   SyncStatus   `json:"status"`
	Batch    BatchResult  `json:"batch"`
	Next     *Task        `json:"next,omitempty"`
	Error    string       `json:"error,omitempty"`
	Messages []string     `json:"messages,omitempty"`
}

// ImportReport summarises a full synchronous import.
type ImportReport struct {
	Collection string             `json:"collection"`
	Total      int                `json:"total"`
	Batches    int                `json:"batches"`
	Bytes      int                `json:"bytes"`
	Successes  []ImportItemResult `json:"successes"`
	Failures   []ImportItemResult `json:"failures"`
	Skipped    int                `json:"skipped"`
	Duration   time.Duration      `json:"duration"`
}
