package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.SyncService = (*SyncJobRunner)(nil)

const (
	// syncLockTTL bounds how long one step may hold its collection lock
	syncLockTTL = 10 * time.Minute
	// lockedStepDelay postpones a step whose collection is locked by another worker
	lockedStepDelay = 30 * time.Second
)

// SyncJobRunner runs the batched sync state machine. Every step processes one
// batch, then enqueues at most one successor step:
//  1. Resolve the collection (static configuration, then enabled descriptors)
//  2. Make sure the remote collection exists
//  3. Export the batch at the cursor in descending id order
//  4. Advance the cursor, restart after the repeat interval, or finish
//
// Steps are never retried by the queue. A failed batch keeps its cursor in the
// collection's SyncState so Retry resumes where it stopped.
type SyncJobRunner struct {
	collections driving.CollectionService
	engine      *BatchSyncEngine
	queue       driven.TaskQueue
	syncStore   driven.SyncStateStore
	lock        driven.DistributedLock
	metrics     driven.SyncMetrics
	logger      *slog.Logger
	now         func() time.Time
}

// SyncJobRunnerConfig holds dependencies for SyncJobRunner.
type SyncJobRunnerConfig struct {
	Collections driving.CollectionService
	Engine      *BatchSyncEngine
	TaskQueue   driven.TaskQueue
	SyncStore   driven.SyncStateStore
	Lock        driven.DistributedLock // Optional: serialises steps of one collection across workers
	Metrics     driven.SyncMetrics     // Optional
	Logger      *slog.Logger
}

// NewSyncJobRunner creates a SyncJobRunner.
func NewSyncJobRunner(cfg SyncJobRunnerConfig) *SyncJobRunner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = driven.NopSyncMetrics{}
	}
	return &SyncJobRunner{
		collections: cfg.Collections,
		engine:      cfg.Engine,
		queue:       cfg.TaskQueue,
		syncStore:   cfg.SyncStore,
		lock:        cfg.Lock,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Step runs one batch of the run carried by task. The returned error is set only
// when the step failed; the task itself must still be acknowledged.
func (r *SyncJobRunner) Step(ctx context.Context, task *domain.Task) (*domain.StepResult, error) {
	if task.Type != domain.TaskTypeSyncCollection {
		return nil, fmt.Errorf("%w: task %s is not a sync step", domain.ErrInvalidInput, task.ID)
	}
	state := domain.SyncJobStateFromPayload(task.Payload)
	result := &domain.StepResult{State: state, Status: domain.SyncStatusRunning}
	say := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		task.AddMessage(msg)
		result.Messages = append(result.Messages, msg)
	}

	if state.CollectionName == "" {
		err := fmt.Errorf("%w: sync step without a collection", domain.ErrInvalidInput)
		result.Status = domain.SyncStatusFailed
		result.Error = err.Error()
		say("%s", err)
		return result, err
	}
	logger := r.logger.With("collection", state.CollectionName, "cursor", state.BatchCursor, "limit", state.BatchLimit)

	if r.lock != nil {
		name := "sync:" + state.CollectionName
		acquired, err := r.lock.Acquire(ctx, name, syncLockTTL)
		if err != nil {
			logger.Warn("failed to acquire sync lock", "error", err)
		}
		if err == nil && !acquired {
			return r.postpone(ctx, result, say)
		}
		if acquired {
			defer func() {
				if err := r.lock.Release(context.WithoutCancel(ctx), name); err != nil {
					logger.Warn("failed to release sync lock", "error", err)
				}
			}()
		}
	}

	syncState := r.loadState(ctx, state)
	started := r.now()
	syncState.Status = domain.SyncStatusRunning
	syncState.StartedAt = &started
	syncState.Error = ""
	r.saveState(ctx, syncState)

	say("Sync collection=%s cursor=%d limit=%d repeat=%d", state.CollectionName, state.BatchCursor, state.BatchLimit, state.RepeatIntervalHours)

	// Structural failures end the run without a successor
	collection, err := r.collections.Resolve(ctx, state.CollectionName)
	if err != nil {
		say("%s", err)
		return r.fail(ctx, result, syncState, err, state.BatchCursor, false, say)
	}
	if err := r.collections.EnsureRemote(ctx, collection); err != nil {
		say("Failed to create collection '%s': %s", collection.Name, err)
		return r.fail(ctx, result, syncState, err, state.BatchCursor, false, say)
	}

	batch, err := r.engine.RunBatch(ctx, collection, driven.SortDesc, state.BatchLimit, state.BatchCursor)
	result.Batch = batch
	if err != nil {
		say("Batch at cursor %d failed: %s", state.BatchCursor, err)
		return r.fail(ctx, result, syncState, err, state.BatchCursor, true, say)
	}
	say("Batch count=%d success=%d errors=%d skipped=%d", batch.Count, len(batch.Successes), len(batch.Failures), batch.Skipped)

	state.LastBatchCount = batch.Count
	result.State = state
	syncState.LastBatchCount = batch.Count
	syncState.Stats.Add(batch)
	completed := r.now()
	syncState.LastSyncAt = &completed
	syncState.NextSyncAt = nil

	next, delay, ok := state.Next()
	switch {
	case batch.Count > 0:
		result.Status = domain.SyncStatusRescheduled
	default:
		result.Status = domain.SyncStatusCompleted
		syncState.CompletedAt = &completed
	}
	syncState.Status = result.Status

	if ok {
		runAt := time.Time{}
		if delay > 0 {
			runAt = completed.Add(delay)
			syncState.NextSyncAt = &runAt
		}
		nextTask := domain.NewSyncCollectionTask(next, runAt)
		if err := r.queue.Enqueue(ctx, nextTask); err != nil {
			// the run resumes from the successor's cursor
			say("Failed to queue next step: %s", err)
			return r.fail(ctx, result, syncState, fmt.Errorf("enqueue next step: %w", err), next.BatchCursor, false, say)
		}
		result.Next = nextTask
		syncState.Cursor = next.BatchCursor
		if delay > 0 {
			say("Requeued collection=%s at %s", next.CollectionName, runAt.Format(time.RFC3339))
		} else {
			say("Queued next batch at cursor=%d", next.BatchCursor)
		}
	} else {
		syncState.Cursor = state.BatchCursor
		say("Sync of collection=%s complete", state.CollectionName)
	}

	r.saveState(ctx, syncState)
	r.metrics.ObserveStep(state.CollectionName, result.Status)
	logger.Info("sync step finished", "status", result.Status, "count", batch.Count)
	return result, nil
}

// fail records a failed step at cursor. When reschedule is set and the run
// repeats, the same cursor is retried after the repeat interval.
func (r *SyncJobRunner) fail(ctx context.Context, result *domain.StepResult, syncState *domain.SyncState, cause error, cursor int, reschedule bool, say func(string, ...any)) (*domain.StepResult, error) {
	state := result.State
	now := r.now()

	result.Status = domain.SyncStatusFailed
	result.Error = cause.Error()
	syncState.Status = domain.SyncStatusFailed
	syncState.Error = cause.Error()
	syncState.Cursor = cursor
	syncState.LastSyncAt = &now
	syncState.NextSyncAt = nil

	if reschedule && state.RepeatIntervalHours > 0 {
		runAt := now.Add(time.Duration(state.RepeatIntervalHours) * time.Hour)
		retry := state
		retry.BatchCursor = cursor
		retry.LastBatchCount = -1
		nextTask := domain.NewSyncCollectionTask(retry, runAt)
		if err := r.queue.Enqueue(ctx, nextTask); err != nil {
			r.logger.Error("failed to reschedule failed sync step", "collection", state.CollectionName, "error", err)
		} else {
			result.Next = nextTask
			syncState.NextSyncAt = &runAt
			say("Rescheduled cursor=%d at %s", cursor, runAt.Format(time.RFC3339))
		}
	}

	r.saveState(ctx, syncState)
	r.metrics.ObserveStep(state.CollectionName, domain.SyncStatusFailed)
	r.logger.Error("sync step failed",
		"collection", state.CollectionName,
		"cursor", cursor,
		"error", cause,
	)
	return result, cause
}

// postpone re-enqueues the same step while another worker holds the collection.
func (r *SyncJobRunner) postpone(ctx context.Context, result *domain.StepResult, say func(string, ...any)) (*domain.StepResult, error) {
	state := result.State
	nextTask := domain.NewSyncCollectionTask(state, r.now().Add(lockedStepDelay))
	if err := r.queue.Enqueue(ctx, nextTask); err != nil {
		result.Status = domain.SyncStatusFailed
		result.Error = err.Error()
		return result, fmt.Errorf("postpone locked step: %w", err)
	}
	result.Status = domain.SyncStatusRescheduled
	result.Next = nextTask
	say("Collection %s is being synced by another worker, retrying in %s", state.CollectionName, lockedStepDelay)
	return result, nil
}

func (r *SyncJobRunner) loadState(ctx context.Context, state domain.SyncJobState) *domain.SyncState {
	syncState, err := r.syncStore.Get(ctx, state.CollectionName)
	if err != nil || syncState == nil {
		syncState = &domain.SyncState{CollectionName: state.CollectionName}
	}
	if state.BatchCursor == 0 {
		// a new run starts from fresh counters
		syncState.Stats = domain.SyncStats{}
		syncState.CompletedAt = nil
	}
	syncState.Cursor = state.BatchCursor
	syncState.BatchLimit = state.BatchLimit
	syncState.RepeatHours = state.RepeatIntervalHours
	return syncState
}

func (r *SyncJobRunner) saveState(ctx context.Context, syncState *domain.SyncState) {
	if err := r.syncStore.Save(ctx, syncState); err != nil {
		r.logger.Warn("failed to save sync state", "collection", syncState.CollectionName, "error", err)
	}
}

// Enqueue starts a sync run of collection at cursor 0.
func (r *SyncJobRunner) Enqueue(ctx context.Context, collection string, repeatHours, limit int) (*domain.Task, error) {
	if _, err := r.collections.Resolve(ctx, collection); err != nil {
		return nil, err
	}
	state := domain.NewSyncJobState(collection, repeatHours, limit)
	return r.enqueueState(ctx, state)
}

// Retry resumes a failed run from the cursor recorded in its SyncState.
func (r *SyncJobRunner) Retry(ctx context.Context, collection string) (*domain.Task, error) {
	syncState, err := r.syncStore.Get(ctx, collection)
	if err != nil {
		return nil, err
	}
	if syncState.Status != domain.SyncStatusFailed {
		return nil, fmt.Errorf("%w: sync of %s has status %s, only failed syncs can be retried",
			domain.ErrInvalidInput, collection, syncState.Status)
	}
	state := domain.NewSyncJobState(collection, syncState.RepeatHours, syncState.BatchLimit)
	state.BatchCursor = syncState.Cursor
	return r.enqueueState(ctx, state)
}

func (r *SyncJobRunner) enqueueState(ctx context.Context, state domain.SyncJobState) (*domain.Task, error) {
	task := domain.NewSyncCollectionTask(state, time.Time{})
	if err := r.queue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue sync of %s: %w", state.CollectionName, err)
	}

	syncState, err := r.syncStore.Get(ctx, state.CollectionName)
	if errors.Is(err, domain.ErrNotFound) || syncState == nil {
		syncState = &domain.SyncState{CollectionName: state.CollectionName}
	}
	syncState.Status = domain.SyncStatusCreated
	syncState.Cursor = state.BatchCursor
	syncState.BatchLimit = state.BatchLimit
	syncState.RepeatHours = state.RepeatIntervalHours
	syncState.Error = ""
	r.saveState(ctx, syncState)

	r.logger.Info("sync queued",
		"collection", state.CollectionName,
		"task_id", task.ID,
		"cursor", state.BatchCursor,
	)
	return task, nil
}

// GetSyncState retrieves the sync state for a collection.
func (r *SyncJobRunner) GetSyncState(ctx context.Context, collection string) (*domain.SyncState, error) {
	return r.syncStore.Get(ctx, collection)
}

// ListSyncStates retrieves sync states for all collections.
func (r *SyncJobRunner) ListSyncStates(ctx context.Context) ([]*domain.SyncState, error) {
	return r.syncStore.List(ctx)
}
