package services

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

const schedulerLockName = "scheduler"

// Scheduler turns due schedules into queue tasks: recurring collection syncs
// and task purges. Every worker runs one, and the scheduler lock lets a
// single instance act per tick.
type Scheduler struct {
	store      driven.SchedulerStore
	taskQueue  driven.TaskQueue
	lock       driven.DistributedLock
	syncStates driven.SyncStateStore
	logger     *slog.Logger
	interval   time.Duration
	lockTTL    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Store     driven.SchedulerStore
	TaskQueue driven.TaskQueue
	// Lock is required when more than one worker runs.
	Lock driven.DistributedLock
	// SyncStates, when set, lets a tick skip collections whose run is still in progress.
	SyncStates   driven.SyncStateStore
	Logger       *slog.Logger
	PollInterval time.Duration // default 30s
	LockTTL      time.Duration // default twice PollInterval
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.PollInterval
	}
	return &Scheduler{
		store:      cfg.Store,
		taskQueue:  cfg.TaskQueue,
		lock:       cfg.Lock,
		syncStates: cfg.SyncStates,
		logger:     cfg.Logger,
		interval:   cfg.PollInterval,
		lockTTL:    cfg.LockTTL,
	}
}

// Start runs a tick immediately and then every poll interval until Stop or
// ctx is done. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.logger.Info("scheduler starting", "poll_interval", s.interval)
	go s.loop(ctx, s.done)
	return nil
}

// Stop cancels the loop and waits for the current tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick enqueues every due schedule and reports how many tasks it enqueued and
// how many schedules it skipped. Nothing happens while another instance holds
// the scheduler lock.
func (s *Scheduler) tick(ctx context.Context) (enqueued, skipped int) {
	if s.lock != nil {
		ok, err := s.lock.Acquire(ctx, schedulerLockName, s.lockTTL)
		if err != nil {
			s.logger.Warn("scheduler lock unavailable", "error", err)
			return 0, 0
		}
		if !ok {
			s.logger.Debug("scheduler lock held elsewhere")
			return 0, 0
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx), schedulerLockName); err != nil {
				s.logger.Warn("failed to release scheduler lock", "error", err)
			}
		}()
	}

	due, err := s.store.GetDueScheduledTasks(ctx)
	if err != nil {
		s.logger.Error("failed to load due schedules", "error", err)
		return 0, 0
	}

	for _, scheduled := range due {
		if !scheduled.DueAt(time.Now()) {
			continue
		}
		log := s.logger.With("scheduled_id", scheduled.ID)

		if collection, busy := s.collectionBusy(ctx, scheduled); busy {
			log.Info("sync still running, skipping scheduled run", "collection", collection)
			s.markRun(ctx, log, scheduled.ID, "")
			skipped++
			continue
		}

		task := taskFor(scheduled)
		if err := s.taskQueue.Enqueue(ctx, task); err != nil {
			log.Error("failed to enqueue scheduled task", "error", err)
			s.markRun(ctx, log, scheduled.ID, err.Error())
			continue
		}
		log.Info("enqueued scheduled task", "task_id", task.ID, "task_type", task.Type, "collection", task.CollectionName())
		s.markRun(ctx, log, scheduled.ID, "")
		enqueued++
	}
	return enqueued, skipped
}

// collectionBusy reports whether a sync schedule targets a collection whose
// current run has not finished. Starting another run would interleave two cursors.
// A run idle for a whole interval is treated as abandoned.
func (s *Scheduler) collectionBusy(ctx context.Context, scheduled *domain.ScheduledTask) (string, bool) {
	if s.syncStates == nil || scheduled.Type != domain.TaskTypeSyncCollection {
		return "", false
	}
	collection := scheduled.Payload[domain.PayloadCollection]
	state, err := s.syncStates.Get(ctx, collection)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("failed to read sync state", "collection", collection, "error", err)
		}
		return collection, false
	}
	return collection, state.ActiveWithin(scheduled.Interval, time.Now())
}

func (s *Scheduler) markRun(ctx context.Context, log *slog.Logger, id, lastError string) {
	if err := s.store.UpdateLastRun(ctx, id, lastError); err != nil {
		log.Warn("failed to record scheduled run", "error", err)
	}
}

// taskFor builds the queue task for a schedule. A sync schedule always starts
// a fresh run at cursor 0.
func taskFor(scheduled *domain.ScheduledTask) *domain.Task {
	if scheduled.Type == domain.TaskTypeSyncCollection {
		state := domain.SyncJobStateFromPayload(scheduled.Payload)
		state.BatchCursor = 0
		state.LastBatchCount = -1
		return domain.NewSyncCollectionTask(state, time.Time{})
	}
	return domain.NewTask(scheduled.Type, maps.Clone(scheduled.Payload))
}

// EnsureSchedules saves each schedule that does not exist yet. Stored
// schedules keep their interval and enabled flag.
func (s *Scheduler) EnsureSchedules(ctx context.Context, schedules []*domain.ScheduledTask) error {
	for _, scheduled := range schedules {
		_, err := s.store.GetScheduledTask(ctx, scheduled.ID)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		if err := s.store.SaveScheduledTask(ctx, scheduled); err != nil {
			return err
		}
		s.logger.Info("schedule registered", "scheduled_id", scheduled.ID, "interval", scheduled.Interval)
	}
	return nil
}

// ScheduleCollection registers or updates the recurring sync of a collection.
// An existing schedule keeps its next run and enabled flag.
func (s *Scheduler) ScheduleCollection(ctx context.Context, collection string, interval time.Duration, batchLimit int) (*domain.ScheduledTask, error) {
	if collection == "" || interval <= 0 {
		return nil, domain.ErrInvalidInput
	}
	scheduled := domain.CollectionSyncSchedule(collection, interval, batchLimit)
	if existing, err := s.store.GetScheduledTask(ctx, scheduled.ID); err == nil {
		existing.Interval = interval
		existing.Payload = scheduled.Payload
		scheduled = existing
	}
	if err := s.store.SaveScheduledTask(ctx, scheduled); err != nil {
		return nil, err
	}
	return scheduled, nil
}

// UnscheduleCollection removes the recurring sync of a collection, if any.
func (s *Scheduler) UnscheduleCollection(ctx context.Context, collection string) error {
	err := s.store.DeleteScheduledTask(ctx, domain.CollectionSyncSchedule(collection, time.Hour, 0).ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Scheduler) GetScheduledTask(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	return s.store.GetScheduledTask(ctx, id)
}

func (s *Scheduler) ListScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error) {
	return s.store.ListScheduledTasks(ctx)
}

func (s *Scheduler) SetScheduledTaskEnabled(ctx context.Context, id string, enabled bool) error {
	scheduled, err := s.store.GetScheduledTask(ctx, id)
	if err != nil {
		return err
	}
	scheduled.Enabled = enabled
	return s.store.SaveScheduledTask(ctx, scheduled)
}

// TriggerNow enqueues a schedule's task immediately without moving its next run.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) (*domain.Task, error) {
	scheduled, err := s.store.GetScheduledTask(ctx, id)
	if err != nil {
		return nil, err
	}
	task := taskFor(scheduled)
	if err := s.taskQueue.Enqueue(ctx, task); err != nil {
		return nil, err
	}
	s.logger.Info("scheduled task triggered manually", "scheduled_id", scheduled.ID, "task_id", task.ID)
	return task, nil
}
