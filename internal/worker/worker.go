// Package worker drains the task queue: collection sync steps, single record
// changes and the periodic purge of finished tasks.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-typesense/internal/core/services"
)

const (
	defaultDequeueTimeout = 5
	maxDequeueBackoff     = 30 * time.Second

	outcomeAcked  = "acked"
	outcomeNacked = "nacked"
)

// StepRunner advances a collection sync by one batch.
type StepRunner interface {
	Step(ctx context.Context, task *domain.Task) (*domain.StepResult, error)
}

// ChangeProcessor applies queued single-record changes.
type ChangeProcessor interface {
	ProcessUpsert(ctx context.Context, task *domain.Task) error
	ProcessDelete(ctx context.Context, task *domain.Task) error
}

// TaskObserver records how long each task took and how it was settled.
type TaskObserver interface {
	ObserveTask(taskType domain.TaskType, outcome string, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveTask(domain.TaskType, string, time.Duration) {}

// handler runs one task. A returned error nacks it.
type handler func(ctx context.Context, task *domain.Task, logger *slog.Logger) error

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	TaskQueue driven.TaskQueue
	Steps     StepRunner
	Changes   ChangeProcessor
	Scheduler *services.Scheduler // optional
	Metrics   TaskObserver        // optional
	Logger    *slog.Logger

	// Concurrency is the number of tasks handled at once.
	Concurrency int

	// DequeueTimeout is how many seconds one dequeue waits for work.
	DequeueTimeout int
}

// Worker pulls tasks off the queue and settles each one with Ack or Nack.
type Worker struct {
	queue          driven.TaskQueue
	steps          StepRunner
	changes        ChangeProcessor
	scheduler      *services.Scheduler
	observer       TaskObserver
	logger         *slog.Logger
	concurrency    int
	dequeueTimeout int
	handlers       map[domain.TaskType]handler

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopObserver{}
	}
	w := &Worker{
		queue:          cfg.TaskQueue,
		steps:          cfg.Steps,
		changes:        cfg.Changes,
		scheduler:      cfg.Scheduler,
		observer:       cfg.Metrics,
		logger:         cfg.Logger.With("component", "worker"),
		concurrency:    max(cfg.Concurrency, 1),
		dequeueTimeout: cfg.DequeueTimeout,
	}
	if w.dequeueTimeout <= 0 {
		w.dequeueTimeout = defaultDequeueTimeout
	}
	w.handlers = map[domain.TaskType]handler{
		domain.TaskTypeSyncCollection: w.syncStep,
		domain.TaskTypeUpsertRecord: func(ctx context.Context, task *domain.Task, _ *slog.Logger) error {
			return w.changes.ProcessUpsert(ctx, task)
		},
		domain.TaskTypeDeleteRecord: func(ctx context.Context, task *domain.Task, _ *slog.Logger) error {
			return w.changes.ProcessDelete(ctx, task)
		},
		domain.TaskTypePurgeTasks: w.purge,
	}
	return w
}

// Start launches the scheduler, if any, and the processing goroutines.
// Calling Start on a running worker does nothing.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}

	if w.scheduler != nil {
		if err := w.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	var wg sync.WaitGroup
	for i := range w.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx, w.logger.With("worker_id", i))
		}()
	}
	go func() {
		wg.Wait()
		close(w.done)
	}()

	w.logger.Info("worker started", "concurrency", w.concurrency, "dequeue_timeout", w.dequeueTimeout)
	return nil
}

// Stop cancels the processing goroutines and waits for in-flight tasks.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}

	if w.scheduler != nil {
		w.scheduler.Stop()
	}
	cancel()
	<-done
	w.logger.Info("worker stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

func (w *Worker) loop(ctx context.Context, logger *slog.Logger) {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Second
	retry.MaxInterval = maxDequeueBackoff

	for ctx.Err() == nil {
		task, err := w.queue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			wait := retry.NextBackOff()
			logger.Error("dequeue failed", "error", err, "retry_in", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}
		case task != nil:
			retry.Reset()
			// the task runs to completion even when the worker is stopping
			w.process(context.WithoutCancel(ctx), task, logger)
		default:
			retry.Reset()
		}
	}
}

// process runs the handler for task, stores its messages and settles it.
func (w *Worker) process(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With("task_id", task.ID, "task_type", task.Type, "attempt", task.Attempts)
	if collection := task.CollectionName(); collection != "" {
		logger = logger.With("collection", collection)
	}

	start := time.Now()
	err := w.run(ctx, task, logger)
	elapsed := time.Since(start)

	if len(task.Messages) > 0 {
		if err := w.queue.SetMessages(ctx, task.ID, task.Messages); err != nil {
			logger.Warn("failed to store task messages", "error", err)
		}
	}

	if err != nil {
		w.observer.ObserveTask(task.Type, outcomeNacked, elapsed)
		logger.Error("task failed", "duration", elapsed, "error", err)
		if err := w.queue.Nack(ctx, task.ID, err.Error()); err != nil {
			logger.Error("nack failed", "error", err)
		}
		return
	}

	w.observer.ObserveTask(task.Type, outcomeAcked, elapsed)
	logger.Info("task done", "duration", elapsed)
	if err := w.queue.Ack(ctx, task.ID); err != nil {
		logger.Error("ack failed", "error", err)
	}
}

func (w *Worker) run(ctx context.Context, task *domain.Task, logger *slog.Logger) (err error) {
	h, ok := w.handlers[task.Type]
	if !ok {
		return fmt.Errorf("%w: unknown task type %q", domain.ErrInvalidInput, task.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panicked: %v", r)
		}
	}()
	return h(ctx, task, logger)
}

// syncStep never fails the task: the step outcome lives in the sync state
// and a failed run is rescheduled by the runner, not by queue retries.
func (w *Worker) syncStep(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	result, err := w.steps.Step(ctx, task)
	switch {
	case err != nil:
		logger.Warn("sync step failed", "error", err)
	case result != nil && result.Next != nil:
		logger.Debug("next sync step queued", "next_task_id", result.Next.ID, "run_at", result.Next.ScheduledFor)
	}
	return nil
}

func (w *Worker) purge(ctx context.Context, task *domain.Task, _ *slog.Logger) error {
	olderThan, err := strconv.Atoi(task.Payload[domain.PayloadOlderThan])
	if err != nil || olderThan < 0 {
		return fmt.Errorf("%w: %s must be a non-negative number of seconds", domain.ErrInvalidInput, domain.PayloadOlderThan)
	}
	purged, err := w.queue.PurgeTasks(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("purge tasks: %w", err)
	}
	task.AddMessage(fmt.Sprintf("Purged %d finished tasks", purged))
	return nil
}
