package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

const (
	// DefaultKeyPrefix namespaces every key the queue writes.
	DefaultKeyPrefix = "sercha-typesense:"

	// DefaultClaimAfter is how long a delivered task may stay unacked
	// before another consumer takes it over.
	DefaultClaimAfter = 5 * time.Minute

	// DefaultRetention is how long a task record outlives its due time.
	DefaultRetention = 7 * 24 * time.Hour

	// promoteBatch caps how many delayed tasks one dequeue moves to the stream.
	promoteBatch = 100

	// pageSize is the number of records fetched per MGET while scanning.
	pageSize = 100
)

// promoteScript moves due members of the delayed set onto the stream.
// Running it as a script keeps two consumers from promoting the same task.
var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", "0", ARGV[2])
for _, id in ipairs(due) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("XADD", KEYS[2], "*", "task_id", id)
end
return #due
`)

// Verify interface compliance
var _ driven.TaskQueue = (*Queue)(nil)

// QueueConfig configures the Redis task queue.
type QueueConfig struct {
	// Consumer names this worker in the consumer group. Must be unique per
	// process; a random name is used when empty.
	Consumer string

	KeyPrefix  string
	ClaimAfter time.Duration
	Retention  time.Duration
	Logger     *slog.Logger
}

// Queue is a TaskQueue on Redis Streams. Task records are JSON strings,
// the stream only carries task IDs, delayed tasks wait in a sorted set
// scored by due time and a second sorted set indexes tasks by creation.
type Queue struct {
	client     *redis.Client
	consumer   string
	claimAfter time.Duration
	retention  time.Duration
	logger     *slog.Logger

	stream   string
	group    string
	delayed  string
	index    string
	taskKey  string
	delivery string
}

// NewQueue creates the consumer group if needed and returns the queue.
func NewQueue(ctx context.Context, client *redis.Client, cfg QueueConfig) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-" + uuid.NewString()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.ClaimAfter <= 0 {
		cfg.ClaimAfter = DefaultClaimAfter
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := cfg.KeyPrefix
	q := &Queue{
		client:     client,
		consumer:   cfg.Consumer,
		claimAfter: cfg.ClaimAfter,
		retention:  cfg.Retention,
		logger:     cfg.Logger.With("component", "redis_queue", "consumer", cfg.Consumer),
		stream:     p + "tasks",
		group:      p + "workers",
		delayed:    p + "delayed",
		index:      p + "task-index",
		taskKey:    p + "task:",
		delivery:   p + "delivery:",
	}

	err := client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return q, nil
}

func (q *Queue) ttl(task *domain.Task) time.Duration {
	return max(time.Until(task.ScheduledFor), 0) + q.retention
}

// write stores the record and keeps it in the creation index.
func (q *Queue) write(ctx context.Context, pipe redis.Pipeliner, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	pipe.Set(ctx, q.taskKey+task.ID, data, q.ttl(task))
	pipe.ZAdd(ctx, q.index, redis.Z{Score: float64(task.CreatedAt.UnixMilli()), Member: task.ID})
	return nil
}

// schedule makes task deliverable now or parks it until ScheduledFor.
func (q *Queue) schedule(ctx context.Context, pipe redis.Pipeliner, task *domain.Task) {
	if task.ScheduledFor.After(time.Now()) {
		pipe.ZAdd(ctx, q.delayed, redis.Z{Score: float64(task.ScheduledFor.UnixMilli()), Member: task.ID})
		return
	}
	pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: map[string]any{"task_id": task.ID}})
}

// Enqueue adds a task to the queue for processing.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return fmt.Errorf("%w: task is required", domain.ErrInvalidInput)
	}
	return q.EnqueueBatch(ctx, []*domain.Task{task})
}

// EnqueueBatch writes every task in one MULTI/EXEC.
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, task := range tasks {
			if err := q.write(ctx, pipe, task); err != nil {
				return err
			}
			q.schedule(ctx, pipe, task)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Dequeue blocks until a task is delivered or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Task, error) {
	return q.DequeueWithTimeout(ctx, 0)
}

// DequeueWithTimeout waits up to timeout seconds for a task. Zero waits
// until ctx ends. Due delayed tasks and tasks abandoned by another
// consumer are handed out before new stream entries.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	if err := q.promote(ctx); err != nil {
		q.logger.Warn("failed to promote delayed tasks", "error", err)
	}
	task, err := q.reclaim(ctx)
	if err != nil {
		q.logger.Warn("failed to reclaim abandoned tasks", "error", err)
	}
	if task != nil {
		return task, nil
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    time.Duration(timeout) * time.Second,
	}).Result()
	switch {
	case errors.Is(err, redis.Nil), ctx.Err() != nil:
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read stream: %w", err)
	case len(streams) == 0 || len(streams[0].Messages) == 0:
		return nil, nil
	}
	return q.deliver(ctx, streams[0].Messages[0])
}

func (q *Queue) promote(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	moved, err := promoteScript.Run(ctx, q.client, []string{q.delayed, q.stream}, now, promoteBatch).Int()
	if err != nil {
		return err
	}
	if moved > 0 {
		q.logger.Debug("promoted delayed tasks", "count", moved)
	}
	return nil
}

// reclaim takes over one entry that another consumer read but never acked.
func (q *Queue) reclaim(ctx context.Context) (*domain.Task, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.claimAfter,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	q.logger.Info("reclaimed abandoned task", "message_id", msgs[0].ID)
	return q.deliver(ctx, msgs[0])
}

// deliver marks the task behind msg as processing. Entries whose record
// expired or whose task was settled meanwhile are dropped from the stream.
func (q *Queue) deliver(ctx context.Context, msg redis.XMessage) (*domain.Task, error) {
	id, _ := msg.Values["task_id"].(string)
	task, err := q.GetTask(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if task == nil || task.Status == domain.TaskStatusCompleted || task.Status == domain.TaskStatusFailed {
		q.logger.Debug("dropping stale stream entry", "message_id", msg.ID, "task_id", id)
		_, _ = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.XAck(ctx, q.stream, q.group, msg.ID)
			pipe.XDel(ctx, q.stream, msg.ID)
			return nil
		})
		return nil, nil
	}

	task.MarkProcessing()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := q.write(ctx, pipe, task); err != nil {
			return err
		}
		pipe.Set(ctx, q.delivery+task.ID, msg.ID, q.ttl(task))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark task processing: %w", err)
	}
	return task, nil
}

// settle stores the task's new state and retires its stream entry.
func (q *Queue) settle(ctx context.Context, task *domain.Task, requeue bool) error {
	msgID, err := q.client.Get(ctx, q.delivery+task.ID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get delivery: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if msgID != "" {
			pipe.XAck(ctx, q.stream, q.group, msgID)
			pipe.XDel(ctx, q.stream, msgID)
		}
		pipe.Del(ctx, q.delivery+task.ID)
		if err := q.write(ctx, pipe, task); err != nil {
			return err
		}
		if requeue {
			q.schedule(ctx, pipe, task)
		}
		return nil
	})
	return err
}

// Ack acknowledges successful completion of a task.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.MarkCompleted()
	if err := q.settle(ctx, task, false); err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	return nil
}

// Nack records a failure and parks the task for a retry while attempts remain.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	retry := task.CanRetry()
	if retry {
		task.Retry(reason)
	} else {
		task.MarkFailed(reason)
	}
	if err := q.settle(ctx, task, retry); err != nil {
		return fmt.Errorf("nack task: %w", err)
	}
	return nil
}

// SetMessages stores the handler's message log on the task record.
func (q *Queue) SetMessages(ctx context.Context, taskID string, messages []string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.Messages = append([]string(nil), messages...)
	task.UpdatedAt = time.Now()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return q.write(ctx, pipe, task)
	})
	return err
}

// GetTask retrieves a task by ID.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	data, err := q.client.Get(ctx, q.taskKey+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return decode(data)
}

func decode(data []byte) (*domain.Task, error) {
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

// each visits stored tasks newest first until visit returns false. Index
// entries whose record has expired are removed on the way.
func (q *Queue) each(ctx context.Context, visit func(*domain.Task) bool) error {
	for start := int64(0); ; start += pageSize {
		ids, err := q.client.ZRevRange(ctx, q.index, start, start+pageSize-1).Result()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = q.taskKey + id
		}
		values, err := q.client.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}

		var expired []any
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				expired = append(expired, ids[i])
				continue
			}
			task, err := decode([]byte(raw))
			if err != nil {
				q.logger.Warn("skipping undecodable task", "task_id", ids[i], "error", err)
				continue
			}
			if !visit(task) {
				return nil
			}
		}
		if len(expired) > 0 {
			if err := q.client.ZRem(ctx, q.index, expired...).Err(); err != nil {
				return err
			}
			start -= int64(len(expired))
		}
		if len(ids) < pageSize {
			return nil
		}
	}
}

// ListTasks returns tasks matching filter, newest first.
func (q *Queue) ListTasks(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	var (
		tasks   []*domain.Task
		skipped int
	)
	err := q.each(ctx, func(task *domain.Task) bool {
		switch {
		case filter.Collection != "" && task.CollectionName() != filter.Collection,
			filter.Status != "" && task.Status != filter.Status,
			filter.Type != "" && task.Type != filter.Type:
			return true
		case skipped < filter.Offset:
			skipped++
			return true
		}
		tasks = append(tasks, task)
		return filter.Limit <= 0 || len(tasks) < filter.Limit
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// CancelTask fails a pending task and removes it from the delayed set.
// A cancelled task still in the stream is dropped when delivered.
func (q *Queue) CancelTask(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskStatusPending {
		return fmt.Errorf("%w: task %s is %s", domain.ErrTaskNotPending, taskID, task.Status)
	}
	task.MarkFailed("cancelled")
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.delayed, taskID)
		return q.write(ctx, pipe, task)
	})
	return err
}

// PurgeTasks deletes finished tasks last touched more than olderThanSeconds ago.
func (q *Queue) PurgeTasks(ctx context.Context, olderThanSeconds int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)
	var stale []string
	err := q.each(ctx, func(task *domain.Task) bool {
		finished := task.Status == domain.TaskStatusCompleted || task.Status == domain.TaskStatusFailed
		if finished && task.UpdatedAt.Before(cutoff) {
			stale = append(stale, task.ID)
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("scan tasks: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	keys := make([]string, len(stale))
	members := make([]any, len(stale))
	for i, id := range stale {
		keys[i] = q.taskKey + id
		members[i] = id
	}
	var deleted *redis.IntCmd
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, q.index, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	q.logger.Info("purged tasks", "count", deleted.Val(), "cutoff", cutoff)
	return int(deleted.Val()), nil
}

// Stats counts stored tasks by status.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	var stats driven.QueueStats
	err := q.each(ctx, func(task *domain.Task) bool {
		switch task.Status {
		case domain.TaskStatusPending:
			stats.PendingCount++
			stats.OldestPendingAge = max(stats.OldestPendingAge, int64(time.Since(task.CreatedAt).Seconds()))
		case domain.TaskStatusProcessing:
			stats.ProcessingCount++
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	return &stats, nil
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close does nothing; the Redis client is shared.
func (q *Queue) Close() error {
	return nil
}
