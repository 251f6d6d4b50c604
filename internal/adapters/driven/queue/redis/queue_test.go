package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

func newTestQueue(t *testing.T, cfg QueueConfig) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	if cfg.Consumer == "" {
		cfg.Consumer = "test-worker"
	}
	q, err := NewQueue(context.Background(), client, cfg)
	require.NoError(t, err)
	return q, mr
}

func syncTask(collection string, cursor int) *domain.Task {
	state := domain.NewSyncJobState(collection, 0, 100)
	state.BatchCursor = cursor
	return domain.NewSyncCollectionTask(state, time.Time{})
}

func TestNewQueue_Defaults(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{})

	again, err := NewQueue(context.Background(), q.client, QueueConfig{})
	require.NoError(t, err, "existing group is reused")
	assert.Contains(t, again.consumer, "consumer-")
	assert.Equal(t, DefaultClaimAfter, again.claimAfter)
	assert.Equal(t, DefaultRetention, again.retention)
	assert.Equal(t, DefaultKeyPrefix+"tasks", again.stream)

	_, err = NewQueue(context.Background(), nil, QueueConfig{})
	assert.Error(t, err)
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{})
	ctx := context.Background()
	task := syncTask("articles", 0)

	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "articles", got.CollectionName())
	assert.True(t, q.client.Exists(ctx, q.delivery+task.ID).Val() == 1)

	require.NoError(t, q.Ack(ctx, task.ID))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	assert.Zero(t, q.client.XLen(ctx, q.stream).Val(), "settled entries leave the stream")
	assert.Zero(t, q.client.Exists(ctx, q.delivery+task.ID).Val())
}

func TestQueue_EnqueueNil(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{})
	assert.ErrorIs(t, q.Enqueue(context.Background(), nil), domain.ErrInvalidInput)
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{})

	got, err := q.DequeueWithTimeout(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueue_DelayedTaskWaits(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{})
	ctx := context.Background()

	task := domain.NewSyncCollectionTask(domain.NewSyncJobState("articles", 24, 100), time.Now().Add(24*time.Hour))
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.EqualValues(t, 1, q.client.ZCard(ctx, q.delayed).Val())

	ttl := q.client.TTL(ctx, q.taskKey+task.ID).Val()
	assert.Greater(t, ttl, 24*time.Hour, "a delayed task must outlive its delay")
}

func TestQueue_PromotesDueTasks(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{})
	ctx := context.Background()

	task := syncTask("articles", 100)
	task.ScheduledFor = time.Now().Add(time.Hour)
	require.NoError(t, q.Enqueue(ctx, task))

	// make the parked task due
	q.client.ZAdd(ctx, q.delayed, redis.Z{Score: float64(time.Now().Add(-time.Second).UnixMilli()), Member: task.ID})

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Zero(t, q.client.ZCard(ctx, q.delayed).Val())
}

func TestQueue_ReclaimsAbandonedTask(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{ClaimAfter: time.Millisecond})
	ctx := context.Background()
	task := domain.NewRecordTask(domain.ChangeKindUpsert, "Page", 7)
	require.NoError(t, q.Enqueue(ctx, task))

	crashed, err := NewQueue(ctx, q.client, QueueConfig{Consumer: "crashed", ClaimAfter: time.Millisecond})
	require.NoError(t, err)
	first, err := crashed.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, first)

	time.Sleep(10 * time.Millisecond)

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, 2, got.Attempts)
}

func TestQueue_NackExhausted(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{})
	ctx := context.Background()
	task := domain.NewRecordTask(domain.ChangeKindUpsert, "Page", 7)
	task.MaxAttempts = 1

	require.NoError(t, q.Enqueue(ctx, task))
	_, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, q.Nack(ctx, task.ID, "remote store unavailable"))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
	assert.Equal(t, "remote store unavailable", stored.Error)
	assert.Zero(t, q.client.ZCard(ctx, q.delayed).Val())
}

func TestQueue_NackRetries(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{})
	ctx := context.Background()
	task := domain.NewPurgeTask(time.Hour)

	require.NoError(t, q.Enqueue(ctx, task))
	_, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, q.Nack(ctx, task.ID, "timeout"))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
	assert.True(t, stored.ScheduledFor.After(time.Now()))
	assert.EqualValues(t, 1, q.client.ZCard(ctx, q.delayed).Val())
}

func TestQueue_SetMessages(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{})
	ctx := context.Background()
	task := syncTask("articles", 0)
	require.NoError(t, q.Enqueue(ctx, task))

	require.NoError(t, q.SetMessages(ctx, task.ID, []string{"Batch count=100 of total=250"}))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Batch count=100 of total=250"}, stored.Messages)

	assert.ErrorIs(t, q.SetMessages(ctx, "missing", nil), domain.ErrNotFound)
}

func TestQueue_ListTasksNewestFirst(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{})
	ctx := context.Background()

	articles, pages := syncTask("articles", 0), syncTask("pages", 0)
	record := domain.NewRecordTask(domain.ChangeKindDelete, "Page", 3)
	articles.CreatedAt = time.Now().Add(-3 * time.Minute)
	pages.CreatedAt = time.Now().Add(-2 * time.Minute)
	record.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, q.EnqueueBatch(ctx, []*domain.Task{articles, pages, record}))

	all, err := q.ListTasks(ctx, driven.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{record.ID, pages.ID, articles.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	tasks, err := q.ListTasks(ctx, driven.TaskFilter{Collection: "articles"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, articles.ID, tasks[0].ID)

	tasks, err = q.ListTasks(ctx, driven.TaskFilter{Type: domain.TaskTypeSyncCollection, Offset: 1, Limit: 5})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, articles.ID, tasks[0].ID)
}

func TestQueue_ListTasksDropsExpiredIndexEntries(t *testing.T) {
	q, mr := newTestQueue(t, QueueConfig{})
	ctx := context.Background()

	gone, kept := syncTask("articles", 0), syncTask("pages", 0)
	require.NoError(t, q.EnqueueBatch(ctx, []*domain.Task{gone, kept}))
	mr.Del(q.taskKey + gone.ID)

	tasks, err := q.ListTasks(ctx, driven.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, kept.ID, tasks[0].ID)
	assert.EqualValues(t, 1, q.client.ZCard(ctx, q.index).Val())
}

func TestQueue_CancelTask(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{})
	ctx := context.Background()
	task := syncTask("articles", 0)
	task.ScheduledFor = time.Now().Add(time.Hour)
	require.NoError(t, q.Enqueue(ctx, task))

	require.NoError(t, q.CancelTask(ctx, task.ID))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
	assert.Equal(t, "cancelled", stored.Error)
	assert.Zero(t, q.client.ZCard(ctx, q.delayed).Val())

	assert.ErrorIs(t, q.CancelTask(ctx, task.ID), domain.ErrTaskNotPending)
	assert.ErrorIs(t, q.CancelTask(ctx, "missing"), domain.ErrNotFound)
}

func TestQueue_CancelledStreamEntryIsDropped(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{})
	ctx := context.Background()
	task := domain.NewRecordTask(domain.ChangeKindDelete, "Page", 9)
	require.NoError(t, q.Enqueue(ctx, task))
	require.NoError(t, q.CancelTask(ctx, task.ID))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, q.client.XLen(ctx, q.stream).Val())
}

func TestQueue_PurgeTasks(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{})
	ctx := context.Background()

	old := syncTask("articles", 0)
	old.MarkCompleted()
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	fresh := syncTask("pages", 0)
	fresh.MarkCompleted()
	pending := syncTask("news", 0)
	pending.ScheduledFor = time.Now().Add(time.Hour)

	require.NoError(t, q.EnqueueBatch(ctx, []*domain.Task{old, fresh, pending}))

	purged, err := q.PurgeTasks(ctx, int((24 * time.Hour).Seconds()))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = q.GetTask(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = q.GetTask(ctx, fresh.ID)
	assert.NoError(t, err)
	assert.EqualValues(t, 2, q.client.ZCard(ctx, q.index).Val())
}

func TestQueue_Stats(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{})
	ctx := context.Background()

	waiting := syncTask("articles", 0)
	waiting.CreatedAt = time.Now().Add(-time.Minute)
	done := syncTask("pages", 0)
	done.MarkCompleted()
	require.NoError(t, q.EnqueueBatch(ctx, []*domain.Task{waiting, done}))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.PendingCount)
	assert.EqualValues(t, 1, stats.CompletedCount)
	assert.GreaterOrEqual(t, stats.OldestPendingAge, int64(59))
}

func TestQueue_Ping(t *testing.T) {
	q, mr := newTestQueue(t, QueueConfig{})
	assert.NoError(t, q.Ping(context.Background()))
	assert.NoError(t, q.Close())

	mr.Close()
	assert.Error(t, q.Ping(context.Background()))
}
