package taskqueue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/souqnear/ranking-service/internal/database"
	"github.com/souqnear/ranking-service/internal/ranking"
)

func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := database.NewPool(ctx, database.PoolConfig{URL: connStr, MaxConns: 10})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(ctx, pool))

	return pool, func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
}

func TestTaskLifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	q := New(pool)

	change := ranking.OfferChange{
		Action: ranking.ActionUpdate,
		Offer:  ranking.Offer{ID: "o1", MerchantID: "m1", ProductID: "p1", Price: 100, Quantity: 1, Available: true},
	}
	id, err := q.EnqueueOfferChange(ctx, change)
	require.NoError(t, err)

	claimed := q.ClaimTasks(ctx, ClaimTasksInput{WorkerID: "w-0", TaskTypes: []string{TaskTypeOfferChanged}, MaxTasks: 5})
	require.NoError(t, claimed.Err)
	require.Len(t, claimed.Tasks, 1)
	assert.Equal(t, id, claimed.Tasks[0].ID)
	assert.JSONEq(t, `"update"`, string(mustField(t, claimed.Tasks[0].Payload, "action")))

	again := q.ClaimTasks(ctx, ClaimTasksInput{WorkerID: "w-1", TaskTypes: []string{TaskTypeOfferChanged}, MaxTasks: 5})
	require.NoError(t, again.Err)
	assert.Empty(t, again.Tasks, "claimed tasks are not handed out twice")

	require.NoError(t, q.MarkProcessing(ctx, id))
	require.NoError(t, q.CompleteTask(ctx, id, map[string]int{"admitted": 1}))

	task, err := q.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.JSONEq(t, `{"admitted": 1}`, string(task.Result))
	require.NotNil(t, task.WorkerID)
	assert.Equal(t, "w-0", *task.WorkerID)

	_, err = q.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, ranking.ErrNotFound)
}

func TestFailTaskRetries(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	q := New(pool)

	res := q.ScheduleTask(ctx, ScheduleTaskInput{TaskType: TaskTypeOfferChanged, Payload: map[string]string{}, MaxRetries: 2})
	require.NoError(t, res.Err)

	require.NoError(t, q.FailTask(ctx, res.ID, "timeout", true))
	task, err := q.GetTask(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, 1, task.RetryCount)
	assert.True(t, task.ScheduledFor.After(time.Now()), "retry is delayed")
	assert.Nil(t, task.FailedAt)

	require.NoError(t, q.FailTask(ctx, res.ID, "timeout again", true))
	task, err = q.GetTask(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.NotNil(t, task.FailedAt)
	require.NotNil(t, task.ErrorMessage)
	assert.Equal(t, "timeout again", *task.ErrorMessage)

	permanent := q.ScheduleTask(ctx, ScheduleTaskInput{TaskType: TaskTypeOfferChanged, Payload: map[string]string{}})
	require.NoError(t, permanent.Err)
	require.NoError(t, q.FailTask(ctx, permanent.ID, "bad payload", false))
	task, err = q.GetTask(ctx, permanent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
}

func TestConcurrentClaims(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	q := New(pool)

	for i := 0; i < 20; i++ {
		require.NoError(t, q.ScheduleTask(ctx, ScheduleTaskInput{TaskType: TaskTypeOfferChanged, Payload: i}).Err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				res := q.ClaimTasks(ctx, ClaimTasksInput{WorkerID: "w", TaskTypes: []string{TaskTypeOfferChanged}, MaxTasks: 3})
				if res.Err != nil || len(res.Tasks) == 0 {
					return
				}
				mu.Lock()
				for _, task := range res.Tasks {
					seen[task.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, "task %s claimed more than once", id)
	}
}

func TestRecoverAndCleanup(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	q := New(pool)

	stuck := q.ScheduleTask(ctx, ScheduleTaskInput{TaskType: TaskTypeOfferChanged, Payload: 1})
	exhausted := q.ScheduleTask(ctx, ScheduleTaskInput{TaskType: TaskTypeOfferChanged, Payload: 2, MaxRetries: 1})
	require.NoError(t, stuck.Err)
	require.NoError(t, exhausted.Err)

	claimed := q.ClaimTasks(ctx, ClaimTasksInput{WorkerID: "dead", TaskTypes: []string{TaskTypeOfferChanged}, MaxTasks: 10})
	require.NoError(t, claimed.Err)
	require.Len(t, claimed.Tasks, 2)

	_, err := pool.Exec(ctx, `UPDATE task_queue SET updated_at = NOW() - INTERVAL '1 hour'`)
	require.NoError(t, err)

	recovered, failed, err := q.RecoverOrphanedTasks(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.Equal(t, 1, failed)

	task, err := q.GetTask(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)

	_, err = pool.Exec(ctx, `UPDATE task_queue SET updated_at = NOW() - INTERVAL '30 days' WHERE id = $1`, exhausted.ID)
	require.NoError(t, err)

	deleted, err := q.CleanupOldTasks(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = q.GetTask(ctx, exhausted.ID)
	assert.ErrorIs(t, err, ranking.ErrNotFound)
}

func mustField(t *testing.T, payload []byte, field string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &m))
	return m[field]
}
