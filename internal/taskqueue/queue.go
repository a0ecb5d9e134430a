package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/souqnear/ranking-service/internal/ranking"
)

// RetryBackoff is the delay added per attempt before a failed task is retried.
const RetryBackoff = 5 * time.Second

type TaskQueue struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *TaskQueue {
	return &TaskQueue{pool: pool}
}

func (q *TaskQueue) GetPool() *pgxpool.Pool {
	return q.pool
}

type ScheduleTaskInput struct {
	TaskType    string
	Payload     interface{}
	Priority    int
	ScheduledAt *time.Time
	MaxRetries  int
}

type ScheduleTaskResult struct {
	ID  string
	Err error
}

func (q *TaskQueue) ScheduleTask(ctx context.Context, input ScheduleTaskInput) ScheduleTaskResult {
	payload, err := json.Marshal(input.Payload)
	if err != nil {
		return ScheduleTaskResult{Err: err}
	}

	maxRetries := 3
	if input.MaxRetries > 0 {
		maxRetries = input.MaxRetries
	}

	priority := 0
	if input.Priority > 0 {
		priority = input.Priority
	}

	scheduledFor := time.Now()
	if input.ScheduledAt != nil {
		scheduledFor = *input.ScheduledAt
	}

	id := uuid.NewString()
	_, err = q.pool.Exec(ctx, `
		INSERT INTO task_queue (id, task_type, payload, priority, scheduled_for, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, input.TaskType, payload, priority, scheduledFor, maxRetries)
	if err != nil {
		return ScheduleTaskResult{Err: err}
	}

	return ScheduleTaskResult{ID: id}
}

// EnqueueOfferChange stores an offer change for asynchronous processing.
func (q *TaskQueue) EnqueueOfferChange(ctx context.Context, change ranking.OfferChange) (string, error) {
	result := q.ScheduleTask(ctx, ScheduleTaskInput{
		TaskType: TaskTypeOfferChanged,
		Payload:  change,
	})
	if result.Err != nil {
		return "", fmt.Errorf("failed to enqueue offer change %s: %w", change.Offer.ID, result.Err)
	}
	return result.ID, nil
}

type ClaimTasksInput struct {
	WorkerID  string
	TaskTypes []string
	MaxTasks  int
}

type ClaimTasksResult struct {
	Tasks []ClaimedTask
	Err   error
}

// ClaimTasks moves up to MaxTasks due pending tasks to claimed for a worker.
// Concurrent workers never claim the same task.
func (q *TaskQueue) ClaimTasks(ctx context.Context, input ClaimTasksInput) ClaimTasksResult {
	rows, err := q.pool.Query(ctx, `
		WITH due AS (
			SELECT id
			FROM task_queue
			WHERE status = 'pending'
			  AND scheduled_for <= NOW()
			  AND task_type = ANY($2)
			ORDER BY priority DESC, scheduled_for, created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE task_queue t
		SET status = 'claimed', worker_id = $1, started_at = NOW(), updated_at = NOW()
		FROM due
		WHERE t.id = due.id
		RETURNING t.id, t.task_type, t.payload, t.retry_count
	`, input.WorkerID, input.TaskTypes, input.MaxTasks)
	if err != nil {
		return ClaimTasksResult{Err: err}
	}

	tasks, err := pgx.CollectRows(rows, pgx.RowToStructByPos[ClaimedTask])
	if err != nil {
		return ClaimTasksResult{Err: err}
	}
	return ClaimTasksResult{Tasks: tasks}
}

// MarkProcessing moves a claimed task to processing.
func (q *TaskQueue) MarkProcessing(ctx context.Context, taskID string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE task_queue
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'claimed'
	`, taskID)
	return err
}

func (q *TaskQueue) CompleteTask(ctx context.Context, taskID string, result interface{}) error {
	var resultJSON []byte
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		resultJSON = data
	}

	_, err := q.pool.Exec(ctx, `
		UPDATE task_queue
		SET status = 'completed', result = $2, completed_at = NOW(), error_message = NULL, updated_at = NOW()
		WHERE id = $1
	`, taskID, resultJSON)
	return err
}

// FailTask records a failure. A retryable task with attempts left goes back to
// pending with a linear backoff, anything else ends up failed.
func (q *TaskQueue) FailTask(ctx context.Context, taskID, errorMessage string, shouldRetry bool) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE task_queue
		SET status = CASE WHEN $3 AND retry_count + 1 < max_retries THEN 'pending' ELSE 'failed' END,
		    retry_count = retry_count + 1,
		    scheduled_for = CASE WHEN $3 AND retry_count + 1 < max_retries
		                         THEN NOW() + make_interval(secs => $4 * (retry_count + 1))
		                         ELSE scheduled_for END,
		    failed_at = CASE WHEN $3 AND retry_count + 1 < max_retries THEN failed_at ELSE NOW() END,
		    worker_id = NULL,
		    error_message = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, taskID, errorMessage, shouldRetry, RetryBackoff.Seconds())
	return err
}

// RecoverOrphanedTasks returns tasks stuck in claimed or processing for longer
// than staleAfter to pending, or fails them once their retries are used up.
func (q *TaskQueue) RecoverOrphanedTasks(ctx context.Context, staleAfter time.Duration) (recovered, failed int, err error) {
	err = q.pool.QueryRow(ctx, `
		WITH stale AS (
			SELECT id
			FROM task_queue
			WHERE status IN ('claimed', 'processing')
			  AND updated_at < NOW() - make_interval(secs => $1)
			FOR UPDATE SKIP LOCKED
		), updated AS (
			UPDATE task_queue t
			SET status = CASE WHEN t.retry_count + 1 < t.max_retries THEN 'pending' ELSE 'failed' END,
			    retry_count = t.retry_count + 1,
			    failed_at = CASE WHEN t.retry_count + 1 < t.max_retries THEN t.failed_at ELSE NOW() END,
			    worker_id = NULL,
			    error_message = 'orphaned: worker stopped responding',
			    updated_at = NOW()
			FROM stale
			WHERE t.id = stale.id
			RETURNING t.status
		)
		SELECT COUNT(*) FILTER (WHERE status = 'pending'), COUNT(*) FILTER (WHERE status = 'failed')
		FROM updated
	`, staleAfter.Seconds()).Scan(&recovered, &failed)
	return recovered, failed, err
}

// CleanupOldTasks deletes finished tasks older than daysToKeep days.
func (q *TaskQueue) CleanupOldTasks(ctx context.Context, daysToKeep int) (int, error) {
	tag, err := q.pool.Exec(ctx, `
		DELETE FROM task_queue
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND updated_at < NOW() - make_interval(days => $1)
	`, daysToKeep)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (q *TaskQueue) CancelTask(ctx context.Context, taskID string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE task_queue
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'claimed')
	`, taskID)
	return err
}

func (q *TaskQueue) GetTask(ctx context.Context, taskID string) (*Task, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT id, task_type, payload, priority, status,
		       scheduled_for, started_at, completed_at, failed_at,
		       worker_id, retry_count, max_retries, error_message, result,
		       created_at, updated_at
		FROM task_queue
		WHERE id = $1
	`, taskID)
	if err != nil {
		return nil, err
	}
	task, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByPos[Task])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ranking.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}
