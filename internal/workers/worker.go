package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/souqnear/ranking-service/internal/taskqueue"
)

// Queue is the part of the task queue a worker needs.
type Queue interface {
	ClaimTasks(ctx context.Context, input taskqueue.ClaimTasksInput) taskqueue.ClaimTasksResult
	MarkProcessing(ctx context.Context, taskID string) error
	CompleteTask(ctx context.Context, taskID string, result interface{}) error
	FailTask(ctx context.Context, taskID, errorMessage string, shouldRetry bool) error
}

// Handler processes one task payload. The returned value is stored as the task
// result. Errors wrapped with Permanent are not retried.
type Handler func(ctx context.Context, payload []byte) (interface{}, error)

type WorkerConfig struct {
	WorkerID   string
	TaskTypes  []string
	MaxTasks   int
	NumWorkers int
	PollDelay  time.Duration
}

type Worker struct {
	queue    Queue
	config   WorkerConfig
	handlers map[string]Handler
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(queue Queue, config WorkerConfig) *Worker {
	if config.NumWorkers < 1 {
		config.NumWorkers = 1
	}
	if config.MaxTasks < 1 {
		config.MaxTasks = 1
	}
	if config.PollDelay <= 0 {
		config.PollDelay = time.Second
	}
	return &Worker{
		queue:    queue,
		config:   config,
		handlers: make(map[string]Handler),
		stopChan: make(chan struct{}),
	}
}

func (w *Worker) RegisterHandler(taskType string, handler Handler) {
	w.handlers[taskType] = handler
}

func (w *Worker) Start(ctx context.Context) {
	log.Info().
		Str("component", "worker").
		Str("worker_id", w.config.WorkerID).
		Strs("task_types", w.config.TaskTypes).
		Int("goroutines", w.config.NumWorkers).
		Msg("Starting worker")

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	log.Info().
		Str("component", "worker").
		Str("worker_id", w.config.WorkerID).
		Msg("Worker stopping, waiting for in-flight tasks")
	w.wg.Wait()
	log.Info().
		Str("component", "worker").
		Str("worker_id", w.config.WorkerID).
		Msg("Worker stopped")
}

func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerID := fmt.Sprintf("%s-%d", w.config.WorkerID, workerNum)
	log.Debug().
		Str("component", "worker").
		Str("worker_id", workerID).
		Msg("Starting worker goroutine")

	ticker := time.NewTicker(w.config.PollDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("component", "worker").
				Str("worker_id", workerID).
				Msg("Worker shutting down")
			return

		case <-w.stopChan:
			log.Debug().
				Str("component", "worker").
				Str("worker_id", workerID).
				Msg("Worker received stop signal")
			return

		case <-ticker.C:
			w.ProcessTasks(ctx, workerID)
		}
	}
}

// ProcessTasks claims one batch of tasks and runs them in order. It returns the
// number of tasks claimed.
func (w *Worker) ProcessTasks(ctx context.Context, workerID string) int {
	claimResult := w.queue.ClaimTasks(ctx, taskqueue.ClaimTasksInput{
		WorkerID:  workerID,
		TaskTypes: w.config.TaskTypes,
		MaxTasks:  w.config.MaxTasks,
	})

	if claimResult.Err != nil {
		log.Error().Err(claimResult.Err).Str("worker_id", workerID).Msg("Failed to claim tasks")
		return 0
	}

	if len(claimResult.Tasks) == 0 {
		return 0
	}

	log.Debug().
		Str("component", "worker").
		Str("worker_id", workerID).
		Int("task_count", len(claimResult.Tasks)).
		Msg("Worker claimed tasks")

	for _, task := range claimResult.Tasks {
		w.processTask(ctx, workerID, task)
	}
	return len(claimResult.Tasks)
}

func (w *Worker) processTask(ctx context.Context, workerID string, task taskqueue.ClaimedTask) {
	logger := log.With().
		Str("component", "worker").
		Str("worker_id", workerID).
		Str("task_id", task.ID).
		Str("task_type", task.TaskType).
		Logger()

	handler, exists := w.handlers[task.TaskType]
	if !exists {
		logger.Warn().Msg("No handler for task type")
		if err := w.queue.FailTask(ctx, task.ID, "No handler registered", false); err != nil {
			logger.Error().Err(err).Msg("Failed to mark task as failed")
		}
		return
	}

	if err := w.queue.MarkProcessing(ctx, task.ID); err != nil {
		logger.Error().Err(err).Msg("Failed to mark task as processing")
		return
	}

	result, handlerErr := handler(ctx, task.Payload)
	if handlerErr != nil {
		retry := !IsPermanent(handlerErr)
		if err := w.queue.FailTask(ctx, task.ID, handlerErr.Error(), retry); err != nil {
			logger.Error().Err(err).Msg("Failed to mark task as failed")
		}
		logger.Error().
			Err(handlerErr).
			Bool("retry", retry).
			Int("retry_count", task.RetryCount).
			Msg("Task failed")
		return
	}

	if err := w.queue.CompleteTask(ctx, task.ID, result); err != nil {
		logger.Error().Err(err).Msg("Failed to mark task as completed")
		return
	}

	logger.Debug().Msg("Worker completed task")
}
