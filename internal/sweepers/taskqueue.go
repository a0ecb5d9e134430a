package sweepers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// OrphanRecoverer requeues tasks whose worker stopped reporting progress.
type OrphanRecoverer interface {
	RecoverOrphanedTasks(ctx context.Context, staleAfter time.Duration) (recovered, failed int, err error)
}

// TaskQueueSweeper periodically recovers orphaned tasks
type TaskQueueSweeper struct {
	queue      OrphanRecoverer
	logger     *zerolog.Logger
	interval   time.Duration
	staleAfter time.Duration
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewTaskQueueSweeper creates a new sweeper for task queue maintenance. Tasks
// untouched for staleAfter are considered orphaned.
func NewTaskQueueSweeper(queue OrphanRecoverer, logger *zerolog.Logger, interval, staleAfter time.Duration) *TaskQueueSweeper {
	return &TaskQueueSweeper{
		queue:      queue,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		stopChan:   make(chan struct{}),
	}
}

// Start runs the periodic recovery sweep until ctx is done or Stop is called.
func (s *TaskQueueSweeper) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Dur("stale_after", s.staleAfter).
		Msg("Starting task queue sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Task queue sweeper stopping (context cancelled)")
			return
		case <-s.stopChan:
			s.logger.Info().Msg("Task queue sweeper stopping (stop signal)")
			return
		case <-ticker.C:
			if _, _, err := s.RecoverOrphanedTasks(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Failed to recover orphaned tasks")
			}
		}
	}
}

// Stop signals the sweeper to stop
func (s *TaskQueueSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// RecoverOrphanedTasks runs one recovery pass.
func (s *TaskQueueSweeper) RecoverOrphanedTasks(ctx context.Context) (recovered, failed int, err error) {
	s.logger.Debug().Msg("Running orphaned task recovery")

	recovered, failed, err = s.queue.RecoverOrphanedTasks(ctx, s.staleAfter)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to recover orphaned tasks: %w", err)
	}

	if recovered > 0 || failed > 0 {
		s.logger.Info().
			Int("recovered", recovered).
			Int("failed", failed).
			Msg("Recovered orphaned tasks")
	}

	return recovered, failed, nil
}
