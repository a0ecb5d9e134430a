package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/souqnear/ranking-service/internal/ranking"
)

// Executor runs a batch job to completion.
type Executor interface {
	Run(ctx context.Context, job Name) (*Summary, error)
}

// Runner guarantees at most one run per job and keeps the last summary of each.
type Runner struct {
	executor Executor
	logger   zerolog.Logger

	mu      sync.Mutex
	running map[Name]bool
	last    map[Name]*Summary

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner around an executor.
func NewRunner(executor Executor) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		executor: executor,
		logger:   log.With().Str("component", "job_runner").Logger(),
		running:  make(map[Name]bool),
		last:     make(map[Name]*Summary),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (r *Runner) acquire(job Name) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[job] {
		return fmt.Errorf("%s: %w", job, ranking.ErrJobRunning)
	}
	r.running[job] = true
	return nil
}

func (r *Runner) release(job Name, s *Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, job)
	if s != nil {
		r.last[job] = s
	}
}

// Run executes a job synchronously. It returns ranking.ErrJobRunning when the
// job is already running.
func (r *Runner) Run(ctx context.Context, job Name) (*Summary, error) {
	if err := r.acquire(job); err != nil {
		return nil, err
	}
	s, err := r.executor.Run(ctx, job)
	r.release(job, s)
	return s, err
}

// Trigger starts a job in the background and returns immediately.
func (r *Runner) Trigger(job Name) error {
	if err := r.acquire(job); err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		s, err := r.executor.Run(r.ctx, job)
		if err != nil {
			r.logger.Error().Err(err).Str("job", string(job)).Msg("Triggered job failed")
		}
		r.release(job, s)
	}()
	return nil
}

// Status reports the jobs currently running and the last summary of each job.
func (r *Runner) Status() (running []Name, last []*Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range Names {
		if r.running[n] {
			running = append(running, n)
		}
		if s, ok := r.last[n]; ok {
			cp := *s
			last = append(last, &cp)
		}
	}
	return running, last
}

// Shutdown cancels background runs and waits for them or for ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
