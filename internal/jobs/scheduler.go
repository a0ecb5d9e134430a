package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// QueueCleanupFunc deletes finished queue entries older than the given number of days.
type QueueCleanupFunc func(ctx context.Context, daysToKeep int) (int, error)

// Scheduler triggers the batch jobs once a day at staggered wall clock times.
type Scheduler struct {
	runner       *Runner
	config       Config
	logger       *zerolog.Logger
	queueCleanup QueueCleanupFunc
	location     *time.Location

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewScheduler creates a scheduler. Start validates the configured times.
func NewScheduler(runner *Runner, config Config, logger *zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner: runner,
		config: config,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// WithQueueCleanup adds a daily event queue cleanup at QueueCleanupAt.
func (s *Scheduler) WithQueueCleanup(fn QueueCleanupFunc) *Scheduler {
	s.queueCleanup = fn
	return s
}

// Start begins the daily loops. It does nothing when scheduling is disabled.
func (s *Scheduler) Start() error {
	if !s.config.Enabled {
		s.logger.Info().Msg("Scheduled jobs are disabled, not starting")
		return nil
	}
	if err := s.config.Validate(); err != nil {
		return err
	}
	loc, err := time.LoadLocation(s.config.Timezone)
	if err != nil {
		return err
	}
	s.location = loc

	s.logger.Info().
		Str("timezone", s.config.Timezone).
		Str("rankings_at", s.config.RankingsAt).
		Str("nearest_merchants_at", s.config.NearestAt).
		Str("common_categories_at", s.config.CommonAt).
		Msg("Starting job scheduler")

	s.daily(s.config.RankingsAt, string(JobRankings), s.runJob(JobRankings))
	s.daily(s.config.NearestAt, string(JobNearestMerchants), s.runJob(JobNearestMerchants))
	s.daily(s.config.CommonAt, string(JobCommonCategories), s.runJob(JobCommonCategories))
	if s.queueCleanup != nil {
		s.daily(s.config.QueueCleanupAt, "queue-cleanup", s.cleanupQueue)
	}
	return nil
}

// Stop cancels pending runs and waits for in-flight ones, up to a timeout.
func (s *Scheduler) Stop() {
	s.logger.Info().Msg("Stopping job scheduler...")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Job scheduler stopped")
	case <-time.After(5 * time.Second):
		s.logger.Warn().Msg("Job scheduler did not stop gracefully")
	}
}

func (s *Scheduler) daily(at, name string, fn func()) {
	hour, minute, _ := parseClock(at)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			next := nextRun(s.now(), hour, minute, s.location)
			s.logger.Debug().Str("job", name).Time("next_run", next).Msg("Job scheduled")

			timer := time.NewTimer(time.Until(next))
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				fn()
			}
		}
	}()
}

func (s *Scheduler) runJob(job Name) func() {
	return func() {
		summary, err := s.runner.Run(s.ctx, job)
		if err != nil {
			s.logger.Error().Err(err).Str("job", string(job)).Msg("Scheduled job failed")
			return
		}
		if summary.Failed > 0 {
			s.logger.Warn().
				Str("job", string(job)).
				Int("failed", summary.Failed).
				Int("total", summary.Total).
				Msg("Scheduled job finished with failed keys")
		}
	}
}

func (s *Scheduler) cleanupQueue() {
	start := time.Now()
	deleted, err := s.queueCleanup(s.ctx, s.config.QueueRetainDays)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to clean up event queue")
		return
	}
	s.logger.Info().
		Int("deleted", deleted).
		Dur("duration", time.Since(start)).
		Msg("Cleaned up event queue")
}

// nextRun returns the first hour:minute in loc strictly after now.
func nextRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}
