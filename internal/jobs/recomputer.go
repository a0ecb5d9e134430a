package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/souqnear/ranking-service/internal/ranking"
)

// Name identifies a batch job.
type Name string

const (
	JobRankings         Name = "rankings"
	JobNearestMerchants Name = "nearest-merchants"
	JobCommonCategories Name = "common-categories"
)

// Names lists the batch jobs in their nightly order.
var Names = []Name{JobRankings, JobNearestMerchants, JobCommonCategories}

// ParseName validates a job name.
func ParseName(s string) (Name, error) {
	for _, n := range Names {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown job %q", s)
}

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
	StatusFailed    = "failed"
)

// Summary is the result of one job run. Per-key failures are counted here
// instead of failing the run.
type Summary struct {
	RunID      string    `json:"runId"`
	Job        Name      `json:"job"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	Total      int       `json:"total"`
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
	Errors     []string  `json:"errors,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// tally accumulates per-key results from concurrent workers.
type tally struct {
	mu        sync.Mutex
	summary   *Summary
	maxErrors int
}

func (t *tally) record(label string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		t.summary.Processed++
		return
	}
	t.summary.Failed++
	if len(t.summary.Errors) < t.maxErrors {
		t.summary.Errors = append(t.summary.Errors, fmt.Sprintf("%s: %v", label, err))
	}
}

// Recomputer runs the three batch jobs. Each job walks its key space with a
// bounded worker pool; one key failing never stops the others.
type Recomputer struct {
	catalog ranking.Catalog
	engine  *ranking.Engine
	config  Config
	metrics *MetricsRecorder
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// NewRecomputer creates a recomputer.
func NewRecomputer(catalog ranking.Catalog, engine *ranking.Engine, config Config) *Recomputer {
	return &Recomputer{
		catalog: catalog,
		engine:  engine,
		config:  config,
		metrics: NewMetricsRecorder(),
		logger:  log.With().Str("component", "recomputer").Logger(),
		tracer:  otel.Tracer("github.com/souqnear/ranking-service/internal/jobs"),
	}
}

// Run executes a job by name.
func (r *Recomputer) Run(ctx context.Context, job Name) (*Summary, error) {
	switch job {
	case JobRankings:
		return r.RebuildRankings(ctx)
	case JobNearestMerchants:
		return r.RebuildNearestMerchants(ctx)
	case JobCommonCategories:
		return r.RebuildCommonCategories(ctx)
	}
	return nil, fmt.Errorf("unknown job %q", job)
}

func (r *Recomputer) newSummary(job Name) *Summary {
	return &Summary{
		RunID:     uuid.NewString(),
		Job:       job,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
}

// forEach runs fn for every task on the worker pool. It stops scheduling new
// tasks once ctx is done and marks the summary aborted.
func (r *Recomputer) forEach(ctx context.Context, s *Summary, n int, label func(i int) string, fn func(ctx context.Context, i int) error) {
	s.Total = n
	t := &tally{summary: s, maxErrors: r.config.MaxErrors}

	g := new(errgroup.Group)
	g.SetLimit(r.config.Workers)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			keyCtx, cancel := context.WithTimeout(ctx, r.config.PerKeyTimeout)
			defer cancel()

			err := fn(keyCtx, i)
			if err != nil {
				r.logger.Error().Err(err).Str("job", string(s.Job)).Str("key", label(i)).Msg("Key failed")
			}
			r.metrics.RecordKey(s.Job, err == nil)
			t.record(label(i), err)
			return nil
		})
	}
	_ = g.Wait()

	s.FinishedAt = time.Now()
	s.Status = StatusCompleted
	if ctx.Err() != nil {
		s.Status = StatusAborted
		s.Error = ctx.Err().Error()
	}
}

func (r *Recomputer) fail(s *Summary, err error) (*Summary, error) {
	s.Status = StatusFailed
	s.Error = err.Error()
	s.FinishedAt = time.Now()
	r.metrics.RecordRun(s)
	return s, err
}

func (r *Recomputer) finish(s *Summary) (*Summary, error) {
	r.metrics.RecordRun(s)
	r.logger.Info().
		Str("job", string(s.Job)).
		Str("run_id", s.RunID).
		Str("status", s.Status).
		Int("total", s.Total).
		Int("processed", s.Processed).
		Int("failed", s.Failed).
		Dur("duration", s.FinishedAt.Sub(s.StartedAt)).
		Msg("Job finished")
	return s, nil
}

// RebuildRankings recomputes every reference point × product × market ranked set.
func (r *Recomputer) RebuildRankings(ctx context.Context) (*Summary, error) {
	s := r.newSummary(JobRankings)
	r.metrics.RecordStart(s.Job)
	ctx, span := r.tracer.Start(ctx, "jobs.RebuildRankings", trace.WithAttributes(attribute.String("run.id", s.RunID)))
	defer span.End()

	points, err := r.catalog.ReferencePoints(ctx)
	if err != nil {
		return r.fail(s, fmt.Errorf("failed to load reference points: %w", err))
	}
	products, err := r.catalog.ProductIDs(ctx)
	if err != nil {
		return r.fail(s, fmt.Errorf("failed to load products: %w", err))
	}
	markets, err := r.catalog.MarketIDs(ctx)
	if err != nil {
		return r.fail(s, fmt.Errorf("failed to load markets: %w", err))
	}

	type task struct {
		point     ranking.ReferencePoint
		productID string
		marketID  string
	}
	tasks := make([]task, 0, len(points)*len(products)*len(markets))
	for _, p := range points {
		for _, m := range markets {
			for _, prod := range products {
				tasks = append(tasks, task{point: p, productID: prod, marketID: m})
			}
		}
	}

	r.logger.Info().Str("run_id", s.RunID).Int("keys", len(tasks)).Msg("Rebuilding ranked sets")
	r.forEach(ctx, s, len(tasks),
		func(i int) string {
			t := tasks[i]
			return ranking.Key{ReferencePointID: t.point.ID, ProductID: t.productID, MarketID: t.marketID}.String()
		},
		func(ctx context.Context, i int) error {
			t := tasks[i]
			_, err := r.engine.RecomputeKey(ctx, t.point, t.productID, t.marketID)
			return err
		})
	span.SetAttributes(attribute.Int("keys.failed", s.Failed))
	return r.finish(s)
}

// RebuildNearestMerchants refreshes the nearest merchants of every reference point.
func (r *Recomputer) RebuildNearestMerchants(ctx context.Context) (*Summary, error) {
	s := r.newSummary(JobNearestMerchants)
	r.metrics.RecordStart(s.Job)
	ctx, span := r.tracer.Start(ctx, "jobs.RebuildNearestMerchants", trace.WithAttributes(attribute.String("run.id", s.RunID)))
	defer span.End()

	points, err := r.catalog.ReferencePoints(ctx)
	if err != nil {
		return r.fail(s, fmt.Errorf("failed to load reference points: %w", err))
	}
	merchants, err := r.catalog.Merchants(ctx)
	if err != nil {
		return r.fail(s, fmt.Errorf("failed to load merchants: %w", err))
	}

	r.forEach(ctx, s, len(points),
		func(i int) string { return points[i].ID },
		func(ctx context.Context, i int) error {
			_, err := r.engine.RebuildNearestMerchants(ctx, points[i], merchants)
			return err
		})
	return r.finish(s)
}

// RebuildCommonCategories refreshes every reference point × common category × market entry.
func (r *Recomputer) RebuildCommonCategories(ctx context.Context) (*Summary, error) {
	s := r.newSummary(JobCommonCategories)
	r.metrics.RecordStart(s.Job)
	ctx, span := r.tracer.Start(ctx, "jobs.RebuildCommonCategories", trace.WithAttributes(attribute.String("run.id", s.RunID)))
	defer span.End()

	points, err := r.catalog.ReferencePoints(ctx)
	if err != nil {
		return r.fail(s, fmt.Errorf("failed to load reference points: %w", err))
	}
	categories, err := r.catalog.CommonCategoryIDs(ctx)
	if err != nil {
		return r.fail(s, fmt.Errorf("failed to load common categories: %w", err))
	}
	markets, err := r.catalog.MarketIDs(ctx)
	if err != nil {
		return r.fail(s, fmt.Errorf("failed to load markets: %w", err))
	}
	merchants, err := r.catalog.Merchants(ctx)
	if err != nil {
		return r.fail(s, fmt.Errorf("failed to load merchants: %w", err))
	}

	keys := make([]ranking.CommonCategoryKey, 0, len(points)*len(categories)*len(markets))
	pointByID := make(map[string]ranking.ReferencePoint, len(points))
	for _, p := range points {
		pointByID[p.ID] = p
		for _, c := range categories {
			for _, m := range markets {
				keys = append(keys, ranking.CommonCategoryKey{ReferencePointID: p.ID, CategoryID: c, MarketID: m})
			}
		}
	}

	r.forEach(ctx, s, len(keys),
		func(i int) string { return keys[i].String() },
		func(ctx context.Context, i int) error {
			k := keys[i]
			_, err := r.engine.RebuildCommonCategory(ctx, pointByID[k.ReferencePointID], k.CategoryID, k.MarketID, merchants)
			return err
		})
	return r.finish(s)
}
