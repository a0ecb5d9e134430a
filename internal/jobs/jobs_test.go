package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/souqnear/ranking-service/internal/cachestore"
	"github.com/souqnear/ranking-service/internal/ranking"
)

var casablanca = ranking.Location{Latitude: 33.5731, Longitude: -7.5898}

// newSeed builds two reference points, n merchants and one product per merchant pair.
func newSeed(n int) *cachestore.Seed {
	seed := &cachestore.Seed{
		ReferencePoints: []ranking.ReferencePoint{
			{ID: "rp1", City: "Casablanca", Location: casablanca, Active: true, DisplayOrder: 1},
			{ID: "rp2", City: "Casablanca", Location: ranking.Location{Latitude: 33.60, Longitude: -7.60}, Active: true, DisplayOrder: 2},
		},
		CommonCategories: []string{"staples"},
	}
	for i := 0; i < n; i++ {
		m := ranking.Merchant{
			ID:       fmt.Sprintf("m%02d", i),
			MarketID: "market",
			City:     "Casablanca",
			Location: ranking.Location{Latitude: casablanca.Latitude + 0.002*float64(i), Longitude: casablanca.Longitude},
			Active:   true,
		}
		seed.Merchants = append(seed.Merchants, m)
		for _, p := range []string{"p1", "p2"} {
			seed.Offers = append(seed.Offers, ranking.Offer{
				ID:         fmt.Sprintf("o-%s-%s", m.ID, p),
				MerchantID: m.ID,
				ProductID:  p,
				CategoryID: "staples",
				Price:      int64(100 + i),
				Quantity:   3,
				Available:  true,
			})
		}
	}
	return seed
}

// failingStore fails ranked set writes for one product.
type failingStore struct {
	*cachestore.MemoryStore
	failProduct string
}

func (s *failingStore) UpdateRankedSet(ctx context.Context, key ranking.Key, fn ranking.UpdateFunc) (*ranking.RankedSet, error) {
	if key.ProductID == s.failProduct {
		return nil, errors.New("disk full")
	}
	return s.MemoryStore.UpdateRankedSet(ctx, key, fn)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.PerKeyTimeout = time.Second
	return cfg
}

func TestRebuildRankings(t *testing.T) {
	ctx := context.Background()
	catalog := cachestore.NewMemoryCatalog(newSeed(15))
	store := cachestore.NewMemoryStore()
	engine := ranking.NewEngine(catalog, store, ranking.Defaults())
	recomputer := NewRecomputer(catalog, engine, testConfig())

	summary, err := recomputer.RebuildRankings(ctx)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, summary.Status)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 4, summary.Total, "2 points x 2 products x 1 market")
	assert.Equal(t, 4, summary.Processed)
	assert.Zero(t, summary.Failed)

	for _, rp := range []string{"rp1", "rp2"} {
		for _, p := range []string{"p1", "p2"} {
			key := ranking.Key{ReferencePointID: rp, ProductID: p, MarketID: "market"}
			set, err := store.GetRankedSet(ctx, key)
			require.NoError(t, err)
			th, err := store.GetThreshold(ctx, key)
			require.NoError(t, err)
			assert.Len(t, set.Offers, ranking.DefaultTopK)
			assert.True(t, ranking.Consistent(set, th))
		}
	}

	t.Run("idempotent", func(t *testing.T) {
		key := ranking.Key{ReferencePointID: "rp1", ProductID: "p1", MarketID: "market"}
		before, err := store.GetRankedSet(ctx, key)
		require.NoError(t, err)

		_, err = recomputer.RebuildRankings(ctx)
		require.NoError(t, err)

		after, err := store.GetRankedSet(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, before.Offers, after.Offers)
	})
}

func TestRebuildRankingsCountsFailures(t *testing.T) {
	catalog := cachestore.NewMemoryCatalog(newSeed(3))
	store := &failingStore{MemoryStore: cachestore.NewMemoryStore(), failProduct: "p2"}
	engine := ranking.NewEngine(catalog, store, ranking.Defaults())
	recomputer := NewRecomputer(catalog, engine, testConfig())

	summary, err := recomputer.RebuildRankings(context.Background())
	require.NoError(t, err, "per-key failures are reported in the summary")

	assert.Equal(t, StatusCompleted, summary.Status)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Failed)
	require.Len(t, summary.Errors, 2)
	assert.Contains(t, summary.Errors[0], "disk full")
}

func TestRebuildRankingsAborted(t *testing.T) {
	catalog := cachestore.NewMemoryCatalog(newSeed(3))
	engine := ranking.NewEngine(catalog, cachestore.NewMemoryStore(), ranking.Defaults())
	recomputer := NewRecomputer(catalog, engine, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := recomputer.RebuildRankings(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, summary.Status)
	assert.Zero(t, summary.Processed)
}

func TestRebuildNearestMerchants(t *testing.T) {
	ctx := context.Background()
	catalog := cachestore.NewMemoryCatalog(newSeed(5))
	store := cachestore.NewMemoryStore()
	cfg := ranking.Defaults()
	cfg.NearestMerchantsLimit = 3
	recomputer := NewRecomputer(catalog, ranking.NewEngine(catalog, store, cfg), testConfig())

	summary, err := recomputer.Run(ctx, JobNearestMerchants)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)

	set, err := store.GetNearestMerchants(ctx, "rp1")
	require.NoError(t, err)
	require.Len(t, set.Merchants, 3)
	assert.Equal(t, "m00", set.Merchants[0].MerchantID)
}

func TestRebuildCommonCategories(t *testing.T) {
	ctx := context.Background()
	catalog := cachestore.NewMemoryCatalog(newSeed(4))
	store := cachestore.NewMemoryStore()
	recomputer := NewRecomputer(catalog, ranking.NewEngine(catalog, store, ranking.Defaults()), testConfig())

	summary, err := recomputer.Run(ctx, JobCommonCategories)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)

	set, err := store.GetCommonCategory(ctx, ranking.CommonCategoryKey{ReferencePointID: "rp1", CategoryID: "staples", MarketID: "market"})
	require.NoError(t, err)
	assert.Equal(t, 4, set.MerchantCount)
	assert.Equal(t, 8, set.OfferCount)
}

// blockingExecutor blocks until released so concurrent triggers can be observed.
type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (e *blockingExecutor) Run(ctx context.Context, job Name) (*Summary, error) {
	e.once.Do(func() { close(e.started) })
	select {
	case <-e.release:
	case <-ctx.Done():
	}
	return &Summary{RunID: "run", Job: job, Status: StatusCompleted}, nil
}

func TestRunnerRejectsConcurrentRun(t *testing.T) {
	exec := &blockingExecutor{started: make(chan struct{}), release: make(chan struct{})}
	runner := NewRunner(exec)

	require.NoError(t, runner.Trigger(JobRankings))
	<-exec.started

	err := runner.Trigger(JobRankings)
	assert.ErrorIs(t, err, ranking.ErrJobRunning)
	_, err = runner.Run(context.Background(), JobRankings)
	assert.ErrorIs(t, err, ranking.ErrJobRunning)

	running, _ := runner.Status()
	assert.Equal(t, []Name{JobRankings}, running)

	close(exec.release)
	require.NoError(t, runner.Shutdown(context.Background()))

	running, last := runner.Status()
	assert.Empty(t, running)
	require.Len(t, last, 1)
	assert.Equal(t, JobRankings, last[0].Job)

	// Another job is independent.
	_, err = runner.Run(context.Background(), JobNearestMerchants)
	assert.NoError(t, err)
}

func TestNextRun(t *testing.T) {
	loc := time.FixedZone("WET", 3600)

	before := time.Date(2026, 3, 10, 2, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 10, 3, 0, 0, 0, loc), nextRun(before, 3, 0, loc))

	exact := time.Date(2026, 3, 10, 3, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 11, 3, 0, 0, 0, loc), nextRun(exact, 3, 0, loc))

	after := time.Date(2026, 3, 31, 23, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 4, 1, 3, 30, 0, 0, loc), nextRun(after, 3, 30, loc))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.RankingsAt = "25:00"
	var cfgErr ranking.ErrInvalidConfig
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
	assert.Equal(t, "jobs.rankings_at", cfgErr.Field)

	cfg = DefaultConfig()
	cfg.Workers = 0
	assert.Error(t, cfg.Validate())
}

func TestSchedulerDisabled(t *testing.T) {
	logger := zerolog.Nop()
	cfg := DefaultConfig()
	cfg.Enabled = false

	s := NewScheduler(NewRunner(&blockingExecutor{}), cfg, &logger)
	require.NoError(t, s.Start())
	s.Stop()
}
