package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

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
	require.NoError(t, err, "Failed to get connection string")

	pool, err := NewPool(ctx, PoolConfig{URL: connStr, MaxConns: 10})
	require.NoError(t, err, "Failed to create connection pool")

	require.NoError(t, Migrate(ctx, pool), "Failed to run migrations")

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
	return pool, cleanup
}

// seedCatalog inserts one reference point in Casablanca, twelve nearby
// merchants in market "market" selling product p1 at 60, 70, ... and a
// merchant without coordinates.
func seedCatalog(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO reference_points (id, name, city, latitude, longitude, active, display_order) VALUES
			('rp1', 'Maarif', 'Casablanca', 33.5731, -7.5898, true, 1),
			('rp-off', 'Closed', 'Casablanca', 33.5731, -7.5898, false, 2);
		INSERT INTO categories (id, name, is_common) VALUES ('staples', 'Staples', true), ('electronics', 'Electronics', false);
		INSERT INTO products (id, category_id, name_fr, name_ar, images) VALUES
			('p1', 'staples', 'Farine', 'دقيق', '{"flour.png"}'),
			('p2', 'electronics', 'Radio', 'راديو', '{}');
		INSERT INTO merchants (id, market_id, business_name, city, latitude, longitude, active)
			VALUES ('m-nogeo', 'market', 'No Geo', 'Casablanca', NULL, NULL, true);
	`)
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		_, err := pool.Exec(ctx, `
			INSERT INTO merchants (id, market_id, business_name, city, latitude, longitude, active)
			VALUES ($1, 'market', $2, 'Casablanca', $3, -7.5898, true)
		`, fmt.Sprintf("m%02d", i), fmt.Sprintf("Shop %d", i), 33.5731+0.001*float64(i))
		require.NoError(t, err)

		_, err = pool.Exec(ctx, `
			INSERT INTO offers (id, merchant_id, product_id, price, quantity, available, same_city_fee, other_city_fee)
			VALUES ($1, $2, 'p1', $3, 5, true, 20, 50)
		`, fmt.Sprintf("o%02d", i), fmt.Sprintf("m%02d", i), 60+10*i)
		require.NoError(t, err)
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO offers (id, merchant_id, product_id, price, quantity, available) VALUES
			('o-nogeo', 'm-nogeo', 'p1', 1, 5, true),
			('o-empty', 'm00', 'p2', 10, 0, true);
	`)
	require.NoError(t, err)
}

func TestCatalog(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	seedCatalog(t, pool)

	ctx := context.Background()
	catalog := NewCatalog(pool)

	points, err := catalog.ReferencePoints(ctx)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "Casablanca", points[0].City)

	_, err = catalog.ReferencePoint(ctx, "rp-off")
	assert.ErrorIs(t, err, ranking.ErrNotFound)

	markets, err := catalog.MarketIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"market"}, markets)

	categories, err := catalog.CommonCategoryIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"staples"}, categories)

	offers, err := catalog.AvailableOffers(ctx, "p1", "market")
	require.NoError(t, err)
	assert.Len(t, offers, 13)
	assert.Equal(t, "market", offers[0].MarketID)
	assert.Equal(t, []string{"flour.png"}, offers[0].Product.Images)

	offer, err := catalog.Offer(ctx, "o-nogeo")
	require.NoError(t, err)
	assert.ErrorIs(t, ranking.ValidateLocation(offer.Merchant.Location), ranking.ErrInvalidCoordinates)

	empty, err := catalog.AvailableOffers(ctx, "p2", "market")
	require.NoError(t, err)
	assert.Empty(t, empty, "out of stock offers are not rankable")

	_, err = catalog.Offer(ctx, "missing")
	assert.ErrorIs(t, err, ranking.ErrNotFound)

	common, err := catalog.CategoryOffers(ctx, "staples", []string{"m00", "m01"})
	require.NoError(t, err)
	assert.Len(t, common, 2)
}

func TestStoreUpdateRankedSet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)
	key := ranking.Key{ReferencePointID: "rp1", ProductID: "p1", MarketID: "market"}

	_, err := store.GetRankedSet(ctx, key)
	assert.ErrorIs(t, err, ranking.ErrNotFound)
	_, err = store.GetThreshold(ctx, key)
	assert.ErrorIs(t, err, ranking.ErrNotFound)
	set, th, err := store.GetEntry(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, set)
	assert.Nil(t, th)

	t.Run("fn error rolls back", func(t *testing.T) {
		_, err := store.UpdateRankedSet(ctx, key, func([]ranking.ScoredOffer) ([]ranking.ScoredOffer, error) {
			return nil, assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)
		_, err = store.GetRankedSet(ctx, key)
		assert.ErrorIs(t, err, ranking.ErrNotFound)
	})

	_, err = store.UpdateRankedSet(ctx, key, func(current []ranking.ScoredOffer) ([]ranking.ScoredOffer, error) {
		assert.Empty(t, current)
		return []ranking.ScoredOffer{{MerchantID: "a", Score: 10}, {MerchantID: "b", Score: 25}}, nil
	})
	require.NoError(t, err)

	set, err = store.GetRankedSet(ctx, key)
	require.NoError(t, err)
	th, err = store.GetThreshold(ctx, key)
	require.NoError(t, err)
	assert.Len(t, set.Offers, 2)
	assert.Equal(t, int64(25), th.WorstScore)
	assert.True(t, ranking.Consistent(set, th))

	entrySet, entryTh, err := store.GetEntry(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, set.Offers, entrySet.Offers)
	assert.Equal(t, th.WorstScore, entryTh.WorstScore)
	assert.Equal(t, th.Occupancy, entryTh.Occupancy)

	_, err = store.UpdateRankedSet(ctx, key, func([]ranking.ScoredOffer) ([]ranking.ScoredOffer, error) {
		return nil, nil
	})
	require.NoError(t, err)
	th, err = store.GetThreshold(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, ranking.SentinelScore, th.WorstScore)
	assert.Equal(t, 0, th.Occupancy)
}

func TestStoreConcurrentUpserts(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)
	key := ranking.Key{ReferencePointID: "rp1", ProductID: "p1", MarketID: "market"}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			offer := ranking.ScoredOffer{MerchantID: fmt.Sprintf("m%d", i), Score: int64(i)}
			_, err := store.UpdateRankedSet(ctx, key, func(current []ranking.ScoredOffer) ([]ranking.ScoredOffer, error) {
				return ranking.Upsert(current, offer, ranking.DefaultTopK), nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	set, err := store.GetRankedSet(ctx, key)
	require.NoError(t, err)
	th, err := store.GetThreshold(ctx, key)
	require.NoError(t, err)

	require.Len(t, set.Offers, ranking.DefaultTopK)
	assert.Equal(t, int64(9), th.WorstScore, "no upsert may be lost")
	assert.True(t, ranking.Consistent(set, th))
}

func TestStoreListAndCaches(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, product := range []string{"p1", "p2"} {
		at := base.Add(time.Duration(i) * time.Hour)
		store.now = func() time.Time { return at }
		_, err := store.UpdateRankedSet(ctx, ranking.Key{ReferencePointID: "rp1", ProductID: product, MarketID: "market"},
			func([]ranking.ScoredOffer) ([]ranking.ScoredOffer, error) { return nil, nil })
		require.NoError(t, err)
	}

	all, err := store.ListRankedSets(ctx, "rp1", "market", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	recent, err := store.ListRankedSets(ctx, "rp1", "market", base)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "p2", recent[0].Key.ProductID)

	require.NoError(t, store.PutNearestMerchants(ctx, &ranking.NearestMerchantsSet{
		ReferencePointID: "rp1",
		Merchants:        []ranking.NearbyMerchant{{MerchantID: "m1", DistanceMeters: 10}},
		CalculatedAt:     base,
	}))
	nearest, err := store.GetNearestMerchants(ctx, "rp1")
	require.NoError(t, err)
	assert.Len(t, nearest.Merchants, 1)

	key := ranking.CommonCategoryKey{ReferencePointID: "rp1", CategoryID: "staples", MarketID: "market"}
	require.NoError(t, store.PutCommonCategory(ctx, &ranking.CommonCategorySet{
		Key: key, Offers: []ranking.CommonOffer{{OfferID: "o1"}}, MerchantCount: 1, OfferCount: 1, CalculatedAt: base,
	}))
	common, err := store.GetCommonCategory(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, common.OfferCount)
	assert.Equal(t, "o1", common.Offers[0].OfferID)
}

func TestEngineOnPostgres(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	seedCatalog(t, pool)

	ctx := context.Background()
	catalog := NewCatalog(pool)
	store := NewStore(pool)
	engine := ranking.NewEngine(catalog, store, ranking.Defaults())

	point, err := catalog.ReferencePoint(ctx, "rp1")
	require.NoError(t, err)

	set, err := engine.RecomputeKey(ctx, *point, "p1", "market")
	require.NoError(t, err)
	require.Len(t, set.Offers, ranking.DefaultTopK)
	assert.Equal(t, int64(60), set.Offers[0].Score, "merchant without coordinates is skipped")

	// m02 runs out of stock; m10 should move into the list.
	_, err = pool.Exec(ctx, `UPDATE offers SET quantity = 0 WHERE id = 'o02'`)
	require.NoError(t, err)
	offer, err := catalog.Offer(ctx, "o02")
	require.NoError(t, err)

	summary, err := engine.OnOfferChanged(ctx, ranking.OfferChange{Offer: *offer, Action: ranking.ActionUpdate})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Outcomes[ranking.OutcomeRefilled])

	key := ranking.Key{ReferencePointID: "rp1", ProductID: "p1", MarketID: "market"}
	got, err := store.GetRankedSet(ctx, key)
	require.NoError(t, err)
	th, err := store.GetThreshold(ctx, key)
	require.NoError(t, err)
	assert.True(t, ranking.ContainsMerchant(got.Offers, "m10"))
	assert.False(t, ranking.ContainsMerchant(got.Offers, "m02"))
	assert.Equal(t, int64(160), th.WorstScore)
}
