// Package app assembles the ranking components from configuration. The
// server and the CLI share it.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/souqnear/ranking-service/config"
	"github.com/souqnear/ranking-service/internal/cachestore"
	"github.com/souqnear/ranking-service/internal/database"
	"github.com/souqnear/ranking-service/internal/jobs"
	"github.com/souqnear/ranking-service/internal/query"
	"github.com/souqnear/ranking-service/internal/ranking"
	"github.com/souqnear/ranking-service/internal/taskqueue"
	"github.com/souqnear/ranking-service/internal/workers"
)

// App holds the wired components. Pool and Queue are nil when no database is
// used; Redis is nil unless the redis backend is selected.
type App struct {
	Config     *config.Config
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Catalog    ranking.Catalog
	Store      ranking.Store
	Engine     *ranking.Engine
	Query      *query.Service
	Recomputer *jobs.Recomputer
	Runner     *jobs.Runner
	Queue      *taskqueue.TaskQueue

	seeded *cachestore.MemoryCatalog
	logger zerolog.Logger
}

// New connects the configured backends and builds the engine around them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config: cfg,
		logger: log.With().Str("component", "app").Logger(),
	}

	if cfg.NeedsDatabase() {
		if cfg.Database.URL == "" {
			return nil, fmt.Errorf("DATABASE_URL not set")
		}
		if err := database.Connect(ctx, database.PoolConfig{
			URL:         cfg.Database.URL,
			MaxConns:    cfg.Database.MaxConnections,
			MinConns:    cfg.Database.MinConnections,
			MaxLifetime: cfg.Database.MaxConnLifetime,
			MaxIdleTime: cfg.Database.MaxConnIdleTime,
		}); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.Pool = database.Pool()
		a.Queue = taskqueue.New(a.Pool)
		a.logger.Info().Msg("Database connected")

		if cfg.Database.AutoMigrate {
			if err := database.Migrate(ctx, a.Pool); err != nil {
				a.Close()
				return nil, err
			}
		}
	}

	if err := a.openCatalog(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Engine = ranking.NewEngine(a.Catalog, a.Store, &cfg.Ranking)
	a.Query = query.NewService(a.Catalog, a.Store, &cfg.Ranking)
	a.Recomputer = jobs.NewRecomputer(a.Catalog, a.Engine, cfg.Jobs)
	a.Runner = jobs.NewRunner(a.Recomputer)

	a.logger.Info().
		Str("backend", cfg.Cache.Backend).
		Bool("seeded", a.seeded != nil).
		Str("read_mode", cfg.Ranking.ReadMode).
		Msg("Ranking engine ready")
	return a, nil
}

func (a *App) openCatalog() error {
	if a.Config.Cache.SeedFile == "" {
		if a.Pool == nil {
			return fmt.Errorf("no catalog: set cache.seed_file or DATABASE_URL")
		}
		a.Catalog = database.NewCatalog(a.Pool)
		return nil
	}

	seed, err := cachestore.LoadSeedFile(a.Config.Cache.SeedFile)
	if err != nil {
		return err
	}
	a.seeded = cachestore.NewMemoryCatalog(seed)
	a.Catalog = a.seeded
	a.logger.Info().
		Str("seed_file", a.Config.Cache.SeedFile).
		Int("reference_points", len(seed.ReferencePoints)).
		Int("merchants", len(seed.Merchants)).
		Int("offers", len(seed.Offers)).
		Msg("Catalog loaded from seed")
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Cache.Backend {
	case config.BackendPostgres:
		a.Store = database.NewStore(a.Pool)
	case config.BackendRedis:
		rc := a.Config.Redis
		client, err := cachestore.NewRedisClient(cachestore.RedisConfig{
			URL:      rc.URL,
			Address:  rc.Address,
			Password: rc.Password,
			DB:       rc.DB,
			PoolSize: rc.PoolSize,
		})
		if err != nil {
			return err
		}
		store := cachestore.NewRedisStore(client, rc.KeyPrefix)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Redis = client
		a.Store = store
	case config.BackendMemory:
		a.Store = cachestore.NewMemoryStore()
	default:
		return fmt.Errorf("unknown cache backend %q", a.Config.Cache.Backend)
	}
	return nil
}

// Updater returns what offer changes are fed to. A seeded catalog mirrors
// each change before the engine sees it, since no upstream writer exists.
func (a *App) Updater() workers.Updater {
	if a.seeded != nil {
		return &mirroringUpdater{catalog: a.seeded, engine: a.Engine}
	}
	return a.Engine
}

type mirroringUpdater struct {
	catalog *cachestore.MemoryCatalog
	engine  *ranking.Engine
}

func (u *mirroringUpdater) OnOfferChanged(ctx context.Context, change ranking.OfferChange) (*ranking.UpdateSummary, error) {
	if err := ranking.ValidateChange(change); err != nil {
		return nil, err
	}
	u.catalog.ApplyChange(change)
	return u.engine.OnOfferChanged(ctx, change)
}

// Close releases the connections opened by New.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close redis client")
		}
		a.Redis = nil
	}
	if a.Pool != nil {
		database.Close()
		a.Pool = nil
	}
}
