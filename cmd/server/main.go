package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/souqnear/ranking-service/config"
	"github.com/souqnear/ranking-service/internal/app"
	"github.com/souqnear/ranking-service/internal/handlers"
	"github.com/souqnear/ranking-service/internal/jobs"
	"github.com/souqnear/ranking-service/internal/middleware"
	"github.com/souqnear/ranking-service/internal/sweepers"
	"github.com/souqnear/ranking-service/internal/telemetry"
	"github.com/souqnear/ranking-service/internal/workers"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)
	log.Logger = *logger

	logger.Info().Msg("Starting ranking service")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Telemetry.Environment,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize ranking engine")
	}
	defer a.Close()

	scheduler := jobs.NewScheduler(a.Runner, cfg.Jobs, logger)
	if a.Queue != nil {
		scheduler = scheduler.WithQueueCleanup(a.Queue.CleanupOldTasks)
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	deps := handlers.Dependencies{
		Query:   a.Query,
		Updater: a.Updater(),
		Jobs:    a.Runner,
	}
	if a.Pool != nil {
		deps.Database = a.Pool
	}
	if a.Redis != nil {
		deps.Redis = handlers.PingFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		})
	}

	var (
		offerWorker *workers.Worker
		taskSweeper *sweepers.TaskQueueSweeper
	)
	if cfg.Events.Async {
		deps.Enqueuer = a.Queue

		offerWorker = workers.NewOfferChangeWorker(a.Queue, a.Updater(), workers.OfferChangeConfig{
			WorkerID:   hostWorkerID(),
			NumWorkers: cfg.Events.Workers,
			MaxTasks:   cfg.Events.MaxTasks,
			PollDelay:  cfg.Events.PollDelay,
		})
		offerWorker.Start(ctx)

		taskSweeper = sweepers.NewTaskQueueSweeper(a.Queue, logger, cfg.Events.SweepInterval, cfg.Events.OrphanAfter)
		go taskSweeper.Start(ctx)
	}

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	setupMiddleware(router, logger)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	publicLimiter := middleware.NewIPRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.PublicRequestsPerSecond,
		BurstSize:         cfg.RateLimit.PublicBurst,
	})
	go publicLimiter.RunCleanup(ctx, time.Minute)

	public := router.Group("/")
	public.Use(middleware.RateLimitMiddleware(publicLimiter))

	internal := router.Group("/internal")
	internal.Use(middleware.InternalAuthMiddleware(cfg.Server.InternalAPIKey))
	internal.Use(middleware.ServiceRateLimitMiddleware(cfg.RateLimit.InternalRequestsPerSecond, cfg.RateLimit.InternalBurst))

	handlers.New(deps).RegisterRoutes(public, internal)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	scheduler.Stop()
	if offerWorker != nil {
		offerWorker.Stop()
	}
	if taskSweeper != nil {
		taskSweeper.Stop()
	}
	if err := a.Runner.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Batch jobs did not stop in time")
	}
	stop()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Failed to flush telemetry")
	}

	logger.Info().Msg("Server exited")
}

func hostWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "offer-worker"
	}
	return "offer-worker-" + host
}

func initLogger(cfg config.LoggingConfig) *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("service", "ranking-service").Logger()
	return &logger
}

func setupMiddleware(router *gin.Engine, logger *zerolog.Logger) {
	router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("HTTP request")
	})
}
