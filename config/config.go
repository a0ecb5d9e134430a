package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/souqnear/ranking-service/internal/jobs"
	"github.com/souqnear/ranking-service/internal/ranking"
)

// Cache backends for ranked sets and the distance caches.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Ranking   ranking.Config  `mapstructure:"ranking"`
	Jobs      jobs.Config     `mapstructure:"jobs"`
	Events    EventsConfig    `mapstructure:"events"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Export    ExportConfig    `mapstructure:"export"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	InternalAPIKey string        `mapstructure:"internal_api_key"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds the Redis connection used by the redis cache backend
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	PoolSize  int    `mapstructure:"pool_size"`
}

// CacheConfig selects where ranked sets, thresholds and distance caches live.
// The catalog is always read from Postgres unless SeedFile is set.
type CacheConfig struct {
	Backend  string `mapstructure:"backend"`
	SeedFile string `mapstructure:"seed_file"`
}

// EventsConfig controls the offer-change ingress
type EventsConfig struct {
	Async         bool          `mapstructure:"async"`
	Workers       int           `mapstructure:"workers"`
	MaxTasks      int           `mapstructure:"max_tasks"`
	PollDelay     time.Duration `mapstructure:"poll_delay"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	OrphanAfter   time.Duration `mapstructure:"orphan_after"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	PublicRequestsPerSecond   float64 `mapstructure:"public_requests_per_second"`
	PublicBurst               int     `mapstructure:"public_burst"`
	InternalRequestsPerSecond float64 `mapstructure:"internal_requests_per_second"`
	InternalBurst             int     `mapstructure:"internal_burst"`
}

// TelemetryConfig holds the OpenTelemetry exporter settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// ExportConfig holds the operator export settings
type ExportConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

var globalConfig *Config

// Load loads the configuration from file, .env, and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := loadEnvFile(); err != nil {
		// .env is optional
		log.Debug().Err(err).Msg(".env file not loaded")
	}

	v.SetEnvPrefix("RANKING_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		// Without an explicit path the file is optional.
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Validate checks every section that has invariants.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case BackendPostgres, BackendRedis, BackendMemory:
	default:
		return ranking.ErrInvalidConfig{Field: "cache.backend", Reason: fmt.Sprintf("unknown backend %q", c.Cache.Backend)}
	}
	if c.Cache.Backend == BackendMemory && c.Events.Async {
		return ranking.ErrInvalidConfig{Field: "events.async", Reason: "requires a database"}
	}
	if err := c.Ranking.Validate(); err != nil {
		return err
	}
	return c.Jobs.Validate()
}

// NeedsDatabase reports whether Postgres must be reachable.
func (c *Config) NeedsDatabase() bool {
	return c.Cache.Backend != BackendMemory || c.Cache.SeedFile == ""
}

// envFileCandidates are searched in order; the first existing file is loaded.
var envFileCandidates = []string{".env", "config/.env"}

// loadEnvFile loads the first .env file found. Variables already present in
// the environment are not overridden.
func loadEnvFile() error {
	for _, path := range envFileCandidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		return nil
	}
	return fmt.Errorf("no .env file found")
}

// bindEnvVars binds the conventional unprefixed variables
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("redis.url", "REDIS_URL")

	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.host", "HOST")
	v.BindEnv("server.internal_api_key", "INTERNAL_API_KEY")

	v.BindEnv("logging.level", "LOG_LEVEL")

	v.BindEnv("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("telemetry.service_name", "OTEL_SERVICE_NAME")

	v.BindEnv("export.base_path", "EXPORT_PATH")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.max_conn_lifetime", 1*time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.key_prefix", "ranking")
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("cache.backend", BackendPostgres)

	r := ranking.Defaults()
	v.SetDefault("ranking.top_k", r.TopK)
	v.SetDefault("ranking.near_threshold_m", r.NearThresholdMeters)
	v.SetDefault("ranking.common_radius_m", r.CommonRadiusMeters)
	v.SetDefault("ranking.nearest_merchants_limit", r.NearestMerchantsLimit)
	v.SetDefault("ranking.result_limit", r.ResultLimit)
	v.SetDefault("ranking.read_mode", r.ReadMode)
	v.SetDefault("ranking.fanout_concurrency", r.FanoutConcurrency)
	v.SetDefault("ranking.point_timeout", r.PointTimeout)
	v.SetDefault("ranking.refresh_common_on_change", r.RefreshCommonOnChange)

	j := jobs.DefaultConfig()
	v.SetDefault("jobs.workers", j.Workers)
	v.SetDefault("jobs.per_key_timeout", j.PerKeyTimeout)
	v.SetDefault("jobs.max_errors", j.MaxErrors)
	v.SetDefault("jobs.enabled", j.Enabled)
	v.SetDefault("jobs.timezone", j.Timezone)
	v.SetDefault("jobs.rankings_at", j.RankingsAt)
	v.SetDefault("jobs.nearest_merchants_at", j.NearestAt)
	v.SetDefault("jobs.common_categories_at", j.CommonAt)
	v.SetDefault("jobs.queue_cleanup_at", j.QueueCleanupAt)
	v.SetDefault("jobs.queue_retain_days", j.QueueRetainDays)

	v.SetDefault("events.async", false)
	v.SetDefault("events.workers", 4)
	v.SetDefault("events.max_tasks", 10)
	v.SetDefault("events.poll_delay", 1*time.Second)
	v.SetDefault("events.sweep_interval", 5*time.Minute)
	v.SetDefault("events.orphan_after", 10*time.Minute)

	v.SetDefault("rate_limit.public_requests_per_second", 20)
	v.SetDefault("rate_limit.public_burst", 40)
	v.SetDefault("rate_limit.internal_requests_per_second", 50)
	v.SetDefault("rate_limit.internal_burst", 100)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "opentelemetry-collector:4317")
	v.SetDefault("telemetry.service_name", "ranking-service")

	v.SetDefault("export.base_path", "./data/exports")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.no_color", false)
}

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}
