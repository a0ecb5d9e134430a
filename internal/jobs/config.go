package jobs

import (
	"fmt"
	"time"

	"github.com/souqnear/ranking-service/internal/ranking"
)

// Config configures the batch recomputer and its nightly schedule.
type Config struct {
	Workers       int           `mapstructure:"workers"`
	PerKeyTimeout time.Duration `mapstructure:"per_key_timeout"`
	MaxErrors     int           `mapstructure:"max_errors"`

	// Schedule, as HH:MM in Timezone
	Enabled         bool   `mapstructure:"enabled"`
	Timezone        string `mapstructure:"timezone"`
	RankingsAt      string `mapstructure:"rankings_at"`
	NearestAt       string `mapstructure:"nearest_merchants_at"`
	CommonAt        string `mapstructure:"common_categories_at"`
	QueueCleanupAt  string `mapstructure:"queue_cleanup_at"`
	QueueRetainDays int    `mapstructure:"queue_retain_days"`
}

// DefaultConfig returns the default job configuration.
func DefaultConfig() Config {
	return Config{
		Workers:         8,
		PerKeyTimeout:   30 * time.Second,
		MaxErrors:       20,
		Enabled:         true,
		Timezone:        "Africa/Casablanca",
		RankingsAt:      "03:00",
		NearestAt:       "03:30",
		CommonAt:        "04:00",
		QueueCleanupAt:  "05:00",
		QueueRetainDays: 7,
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return ranking.ErrInvalidConfig{Field: "jobs.workers", Reason: "must be at least 1"}
	}
	if c.PerKeyTimeout <= 0 {
		return ranking.ErrInvalidConfig{Field: "jobs.per_key_timeout", Reason: "must be positive"}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return ranking.ErrInvalidConfig{Field: "jobs.timezone", Reason: err.Error()}
	}
	for field, value := range map[string]string{
		"jobs.rankings_at":          c.RankingsAt,
		"jobs.nearest_merchants_at": c.NearestAt,
		"jobs.common_categories_at": c.CommonAt,
		"jobs.queue_cleanup_at":     c.QueueCleanupAt,
	} {
		if _, _, err := parseClock(value); err != nil {
			return ranking.ErrInvalidConfig{Field: field, Reason: err.Error()}
		}
	}
	return nil
}

// parseClock parses an HH:MM wall clock time.
func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}
