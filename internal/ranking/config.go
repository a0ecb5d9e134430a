package ranking

import "time"

// Read modes of the query path.
const (
	ReadModeLive   = "live"
	ReadModeAnchor = "anchor"
)

// Config holds the configuration of the ranking engine and its read path.
type Config struct {
	// Ranked set capacity
	TopK int `mapstructure:"top_k" env:"TOP_K" default:"10"`

	// Distances in meters
	NearThresholdMeters   float64 `mapstructure:"near_threshold_m" env:"NEAR_THRESHOLD_M" default:"2500"`
	CommonRadiusMeters    float64 `mapstructure:"common_radius_m" env:"COMMON_RADIUS_M" default:"10000"`
	NearestMerchantsLimit int     `mapstructure:"nearest_merchants_limit" env:"NEAREST_MERCHANTS_LIMIT" default:"100"`

	// Read path
	ResultLimit int    `mapstructure:"result_limit" env:"RESULT_LIMIT" default:"3"`
	ReadMode    string `mapstructure:"read_mode" env:"READ_MODE" default:"live"`

	// Incremental updater
	FanoutConcurrency     int           `mapstructure:"fanout_concurrency" env:"FANOUT_CONCURRENCY" default:"8"`
	PointTimeout          time.Duration `mapstructure:"point_timeout" env:"POINT_TIMEOUT" default:"10s"`
	RefreshCommonOnChange bool          `mapstructure:"refresh_common_on_change" env:"REFRESH_COMMON_ON_CHANGE" default:"true"`
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		TopK:                  DefaultTopK,
		NearThresholdMeters:   DefaultNearThresholdMeters,
		CommonRadiusMeters:    10000,
		NearestMerchantsLimit: 100,
		ResultLimit:           3,
		ReadMode:              ReadModeLive,
		FanoutConcurrency:     8,
		PointTimeout:          10 * time.Second,
		RefreshCommonOnChange: true,
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.TopK < 1 {
		return ErrInvalidConfig{Field: "top_k", Reason: "must be at least 1"}
	}
	if c.NearThresholdMeters <= 0 {
		return ErrInvalidConfig{Field: "near_threshold_m", Reason: "must be positive"}
	}
	if c.CommonRadiusMeters <= 0 {
		return ErrInvalidConfig{Field: "common_radius_m", Reason: "must be positive"}
	}
	if c.NearestMerchantsLimit < 1 {
		return ErrInvalidConfig{Field: "nearest_merchants_limit", Reason: "must be at least 1"}
	}
	if c.ResultLimit < 1 {
		return ErrInvalidConfig{Field: "result_limit", Reason: "must be at least 1"}
	}
	if c.ReadMode != ReadModeLive && c.ReadMode != ReadModeAnchor {
		return ErrInvalidConfig{Field: "read_mode", Reason: "must be live or anchor"}
	}
	if c.FanoutConcurrency < 1 {
		return ErrInvalidConfig{Field: "fanout_concurrency", Reason: "must be at least 1"}
	}
	if c.PointTimeout <= 0 {
		return ErrInvalidConfig{Field: "point_timeout", Reason: "must be positive"}
	}
	return nil
}
