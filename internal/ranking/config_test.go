package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Defaults().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"top k", func(c *Config) { c.TopK = 0 }, "top_k"},
		{"near threshold", func(c *Config) { c.NearThresholdMeters = 0 }, "near_threshold_m"},
		{"common radius", func(c *Config) { c.CommonRadiusMeters = -1 }, "common_radius_m"},
		{"nearest limit", func(c *Config) { c.NearestMerchantsLimit = 0 }, "nearest_merchants_limit"},
		{"result limit", func(c *Config) { c.ResultLimit = 0 }, "result_limit"},
		{"read mode", func(c *Config) { c.ReadMode = "cached" }, "read_mode"},
		{"fanout", func(c *Config) { c.FanoutConcurrency = 0 }, "fanout_concurrency"},
		{"point timeout", func(c *Config) { c.PointTimeout = 0 }, "point_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			var cfgErr ErrInvalidConfig
			if assert.ErrorAs(t, err, &cfgErr) {
				assert.Equal(t, tt.field, cfgErr.Field)
			}
		})
	}
}
