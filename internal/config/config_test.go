package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/fisheye/internal/stabilize"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, infoLevel, cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, stabilize.DefaultFrameParams(), cfg.ToFrameParams())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "trace" }},
		{"focal length", func(c *Config) { c.Lens.CameraMatrix[1][1] = -1 }},
		{"calibration width", func(c *Config) { c.Lens.CalibrationWidth = 0 }},
		{"calibration height", func(c *Config) { c.Lens.CalibrationHeight = 0 }},
		{"fov scale", func(c *Config) { c.View.FOVScale = 0 }},
		{"output aspect", func(c *Config) { c.View.OutputAspect = -1 }},
		{"engine workers", func(c *Config) { c.Engine.Workers = -2 }},
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"upload size", func(c *Config) { c.Server.MaxUploadMB = 0 }},
		{"timeout", func(c *Config) { c.Server.TimeoutSec = 0 }},
		{"rate limit", func(c *Config) { c.Server.RateLimit.FramesPerMinute = -1 }},
		{"batch workers", func(c *Config) { c.Batch.Workers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_Conversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Size = 3
	cfg.Engine.Workers = 5
	cfg.Batch.Workers = 7
	cfg.Batch.OutputDir = "out"
	cfg.View.OutputAspect = 1.5

	sc := cfg.ToStabilizerConfig()
	assert.Equal(t, 3, sc.CacheSize)
	assert.Equal(t, 5, sc.Engine.Workers)

	bc := cfg.ToBatchConfig()
	assert.Equal(t, 7, bc.Workers)
	assert.Equal(t, "out", bc.OutputDir)
	assert.InDelta(t, 1.5, bc.OutputAspect, 0)
}
