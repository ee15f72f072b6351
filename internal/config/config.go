package config

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"strings"

	"github.com/MeKo-Tech/fisheye/internal/batch"
	"github.com/MeKo-Tech/fisheye/internal/rectify"
	"github.com/MeKo-Tech/fisheye/internal/stabilize"
)

const infoLevel = "info"

// DefaultConfig returns the default configuration: the reference camera
// calibration, an unscaled view and one engine worker per CPU.
func DefaultConfig() Config {
	params := stabilize.DefaultFrameParams()
	return Config{
		LogLevel: infoLevel,
		Verbose:  false,
		Lens: LensConfig{
			CameraMatrix:      params.CameraMatrix,
			Distortion:        params.Distortion,
			CalibrationWidth:  params.CalibrationSize.Width,
			CalibrationHeight: params.CalibrationSize.Height,
		},
		View: ViewConfig{
			FOVScale:            params.FOVScale,
			CorrectionQuat:      params.CorrectionQuat,
			RotationSubsampling: params.RotationSubsampling,
			OutputAspect:        0,
		},
		Engine: EngineConfig{
			Workers:    runtime.NumCPU(),
			RowsPerJob: rectify.DefaultConfig().RowsPerJob,
		},
		Cache: CacheConfig{
			Size: stabilize.DefaultCacheSize,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     100,
			TimeoutSec:      60,
			ShutdownTimeout: 10,
			RateLimit: RateLimitConfig{
				Enabled:         false,
				FramesPerMinute: 600,
				FramesPerHour:   20000,
				FramesPerDay:    100000,
				BytesPerDay:     10 << 30,
			},
		},
		Batch: BatchConfig{
			Workers:         max(1, runtime.NumCPU()/2),
			OutputDir:       "rectified",
			ContinueOnError: false,
			Recursive:       false,
		},
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if err := c.ToFrameParams().Validate(); err != nil {
		return fmt.Errorf("invalid lens or view settings: %w", err)
	}
	if c.Lens.CalibrationHeight <= 0 {
		return fmt.Errorf("invalid calibration height: %d (must be positive)", c.Lens.CalibrationHeight)
	}
	if c.View.OutputAspect < 0 || math.IsNaN(c.View.OutputAspect) {
		return fmt.Errorf("invalid output aspect: %g (must be 0 or positive)", c.View.OutputAspect)
	}

	if c.Engine.Workers < 0 {
		return fmt.Errorf("invalid engine workers: %d (must not be negative)", c.Engine.Workers)
	}
	if c.Engine.RowsPerJob < 0 {
		return fmt.Errorf("invalid engine rows per job: %d (must not be negative)", c.Engine.RowsPerJob)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if rl := c.Server.RateLimit; rl.FramesPerMinute < 0 || rl.FramesPerHour < 0 || rl.FramesPerDay < 0 || rl.BytesPerDay < 0 {
		return errors.New("invalid rate limit: limits must not be negative")
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}
	return nil
}

// ToFrameParams converts the lens and view sections into render parameters.
func (c *Config) ToFrameParams() stabilize.FrameParams {
	return stabilize.FrameParams{
		CameraMatrix: c.Lens.CameraMatrix,
		Distortion:   c.Lens.Distortion,
		CalibrationSize: stabilize.Size{
			Width:  c.Lens.CalibrationWidth,
			Height: c.Lens.CalibrationHeight,
		},
		CorrectionQuat:      c.View.CorrectionQuat,
		FOVScale:            c.View.FOVScale,
		RotationSubsampling: c.View.RotationSubsampling,
	}
}

// ToStabilizerConfig converts the engine and cache sections.
func (c *Config) ToStabilizerConfig() stabilize.Config {
	return stabilize.Config{
		CacheSize: c.Cache.Size,
		Engine: rectify.Config{
			Workers:    c.Engine.Workers,
			RowsPerJob: c.Engine.RowsPerJob,
		},
	}
}

// ToBatchConfig converts the batch section.
func (c *Config) ToBatchConfig() batch.Config {
	cfg := batch.DefaultConfig()
	cfg.Workers = c.Batch.Workers
	cfg.OutputDir = c.Batch.OutputDir
	cfg.ContinueOnError = c.Batch.ContinueOnError
	cfg.Recursive = c.Batch.Recursive
	cfg.OutputAspect = c.View.OutputAspect
	return cfg
}
