//nolint:lll
package config

import "github.com/MeKo-Tech/fisheye/internal/rotation"

// Config represents the complete configuration for the fisheye application.
// It includes settings for all commands (rectify, matrix, batch, serve) and
// supports loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Camera calibration
	Lens LensConfig `mapstructure:"lens" yaml:"lens" json:"lens"`

	// Rectified view
	View ViewConfig `mapstructure:"view" yaml:"view" json:"view"`

	// Rectification engine
	Engine EngineConfig `mapstructure:"engine" yaml:"engine" json:"engine"`

	// View cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache" json:"cache"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Batch processing configuration
	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`
}

// LensConfig holds the fisheye calibration.
type LensConfig struct {
	CameraMatrix      [3][3]float64 `mapstructure:"camera_matrix" yaml:"camera_matrix" json:"camera_matrix"`
	Distortion        [4]float64    `mapstructure:"distortion" yaml:"distortion" json:"distortion"`
	CalibrationWidth  int           `mapstructure:"calibration_width" yaml:"calibration_width" json:"calibration_width"`
	CalibrationHeight int           `mapstructure:"calibration_height" yaml:"calibration_height" json:"calibration_height"`
}

// ViewConfig describes the rectified output view.
type ViewConfig struct {
	FOVScale            float64             `mapstructure:"fov_scale" yaml:"fov_scale" json:"fov_scale"`
	CorrectionQuat      rotation.Quaternion `mapstructure:"correction_quat" yaml:"correction_quat" json:"correction_quat"`
	RotationSubsampling int                 `mapstructure:"rotation_subsampling" yaml:"rotation_subsampling" json:"rotation_subsampling"`
	OutputAspect        float64             `mapstructure:"output_aspect" yaml:"output_aspect" json:"output_aspect"` // 0 keeps the frame aspect
}

// EngineConfig contains rectification engine settings.
type EngineConfig struct {
	Workers    int `mapstructure:"workers" yaml:"workers" json:"workers"`
	RowsPerJob int `mapstructure:"rows_per_job" yaml:"rows_per_job" json:"rows_per_job"`
}

// CacheConfig contains view cache settings.
type CacheConfig struct {
	Size int `mapstructure:"size" yaml:"size" json:"size"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig limits how many frames a single client may have rectified.
type RateLimitConfig struct {
	Enabled         bool  `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	FramesPerMinute int   `mapstructure:"frames_per_minute" yaml:"frames_per_minute" json:"frames_per_minute"`
	FramesPerHour   int   `mapstructure:"frames_per_hour" yaml:"frames_per_hour" json:"frames_per_hour"`
	FramesPerDay    int   `mapstructure:"frames_per_day" yaml:"frames_per_day" json:"frames_per_day"`
	BytesPerDay     int64 `mapstructure:"bytes_per_day" yaml:"bytes_per_day" json:"bytes_per_day"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	Workers         int    `mapstructure:"workers" yaml:"workers" json:"workers"`
	OutputDir       string `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"`
	ContinueOnError bool   `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
	Recursive       bool   `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
}
