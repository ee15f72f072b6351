package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MeKo-Tech/fisheye/internal/stabilize"
)

const defaultSourceID = "http"

// Server holds the HTTP server state and dependencies.
type Server struct {
	stab        *stabilize.Stabilizer
	params      stabilize.FrameParams
	aspect      float64
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	limiter     *RateLimiter
	registry    *prometheus.Registry
}

// Config holds server configuration.
type Config struct {
	Host         string
	Port         int
	CORSOrigin   string
	MaxUploadMB  int64
	TimeoutSec   int
	Params       stabilize.FrameParams // defaults for requests that send no params
	OutputAspect float64
	Stabilizer   stabilize.Config
	RateLimit    RateLimitConfig
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// CameraMatrixRequest asks for the view derived for a frame size. Params
// overlays the server defaults; missing output dimensions default to the
// frame dimensions.
type CameraMatrixRequest struct {
	Width        int             `json:"width"`
	Height       int             `json:"height"`
	OutputWidth  int             `json:"output_width,omitempty"`
	OutputHeight int             `json:"output_height,omitempty"`
	Source       string          `json:"source,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
}

type CameraMatrixResponse struct {
	Success      bool          `json:"success"`
	CameraMatrix [3][3]float64 `json:"camera_matrix"`
	ScaledMatrix [3][3]float64 `json:"scaled_matrix"`
	Rotation     [3][3]float64 `json:"rotation"`
	Distortion   [4]float64    `json:"distortion"`
	OutputWidth  int           `json:"output_width"`
	OutputHeight int           `json:"output_height"`
}

// NewServer creates a new rectification server instance.
func NewServer(config Config) (*Server, error) {
	if err := config.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default parameters: %w", err)
	}
	stab, err := stabilize.New(config.Stabilizer)
	if err != nil {
		return nil, err
	}

	s := &Server{
		stab:        stab,
		params:      config.Params,
		aspect:      config.OutputAspect,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
		registry:    prometheus.NewRegistry(),
	}
	if config.RateLimit.Enabled {
		s.limiter = NewRateLimiter(config.RateLimit)
	}
	s.registry.MustRegister(newStabilizerCollector(stab))
	return s, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.stab != nil {
		s.stab.PurgeCache()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", instrument("/health", s.corsMiddleware(s.healthHandler)))
	mux.HandleFunc("/rectify", instrument("/rectify", s.corsMiddleware(s.rateLimitMiddleware(s.rectifyHandler))))
	mux.HandleFunc("/camera-matrix", instrument("/camera-matrix", s.corsMiddleware(s.cameraMatrixHandler)))
	mux.Handle("/metrics", s.metricsHandler())
	mux.HandleFunc("/ws/rectify", s.rectifyWebSocketHandler)
}

func (s *Server) timeout() time.Duration {
	if s.timeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.timeoutSec) * time.Second
}

func (s *Server) maxUploadBytes() int64 {
	if s.maxUploadMB <= 0 {
		return 100 << 20
	}
	return s.maxUploadMB << 20
}
