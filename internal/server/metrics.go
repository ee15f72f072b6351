package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/fisheye/internal/mempool"
	"github.com/MeKo-Tech/fisheye/internal/stabilize"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fisheye_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fisheye_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Rectification metrics
	rectificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fisheye_rectifications_total",
			Help: "Total number of rectified frames",
		},
		[]string{"transport", "status"}, // transport: http, websocket
	)

	rectificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fisheye_rectification_duration_seconds",
			Help:    "Frame rectification duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"transport"},
	)

	framePixels = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fisheye_frame_pixels",
			Help:    "Pixel count of rectified frames",
			Buckets: []float64{320 * 240, 640 * 480, 1280 * 720, 1920 * 1080, 2560 * 1440, 3840 * 2160, 7680 * 4320},
		},
	)

	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fisheye_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"window"},
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fisheye_upload_size_bytes",
			Help:    "Size of uploaded frames in bytes",
			Buckets: []float64{10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024, 100 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fisheye_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fisheye_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)

// stabilizerCollector exports the stabilizer and buffer pool counters.
type stabilizerCollector struct {
	stab *stabilize.Stabilizer

	renders     *prometheus.Desc
	cacheHits   *prometheus.Desc
	cacheMisses *prometheus.Desc
	poolGets    *prometheus.Desc
	poolAllocs  *prometheus.Desc
}

func newStabilizerCollector(stab *stabilize.Stabilizer) *stabilizerCollector {
	return &stabilizerCollector{
		stab:        stab,
		renders:     prometheus.NewDesc("fisheye_renders_total", "Frames rendered by the stabilizer", nil, nil),
		cacheHits:   prometheus.NewDesc("fisheye_view_cache_hits_total", "View cache hits", nil, nil),
		cacheMisses: prometheus.NewDesc("fisheye_view_cache_misses_total", "View cache misses", nil, nil),
		poolGets:    prometheus.NewDesc("fisheye_buffer_pool_gets_total", "Frame buffers taken from the pool", nil, nil),
		poolAllocs:  prometheus.NewDesc("fisheye_buffer_pool_allocs_total", "Frame buffers newly allocated", nil, nil),
	}
}

func (c *stabilizerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.renders
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.poolGets
	ch <- c.poolAllocs
}

func (c *stabilizerCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.stab.Stats()
	ps := mempool.ReadStats()
	ch <- prometheus.MustNewConstMetric(c.renders, prometheus.CounterValue, float64(st.Renders))
	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(st.CacheHits))
	ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(st.CacheMisses))
	ch <- prometheus.MustNewConstMetric(c.poolGets, prometheus.CounterValue, float64(ps.Gets))
	ch <- prometheus.MustNewConstMetric(c.poolAllocs, prometheus.CounterValue, float64(ps.Allocs))
}

// metricsHandler serves the process-wide metrics together with this server's
// stabilizer counters.
func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, s.registry},
		promhttp.HandlerOpts{},
	)
}
