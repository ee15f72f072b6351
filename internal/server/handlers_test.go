package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/fisheye/internal/lens"
	"github.com/MeKo-Tech/fisheye/internal/stabilize"
	"github.com/MeKo-Tech/fisheye/internal/version"
)

func TestNewServer_InvalidParams(t *testing.T) {
	params := stabilize.DefaultFrameParams()
	params.FOVScale = 0
	_, err := NewServer(Config{Params: params})
	assert.Error(t, err)
}

func TestServer_HealthHandler(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET request success", http.MethodGet, http.StatusOK},
		{"POST request not allowed", http.MethodPost, http.StatusMethodNotAllowed},
		{"PUT request not allowed", http.MethodPut, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			server.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var response HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, "healthy", response.Status)
			assert.Equal(t, version.Version, response.Version)
			assert.NotEmpty(t, response.Time)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestServer_RectifyHandler(t *testing.T) {
	server := newTestServer(t)
	frame := solidPNG(t, 64, 36, green)

	t.Run("full frame", func(t *testing.T) {
		w := httptest.NewRecorder()
		server.rectifyHandler(w, createMultipartFormRequest(t, "/rectify", frame, nil))

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.Equal(t, "64", w.Header().Get("X-Output-Width"))

		out := decodePNG(t, w.Body.Bytes())
		assert.Equal(t, 64, out.Bounds().Dx())
		assert.Equal(t, 36, out.Bounds().Dy())
		assert.Equal(t, green, color.RGBAModel.Convert(out.At(32, 18)))
	})

	t.Run("square crop", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := createMultipartFormRequest(t, "/rectify", frame, map[string]string{"aspect": "1"})
		server.rectifyHandler(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		out := decodePNG(t, w.Body.Bytes())
		assert.Equal(t, 36, out.Bounds().Dx())
		assert.Equal(t, 36, out.Bounds().Dy())
	})

	t.Run("params overlay", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := createMultipartFormRequest(t, "/rectify", frame, map[string]string{
			"params": `{"fov_scale": 0.5, "correction_quat": {"w": 1}}`,
			"source": "cam-2",
		})
		server.rectifyHandler(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})
}

func TestServer_RectifyHandler_Errors(t *testing.T) {
	server := newTestServer(t)
	frame := solidPNG(t, 16, 9, green)

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{
			name:   "wrong method",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "/rectify", nil) },
			status: http.StatusMethodNotAllowed,
		},
		{
			name: "not multipart",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/rectify", strings.NewReader("hello"))
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "no image",
			req:    func() *http.Request { return createMultipartFormRequest(t, "/rectify", nil, map[string]string{"aspect": "1"}) },
			status: http.StatusBadRequest,
		},
		{
			name:   "undecodable image",
			req:    func() *http.Request { return createMultipartFormRequest(t, "/rectify", []byte("not an image"), nil) },
			status: http.StatusBadRequest,
		},
		{
			name: "invalid params",
			req: func() *http.Request {
				return createMultipartFormRequest(t, "/rectify", frame, map[string]string{"params": `{"fov_scale": -1}`})
			},
			status: http.StatusBadRequest,
		},
		{
			name: "malformed params",
			req: func() *http.Request {
				return createMultipartFormRequest(t, "/rectify", frame, map[string]string{"params": `{`})
			},
			status: http.StatusBadRequest,
		},
		{
			name: "negative aspect",
			req: func() *http.Request {
				return createMultipartFormRequest(t, "/rectify", frame, map[string]string{"aspect": "-2"})
			},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			server.rectifyHandler(w, tt.req())
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusBadRequest {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.False(t, resp.Success)
				assert.NotEmpty(t, resp.Error)
			}
		})
	}
}

// degenerateParams sends every edge ray beyond the peak of theta - theta^3.
const degenerateParams = `{"camera_matrix": [[100, 0, 50], [0, 100, 50], [0, 0, 1]],
	"distortion": [-1, 0, 0, 0], "calibration_size": {"width": 100, "height": 100}}`

func TestServer_RectifyHandler_DegenerateView(t *testing.T) {
	server := newTestServer(t)
	frame := solidPNG(t, 100, 100, green)

	w := httptest.NewRecorder()
	server.rectifyHandler(w, createMultipartFormRequest(t, "/rectify", frame, map[string]string{"params": degenerateParams}))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "cannot fit a camera matrix")

	w = httptest.NewRecorder()
	body := `{"width": 100, "height": 100, "params": ` + degenerateParams + `}`
	server.cameraMatrixHandler(w, httptest.NewRequest(http.MethodPost, "/camera-matrix", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRenderStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, renderStatus(fmt.Errorf("view: %w", lens.ErrDegenerateView)))
	assert.Equal(t, http.StatusGatewayTimeout, renderStatus(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, renderStatus(assert.AnError))
}

func TestServer_RectifyHandler_UploadLimit(t *testing.T) {
	server := newTestServer(t, func(c *Config) { c.MaxUploadMB = 1 })
	big := bytes.Repeat([]byte{0xff}, 2<<20)

	w := httptest.NewRecorder()
	server.rectifyHandler(w, createMultipartFormRequest(t, "/rectify", big, nil))
	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestServer_CameraMatrixHandler(t *testing.T) {
	server := newTestServer(t)

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		server.cameraMatrixHandler(w, httptest.NewRequest(http.MethodPost, "/camera-matrix", strings.NewReader(body)))
		return w
	}

	w := post(`{"width": 1920, "height": 1080}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CameraMatrixResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.InDelta(t, 1002.279949030668, resp.ScaledMatrix[0][0], 1e-9)
	assert.InDelta(t, 960.0, resp.ScaledMatrix[0][2], 1e-9)
	assert.InDelta(t, 1.0, resp.CameraMatrix[2][2], 0)
	assert.Positive(t, resp.CameraMatrix[0][0])
	assert.InDelta(t, 1.0, resp.Rotation[0][0], 1e-3)
	assert.Equal(t, 1920, resp.OutputWidth)
	assert.Equal(t, 1080, resp.OutputHeight)
	assert.Equal(t, stabilize.DefaultFrameParams().Distortion[0], resp.Distortion[0])

	// The same request is served from the view cache.
	require.Equal(t, http.StatusOK, post(`{"width": 1920, "height": 1080}`).Code)
	assert.Equal(t, uint64(1), server.stab.Stats().CacheHits)

	// A wider field of view shrinks the focal length.
	w = post(`{"width": 1920, "height": 1080, "params": {"fov_scale": 2}}`)
	require.Equal(t, http.StatusOK, w.Code)
	var wide CameraMatrixResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wide))
	assert.InDelta(t, resp.CameraMatrix[0][0]/2, wide.CameraMatrix[0][0], 1e-9)
}

func TestServer_CameraMatrixHandler_Errors(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"malformed json", http.MethodPost, "{", http.StatusBadRequest},
		{"missing size", http.MethodPost, `{}`, http.StatusBadRequest},
		{"invalid params", http.MethodPost, `{"width": 10, "height": 10, "params": {"fov_scale": 0}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			server.cameraMatrixHandler(w, httptest.NewRequest(tt.method, "/camera-matrix", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestServer_Routes(t *testing.T) {
	server := newTestServer(t)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/camera-matrix", "application/json", strings.NewReader(`{"width": 64, "height": 36}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	text := body.String()
	assert.Contains(t, text, "fisheye_view_cache_misses_total 1")
	assert.Contains(t, text, "fisheye_renders_total 0")
	assert.Contains(t, text, `fisheye_http_requests_total{endpoint="/camera-matrix",method="POST",status="200"}`)
}

func TestServer_RateLimitedRectify(t *testing.T) {
	server := newTestServer(t, func(c *Config) {
		c.RateLimit = RateLimitConfig{Enabled: true, FramesPerMinute: 1}
	})
	handler := server.rateLimitMiddleware(server.rectifyHandler)
	frame := solidPNG(t, 16, 9, green)

	w := httptest.NewRecorder()
	handler(w, createMultipartFormRequest(t, "/rectify", frame, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler(w, createMultipartFormRequest(t, "/rectify", frame, nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "minute", w.Header().Get("X-RateLimit-Window"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}
