package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/fisheye/internal/lens"
	"github.com/MeKo-Tech/fisheye/internal/stabilize"
	"github.com/MeKo-Tech/fisheye/internal/utils"
	"github.com/MeKo-Tech/fisheye/internal/version"
)

const maxJSONBodyBytes = 1 << 20

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	s.writeJSON(w, http.StatusOK, response)
}

// rectifyHandler rectifies an uploaded frame and answers with a PNG.
//
// Form fields: image (file, required), params (JSON overlaying the server
// defaults), aspect (output width/height, 0 keeps the frame aspect) and
// source (view cache namespace).
func (s *Server) rectifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, status, err := s.parseRectifyRequest(w, r)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), status)
		return
	}

	out, err := s.render(r.Context(), "http", req)
	if err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Rectification failed: %v", err), renderStatus(err))
		return
	}

	var buf bytes.Buffer
	if err := utils.EncodePNG(&buf, out); err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Failed to encode result: %v", err), http.StatusInternalServerError)
		return
	}
	b := out.Bounds()
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Output-Width", strconv.Itoa(b.Dx()))
	w.Header().Set("X-Output-Height", strconv.Itoa(b.Dy()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Debug("Failed to write rectified frame", "error", err)
	}
}

// renderStatus maps a render failure to its HTTP status.
func renderStatus(err error) int {
	switch {
	case errors.Is(err, lens.ErrDegenerateView):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// rectifyRequest is a decoded frame with everything needed to render it.
type rectifyRequest struct {
	img    image.Image
	params stabilize.FrameParams
	aspect float64
	source string
}

func (s *Server) parseRectifyRequest(w http.ResponseWriter, r *http.Request) (rectifyRequest, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return rectifyRequest{}, http.StatusRequestEntityTooLarge,
				fmt.Errorf("upload exceeds %d MB", s.maxUploadBytes()>>20)
		}
		return rectifyRequest{}, http.StatusBadRequest, fmt.Errorf("failed to parse form: %w", err)
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return rectifyRequest{}, http.StatusBadRequest, errors.New("no image file provided")
	}
	defer func() { _ = file.Close() }()
	uploadSizeBytes.Observe(float64(header.Size))

	img, err := utils.DecodeImage(file)
	if err != nil {
		return rectifyRequest{}, http.StatusBadRequest, fmt.Errorf("failed to decode image: %w", err)
	}
	if err := utils.ValidateImageConstraints(img, utils.DefaultImageConstraints()); err != nil {
		return rectifyRequest{}, http.StatusBadRequest, err
	}

	params, err := s.decodeParams([]byte(r.FormValue("params")))
	if err != nil {
		return rectifyRequest{}, http.StatusBadRequest, err
	}
	aspect, err := s.parseAspect(r.FormValue("aspect"))
	if err != nil {
		return rectifyRequest{}, http.StatusBadRequest, err
	}
	source := r.FormValue("source")
	if source == "" {
		source = defaultSourceID
	}
	return rectifyRequest{img: img, params: params, aspect: aspect, source: source}, http.StatusOK, nil
}

// decodeParams overlays raw JSON onto the server's default parameters.
func (s *Server) decodeParams(raw []byte) (stabilize.FrameParams, error) {
	params := s.params
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return params, fmt.Errorf("invalid params: %w", err)
		}
	}
	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("invalid params: %w", err)
	}
	return params, nil
}

func (s *Server) parseAspect(v string) (float64, error) {
	if v == "" {
		return s.aspect, nil
	}
	aspect, err := strconv.ParseFloat(v, 64)
	if err != nil || aspect < 0 {
		return 0, fmt.Errorf("invalid aspect: %q", v)
	}
	return aspect, nil
}

// render rectifies one frame under the request timeout and records metrics.
func (s *Server) render(ctx context.Context, transport string, req rectifyRequest) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	start := time.Now()
	out, err := s.stab.RenderImage(ctx, req.source, req.params, req.img, req.aspect)
	if err != nil {
		rectificationsTotal.WithLabelValues(transport, "error").Inc()
		return nil, err
	}
	rectificationsTotal.WithLabelValues(transport, "success").Inc()
	rectificationDuration.WithLabelValues(transport).Observe(time.Since(start).Seconds())
	b := req.img.Bounds()
	framePixels.Observe(float64(b.Dx() * b.Dy()))
	return out, nil
}

// cameraMatrixHandler returns the view derived for a frame size without
// rendering anything.
func (s *Server) cameraMatrixHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CameraMatrixRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Failed to read request: %v", err), http.StatusBadRequest)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		s.writeErrorResponse(w, "width and height must be positive", http.StatusBadRequest)
		return
	}
	if req.OutputWidth <= 0 || req.OutputHeight <= 0 {
		req.OutputWidth, req.OutputHeight = req.Width, req.Height
	}
	if req.Source == "" {
		req.Source = defaultSourceID
	}

	params, err := s.decodeParams(req.Params)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	view, err := s.stab.PrepareView(req.Source, params,
		stabilize.Size{Width: req.Width, Height: req.Height},
		stabilize.Size{Width: req.OutputWidth, Height: req.OutputHeight})
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	response := CameraMatrixResponse{
		Success:      true,
		CameraMatrix: view.P.Array(),
		ScaledMatrix: view.K.Array(),
		Distortion:   view.D,
		OutputWidth:  req.OutputWidth,
		OutputHeight: req.OutputHeight,
	}
	for i := range 3 {
		for j := range 3 {
			response.Rotation[i][j] = view.R.At(i, j)
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
