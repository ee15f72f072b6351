// Package stabilize drives per-frame fisheye rectification: it turns frame
// parameters into the camera matrices and rotation for the rectification engine
// and caches the derived view per source.
package stabilize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"gonum.org/v1/gonum/mat"

	"github.com/MeKo-Tech/fisheye/internal/frame"
	"github.com/MeKo-Tech/fisheye/internal/lens"
	"github.com/MeKo-Tech/fisheye/internal/rectify"
	"github.com/MeKo-Tech/fisheye/internal/rotation"
)

// ErrFrameSizeMismatch is returned when source and destination differ in size.
var ErrFrameSizeMismatch = errors.New("source and destination frames differ in size")

// DefaultCacheSize is the number of views kept when Config.CacheSize is zero.
const DefaultCacheSize = 8

// Config holds configuration for a Stabilizer.
type Config struct {
	CacheSize int            // views kept in the LRU (0 = DefaultCacheSize, <0 disables caching)
	Engine    rectify.Config // row parallelism of the rectification engine
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CacheSize: DefaultCacheSize,
		Engine:    rectify.DefaultConfig(),
	}
}

// View is everything the engine needs besides the pixels.
type View struct {
	K lens.Intrinsics // source intrinsics scaled to the frame size
	D lens.Distortion
	P lens.Intrinsics // new camera matrix of the rectified view
	R *mat.Dense      // correction rotation, read-only once cached
}

// Stats are cumulative counters of a Stabilizer.
type Stats struct {
	Renders     uint64
	CacheHits   uint64
	CacheMisses uint64
}

// Stabilizer renders frames. It is safe for concurrent use.
type Stabilizer struct {
	engine *rectify.Engine
	views  *lru.Cache // nil when caching is disabled

	renders atomic.Uint64
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// New creates a Stabilizer.
func New(cfg Config) (*Stabilizer, error) {
	s := &Stabilizer{engine: rectify.New(cfg.Engine)}
	size := cfg.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	if size > 0 {
		c, err := lru.New(size)
		if err != nil {
			return nil, fmt.Errorf("failed to create view cache: %w", err)
		}
		s.views = c
	}
	return s, nil
}

// Stats returns a snapshot of the counters.
func (s *Stabilizer) Stats() Stats {
	return Stats{
		Renders:     s.renders.Load(),
		CacheHits:   s.hits.Load(),
		CacheMisses: s.misses.Load(),
	}
}

// Workers reports how many row workers a render uses at most.
func (s *Stabilizer) Workers() int {
	return s.engine.Workers()
}

// PurgeCache drops all cached views.
func (s *Stabilizer) PurgeCache() {
	if s.views != nil {
		s.views.Purge()
	}
}

// viewKey identifies a view. Two renders with equal keys derive identical views.
func viewKey(sourceID string, p FrameParams, src, dst Size) string {
	return fmt.Sprintf("%s|%dx%d|%dx%d|%v|%v|%dx%d|%v|%v|%d",
		sourceID, src.Width, src.Height, dst.Width, dst.Height,
		p.CameraMatrix, p.Distortion, p.CalibrationSize.Width, p.CalibrationSize.Height,
		p.CorrectionQuat, p.FOVScale, p.subsampling())
}

// PrepareView derives the view for a frame of size src rendered to size dst,
// using the cache when possible.
func (s *Stabilizer) PrepareView(sourceID string, params FrameParams, src, dst Size) (View, error) {
	key := viewKey(sourceID, params, src, dst)
	if s.views != nil {
		if v, ok := s.views.Get(key); ok {
			s.hits.Add(1)
			slog.Debug("View cache hit", "source", sourceID)
			return v.(View), nil //nolint:forcetypeassert
		}
		s.misses.Add(1)
	}

	v, err := buildView(params, src, dst)
	if err != nil {
		return View{}, err
	}
	if s.views != nil {
		s.views.Add(key, v)
		slog.Debug("View cache miss", "source", sourceID, "fx", v.P.Fx, "fy", v.P.Fy)
	}
	return v, nil
}

func buildView(params FrameParams, src, dst Size) (View, error) {
	if err := params.Validate(); err != nil {
		return View{}, err
	}
	if src.Width <= 0 || src.Height <= 0 || dst.Width <= 0 || dst.Height <= 0 {
		return View{}, fmt.Errorf("invalid frame size %dx%d -> %dx%d", src.Width, src.Height, dst.Width, dst.Height)
	}

	k, err := params.Intrinsics(src.Width)
	if err != nil {
		return View{}, fmt.Errorf("scaled camera matrix: %w", err)
	}
	p, err := lens.EstimateNewCameraMatrix(k, params.Distortion,
		float64(dst.Width), float64(dst.Height), params.FOVScale)
	if err != nil {
		return View{}, fmt.Errorf("failed to estimate new camera matrix: %w", err)
	}
	return View{
		K: k,
		D: params.Distortion,
		P: p,
		R: rotation.Subsampled(params.CorrectionQuat, params.subsampling()),
	}, nil
}

// Render rectifies src into dst. The context is checked before and after the
// sweep; the sweep itself is not interruptible. When Render returns an error dst
// must be discarded.
func (s *Stabilizer) Render(ctx context.Context, sourceID string, params FrameParams, src, dst *frame.Buffer) error {
	if !src.SameSize(dst) {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrFrameSizeMismatch, src.Width, src.Height, dst.Width, dst.Height)
	}
	view, err := s.PrepareView(sourceID, params,
		Size{Width: src.Width, Height: src.Height},
		Size{Width: dst.Width, Height: dst.Height})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	s.engine.UndistortRectify(view.K, view.D, view.R, view.P.Matrix(), src, dst)
	s.renders.Add(1)
	slog.Debug("Frame rendered", "source", sourceID, "width", dst.Width, "height", dst.Height,
		"duration", time.Since(start))

	return ctx.Err()
}

// RenderImage rectifies a decoded image and crops the result to aspect
// (width/height, 0 keeps the frame aspect).
func (s *Stabilizer) RenderImage(ctx context.Context, sourceID string, params FrameParams,
	img image.Image, aspect float64,
) (image.Image, error) {
	src := frame.FromImage(img)
	defer src.Release()
	dst := frame.New(src.Width, src.Height)
	defer dst.Release()

	if err := s.Render(ctx, sourceID, params, src, dst); err != nil {
		return nil, err
	}
	return CropToAspect(dst.ToImage(), aspect), nil
}
