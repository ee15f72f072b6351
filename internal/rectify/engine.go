// Package rectify remaps fisheye frames into rectified pinhole views.
package rectify

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/MeKo-Tech/fisheye/internal/frame"
	"github.com/MeKo-Tech/fisheye/internal/lens"
)

// Engine performs undistort-rectify sweeps. It holds no per-frame state and is
// safe for concurrent use.
type Engine struct {
	cfg Config
}

// New creates an engine. Zero config fields take their defaults.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Workers reports the number of row workers a sweep uses at most.
func (e *Engine) Workers() int { return e.cfg.Workers }

var defaultEngine = New(DefaultConfig())

// UndistortRectify runs a sweep on a shared engine with default configuration.
func UndistortRectify(k lens.Intrinsics, d lens.Distortion, r, p mat.Matrix, src, dst *frame.Buffer) {
	defaultEngine.UndistortRectify(k, d, r, p, src, dst)
}

// UndistortRectify fills every pixel of dst by sampling src through the fisheye
// model (k, d) after rotating by r and projecting with the new camera matrix p.
//
// src and dst must have the same width and height, r and p must be 3x3 and P·R
// must have at least one singular value above SingularValueThreshold. Violations
// are programming errors and panic. Destination pixels whose source position is
// not fully inside src are set to zero.
func (e *Engine) UndistortRectify(k lens.Intrinsics, d lens.Distortion, r, p mat.Matrix, src, dst *frame.Buffer) {
	if src == nil || dst == nil {
		panic("rectify: nil frame buffer")
	}
	if !src.SameSize(dst) {
		panic(fmt.Sprintf("rectify: source %dx%d and destination %dx%d differ",
			src.Width, src.Height, dst.Width, dst.Height))
	}
	inv := inverseMap(r, p)
	model := lens.Model{K: k, D: d}

	start := time.Now()
	e.forEachRowBlock(dst.Height, func(y0, y1 int) {
		us := make([]float64, dst.Width)
		vs := make([]float64, dst.Width)
		for y := y0; y < y1; y++ {
			sourceRow(&inv, model, y, us, vs)
			row := dst.Row(y)
			for x := range dst.Width {
				px := sampleBilinear(src, us[x], vs[x])
				copy(row[x*frame.Channels:(x+1)*frame.Channels], px[:])
			}
		}
	})
	slog.Debug("Undistort-rectify sweep finished",
		"width", dst.Width, "height", dst.Height, "duration", time.Since(start))
}

// forEachRowBlock hands disjoint [y0, y1) row ranges to a pool of workers and
// returns once all rows are done.
func (e *Engine) forEachRowBlock(height int, fn func(y0, y1 int)) {
	block := e.cfg.RowsPerJob
	jobs := (height + block - 1) / block
	workers := min(e.cfg.Workers, jobs)

	if workers <= 1 {
		fn(0, height)
		return
	}

	starts := make(chan int, jobs)
	for y := 0; y < height; y += block {
		starts <- y
	}
	close(starts)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y0 := range starts {
				fn(y0, min(y0+block, height))
			}
		}()
	}
	wg.Wait()
}

// sourceRow writes the source pixel coordinates of every pixel of destination
// row y into us and vs. The homogeneous ray is advanced by the first column of
// inv per pixel instead of a full matrix product.
func sourceRow(inv *[9]float64, model lens.Model, y int, us, vs []float64) {
	fy := float64(y)
	hx := fy*inv[1] + inv[2]
	hy := fy*inv[4] + inv[5]
	hw := fy*inv[7] + inv[8]
	for x := range us {
		us[x], vs[x] = project(model, hx, hy, hw)
		hx += inv[0]
		hy += inv[3]
		hw += inv[6]
	}
}

// project maps a homogeneous camera-space ray to a distorted source pixel. Rays
// with non-positive depth go to infinity and never sample.
func project(model lens.Model, hx, hy, hw float64) (u, v float64) {
	p, ok := model.Project(r3.Vector{X: hx, Y: hy, Z: hw})
	if ok {
		return p.X, p.Y
	}
	u, v = math.Inf(1), math.Inf(1)
	if hx > 0 {
		u = math.Inf(-1)
	}
	if hy > 0 {
		v = math.Inf(-1)
	}
	return u, v
}
