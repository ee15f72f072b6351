package lens

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Model is a calibrated equidistant fisheye camera.
type Model struct {
	K Intrinsics `json:"intrinsics" yaml:"intrinsics"`
	D Distortion `json:"distortion" yaml:"distortion"`
}

// ProjectNormalized maps the normalized pinhole coordinates (x, y) of a ray in
// front of the camera to its distorted pixel.
func (m Model) ProjectNormalized(x, y float64) (u, v float64) {
	r := math.Sqrt(x*x + y*y)
	scale := 1.0
	if r != 0 {
		scale = m.D.Distort(math.Atan(r)) / r
	}
	return m.K.Fx*x*scale + m.K.Cx, m.K.Fy*y*scale + m.K.Cy
}

// Project maps a camera-space ray to a pixel. Rays that do not point in front of
// the camera have no pixel.
func (m Model) Project(ray r3.Vector) (r2.Point, bool) {
	if ray.Z <= 0 {
		return r2.Point{}, false
	}
	u, v := m.ProjectNormalized(ray.X/ray.Z, ray.Y/ray.Z)
	return r2.Point{X: u, Y: v}, true
}

// Unproject returns the unit ray through a pixel.
func (m Model) Unproject(p r2.Point) (r3.Vector, bool) {
	n, ok := UndistortPoint(p, m.K, m.D)
	if !ok {
		return r3.Vector{}, false
	}
	return r3.Vector{X: n.X, Y: n.Y, Z: 1}.Normalize(), true
}
