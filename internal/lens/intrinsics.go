package lens

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidIntrinsics is returned when a camera matrix cannot describe a camera.
var ErrInvalidIntrinsics = errors.New("invalid camera intrinsics")

// NewInvalidIntrinsicsError wraps ErrInvalidIntrinsics with a formatted detail.
func NewInvalidIntrinsicsError(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidIntrinsics, format, args...)
}

// Intrinsics is the pinhole part of a camera: focal lengths and principal point in pixels.
// As a matrix it is
//
//	| Fx  0 Cx |
//	|  0 Fy Cy |
//	|  0  0  1 |
type Intrinsics struct {
	Fx float64 `json:"fx" yaml:"fx"`
	Fy float64 `json:"fy" yaml:"fy"`
	Cx float64 `json:"cx" yaml:"cx"`
	Cy float64 `json:"cy" yaml:"cy"`
}

// NewIntrinsics reads fx, fy, cx and cy out of a 3x3 camera matrix.
// The bottom row must be (0, 0, 1). Skew (K[0][1]) is not modelled and is ignored.
func NewIntrinsics(m mat.Matrix) (Intrinsics, error) {
	if m == nil {
		return Intrinsics{}, NewInvalidIntrinsicsError("camera matrix is nil")
	}
	if r, c := m.Dims(); r != 3 || c != 3 {
		return Intrinsics{}, NewInvalidIntrinsicsError("camera matrix must be 3x3, got %dx%d", r, c)
	}
	if m.At(2, 0) != 0 || m.At(2, 1) != 0 || m.At(2, 2) != 1 {
		return Intrinsics{}, NewInvalidIntrinsicsError("camera matrix bottom row must be (0,0,1), got (%g,%g,%g)",
			m.At(2, 0), m.At(2, 1), m.At(2, 2))
	}
	k := Intrinsics{Fx: m.At(0, 0), Fy: m.At(1, 1), Cx: m.At(0, 2), Cy: m.At(1, 2)}
	return k, k.CheckValid()
}

// IntrinsicsFromArray is NewIntrinsics for a row-major array.
func IntrinsicsFromArray(a [3][3]float64) (Intrinsics, error) {
	return NewIntrinsics(mat.NewDense(3, 3, []float64{
		a[0][0], a[0][1], a[0][2],
		a[1][0], a[1][1], a[1][2],
		a[2][0], a[2][1], a[2][2],
	}))
}

// CheckValid checks that the focal lengths are positive and all values finite.
func (k Intrinsics) CheckValid() error {
	for _, v := range []float64{k.Fx, k.Fy, k.Cx, k.Cy} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewInvalidIntrinsicsError("non-finite value in %+v", k)
		}
	}
	if k.Fx <= 0 {
		return NewInvalidIntrinsicsError("focal length Fx = %g", k.Fx)
	}
	if k.Fy <= 0 {
		return NewInvalidIntrinsicsError("focal length Fy = %g", k.Fy)
	}
	return nil
}

// Matrix returns the 3x3 camera matrix.
func (k Intrinsics) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		k.Fx, 0, k.Cx,
		0, k.Fy, k.Cy,
		0, 0, 1,
	})
}

// Array returns the camera matrix as a row-major array.
func (k Intrinsics) Array() [3][3]float64 {
	return [3][3]float64{
		{k.Fx, 0, k.Cx},
		{0, k.Fy, k.Cy},
		{0, 0, 1},
	}
}

// Scale multiplies every entry of the camera matrix except K[2][2] by s. This is how
// a calibration made at one resolution is carried to a frame of another.
func (k Intrinsics) Scale(s float64) Intrinsics {
	return Intrinsics{Fx: k.Fx * s, Fy: k.Fy * s, Cx: k.Cx * s, Cy: k.Cy * s}
}

// AspectRatio is fx/fy.
func (k Intrinsics) AspectRatio() float64 {
	return k.Fx / k.Fy
}

// Normalize maps a pixel to normalized camera coordinates.
func (k Intrinsics) Normalize(p r2.Point) r2.Point {
	return r2.Point{X: (p.X - k.Cx) / k.Fx, Y: (p.Y - k.Cy) / k.Fy}
}

// Denormalize maps normalized camera coordinates back to a pixel.
func (k Intrinsics) Denormalize(p r2.Point) r2.Point {
	return r2.Point{X: p.X*k.Fx + k.Cx, Y: p.Y*k.Fy + k.Cy}
}
