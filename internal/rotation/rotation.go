// Package rotation builds the 3x3 rectification rotation handed to the
// rectification engine from a camera correction quaternion.
package rotation

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// DefaultSubsampling is the number of partial steps used to compose a correction.
const DefaultSubsampling = 10

// gimbalEpsilon bounds |sin(pitch)| away from 1 before the decomposition switches
// to the gimbal-lock branch.
const gimbalEpsilon = 1e-10

// Quaternion is a rotation in (W, X, Y, Z) form. It does not need to be normalised.
type Quaternion struct {
	W float64 `json:"w" yaml:"w" mapstructure:"w"`
	X float64 `json:"x" yaml:"x" mapstructure:"x"`
	Y float64 `json:"y" yaml:"y" mapstructure:"y"`
	Z float64 `json:"z" yaml:"z" mapstructure:"z"`
}

// Identity is the zero rotation.
var Identity = Quaternion{W: 1}

// Number returns the quaternion as a gonum quaternion.
func (q Quaternion) Number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

// Normalize returns q scaled to unit length. The zero quaternion becomes Identity.
func (q Quaternion) Normalize() Quaternion {
	n := q.Number()
	a := quat.Abs(n)
	if a == 0 || math.IsNaN(a) || math.IsInf(a, 0) {
		return Identity
	}
	u := quat.Scale(1/a, n)
	return Quaternion{W: u.Real, X: u.Imag, Y: u.Jmag, Z: u.Kmag}
}

// EulerAngles are intrinsic roll (about X), pitch (about Y) and yaw (about Z) in
// radians, composed as Rz(yaw)·Ry(pitch)·Rx(roll).
type EulerAngles struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Matrix returns the rotation matrix of q after normalisation.
func (q Quaternion) Matrix() *mat.Dense {
	u := q.Normalize()
	w, x, y, z := u.W, u.X, u.Y, u.Z
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// EulerAngles decomposes q into roll, pitch and yaw.
func (q Quaternion) EulerAngles() EulerAngles {
	return MatrixToEulerAngles(q.Matrix())
}

// MatrixToEulerAngles decomposes a rotation matrix into roll, pitch and yaw. Near
// gimbal lock the yaw is fixed to zero and the remaining rotation goes to roll.
func MatrixToEulerAngles(r mat.Matrix) EulerAngles {
	r20 := r.At(2, 0)
	switch {
	case math.Abs(r20) < 1-gimbalEpsilon:
		pitch := -math.Asin(r20)
		c := math.Cos(pitch)
		return EulerAngles{
			Roll:  math.Atan2(r.At(2, 1)/c, r.At(2, 2)/c),
			Pitch: pitch,
			Yaw:   math.Atan2(r.At(1, 0)/c, r.At(0, 0)/c),
		}
	case r20 < 0:
		return EulerAngles{
			Roll:  math.Atan2(r.At(0, 1), r.At(0, 2)),
			Pitch: math.Pi / 2,
		}
	default:
		return EulerAngles{
			Roll:  -math.Atan2(r.At(0, 1), -r.At(0, 2)),
			Pitch: -math.Pi / 2,
		}
	}
}

// Matrix returns Rz(yaw)·Ry(pitch)·Rx(roll).
func (e EulerAngles) Matrix() *mat.Dense {
	sr, cr := math.Sincos(e.Roll)
	sp, cp := math.Sincos(e.Pitch)
	sy, cy := math.Sincos(e.Yaw)
	return mat.NewDense(3, 3, []float64{
		cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr,
		sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr,
		-sp, cp * sr, cp * cr,
	})
}

// Subsampled builds the correction rotation for q: its Euler angles are mapped to
// the step (-roll/n, -pitch/n, yaw/n) and the step rotation is accumulated n times
// by left multiplication. n < 1 is treated as 1.
func Subsampled(q Quaternion, n int) *mat.Dense {
	if n < 1 {
		n = 1
	}
	e := q.EulerAngles()
	step := EulerAngles{
		Roll:  -e.Roll / float64(n),
		Pitch: -e.Pitch / float64(n),
		Yaw:   e.Yaw / float64(n),
	}.Matrix()

	m := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	var next mat.Dense
	for range n {
		next.Mul(step, m)
		m.Copy(&next)
	}
	return m
}
