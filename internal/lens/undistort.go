package lens

import (
	"math"

	"github.com/golang/geo/r2"
)

// Undefined is the sentinel written by UndistortPoints for a point with no
// undistorted location. Test for it with IsUndefined, never with ==.
var Undefined = r2.Point{X: math.NaN(), Y: math.NaN()}

// IsUndefined reports whether p is the Undefined sentinel (either coordinate NaN).
func IsUndefined(p r2.Point) bool {
	return math.IsNaN(p.X) || math.IsNaN(p.Y)
}

// UndistortPoint maps a distorted pixel to the normalized coordinates of the
// undistorted (pinhole) ray through it. ok is false when the inverse distortion
// does not converge; the returned point is then meaningless.
//
// A pixel within NewtonEpsilon of the principal point maps to (0, 0).
func UndistortPoint(p r2.Point, k Intrinsics, d Distortion) (r2.Point, bool) {
	pw := k.Normalize(p)
	thetaD := clamp(pw.Norm(), -math.Pi/2, math.Pi/2)

	theta, ok := d.Undistort(thetaD)
	if !ok {
		return r2.Point{}, false
	}

	scale := 0.0
	if math.Abs(thetaD) > NewtonEpsilon {
		scale = math.Tan(theta) / thetaD
	}
	return pw.Mul(scale), true
}

// UndistortPoints undistorts points in place. Points that cannot be undistorted
// are replaced with Undefined; callers must check IsUndefined before using them.
func UndistortPoints(points []r2.Point, k Intrinsics, d Distortion) {
	for i, p := range points {
		u, ok := UndistortPoint(p, k, d)
		if !ok {
			points[i] = Undefined
			continue
		}
		points[i] = u
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
