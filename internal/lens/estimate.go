package lens

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// ErrDegenerateView is returned when the edge rays of an image do not span a view
// a camera matrix can be fitted to.
var ErrDegenerateView = errors.New("cannot fit a camera matrix to the undistorted view")

// EstimateNewCameraMatrix fits a pinhole camera matrix to the undistorted view of
// an image of the given size, so that the rays through the midpoints of the four
// image edges land on or outside the output image.
//
// fovScale divides the fitted focal length: values above 1 zoom in, values below 1
// zoom out. Edge rays that cannot be undistorted are left out of the fit.
func EstimateNewCameraMatrix(k Intrinsics, d Distortion, width, height, fovScale float64) (Intrinsics, error) {
	if err := k.CheckValid(); err != nil {
		return Intrinsics{}, err
	}
	if !(width > 0) || !(height > 0) {
		return Intrinsics{}, errors.Errorf("image size must be positive, got %gx%g", width, height)
	}
	if !(fovScale > 0) || math.IsInf(fovScale, 0) {
		return Intrinsics{}, errors.Errorf("fov scale must be positive and finite, got %g", fovScale)
	}

	edges := []r2.Point{
		{X: width / 2, Y: 0},
		{X: width, Y: height / 2},
		{X: width / 2, Y: height},
		{X: 0, Y: height / 2},
	}
	UndistortPoints(edges, k, d)

	points := edges[:0]
	for _, p := range edges {
		if !IsUndefined(p) {
			points = append(points, p)
		}
	}
	if len(points) < 2 {
		return Intrinsics{}, errors.Wrapf(ErrDegenerateView, "%d of 4 edge rays undistorted", len(points))
	}

	var cn r2.Point
	for _, p := range points {
		cn = cn.Add(p)
	}
	cn = cn.Mul(1 / float64(len(points)))

	aspectRatio := k.AspectRatio()
	cn.Y *= aspectRatio
	for i := range points {
		points[i].Y *= aspectRatio
	}

	minX, maxX := points[0].X, points[0].X
	minY, maxY := points[0].Y, points[0].Y
	for _, p := range points[1:] {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}

	candidates := [4]float64{
		width * 0.5 / (cn.X - minX),
		width * 0.5 / (maxX - cn.X),
		height * 0.5 * aspectRatio / (cn.Y - minY),
		height * 0.5 * aspectRatio / (maxY - cn.Y),
	}
	fmax := math.Inf(-1)
	for _, f := range candidates {
		if f > 0 && !math.IsInf(f, 0) && f > fmax {
			fmax = f
		}
	}
	if math.IsInf(fmax, -1) {
		return Intrinsics{}, errors.Wrap(ErrDegenerateView, "no finite focal length candidate")
	}
	f := fmax / fovScale

	newC := cn.Mul(-f).Add(r2.Point{X: width, Y: height * aspectRatio}.Mul(0.5))
	newC.Y /= aspectRatio

	return Intrinsics{Fx: f, Fy: f / aspectRatio, Cx: newC.X, Cy: newC.Y}, nil
}
