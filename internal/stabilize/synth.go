package stabilize

import (
	"fmt"
	"image"
	"image/color"

	"github.com/golang/geo/r2"

	"github.com/MeKo-Tech/fisheye/internal/lens"
	"github.com/MeKo-Tech/fisheye/internal/utils"
)

// SynthesizeFisheye renders how a camera with the given parameters sees a flat
// checkerboard chart placed in front of it, filling the view. Pixels whose ray
// cannot be undistorted stay transparent.
func SynthesizeFisheye(params FrameParams, size Size, chart utils.ChartConfig) (*image.RGBA, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", size.Width, size.Height)
	}
	k, err := params.Intrinsics(size.Width)
	if err != nil {
		return nil, fmt.Errorf("scaled camera matrix: %w", err)
	}
	model := lens.Model{K: k, D: params.Distortion}

	// The chart plane is seen through a pinhole with the fisheye's focal length.
	img := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	for y := range size.Height {
		for x := range size.Width {
			ray, ok := model.Unproject(r2.Point{X: float64(x), Y: float64(y)})
			if !ok || ray.Z <= 0 {
				continue
			}
			cx := k.Fx*ray.X/ray.Z + k.Cx
			cy := k.Fy*ray.Y/ray.Z + k.Cy
			img.Set(x, y, colorOrTransparent(chart, cx, cy))
		}
	}
	return img, nil
}

func colorOrTransparent(chart utils.ChartConfig, x, y float64) color.Color {
	if x < 0 || y < 0 || x >= float64(chart.Width) || y >= float64(chart.Height) {
		return color.Transparent
	}
	return chart.ChartColorAt(x, y)
}
