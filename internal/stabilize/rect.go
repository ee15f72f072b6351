package stabilize

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// aspectTolerance is how far two aspect ratios may differ and still count as equal.
const aspectTolerance = 0.1

// CenterRect returns the largest centred rectangle of the given aspect ratio
// (width/height) inside a width x height frame. If the frame's own ratio is
// within 0.1 of ratio the whole frame is returned.
func CenterRect(width, height int, ratio float64) image.Rectangle {
	full := image.Rect(0, 0, width, height)
	if width <= 0 || height <= 0 || !(ratio > 0) {
		return full
	}
	current := float64(width) / float64(height)
	if math.Abs(current-ratio) <= aspectTolerance {
		return full
	}

	w, h := width, height
	if current > ratio {
		w = int(math.Round(float64(height) * ratio))
	} else {
		h = int(math.Round(float64(width) / ratio))
	}
	x := (width - w) / 2
	y := (height - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// CropToAspect crops img to its centred rectangle of the given aspect ratio.
func CropToAspect(img image.Image, ratio float64) image.Image {
	b := img.Bounds()
	r := CenterRect(b.Dx(), b.Dy(), ratio)
	if r.Dx() == b.Dx() && r.Dy() == b.Dy() {
		return img
	}
	return imaging.Crop(img, r.Add(b.Min))
}
