package utils

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ChartConfig describes a checkerboard test chart.
type ChartConfig struct {
	Width  int
	Height int
	Cell   int    // checker cell size in pixels
	Label  string // optional caption drawn in the top-left cell
	Dark   color.Color
	Light  color.Color
}

// DefaultChartConfig returns a 1920x1080 chart with 60 px cells.
func DefaultChartConfig() ChartConfig {
	return ChartConfig{
		Width:  1920,
		Height: 1080,
		Cell:   60,
		Dark:   color.RGBA{R: 30, G: 30, B: 30, A: 255},
		Light:  color.RGBA{R: 230, G: 230, B: 230, A: 255},
	}
}

// ChartColorAt returns the checker color of the chart at continuous chart
// coordinates (x, y).
func (c ChartConfig) ChartColorAt(x, y float64) color.Color {
	cell := float64(max(c.Cell, 1))
	ix := int(x / cell)
	iy := int(y / cell)
	if x < 0 {
		ix--
	}
	if y < 0 {
		iy--
	}
	if (ix+iy)%2 == 0 {
		return c.Dark
	}
	return c.Light
}

// GenerateChart renders the checkerboard with an optional caption.
func GenerateChart(c ChartConfig) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
	cell := max(c.Cell, 1)
	for y := 0; y < c.Height; y += cell {
		for x := 0; x < c.Width; x += cell {
			r := image.Rect(x, y, x+cell, y+cell).Intersect(img.Bounds())
			draw.Draw(img, r, &image.Uniform{C: c.ChartColorAt(float64(x), float64(y))}, image.Point{}, draw.Src)
		}
	}
	if c.Label != "" {
		drawLabel(img, c.Label, 4, 4)
	}
	return img
}

// drawLabel writes text with its top-left corner at (x, y) on a white backing box.
func drawLabel(img draw.Image, text string, x, y int) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil()
	h := face.Metrics().Height.Ceil()
	draw.Draw(img, image.Rect(x, y, x+w+4, y+h+4), image.White, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: face,
		Dot:  fixed.P(x+2, y+2+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}
