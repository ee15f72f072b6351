package utils

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateChart(t *testing.T) {
	c := DefaultChartConfig()
	c.Width, c.Height, c.Cell = 100, 50, 20

	img := GenerateChart(c)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, c.Dark, img.At(5, 5))
	assert.Equal(t, c.Light, img.At(25, 5))
	assert.Equal(t, c.Light, img.At(5, 25))
	assert.Equal(t, c.Dark, img.At(25, 25))
	// Partial cells at the border are filled too.
	assert.Equal(t, c.Dark, img.At(99, 49))
}

func TestGenerateChart_Label(t *testing.T) {
	c := DefaultChartConfig()
	c.Width, c.Height, c.Cell = 200, 100, 50
	c.Label = "fisheye"

	img := GenerateChart(c)
	// The label box is white where the dark cell would be.
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, img.At(5, 4))
}

func TestChartColorAt_NegativeCoordinates(t *testing.T) {
	c := DefaultChartConfig()
	assert.Equal(t, c.Dark, c.ChartColorAt(0, 0))
	assert.Equal(t, c.Light, c.ChartColorAt(-1, 0))
}
