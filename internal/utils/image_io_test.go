package utils

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestIsSupportedImage(t *testing.T) {
	assert.True(t, IsSupportedImage("a.PNG"))
	assert.True(t, IsSupportedImage("dir/frame_0001.tiff"))
	assert.True(t, IsSupportedImage("x.bmp"))
	assert.False(t, IsSupportedImage("x.gif"))
	assert.False(t, IsSupportedImage("noext"))
}

func TestSaveAndLoadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "frame.png")
	require.NoError(t, SaveImage(solid(12, 8, color.RGBA{R: 255, A: 255}), path))

	img, meta, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, 12, meta.Width)
	assert.Equal(t, 8, meta.Height)
	assert.InDelta(t, 1.5, meta.AspectRatio, 1e-12)
	assert.Positive(t, meta.SizeBytes)

	r, g, _, a := img.At(3, 3).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Zero(t, g)
	assert.Equal(t, uint32(0xffff), a)
}

func TestLoadImage_BMP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.bmp")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, bmp.Encode(f, solid(4, 4, color.RGBA{B: 255, A: 255})))
	require.NoError(t, f.Close())

	img, meta, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, "bmp", meta.Format)
	_, _, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), b)
}

func TestLoadImage_Errors(t *testing.T) {
	_, _, err := LoadImage("")
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "load", ipe.Operation)

	_, _, err = LoadImage("file.gif")
	assert.Error(t, err)

	_, _, err = LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	bad := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not a png"), 0o600))
	_, _, err = LoadImage(bad)
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "decode", ipe.Operation)
}

func TestEncodeDecodePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, solid(5, 3, color.RGBA{G: 255, A: 255})))

	img, err := DecodeImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 5, 3), img.Bounds())
}

func TestValidateImageConstraints(t *testing.T) {
	c := ImageConstraints{MinWidth: 4, MinHeight: 4, MaxPixels: 100}
	assert.NoError(t, ValidateImageConstraints(solid(10, 10, color.White), c))
	assert.Error(t, ValidateImageConstraints(solid(3, 10, color.White), c))
	assert.Error(t, ValidateImageConstraints(solid(11, 10, color.White), c))
	assert.Error(t, ValidateImageConstraints(nil, c))

	c.MaxPixels = 0
	assert.NoError(t, ValidateImageConstraints(solid(11, 10, color.White), c))
}
