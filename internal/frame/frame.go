// Package frame holds RGBA float32 image buffers with an explicit byte stride.
package frame

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/MeKo-Tech/fisheye/internal/mempool"
)

const (
	// Channels is the number of float32 components per pixel (R, G, B, A).
	Channels = 4
	// PixelBytes is the size of one pixel in bytes.
	PixelBytes = Channels * 4
)

// Pixel is one premultiplied RGBA sample, each component nominally in [0, 1].
type Pixel [Channels]float32

// Buffer is a 2-D RGBA float32 image. Stride is the distance in bytes between the
// starts of consecutive rows and may exceed Width*PixelBytes.
type Buffer struct {
	Width  int
	Height int
	Stride int
	Pix    []float32

	pooled bool
}

// New allocates a tightly packed buffer from the shared float32 pool. The pixels
// are zeroed. Call Release when the buffer is no longer needed.
func New(width, height int) *Buffer {
	return NewWithStride(width, height, width*PixelBytes)
}

// NewWithStride is New with an explicit row stride in bytes.
func NewWithStride(width, height, stride int) *Buffer {
	if err := checkGeometry(width, height, stride); err != nil {
		panic(err)
	}
	n := requiredLen(width, height, stride)
	return &Buffer{
		Width:  width,
		Height: height,
		Stride: stride,
		Pix:    mempool.GetFloat32Zeroed(n),
		pooled: true,
	}
}

// FromSlice wraps caller-owned storage. The slice must hold at least
// (height-1)*stride/4 + width*4 elements.
func FromSlice(pix []float32, width, height, stride int) (*Buffer, error) {
	if err := checkGeometry(width, height, stride); err != nil {
		return nil, err
	}
	if need := requiredLen(width, height, stride); len(pix) < need {
		return nil, fmt.Errorf("frame: pixel slice has %d elements, need %d", len(pix), need)
	}
	return &Buffer{Width: width, Height: height, Stride: stride, Pix: pix}, nil
}

func checkGeometry(width, height, stride int) error {
	switch {
	case width <= 0 || height <= 0:
		return fmt.Errorf("frame: invalid size %dx%d", width, height)
	case stride%4 != 0:
		return fmt.Errorf("frame: stride %d is not a multiple of 4 bytes", stride)
	case stride < width*PixelBytes:
		return fmt.Errorf("frame: stride %d smaller than row size %d", stride, width*PixelBytes)
	}
	return nil
}

func requiredLen(width, height, stride int) int {
	return (height-1)*(stride/4) + width*Channels
}

// Release hands pooled storage back to the pool. The buffer must not be used
// afterwards. Buffers created with FromSlice are left untouched.
func (b *Buffer) Release() {
	if b == nil || !b.pooled {
		return
	}
	mempool.PutFloat32(b.Pix)
	b.Pix = nil
	b.pooled = false
}

// Bounds returns the image rectangle of the buffer.
func (b *Buffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.Width, b.Height)
}

// SameSize reports whether b and o have equal width and height.
func (b *Buffer) SameSize(o *Buffer) bool {
	return b.Width == o.Width && b.Height == o.Height
}

func (b *Buffer) rowOffset(y int) int { return y * (b.Stride / 4) }

// Row returns the Width*4 components of row y. Rows of one buffer never overlap.
func (b *Buffer) Row(y int) []float32 {
	off := b.rowOffset(y)
	return b.Pix[off : off+b.Width*Channels : off+b.Width*Channels]
}

// At returns the pixel at (x, y). It does not check bounds beyond the slice's own.
func (b *Buffer) At(x, y int) Pixel {
	i := b.rowOffset(y) + x*Channels
	return Pixel{b.Pix[i], b.Pix[i+1], b.Pix[i+2], b.Pix[i+3]}
}

// Set writes the pixel at (x, y).
func (b *Buffer) Set(x, y int, p Pixel) {
	i := b.rowOffset(y) + x*Channels
	copy(b.Pix[i:i+Channels], p[:])
}

// Fill sets every pixel to p.
func (b *Buffer) Fill(p Pixel) {
	for y := range b.Height {
		row := b.Row(y)
		for x := 0; x < len(row); x += Channels {
			copy(row[x:x+Channels], p[:])
		}
	}
}

// FromImage converts any image into a new pooled buffer. Components are
// premultiplied and normalised to [0, 1].
func FromImage(img image.Image) *Buffer {
	r := img.Bounds()
	b := New(r.Dx(), r.Dy())

	// Fast path for the common decoder output.
	if nrgba, ok := img.(*image.NRGBA); ok {
		rgba := image.NewRGBA(r)
		draw.Draw(rgba, r, nrgba, r.Min, draw.Src)
		img = rgba
	}
	if rgba, ok := img.(*image.RGBA); ok {
		for y := range b.Height {
			off := rgba.PixOffset(r.Min.X, r.Min.Y+y)
			src := rgba.Pix[off : off+b.Width*4]
			dst := b.Row(y)
			for i, c := range src {
				dst[i] = float32(c) / 255
			}
		}
		return b
	}

	for y := range b.Height {
		row := b.Row(y)
		for x := range b.Width {
			cr, cg, cb, ca := img.At(r.Min.X+x, r.Min.Y+y).RGBA()
			i := x * Channels
			row[i] = float32(cr) / 0xffff
			row[i+1] = float32(cg) / 0xffff
			row[i+2] = float32(cb) / 0xffff
			row[i+3] = float32(ca) / 0xffff
		}
	}
	return b
}

// ToImage converts the buffer into a 16-bit premultiplied image. Components
// outside [0, 1] are clamped.
func (b *Buffer) ToImage() *image.RGBA64 {
	img := image.NewRGBA64(b.Bounds())
	for y := range b.Height {
		row := b.Row(y)
		for x := range b.Width {
			i := x * Channels
			img.SetRGBA64(x, y, color.RGBA64{
				R: to16(row[i]),
				G: to16(row[i+1]),
				B: to16(row[i+2]),
				A: to16(row[i+3]),
			})
		}
	}
	return img
}

func to16(v float32) uint16 {
	switch {
	case !(v > 0): // also catches NaN
		return 0
	case v >= 1:
		return 0xffff
	default:
		return uint16(v*0xffff + 0.5)
	}
}
