package rectify

import "github.com/MeKo-Tech/fisheye/internal/frame"

// sampleBilinear blends the four source pixels around (u, v). Unless all four
// neighbours lie inside src the result is the zero pixel; there is no clamping
// and no partial blend. NaN and infinite coordinates fail the range check.
func sampleBilinear(src *frame.Buffer, u, v float64) frame.Pixel {
	if !(u >= 0 && u < float64(src.Width-1) && v >= 0 && v < float64(src.Height-1)) {
		return frame.Pixel{}
	}
	x0 := int(u)
	y0 := int(v)
	fx := u - float64(x0)
	fy := v - float64(y0)

	top := src.Row(y0)[x0*frame.Channels : (x0+2)*frame.Channels]
	bottom := src.Row(y0 + 1)[x0*frame.Channels : (x0+2)*frame.Channels]

	var out frame.Pixel
	for c := range frame.Channels {
		t := lerp(float64(top[c]), float64(top[frame.Channels+c]), fx)
		b := lerp(float64(bottom[c]), float64(bottom[frame.Channels+c]), fx)
		out[c] = float32(lerp(t, b, fy))
	}
	return out
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }
