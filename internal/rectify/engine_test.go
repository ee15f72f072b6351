package rectify

import (
	"math"
	"math/rand"
	"runtime"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/MeKo-Tech/fisheye/internal/frame"
	"github.com/MeKo-Tech/fisheye/internal/lens"
	"github.com/MeKo-Tech/fisheye/internal/rotation"
)

var (
	testK    = lens.Intrinsics{Fx: 1000, Fy: 1000, Cx: 960, Cy: 540}
	identity = mat.NewDiagDense(3, []float64{1, 1, 1})
	red      = frame.Pixel{1, 0, 0, 1}
)

func noiseFrame(w, h int, seed int64) *frame.Buffer {
	rng := rand.New(rand.NewSource(seed))
	b := frame.New(w, h)
	for i := range b.Pix {
		b.Pix[i] = rng.Float32()
	}
	return b
}

func TestUndistortRectify_SolidRedIdentity(t *testing.T) {
	src := frame.New(1920, 1080)
	defer src.Release()
	src.Fill(red)
	dst := frame.New(1920, 1080)
	defer dst.Release()

	UndistortRectify(testK, lens.Distortion{}, identity, testK.Matrix(), src, dst)

	for y := range dst.Height {
		for x := range dst.Width {
			if px := dst.At(x, y); px != red {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, px, red)
			}
		}
	}
}

func TestNew_Workers(t *testing.T) {
	assert.Equal(t, runtime.NumCPU(), New(Config{}).Workers())
	assert.Equal(t, 3, New(Config{Workers: 3}).Workers())
}

func TestUndistortRectify_WorkerCountDoesNotChangeOutput(t *testing.T) {
	k := lens.Intrinsics{Fx: 120, Fy: 110, Cx: 80, Cy: 60}
	d := lens.Distortion{-0.046, 0.028, -0.045, 0.017}
	r := rotation.EulerAngles{Roll: 0.02, Pitch: -0.01, Yaw: 0.03}.Matrix()
	p, err := lens.EstimateNewCameraMatrix(k, d, 160, 120, 1)
	require.NoError(t, err)

	src := noiseFrame(160, 120, 7)
	defer src.Release()

	serial := frame.New(160, 120)
	defer serial.Release()
	New(Config{Workers: 1}).UndistortRectify(k, d, r, p.Matrix(), src, serial)

	parallel := frame.NewWithStride(160, 120, 160*frame.PixelBytes+64)
	defer parallel.Release()
	New(Config{Workers: 5, RowsPerJob: 3}).UndistortRectify(k, d, r, p.Matrix(), src, parallel)

	for y := range serial.Height {
		require.Equal(t, serial.Row(y), parallel.Row(y), "row %d", y)
	}
}

func TestUndistortRectify_OverwritesEveryPixel(t *testing.T) {
	k := lens.Intrinsics{Fx: 50, Fy: 50, Cx: 32, Cy: 24}
	src := frame.New(64, 48)
	defer src.Release()
	src.Fill(red)

	dst := frame.New(64, 48)
	defer dst.Release()
	dst.Fill(frame.Pixel{float32(math.NaN()), 7, 7, 7})

	// Rotating far to the side leaves most of the view outside the source.
	r := rotation.EulerAngles{Pitch: 1.2}.Matrix()
	New(Config{Workers: 3}).UndistortRectify(k, lens.Distortion{}, r, k.Matrix(), src, dst)

	zeros := 0
	for y := range dst.Height {
		for x := range dst.Width {
			px := dst.At(x, y)
			require.True(t, px == red || px == frame.Pixel{}, "pixel (%d,%d) = %v", x, y, px)
			if px == (frame.Pixel{}) {
				zeros++
			}
		}
	}
	assert.Positive(t, zeros)
}

func TestUndistortRectify_Preconditions(t *testing.T) {
	a := frame.New(4, 4)
	defer a.Release()
	b := frame.New(4, 5)
	defer b.Release()
	m := testK.Matrix()

	assert.Panics(t, func() { UndistortRectify(testK, lens.Distortion{}, identity, m, a, b) })
	assert.Panics(t, func() { UndistortRectify(testK, lens.Distortion{}, identity, m, a, nil) })
	assert.Panics(t, func() {
		UndistortRectify(testK, lens.Distortion{}, identity, mat.NewDense(3, 3, nil), a, a)
	})
}

func TestProject_BehindCameraGoesToInfinity(t *testing.T) {
	model := lens.Model{K: testK}
	u, v := project(model, 1, -1, 0)
	assert.True(t, math.IsInf(u, -1))
	assert.True(t, math.IsInf(v, 1))

	u, v = project(model, -1, 2, -3)
	assert.True(t, math.IsInf(u, 1))
	assert.True(t, math.IsInf(v, -1))
}

func TestSourceRow_MatchesDirectProduct(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("incremental sweep equals direct matrix product", prop.ForAll(
		func(roll, pitch, yaw, f float64, y int) bool {
			const width = 640
			k := lens.Intrinsics{Fx: f, Fy: f * 0.9, Cx: 320, Cy: 240}
			model := lens.Model{K: k, D: lens.Distortion{-0.04, 0.02, -0.01, 0.005}}
			r := rotation.EulerAngles{Roll: roll, Pitch: pitch, Yaw: yaw}.Matrix()
			inv := inverseMap(r, k.Matrix())

			us := make([]float64, width)
			vs := make([]float64, width)
			sourceRow(&inv, model, y, us, vs)

			invM := mat.NewDense(3, 3, inv[:])
			for x := 0; x < width; x += 13 {
				h := mat.NewVecDense(3, []float64{float64(x), float64(y), 1})
				var ray mat.VecDense
				ray.MulVec(invM, h)
				u, v := project(model, ray.AtVec(0), ray.AtVec(1), ray.AtVec(2))
				if math.Abs(u-us[x]) > 1e-6 || math.Abs(v-vs[x]) > 1e-6 {
					return false
				}
			}
			return true
		},
		gen.Float64Range(-0.2, 0.2),
		gen.Float64Range(-0.2, 0.2),
		gen.Float64Range(-0.2, 0.2),
		gen.Float64Range(200, 1500),
		gen.IntRange(0, 479),
	))

	properties.TestingRun(t)
}
