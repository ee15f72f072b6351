package support

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/fisheye/internal/utils"
)

var frameColor = color.RGBA{R: 40, G: 160, B: 60, A: 255}

// createSolidImage builds a solid test frame.
func createSolidImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.SetRGBA(x, y, frameColor)
		}
	}
	return img
}

// aFrameOfSize writes a solid frame into the scenario directory.
func (testCtx *TestContext) aFrameOfSize(name string, width, height int) error {
	path := testCtx.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	if err := utils.SaveImage(createSolidImage(width, height), path); err != nil {
		return fmt.Errorf("failed to write frame %s: %w", path, err)
	}
	return nil
}

// aSequenceOfFrames writes count numbered frames into dir.
func (testCtx *TestContext) aSequenceOfFrames(count int, dir string) error {
	for i := 1; i <= count; i++ {
		if err := testCtx.aFrameOfSize(filepath.Join(dir, fmt.Sprintf("frame_%04d.png", i)), 64, 36); err != nil {
			return err
		}
	}
	return nil
}

// aCorruptImage writes a file with an image extension that is not an image.
func (testCtx *TestContext) aCorruptImage(name string) error {
	path := testCtx.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("this is not an image"), 0o600)
}

// theImageShouldBeOfSize decodes an image file and checks its dimensions.
func (testCtx *TestContext) theImageShouldBeOfSize(name string, width, height int) error {
	path := testCtx.Path(testCtx.substituteCommandVariables(name))
	img, _, err := utils.LoadImage(path)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		return fmt.Errorf("image %s is %dx%d, expected %dx%d", path, b.Dx(), b.Dy(), width, height)
	}
	return nil
}

// theCenterOfShouldKeepTheFrameColor checks that the middle pixel survived
// rectification of a solid frame.
func (testCtx *TestContext) theCenterOfShouldKeepTheFrameColor(name string) error {
	path := testCtx.Path(testCtx.substituteCommandVariables(name))
	img, _, err := utils.LoadImage(path)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	b := img.Bounds()
	got := color.RGBAModel.Convert(img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2)).(color.RGBA)
	if absDiff(got.R, frameColor.R) > 2 || absDiff(got.G, frameColor.G) > 2 ||
		absDiff(got.B, frameColor.B) > 2 || got.A != 255 {
		return fmt.Errorf("center pixel of %s is %v, expected %v", path, got, frameColor)
	}
	return nil
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// RegisterImageSteps registers the frame fixture and image assertion steps.
func (testCtx *TestContext) RegisterImageSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a frame "([^"]*)" of size (\d+)x(\d+)$`, testCtx.aFrameOfSize)
	sc.Step(`^a sequence of (\d+) frames in "([^"]*)"$`, testCtx.aSequenceOfFrames)
	sc.Step(`^a corrupt image "([^"]*)"$`, testCtx.aCorruptImage)
	sc.Step(`^the image "([^"]*)" should be (\d+)x(\d+)$`, testCtx.theImageShouldBeOfSize)
	sc.Step(`^the center of "([^"]*)" should keep the frame color$`, testCtx.theCenterOfShouldKeepTheFrameColor)
}
