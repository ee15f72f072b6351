package stabilize

import (
	"errors"
	"fmt"
	"math"

	"github.com/MeKo-Tech/fisheye/internal/lens"
	"github.com/MeKo-Tech/fisheye/internal/rotation"
)

// Size is a frame size in pixels.
type Size struct {
	Width  int `json:"width" yaml:"width" mapstructure:"width"`
	Height int `json:"height" yaml:"height" mapstructure:"height"`
}

// FrameParams are the per-frame inputs of a render.
type FrameParams struct {
	CameraMatrix        [3][3]float64       `json:"camera_matrix" yaml:"camera_matrix" mapstructure:"camera_matrix"`
	Distortion          lens.Distortion     `json:"distortion" yaml:"distortion" mapstructure:"distortion"`
	CalibrationSize     Size                `json:"calibration_size" yaml:"calibration_size" mapstructure:"calibration_size"`
	CorrectionQuat      rotation.Quaternion `json:"correction_quat" yaml:"correction_quat" mapstructure:"correction_quat"`
	FOVScale            float64             `json:"fov_scale" yaml:"fov_scale" mapstructure:"fov_scale"`
	RotationSubsampling int                 `json:"rotation_subsampling,omitempty" yaml:"rotation_subsampling,omitempty" mapstructure:"rotation_subsampling"`
}

// DefaultFrameParams returns the calibration of the reference 3840x2160 fisheye
// camera with its measured mounting correction.
func DefaultFrameParams() FrameParams {
	return FrameParams{
		CameraMatrix: [3][3]float64{
			{2004.559898061336, 0, 1920},
			{0, 1502.6021031882099, 1080},
			{0, 0, 1},
		},
		Distortion: lens.Distortion{
			-0.04614696357651861,
			0.027871487382326275,
			-0.04499706001247255,
			0.017210690844729263,
		},
		CalibrationSize: Size{Width: 3840, Height: 2160},
		CorrectionQuat: rotation.Quaternion{
			W: 0.9999816018844726,
			X: 0.005914784980046915,
			Y: 0.0012299438397453124,
			Z: 0.0005463051847160959,
		},
		FOVScale:            1.0,
		RotationSubsampling: rotation.DefaultSubsampling,
	}
}

// Validate checks the parameters before any math is done with them.
func (p FrameParams) Validate() error {
	if _, err := lens.IntrinsicsFromArray(p.CameraMatrix); err != nil {
		return fmt.Errorf("camera matrix: %w", err)
	}
	for i, k := range p.Distortion {
		if math.IsNaN(k) || math.IsInf(k, 0) {
			return fmt.Errorf("distortion coefficient k%d is not finite", i+1)
		}
	}
	if p.CalibrationSize.Width <= 0 || p.CalibrationSize.Height <= 0 {
		return fmt.Errorf("calibration size %dx%d must be positive",
			p.CalibrationSize.Width, p.CalibrationSize.Height)
	}
	if !(p.FOVScale > 0) || math.IsInf(p.FOVScale, 0) {
		return fmt.Errorf("fov scale %g must be positive", p.FOVScale)
	}
	if p.RotationSubsampling < 0 {
		return errors.New("rotation subsampling must not be negative")
	}
	return nil
}

// subsampling returns the configured step count, defaulting to 10.
func (p FrameParams) subsampling() int {
	if p.RotationSubsampling == 0 {
		return rotation.DefaultSubsampling
	}
	return p.RotationSubsampling
}

// Intrinsics returns the camera matrix carried from the calibration resolution
// to a frame frameWidth pixels wide.
func (p FrameParams) Intrinsics(frameWidth int) (lens.Intrinsics, error) {
	k, err := lens.IntrinsicsFromArray(p.CameraMatrix)
	if err != nil {
		return lens.Intrinsics{}, err
	}
	return k.Scale(float64(frameWidth) / float64(p.CalibrationSize.Width)), nil
}
