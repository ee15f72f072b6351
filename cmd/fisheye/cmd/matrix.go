package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/fisheye/internal/stabilize"
)

// matrixReport is the printed form of a derived view.
type matrixReport struct {
	FrameWidth   int           `json:"frame_width" yaml:"frame_width"`
	FrameHeight  int           `json:"frame_height" yaml:"frame_height"`
	OutputWidth  int           `json:"output_width" yaml:"output_width"`
	OutputHeight int           `json:"output_height" yaml:"output_height"`
	ScaledMatrix [3][3]float64 `json:"scaled_matrix" yaml:"scaled_matrix"`
	CameraMatrix [3][3]float64 `json:"camera_matrix" yaml:"camera_matrix"`
	Rotation     [3][3]float64 `json:"rotation" yaml:"rotation"`
	Distortion   [4]float64    `json:"distortion" yaml:"distortion"`
}

func newMatrixCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Estimate the rectified camera matrix for a frame size",
		Long: `Scale the calibrated camera matrix to a frame size, estimate the camera
matrix of the rectified view and print both together with the correction
rotation.

Examples:
  fisheye matrix
  fisheye matrix --width 1920 --height 1080 --format json
  fisheye matrix --width 1920 --height 1080 --fov-scale 0.8 --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMatrix(cmd)
		},
	}
	cmd.Flags().Int("width", 0, "frame width (default calibration width)")
	cmd.Flags().Int("height", 0, "frame height (default calibration height)")
	cmd.Flags().Int("output-width", 0, "rectified width (default frame width)")
	cmd.Flags().Int("output-height", 0, "rectified height (default frame height)")
	cmd.Flags().StringP("format", "f", "text", "output format: text, json or yaml")
	addViewFlags(cmd)
	return cmd
}

func (a *app) runMatrix(cmd *cobra.Command) error {
	params, err := a.frameParams(cmd)
	if err != nil {
		return err
	}

	width, _ := cmd.Flags().GetInt("width")
	height, _ := cmd.Flags().GetInt("height")
	if width == 0 && height == 0 {
		width, height = params.CalibrationSize.Width, params.CalibrationSize.Height
	}
	outW, _ := cmd.Flags().GetInt("output-width")
	outH, _ := cmd.Flags().GetInt("output-height")
	if outW == 0 && outH == 0 {
		outW, outH = width, height
	}

	stab, err := stabilize.New(stabilize.Config{CacheSize: -1})
	if err != nil {
		return err
	}
	view, err := stab.PrepareView(cliSourceID, params,
		stabilize.Size{Width: width, Height: height},
		stabilize.Size{Width: outW, Height: outH})
	if err != nil {
		return err
	}

	rep := matrixReport{
		FrameWidth:   width,
		FrameHeight:  height,
		OutputWidth:  outW,
		OutputHeight: outH,
		ScaledMatrix: view.K.Array(),
		CameraMatrix: view.P.Array(),
		Distortion:   view.D,
	}
	for i := range 3 {
		for j := range 3 {
			rep.Rotation[i][j] = view.R.At(i, j)
		}
	}

	format, _ := cmd.Flags().GetString("format")
	out, err := rep.format(format)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func (r matrixReport) format(format string) (string, error) {
	switch format {
	case "json":
		b, err := json.MarshalIndent(r, "", "  ")
		return string(b) + "\n", err
	case "yaml":
		b, err := yaml.Marshal(r)
		return string(b), err
	case "text", "":
		var sb strings.Builder
		fmt.Fprintf(&sb, "Frame: %dx%d -> %dx%d\n", r.FrameWidth, r.FrameHeight, r.OutputWidth, r.OutputHeight)
		writeMatrix(&sb, "Scaled camera matrix (K)", r.ScaledMatrix)
		writeMatrix(&sb, "Rectified camera matrix (P)", r.CameraMatrix)
		writeMatrix(&sb, "Correction rotation (R)", r.Rotation)
		fmt.Fprintf(&sb, "Distortion: k1=%.6g k2=%.6g k3=%.6g k4=%.6g\n",
			r.Distortion[0], r.Distortion[1], r.Distortion[2], r.Distortion[3])
		return sb.String(), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func writeMatrix(sb *strings.Builder, title string, m [3][3]float64) {
	sb.WriteString(title + ":\n")
	for _, row := range m {
		fmt.Fprintf(sb, "  [%14.6f %14.6f %14.6f]\n", row[0], row[1], row[2])
	}
}
