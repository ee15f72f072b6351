package cmd

import (
	"fmt"
	"image"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/fisheye/internal/stabilize"
	"github.com/MeKo-Tech/fisheye/internal/utils"
)

func newChartCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chart OUTPUT",
		Short: "Generate a checkerboard test chart",
		Long: `Generate a checkerboard chart, either flat or as seen through the configured
fisheye lens. A synthesized fisheye chart rectified with the same
configuration gives back straight checker lines, which makes it a quick
check of a calibration.

Examples:
  fisheye chart chart.png
  fisheye chart distorted.png --fisheye --width 1920 --height 1080`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChart(cmd, args[0])
		},
	}
	cmd.Flags().Int("width", 1920, "chart width")
	cmd.Flags().Int("height", 1080, "chart height")
	cmd.Flags().Int("cell", 60, "checker cell size in pixels")
	cmd.Flags().String("label", "", "caption drawn in the top-left corner")
	cmd.Flags().Bool("fisheye", false, "render the chart as seen through the configured lens")
	return cmd
}

func (a *app) runChart(cmd *cobra.Command, output string) error {
	chart := utils.DefaultChartConfig()
	chart.Width, _ = cmd.Flags().GetInt("width")
	chart.Height, _ = cmd.Flags().GetInt("height")
	chart.Cell, _ = cmd.Flags().GetInt("cell")
	chart.Label, _ = cmd.Flags().GetString("label")
	if chart.Width <= 0 || chart.Height <= 0 || chart.Cell <= 0 {
		return fmt.Errorf("invalid chart geometry %dx%d with %d px cells", chart.Width, chart.Height, chart.Cell)
	}

	var img image.Image = utils.GenerateChart(chart)
	if fisheye, _ := cmd.Flags().GetBool("fisheye"); fisheye {
		size := stabilize.Size{Width: chart.Width, Height: chart.Height}
		distorted, err := stabilize.SynthesizeFisheye(a.cfg.ToFrameParams(), size, chart)
		if err != nil {
			return err
		}
		img = distorted
	}

	if err := utils.SaveImage(img, output); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Chart written to %s (%dx%d)\n", output, chart.Width, chart.Height)
	return nil
}
