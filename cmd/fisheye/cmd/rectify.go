package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/fisheye/internal/batch"
	"github.com/MeKo-Tech/fisheye/internal/utils"
)

const cliSourceID = "cli"

func newRectifyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rectify INPUT",
		Short: "Rectify a single fisheye image",
		Long: `Undistort a fisheye image, apply the correction rotation and write the
rectified view as PNG.

Examples:
  fisheye rectify frame.jpg
  fisheye rectify frame.jpg -o flat.png --fov-scale 1.2
  fisheye rectify frame.jpg --params lens.yaml --aspect 1.7778`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRectify(cmd, args[0])
		},
	}
	cmd.Flags().StringP("output", "o", "", "output PNG (default <input>_rectified.png next to the input)")
	cmd.Flags().String("params", "", "YAML file with frame parameters overlaying the configuration")
	cmd.Flags().Int("workers", 0, "rectification workers (0 = one per CPU)")
	addViewFlags(cmd)
	return cmd
}

func (a *app) runRectify(cmd *cobra.Command, input string) error {
	params, err := a.frameParams(cmd)
	if err != nil {
		return err
	}
	if path, _ := cmd.Flags().GetString("params"); path != "" {
		if params, err = batch.LoadParamsFile(path, params); err != nil {
			return err
		}
	}
	aspect, err := a.outputAspect(cmd)
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = batch.OutputPath(filepath.Dir(input), input, "_rectified")
	}
	if filepath.Clean(output) == filepath.Clean(input) {
		return errors.New("output would overwrite the input image")
	}

	img, meta, err := utils.LoadImage(input)
	if err != nil {
		return err
	}
	if err := utils.ValidateImageConstraints(img, utils.DefaultImageConstraints()); err != nil {
		return err
	}

	stab, err := a.newStabilizer(cmd)
	if err != nil {
		return err
	}

	start := time.Now()
	out, err := stab.RenderImage(cmd.Context(), cliSourceID, params, img, aspect)
	if err != nil {
		return fmt.Errorf("failed to rectify %s: %w", input, err)
	}
	if err := utils.SaveImage(out, output); err != nil {
		return err
	}

	b := out.Bounds()
	slog.Debug("Image rectified", "input", input, "format", meta.Format,
		"width", b.Dx(), "height", b.Dy(), "duration", time.Since(start))
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%dx%d)\n", input, output, b.Dx(), b.Dy())
	return nil
}
