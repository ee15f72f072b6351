package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/fisheye/internal/batch"
)

func newBatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch PATH...",
		Short: "Rectify a sequence of frames",
		Long: `Rectify every frame found in the given files and directories. Frames are
rendered in parallel and share one view cache, so a sequence shot with the
same parameters estimates its camera matrix once.

A frame may carry its own parameters in a YAML sidecar next to it
(frame_0001.png -> frame_0001.yaml); keys in the sidecar override the
configuration for that frame only.

Examples:
  fisheye batch clip/ --output-dir rectified
  fisheye batch clip/ --recursive --include "*.png" --continue-on-error
  fisheye batch a.jpg b.jpg --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBatch(cmd, args)
		},
	}
	cmd.Flags().StringP("output-dir", "o", "rectified", "directory for rectified frames")
	cmd.Flags().String("suffix", "", "suffix appended to output file names")
	cmd.Flags().IntP("jobs", "j", 0, "frames rendered in parallel (0 = half the CPUs)")
	cmd.Flags().Int("workers", 0, "rectification workers per frame (0 = one per CPU)")
	cmd.Flags().BoolP("recursive", "r", false, "descend into subdirectories")
	cmd.Flags().Bool("continue-on-error", false, "keep going when a frame fails")
	cmd.Flags().StringSlice("include", nil, "glob patterns of files to include")
	cmd.Flags().StringSlice("exclude", nil, "glob patterns of files to exclude")
	cmd.Flags().String("params", "", "YAML file with frame parameters overlaying the configuration")
	cmd.Flags().StringP("format", "f", "text", "result format: text, json or yaml")
	cmd.Flags().Bool("progress", false, "show a progress bar on stderr")
	addViewFlags(cmd)
	return cmd
}

func (a *app) runBatch(cmd *cobra.Command, args []string) error {
	params, err := a.frameParams(cmd)
	if err != nil {
		return err
	}
	if path, _ := cmd.Flags().GetString("params"); path != "" {
		if params, err = batch.LoadParamsFile(path, params); err != nil {
			return err
		}
	}

	bc := a.cfg.ToBatchConfig()
	if bc.OutputAspect, err = a.outputAspect(cmd); err != nil {
		return err
	}
	if cmd.Flags().Changed("output-dir") || bc.OutputDir == "" {
		bc.OutputDir, _ = cmd.Flags().GetString("output-dir")
	}
	if cmd.Flags().Changed("jobs") {
		bc.Workers, _ = cmd.Flags().GetInt("jobs")
	}
	if cmd.Flags().Changed("recursive") {
		bc.Recursive, _ = cmd.Flags().GetBool("recursive")
	}
	if cmd.Flags().Changed("continue-on-error") {
		bc.ContinueOnError, _ = cmd.Flags().GetBool("continue-on-error")
	}
	bc.OutputSuffix, _ = cmd.Flags().GetString("suffix")
	bc.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
	bc.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")
	if show, _ := cmd.Flags().GetBool("progress"); show {
		bc.Progress = batch.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Rectifying: ")
	} else {
		bc.Progress = batch.NewLogProgressCallback(slog.Default(), slog.LevelDebug, 25)
	}

	format, _ := cmd.Flags().GetString("format")
	if _, err := (&batch.Result{}).FormatResults(format); err != nil {
		return err
	}

	stab, err := a.newStabilizer(cmd)
	if err != nil {
		return err
	}
	result, runErr := batch.NewRenderer(stab, bc).Run(cmd.Context(), args, params)
	if result == nil {
		return runErr
	}

	out, err := result.FormatResults(format)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), out)

	st := stab.Stats()
	slog.Debug("View cache", "hits", st.CacheHits, "misses", st.CacheMisses)

	if runErr != nil {
		return runErr
	}
	if failed := result.Failed(); failed > 0 {
		return fmt.Errorf("%d of %d frames failed", failed, len(result.Frames))
	}
	return nil
}
