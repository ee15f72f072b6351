package cmd

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/fisheye/internal/benchmark"
)

func newBenchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure rectification throughput",
		Long: `Render a synthetic chart repeatedly and report the time per frame for
each frame size and worker count.

Examples:
  fisheye bench
  fisheye bench --size 1920x1080 --size 3840x2160 --workers 1,4,8 -n 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBench(cmd)
		},
	}
	cmd.Flags().StringSlice("size", []string{"1920x1080"}, "frame sizes as WIDTHxHEIGHT")
	cmd.Flags().IntSlice("workers", nil, "worker counts to compare (default 1 and one per CPU)")
	cmd.Flags().IntP("iterations", "n", 10, "frames rendered per case")
	addViewFlags(cmd)
	return cmd
}

func (a *app) runBench(cmd *cobra.Command) error {
	params, err := a.frameParams(cmd)
	if err != nil {
		return err
	}
	iterations, _ := cmd.Flags().GetInt("iterations")
	if iterations <= 0 {
		return fmt.Errorf("invalid iterations: %d (must be positive)", iterations)
	}
	workers, _ := cmd.Flags().GetIntSlice("workers")
	if len(workers) == 0 {
		workers = []int{1}
		if n := runtime.NumCPU(); n > 1 {
			workers = append(workers, n)
		}
	}
	sizes, _ := cmd.Flags().GetStringSlice("size")

	suite := benchmark.NewSuite(params)
	for _, s := range sizes {
		w, h, err := parseSize(s)
		if err != nil {
			return err
		}
		suite.AddWorkerScaling(w, h, workers)
	}

	results := suite.RunAll(cmd.Context(), iterations)
	suite.WriteResults(cmd.OutOrStdout())
	for _, r := range results {
		if r.Error != nil {
			return fmt.Errorf("benchmark %s failed: %w", r.Name, r.Error)
		}
	}
	return nil
}

// parseSize parses WIDTHxHEIGHT.
func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q (expected WIDTHxHEIGHT)", s)
	}
	w, errW := strconv.Atoi(ws)
	h, errH := strconv.Atoi(hs)
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid size %q (expected WIDTHxHEIGHT)", s)
	}
	return w, h, nil
}
