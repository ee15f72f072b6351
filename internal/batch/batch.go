// Package batch renders sequences of fisheye frames from disk.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/fisheye/internal/stabilize"
	"github.com/MeKo-Tech/fisheye/internal/utils"
)

// sourceID is the view cache key shared by all frames of a batch.
const sourceID = "batch"

// ErrOutputCollision is returned for a frame whose output file is already
// claimed by an earlier frame of the same batch.
var ErrOutputCollision = errors.New("output path collision")

// FrameResult is the outcome of one frame.
type FrameResult struct {
	Input    string        `json:"input" yaml:"input"`
	Output   string        `json:"output,omitempty" yaml:"output,omitempty"`
	Width    int           `json:"width,omitempty" yaml:"width,omitempty"`
	Height   int           `json:"height,omitempty" yaml:"height,omitempty"`
	Sidecar  bool          `json:"sidecar,omitempty" yaml:"sidecar,omitempty"`
	Duration time.Duration `json:"duration_ns" yaml:"duration_ns"`
	Err      error         `json:"-" yaml:"-"`
}

// Result holds the result of a batch run, in input order.
type Result struct {
	Frames   []FrameResult
	Duration time.Duration
	Workers  int
}

// Failed returns the number of frames that did not render.
func (r *Result) Failed() int {
	n := 0
	for _, f := range r.Frames {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// Renderer renders frame files through a Stabilizer.
type Renderer struct {
	stab *stabilize.Stabilizer
	cfg  Config
}

// NewRenderer creates a renderer. The stabilizer is shared, so consecutive
// frames with equal parameters reuse the cached view.
func NewRenderer(stab *stabilize.Stabilizer, cfg Config) *Renderer {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	return &Renderer{stab: stab, cfg: cfg}
}

// Run discovers frames under paths and renders them with params.
func (r *Renderer) Run(ctx context.Context, paths []string, params stabilize.FrameParams) (*Result, error) {
	files, err := DiscoverFrames(paths, r.cfg.Recursive, r.cfg.IncludePatterns, r.cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover frames: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no frame files found")
	}
	return r.Process(ctx, files, params)
}

// Process renders the given frame files. Frames run in parallel up to
// Config.Workers. Without ContinueOnError the first failure cancels the rest and
// is returned; with it, failures are only recorded in the result.
func (r *Renderer) Process(ctx context.Context, files []string, params stabilize.FrameParams) (*Result, error) {
	if err := os.MkdirAll(r.cfg.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	outputs, collisions := r.outputPaths(files)
	if !r.cfg.ContinueOnError {
		for _, err := range collisions {
			if err != nil {
				return nil, err
			}
		}
	}

	progress := r.cfg.Progress
	if progress != nil {
		progress.OnStart(len(files))
		defer progress.OnComplete()
	}

	results := make([]FrameResult, len(files))
	var done atomic.Int64

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, path := range files {
		g.Go(func() error {
			var res FrameResult
			if collisions[i] != nil {
				res = FrameResult{Input: path, Err: collisions[i]}
			} else {
				res = r.renderFile(gctx, path, outputs[i], params)
			}
			results[i] = res
			if progress != nil {
				if res.Err != nil {
					progress.OnError(path, res.Err)
				}
				progress.OnProgress(int(done.Add(1)), len(files))
			}
			if res.Err != nil && !r.cfg.ContinueOnError {
				return fmt.Errorf("%s: %w", path, res.Err)
			}
			return nil
		})
	}
	err := g.Wait()

	result := &Result{Frames: results, Duration: time.Since(start), Workers: r.cfg.Workers}
	slog.Info("Batch finished", "frames", len(files), "failed", result.Failed(),
		"duration", result.Duration.Round(time.Millisecond))
	if err != nil {
		return result, err
	}
	return result, ctx.Err()
}

// outputPaths maps every frame to its output file. Frames whose output is
// already claimed by an earlier frame get an ErrOutputCollision instead.
func (r *Renderer) outputPaths(files []string) ([]string, []error) {
	outputs := make([]string, len(files))
	collisions := make([]error, len(files))
	owner := make(map[string]string, len(files))
	for i, path := range files {
		out := OutputPath(r.cfg.OutputDir, path, r.cfg.OutputSuffix)
		if prev, ok := owner[out]; ok {
			collisions[i] = fmt.Errorf("%w: %s and %s both write %s", ErrOutputCollision, prev, path, out)
			continue
		}
		owner[out] = path
		outputs[i] = out
	}
	return outputs, collisions
}

func (r *Renderer) renderFile(ctx context.Context, path, output string, base stabilize.FrameParams) (res FrameResult) {
	start := time.Now()
	res.Input = path
	defer func() { res.Duration = time.Since(start) }()
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	params, sidecar, err := LoadFrameParams(path, base)
	if err != nil {
		res.Err = err
		return res
	}
	res.Sidecar = sidecar

	img, _, err := utils.LoadImage(path)
	if err != nil {
		res.Err = err
		return res
	}
	out, err := r.stab.RenderImage(ctx, sourceID, params, img, r.cfg.OutputAspect)
	if err != nil {
		res.Err = err
		return res
	}

	res.Output = output
	if err := utils.SaveImage(out, res.Output); err != nil {
		res.Err = err
		return res
	}
	res.Width = out.Bounds().Dx()
	res.Height = out.Bounds().Dy()
	return res
}

// OutputPath maps an input frame to its PNG output in dir.
func OutputPath(dir, input, suffix string) string {
	base := filepath.Base(input)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, name+suffix+".png")
}

// SidecarPath returns the per-frame parameter file for a frame: the frame path
// with its extension replaced by ".yaml".
func SidecarPath(framePath string) string {
	return strings.TrimSuffix(framePath, filepath.Ext(framePath)) + ".yaml"
}

// LoadFrameParams returns base overlaid with the frame's sidecar file, if one
// exists. Keys missing from the sidecar keep their base values.
func LoadFrameParams(framePath string, base stabilize.FrameParams) (stabilize.FrameParams, bool, error) {
	params, err := LoadParamsFile(SidecarPath(framePath), base)
	if errors.Is(err, os.ErrNotExist) {
		return base, false, nil
	}
	if err != nil {
		return base, false, err
	}
	return params, true, nil
}

// LoadParamsFile overlays the YAML parameter file at path onto base.
func LoadParamsFile(path string, base stabilize.FrameParams) (stabilize.FrameParams, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-supplied parameter file
	if err != nil {
		return base, fmt.Errorf("failed to read frame parameters: %w", err)
	}

	params := base
	if err := yaml.Unmarshal(data, &params); err != nil {
		return base, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := params.Validate(); err != nil {
		return base, fmt.Errorf("invalid parameters in %s: %w", path, err)
	}
	return params, nil
}
