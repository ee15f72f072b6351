// Package benchmark measures rectification throughput for frame sizes and
// worker counts.
package benchmark

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/fisheye/internal/frame"
	"github.com/MeKo-Tech/fisheye/internal/mempool"
	"github.com/MeKo-Tech/fisheye/internal/rectify"
	"github.com/MeKo-Tech/fisheye/internal/stabilize"
	"github.com/MeKo-Tech/fisheye/internal/utils"
)

// Timer provides simple timing utilities for benchmarking.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewTimer creates a new timer with the given name.
func NewTimer(name string) *Timer {
	return &Timer{
		name:  name,
		start: time.Now(),
	}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

func (t *Timer) String() string {
	return fmt.Sprintf("%s: %v", t.name, t.duration)
}

// MemoryStats holds memory usage statistics, including the frame buffer pool.
type MemoryStats struct {
	AllocBytes      uint64
	TotalAllocBytes uint64
	NumGC           uint32
	PoolGets        uint64
	PoolAllocs      uint64
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	pool := mempool.ReadStats()

	return MemoryStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		NumGC:           m.NumGC,
		PoolGets:        pool.Gets,
		PoolAllocs:      pool.Allocs,
	}
}

// Result holds the outcome of one benchmark case.
type Result struct {
	Name       string
	Width      int
	Height     int
	Workers    int
	Iterations int
	Duration   time.Duration
	Before     MemoryStats
	After      MemoryStats
	Error      error
}

// PerFrame is the mean render time of one frame.
func (r Result) PerFrame() time.Duration {
	if r.Iterations == 0 {
		return 0
	}
	return r.Duration / time.Duration(r.Iterations)
}

// MegapixelsPerSecond is the destination pixel throughput.
func (r Result) MegapixelsPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	pixels := float64(r.Width) * float64(r.Height) * float64(r.Iterations)
	return pixels / r.Duration.Seconds() / 1e6
}

func (r Result) String() string {
	if r.Error != nil {
		return fmt.Sprintf("%s: ERROR - %v", r.Name, r.Error)
	}
	allocated := r.After.TotalAllocBytes - r.Before.TotalAllocBytes
	fresh := r.After.PoolAllocs - r.Before.PoolAllocs
	return fmt.Sprintf("%s: %d frames on %d workers, avg: %v, %.1f MP/s, heap: +%d KB, new buffers: %d",
		r.Name, r.Iterations, r.Workers, r.PerFrame().Round(time.Microsecond), r.MegapixelsPerSecond(),
		allocated/1024, fresh)
}

// Case is a single rectification workload. Workers 0 uses one worker per CPU.
type Case struct {
	Name    string
	Width   int
	Height  int
	Workers int
}

// Suite runs rectification cases against one set of frame parameters.
type Suite struct {
	params  stabilize.FrameParams
	cases   []Case
	results []Result
	mu      sync.Mutex
}

// NewSuite creates a suite rendering with params.
func NewSuite(params stabilize.FrameParams) *Suite {
	return &Suite{params: params}
}

// Add adds a case to the suite. An empty name is derived from the geometry.
func (s *Suite) Add(c Case) {
	if c.Name == "" {
		c.Name = fmt.Sprintf("%dx%d/%dw", c.Width, c.Height, c.Workers)
	}
	s.cases = append(s.cases, c)
}

// AddWorkerScaling adds one case per worker count for a frame size.
func (s *Suite) AddWorkerScaling(width, height int, workers []int) {
	for _, w := range workers {
		s.Add(Case{Width: width, Height: height, Workers: w})
	}
}

// RunAll runs every case with the given number of frames each.
func (s *Suite) RunAll(ctx context.Context, iterations int) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = make([]Result, 0, len(s.cases))
	for _, c := range s.cases {
		s.results = append(s.results, s.run(ctx, c, iterations))
		if ctx.Err() != nil {
			break
		}
	}
	return s.results
}

// run renders a chart frame iterations times. The first render warms the
// view cache and the buffer pool and is not timed.
func (s *Suite) run(ctx context.Context, c Case, iterations int) Result {
	res := Result{Name: c.Name, Width: c.Width, Height: c.Height, Workers: c.Workers, Iterations: iterations}
	if c.Width <= 0 || c.Height <= 0 || iterations <= 0 {
		res.Error = fmt.Errorf("invalid case %dx%d with %d iterations", c.Width, c.Height, iterations)
		return res
	}

	stab, err := stabilize.New(stabilize.Config{Engine: rectify.Config{Workers: c.Workers}})
	if err != nil {
		res.Error = err
		return res
	}
	// 0 workers means one per CPU; report what actually ran.
	res.Workers = stab.Workers()

	chart := utils.DefaultChartConfig()
	chart.Width, chart.Height = c.Width, c.Height
	src := frame.FromImage(utils.GenerateChart(chart))
	dst := frame.New(c.Width, c.Height)
	defer src.Release()
	defer dst.Release()

	const sourceID = "benchmark"
	if err := stab.Render(ctx, sourceID, s.params, src, dst); err != nil {
		res.Error = err
		return res
	}

	runtime.GC()
	res.Before = GetMemoryStats()
	timer := NewTimer(c.Name)
	for range iterations {
		if err := stab.Render(ctx, sourceID, s.params, src, dst); err != nil {
			res.Error = err
			break
		}
	}
	res.Duration = timer.Stop()
	res.After = GetMemoryStats()
	return res
}

// Results returns the last run results.
func (s *Suite) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// WriteResults prints the results followed by the speedup of every case
// relative to the first successful case of the same frame size.
func (s *Suite) WriteResults(w io.Writer) {
	results := s.Results()
	_, _ = fmt.Fprintln(w, "Benchmark Results:")
	_, _ = fmt.Fprintln(w, strings.Repeat("=", 18))
	for _, r := range results {
		_, _ = fmt.Fprintln(w, r.String())
	}

	baseline := make(map[[2]int]Result)
	for _, r := range results {
		key := [2]int{r.Width, r.Height}
		if r.Error != nil {
			continue
		}
		base, ok := baseline[key]
		if !ok {
			baseline[key] = r
			continue
		}
		if r.PerFrame() > 0 {
			_, _ = fmt.Fprintf(w, "%s vs %s: %.2fx\n", r.Name, base.Name,
				float64(base.PerFrame())/float64(r.PerFrame()))
		}
	}
}
