package benchmark

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/fisheye/internal/stabilize"
)

func TestTimer(t *testing.T) {
	timer := NewTimer("sleep")
	time.Sleep(2 * time.Millisecond)
	d := timer.Stop()
	assert.GreaterOrEqual(t, d, 2*time.Millisecond)
	assert.Equal(t, d, timer.Duration())
	assert.Contains(t, timer.String(), "sleep: ")
}

func TestSuite_Add(t *testing.T) {
	suite := NewSuite(stabilize.DefaultFrameParams())
	suite.Add(Case{Width: 64, Height: 36, Workers: 2})
	suite.Add(Case{Name: "named", Width: 32, Height: 18, Workers: 1})
	suite.AddWorkerScaling(48, 27, []int{1, 2, 4})

	require.Len(t, suite.cases, 5)
	assert.Equal(t, "64x36/2w", suite.cases[0].Name)
	assert.Equal(t, "named", suite.cases[1].Name)
	assert.Equal(t, "48x27/4w", suite.cases[4].Name)
}

func TestSuite_RunAll(t *testing.T) {
	suite := NewSuite(stabilize.DefaultFrameParams())
	suite.AddWorkerScaling(64, 36, []int{1, 2})
	suite.Add(Case{Name: "broken", Width: 0, Height: 10, Workers: 1})

	results := suite.RunAll(context.Background(), 3)
	require.Len(t, results, 3)
	assert.Equal(t, results, suite.Results())

	for _, r := range results[:2] {
		require.NoError(t, r.Error)
		assert.Equal(t, 3, r.Iterations)
		assert.Positive(t, r.Duration)
		assert.Positive(t, r.MegapixelsPerSecond())
		assert.Positive(t, r.PerFrame())
	}
	require.Error(t, results[2].Error)
	assert.Contains(t, results[2].String(), "ERROR")
}

func TestSuite_DefaultWorkers(t *testing.T) {
	suite := NewSuite(stabilize.DefaultFrameParams())
	suite.Add(Case{Name: "auto", Width: 32, Height: 18})

	results := suite.RunAll(context.Background(), 1)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Error)
	assert.Equal(t, runtime.NumCPU(), results[0].Workers)
	assert.Contains(t, results[0].String(), fmt.Sprintf("on %d workers", runtime.NumCPU()))
}

func TestSuite_Cancelled(t *testing.T) {
	suite := NewSuite(stabilize.DefaultFrameParams())
	suite.AddWorkerScaling(64, 36, []int{1, 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := suite.RunAll(ctx, 2)
	require.Len(t, results, 1)
	require.ErrorIs(t, results[0].Error, context.Canceled)
}

func TestSuite_WriteResults(t *testing.T) {
	suite := NewSuite(stabilize.DefaultFrameParams())
	suite.AddWorkerScaling(64, 36, []int{1, 2})
	suite.RunAll(context.Background(), 2)

	var buf bytes.Buffer
	suite.WriteResults(&buf)
	out := buf.String()
	assert.Contains(t, out, "Benchmark Results:")
	assert.Contains(t, out, "64x36/1w: 2 frames")
	assert.Contains(t, out, "64x36/2w vs 64x36/1w: ")
}

func TestResult_ZeroValues(t *testing.T) {
	var r Result
	assert.Zero(t, r.PerFrame())
	assert.Zero(t, r.MegapixelsPerSecond())
}
