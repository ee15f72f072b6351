package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBenchCommand(t *testing.T) {
	out, _, err := executeCommand(t, "bench", "--size", "64x36", "--workers", "1,2", "-n", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "64x36/1w: 2 frames")
	assert.Contains(t, out, "64x36/2w vs 64x36/1w")
}

func TestBenchCommand_Errors(t *testing.T) {
	_, _, err := executeCommand(t, "bench", "--size", "wide")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid size")

	_, _, err = executeCommand(t, "bench", "-n", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid iterations")
}

func TestParseSize(t *testing.T) {
	w, h, err := parseSize("1920X1080")
	require.NoError(t, err)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	for _, bad := range []string{"", "1920", "0x10", "ax2", "10x-1"} {
		_, _, err := parseSize(bad)
		assert.Error(t, err, bad)
	}
}
