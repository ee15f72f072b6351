package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs a fresh command tree with args and returns its stdout
// and stderr. HOME and XDG_CONFIG_HOME point at empty directories so no user
// configuration leaks into the test.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommand(t *testing.T) {
	root := NewRootCommand()
	assert.Equal(t, "fisheye", root.Use)

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"rectify", "matrix", "batch", "serve", "chart", "bench", "config"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRootCommand_Independent(t *testing.T) {
	a := NewRootCommand()
	b := NewRootCommand()
	require.NoError(t, a.PersistentFlags().Set("log-level", "debug"))
	assert.Equal(t, "info", b.PersistentFlags().Lookup("log-level").Value.String())
}

func TestRootCommand_Version(t *testing.T) {
	out, _, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "fisheye version dev")
	assert.Contains(t, out, "Commit: unknown")
}

func TestRootCommand_Help(t *testing.T) {
	out, _, err := executeCommand(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Undistort and rectify frames")
	assert.Contains(t, out, "rectify")
	assert.Contains(t, out, "serve")
}

func TestRootCommand_InvalidFlag(t *testing.T) {
	_, _, err := executeCommand(t, "--no-such-flag")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestRootCommand_InvalidConfigFile(t *testing.T) {
	_, _, err := executeCommand(t, "matrix", "--config", "/nonexistent/fisheye.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error loading configuration")
}
