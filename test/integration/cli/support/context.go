package support

import (
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/fisheye/internal/server"
)

// TestContext holds the state for integration tests.
type TestContext struct {
	// Command execution state
	LastCommand   string
	LastOutput    string
	LastStdout    string
	LastError     error
	LastExitCode  int
	LastStartTime time.Time
	LastDuration  time.Duration

	// Test environment
	TempDir string
	EnvVars map[string]string

	// Server management
	HTTPTestServer *httptest.Server
	TestServer     *server.Server

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   []byte
	LastHTTPHeaders    map[string]string

	savedEnv map[string]*string
}

// NewTestContext creates a new test context.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "fisheye-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &TestContext{
		TempDir:         tempDir,
		EnvVars:         map[string]string{},
		LastHTTPHeaders: map[string]string{},
		savedEnv:        map[string]*string{},
	}, nil
}

// Cleanup stops the test server, restores the environment and removes the
// scenario's temporary directory.
func (testCtx *TestContext) Cleanup() error {
	testCtx.stopTestHTTPServer()
	testCtx.restoreEnv()

	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err)
	}
	return nil
}

// AddEnvVar adds an environment variable for command execution.
func (testCtx *TestContext) AddEnvVar(name, value string) {
	testCtx.EnvVars[name] = value
}

// Path resolves a scenario file name inside the temporary directory.
func (testCtx *TestContext) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(testCtx.TempDir, name)
}

// substituteCommandVariables replaces {tmp} in command strings.
func (testCtx *TestContext) substituteCommandVariables(command string) string {
	return strings.ReplaceAll(command, "{tmp}", testCtx.TempDir)
}

// applyEnv exports the scenario environment into the process. The CLI runs
// in-process, so variables are restored in Cleanup.
func (testCtx *TestContext) applyEnv() error {
	env := map[string]string{
		"HOME":            testCtx.TempDir,
		"XDG_CONFIG_HOME": filepath.Join(testCtx.TempDir, ".config"),
	}
	for k, v := range testCtx.EnvVars {
		env[k] = v
	}
	for k, v := range env {
		if _, saved := testCtx.savedEnv[k]; !saved {
			if old, ok := os.LookupEnv(k); ok {
				testCtx.savedEnv[k] = &old
			} else {
				testCtx.savedEnv[k] = nil
			}
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (testCtx *TestContext) restoreEnv() {
	for k, old := range testCtx.savedEnv {
		if old == nil {
			_ = os.Unsetenv(k)
		} else {
			_ = os.Setenv(k, *old)
		}
	}
	testCtx.savedEnv = map[string]*string{}
}
