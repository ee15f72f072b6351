package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/fisheye/internal/server"
	"github.com/MeKo-Tech/fisheye/internal/stabilize"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// startTestHTTPServer serves the real rectification handlers from an
// httptest server.
func (testCtx *TestContext) startTestHTTPServer(mutate func(*server.Config)) error {
	testCtx.stopTestHTTPServer()

	cfg := server.Config{
		CORSOrigin:  "*",
		MaxUploadMB: 10,
		TimeoutSec:  30,
		Params:      stabilize.DefaultFrameParams(),
		Stabilizer:  stabilize.DefaultConfig(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	testCtx.TestServer = srv
	testCtx.HTTPTestServer = httptest.NewServer(mux)
	return nil
}

// stopTestHTTPServer stops the httptest server.
func (testCtx *TestContext) stopTestHTTPServer() {
	if testCtx.HTTPTestServer != nil {
		testCtx.HTTPTestServer.Close()
		testCtx.HTTPTestServer = nil
	}
	if testCtx.TestServer != nil {
		_ = testCtx.TestServer.Close()
		testCtx.TestServer = nil
	}
}

func (testCtx *TestContext) theRectificationServerIsRunning() error {
	return testCtx.startTestHTTPServer(nil)
}

func (testCtx *TestContext) theRectificationServerIsRunningWithALimitOf(frames int) error {
	return testCtx.startTestHTTPServer(func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Enabled: true, FramesPerMinute: frames}
	})
}

// do sends a request to the test server and records the response.
func (testCtx *TestContext) do(req *http.Request) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = body
	testCtx.LastHTTPHeaders = map[string]string{}
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) newRequest(method, path string, body io.Reader) (*http.Request, error) {
	if testCtx.HTTPTestServer == nil {
		return nil, errors.New("server is not running")
	}
	return http.NewRequestWithContext(context.Background(), method, testCtx.HTTPTestServer.URL+path, body)
}

func (testCtx *TestContext) iGET(path string) error {
	req, err := testCtx.newRequest(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

// iUploadTo posts a frame file as multipart form data.
func (testCtx *TestContext) iUploadTo(name, path string) error {
	return testCtx.upload(name, path, nil)
}

func (testCtx *TestContext) iUploadToWithAspect(name, path, aspect string) error {
	return testCtx.upload(name, path, map[string]string{"aspect": aspect})
}

func (testCtx *TestContext) upload(name, path string, fields map[string]string) error {
	data, err := os.ReadFile(testCtx.Path(name))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", name)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := testCtx.newRequest(http.MethodPost, path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return testCtx.do(req)
}

func (testCtx *TestContext) iRequestTheCameraMatrixFor(width, height int) error {
	payload, err := json.Marshal(server.CameraMatrixRequest{Width: width, Height: height})
	if err != nil {
		return err
	}
	req, err := testCtx.newRequest(http.MethodPost, "/camera-matrix", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return testCtx.do(req)
}

func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastHTTPStatusCode != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldBeAPNGOfSize(width, height int) error {
	img, err := png.Decode(bytes.NewReader(testCtx.LastHTTPResponse))
	if err != nil {
		return fmt.Errorf("response is not a PNG: %w", err)
	}
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		return fmt.Errorf("response image is %dx%d, expected %dx%d", b.Dx(), b.Dy(), width, height)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, expected string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != expected {
		return fmt.Errorf("header %s is %q, expected %q", name, got, expected)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !bytes.Contains(testCtx.LastHTTPResponse, []byte(text)) {
		return fmt.Errorf("response does not contain %q: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseCameraMatrixShouldHaveFocalLengthAbove(limit float64) error {
	var resp server.CameraMatrixResponse
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &resp); err != nil {
		return fmt.Errorf("response is not a camera matrix: %w", err)
	}
	if !resp.Success || resp.CameraMatrix[0][0] <= limit {
		return fmt.Errorf("unexpected camera matrix %v", resp.CameraMatrix)
	}
	return nil
}

// RegisterServerSteps registers the HTTP service steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the rectification server is running$`, testCtx.theRectificationServerIsRunning)
	sc.Step(`^the rectification server is running with a limit of (\d+) frames per minute$`,
		testCtx.theRectificationServerIsRunningWithALimitOf)

	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)"$`, testCtx.iUploadTo)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)" with aspect "([^"]*)"$`, testCtx.iUploadToWithAspect)
	sc.Step(`^I request the camera matrix for (\d+)x(\d+)$`, testCtx.iRequestTheCameraMatrixFor)

	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should be a PNG of size (\d+)x(\d+)$`, testCtx.theResponseShouldBeAPNGOfSize)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the camera matrix focal length should be above ([0-9.]+)$`,
		testCtx.theResponseCameraMatrixShouldHaveFocalLengthAbove)
}
