package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/fisheye/internal/server"
	"github.com/MeKo-Tech/fisheye/internal/version"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for the rectification API",
		Long: `Start an HTTP server that rectifies frames on request.

The server provides the following endpoints:
  POST /rectify        - Rectify an uploaded image, answers with PNG
  POST /camera-matrix  - Derive the camera matrices for a frame size
  GET  /ws/rectify     - Stream frames over a WebSocket
  GET  /health         - Health check endpoint
  GET  /metrics        - Prometheus metrics

Examples:
  fisheye serve
  fisheye serve --port 8080
  fisheye serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.runServe(ctx, cmd)
		},
	}
	cmd.Flags().StringP("host", "H", "localhost", "server host")
	cmd.Flags().IntP("port", "p", 8080, "server port")
	cmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	cmd.Flags().Int("max-upload-size", 100, "maximum upload size in MB")
	cmd.Flags().Int("timeout", 60, "request timeout in seconds")
	cmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	cmd.Flags().Int("workers", 0, "rectification workers per frame (0 = one per CPU)")
	// Rate limiting flags
	cmd.Flags().Bool("rate-limit-enabled", false, "enable per-client rate limiting")
	cmd.Flags().Int("frames-per-minute", 600, "maximum frames per minute per client")
	cmd.Flags().Int("frames-per-hour", 20000, "maximum frames per hour per client")
	addViewFlags(cmd)
	return cmd
}

// serverConfig merges the server section of the configuration with the flags.
func (a *app) serverConfig(cmd *cobra.Command) (server.Config, error) {
	sc := a.cfg.Server
	flags := cmd.Flags()
	if flags.Changed("host") {
		sc.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		sc.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		sc.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-upload-size") {
		sc.MaxUploadMB, _ = flags.GetInt("max-upload-size")
	}
	if flags.Changed("timeout") {
		sc.TimeoutSec, _ = flags.GetInt("timeout")
	}
	if flags.Changed("shutdown-timeout") {
		sc.ShutdownTimeout, _ = flags.GetInt("shutdown-timeout")
	}
	if flags.Changed("rate-limit-enabled") {
		sc.RateLimit.Enabled, _ = flags.GetBool("rate-limit-enabled")
	}
	if flags.Changed("frames-per-minute") {
		sc.RateLimit.FramesPerMinute, _ = flags.GetInt("frames-per-minute")
	}
	if flags.Changed("frames-per-hour") {
		sc.RateLimit.FramesPerHour, _ = flags.GetInt("frames-per-hour")
	}

	if sc.Port < 1 || sc.Port > 65535 {
		return server.Config{}, fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", sc.Port)
	}

	params, err := a.frameParams(cmd)
	if err != nil {
		return server.Config{}, err
	}
	aspect, err := a.outputAspect(cmd)
	if err != nil {
		return server.Config{}, err
	}
	stabCfg := a.cfg.ToStabilizerConfig()
	if flags.Changed("workers") {
		stabCfg.Engine.Workers, _ = flags.GetInt("workers")
	}

	return server.Config{
		Host:         sc.Host,
		Port:         sc.Port,
		CORSOrigin:   sc.CORSOrigin,
		MaxUploadMB:  int64(sc.MaxUploadMB),
		TimeoutSec:   sc.TimeoutSec,
		Params:       params,
		OutputAspect: aspect,
		Stabilizer:   stabCfg,
		RateLimit: server.RateLimitConfig{
			Enabled:         sc.RateLimit.Enabled,
			FramesPerMinute: sc.RateLimit.FramesPerMinute,
			FramesPerHour:   sc.RateLimit.FramesPerHour,
			FramesPerDay:    sc.RateLimit.FramesPerDay,
			BytesPerDay:     sc.RateLimit.BytesPerDay,
		},
	}, nil
}

func (a *app) runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := a.serverConfig(cmd)
	if err != nil {
		return err
	}
	shutdownTimeout := time.Duration(a.cfg.Server.ShutdownTimeout) * time.Second
	if cmd.Flags().Changed("shutdown-timeout") {
		secs, _ := cmd.Flags().GetInt("shutdown-timeout")
		shutdownTimeout = time.Duration(secs) * time.Second
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.TimeoutSec) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting fisheye server", "host", cfg.Host, "port", cfg.Port, "version", version.String())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			_ = srv.Close()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	}
	slog.Info("Graceful shutdown completed")
	return nil
}
