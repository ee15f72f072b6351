package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/fisheye/internal/config"
	"github.com/MeKo-Tech/fisheye/internal/rotation"
	"github.com/MeKo-Tech/fisheye/internal/stabilize"
	"github.com/MeKo-Tech/fisheye/internal/version"
)

// app is the state shared by the commands of one root command.
type app struct {
	cfgFile string
	loader  *config.Loader
	cfg     *config.Config
}

// NewRootCommand builds the fisheye command tree. Every call returns an
// independent tree with its own configuration.
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "fisheye",
		Short: "Fisheye lens undistortion and rectification",
		Long: `Undistort and rectify frames shot through an equidistant fisheye lens.

This tool provides:
- Rectification of single images and whole frame sequences
- Estimation of the rectified camera matrix for a frame size
- A correction rotation applied to every frame (stabilization)
- An HTTP and WebSocket service for remote rectification

Examples:
  fisheye rectify frame.png -o flat.png
  fisheye batch clips/ --output-dir rectified --recursive
  fisheye matrix --width 1920 --height 1080 --format json
  fisheye serve --port 8080`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetBool("version"); v {
				ver, commit, date := version.Info()
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "fisheye version %s\n", ver)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", commit)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Date: %s\n", date)
				return nil
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initConfig(cmd); err != nil {
				return err
			}
			setupLogging(cmd.ErrOrStderr(), a.cfg)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/fisheye, /etc/fisheye)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("version", false, "print version information and exit")

	rootCmd.AddCommand(
		newRectifyCmd(a),
		newMatrixCmd(a),
		newBatchCmd(a),
		newServeCmd(a),
		newChartCmd(a),
		newBenchCmd(a),
		newConfigCmd(a),
	)
	return rootCmd
}

// Execute runs the command tree. This is called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// initConfig loads the configuration and binds the global flags into it.
func (a *app) initConfig(cmd *cobra.Command) error {
	a.loader = config.NewLoaderWithViper(viper.New())
	v := a.loader.GetViper()
	flags := cmd.Root().PersistentFlags()
	if err := v.BindPFlag("verbose", flags.Lookup("verbose")); err != nil {
		return err
	}
	if err := v.BindPFlag("log_level", flags.Lookup("log-level")); err != nil {
		return err
	}

	// config init must work even when the existing configuration is broken.
	load := a.loader.LoadWithFile
	if cmd.Annotations["config"] == "skip-validation" {
		load = a.loader.LoadWithFileWithoutValidation
	}
	cfg, err := load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	a.cfg = cfg
	return nil
}

// setupLogging installs a JSON slog handler at the configured level.
func setupLogging(w io.Writer, cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			logLevel = slog.LevelDebug
		case "warn":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		}
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

// frameParams returns the configured render parameters with the view flags
// shared by rectify, matrix and batch applied on top.
func (a *app) frameParams(cmd *cobra.Command) (stabilize.FrameParams, error) {
	params := a.cfg.ToFrameParams()
	if cmd.Flags().Changed("fov-scale") {
		params.FOVScale, _ = cmd.Flags().GetFloat64("fov-scale")
	}
	if cmd.Flags().Changed("no-rotation") {
		if off, _ := cmd.Flags().GetBool("no-rotation"); off {
			params.CorrectionQuat = rotation.Identity
		}
	}
	if cmd.Flags().Changed("subsampling") {
		params.RotationSubsampling, _ = cmd.Flags().GetInt("subsampling")
	}
	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("invalid frame parameters: %w", err)
	}
	return params, nil
}

// outputAspect returns the --aspect flag or the configured output aspect.
func (a *app) outputAspect(cmd *cobra.Command) (float64, error) {
	aspect := a.cfg.View.OutputAspect
	if cmd.Flags().Changed("aspect") {
		aspect, _ = cmd.Flags().GetFloat64("aspect")
	}
	if aspect < 0 {
		return 0, fmt.Errorf("invalid aspect: %g (must be 0 or positive)", aspect)
	}
	return aspect, nil
}

// newStabilizer builds a stabilizer from the engine and cache settings.
func (a *app) newStabilizer(cmd *cobra.Command) (*stabilize.Stabilizer, error) {
	sc := a.cfg.ToStabilizerConfig()
	if cmd.Flags().Lookup("workers") != nil && cmd.Flags().Changed("workers") {
		sc.Engine.Workers, _ = cmd.Flags().GetInt("workers")
	}
	return stabilize.New(sc)
}

// addViewFlags registers the flags read by frameParams and outputAspect.
func addViewFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("fov-scale", 1.0, "field of view scale (above 1 zooms in)")
	cmd.Flags().Bool("no-rotation", false, "skip the correction rotation")
	cmd.Flags().Int("subsampling", 10, "steps used to compose the correction rotation")
	cmd.Flags().Float64("aspect", 0, "crop the output to this width/height ratio (0 keeps the frame aspect)")
}
