package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/fisheye/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and generate configuration files",
	}

	initCmd := &cobra.Command{
		Use:   "init [FILE]",
		Short: "Write a configuration file with every default value",
		Long: `Write a YAML configuration file containing every setting with its default
value. The file name defaults to fisheye.yaml in the current directory.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"config": "skip-validation"},
		RunE: func(cmd *cobra.Command, args []string) error {
			file := config.ConfigFileName + ".yaml"
			if len(args) == 1 {
				file = args[0]
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(file); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", file)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.GenerateDefaultConfigFile(file); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", file)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Long: `Print the configuration after merging defaults, the config file and
FISHEYE_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			var (
				b   []byte
				err error
			)
			switch format {
			case "yaml":
				b, err = yaml.Marshal(a.cfg)
			case "json":
				b, err = json.MarshalIndent(a.cfg, "", "  ")
				b = append(b, '\n')
			default:
				return fmt.Errorf("unsupported format: %s", format)
			}
			if err != nil {
				return err
			}
			if used := a.loader.GetConfigFileUsed(); used != "" {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "# config file: %s\n", used)
			}
			_, _ = cmd.OutOrStdout().Write(b)
			return nil
		},
	}
	showCmd.Flags().StringP("format", "f", "yaml", "output format: yaml or json")

	pathsCmd := &cobra.Command{
		Use:   "paths",
		Short: "List the directories searched for fisheye.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range config.GetConfigSearchPaths() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd, pathsCmd)
	return cmd
}
