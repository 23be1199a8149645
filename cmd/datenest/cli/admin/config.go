package admin

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	config "github.com/mwantia/datenest/internal/config/library"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management utilities",
		Long: `Manage DateNest configuration files.

This command provides utilities for generating and validating
configuration files.`,
	}

	cmd.AddCommand(newConfigGenerateCommand())
	cmd.AddCommand(newConfigValidateCommand())

	return cmd
}

func newConfigGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an example configuration file",
		Long: `Generate a configuration file filled with the default values.

The result can be customized and placed in one of the searched
locations (., ./config, /etc/datenest, $HOME/.datenest).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputDir, _ := cmd.Flags().GetString("output")
			overwrite, _ := cmd.Flags().GetBool("overwrite")

			filename, written, err := GenerateConfig(outputDir, overwrite)
			if err != nil {
				return err
			}
			if !written {
				fmt.Fprintf(cmd.OutOrStdout(), "Skipping %s (file exists, use --overwrite to replace)\n", filename)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s\n", filename)
			return nil
		},
	}

	cmd.Flags().String("output", ".", "output directory for configuration files")
	cmd.Flags().Bool("overwrite", false, "overwrite existing files")

	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the active configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

// GenerateConfig writes the default configuration as config.yaml into dir.
// An existing file is only replaced when overwrite is set.
func GenerateConfig(dir string, overwrite bool) (string, bool, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", false, fmt.Errorf("failed to create output directory: %w", err)
	}

	filename := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(filename); err == nil && !overwrite {
		return filename, false, nil
	}

	data, err := yaml.Marshal(config.GetDefault())
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return "", false, fmt.Errorf("failed to write config file %s: %w", filename, err)
	}
	return filename, true, nil
}
