package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewRootCommand(info VersionInfo) *cobra.Command {
	var path string

	current = info

	cmd := &cobra.Command{
		Use:           "datenest",
		Short:         "DateNest image library",
		Long:          "A local, content-addressed library for experiment images and their CSV data, with per-user tags, quality votes and shareable bundles.",
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(path)
		},
	}

	cmd.PersistentFlags().StringVar(&path, "config", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().Bool("no-color", false, "Disables colored command output")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("user", "", "acting username (overrides user.username)")

	viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.no_color", cmd.PersistentFlags().Lookup("no-color"))
	viper.BindPFlag("user.username", cmd.PersistentFlags().Lookup("user"))

	cmd.Version = info.String()

	return cmd
}
