package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type VersionInfo struct {
	Version string
	Commit  string
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("%s.%s", v.Version, v.Commit)
}

var current = VersionInfo{Version: "0.0.0", Commit: "unknown"}

// Version returns the build version set by NewRootCommand.
func Version() VersionInfo {
	return current
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the DateNest version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "datenest %s (commit %s)\n", current.Version, current.Commit)
			return nil
		},
	}
}
