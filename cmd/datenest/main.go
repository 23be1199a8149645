package main

import (
	"fmt"
	"os"

	"github.com/mwantia/datenest/cmd/datenest/cli"
	"github.com/mwantia/datenest/cmd/datenest/cli/admin"
	"github.com/mwantia/datenest/cmd/datenest/cli/images"
)

var (
	version = "0.0.1-dev"
	commit  = "main"
)

func main() {
	root := cli.NewRootCommand(cli.VersionInfo{
		Version: version,
		Commit:  commit,
	})

	root.AddCommand(cli.NewVersionCommand())

	root.AddCommand(images.NewScanCommand())
	root.AddCommand(images.NewWatchCommand())
	root.AddCommand(images.NewShowCommand())
	root.AddCommand(images.NewQueryCommand())
	root.AddCommand(images.NewTagCommand())
	root.AddCommand(images.NewVoteCommand())
	root.AddCommand(images.NewAttachCommand())
	root.AddCommand(images.NewDeleteCommand())
	root.AddCommand(images.NewExportCommand())
	root.AddCommand(images.NewImportCommand())

	root.AddCommand(admin.NewDatabaseCommand())
	root.AddCommand(admin.NewConfigCommand())

	if err := root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
