package images

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mwantia/datenest/cmd/datenest/cli"
	"github.com/mwantia/datenest/internal/library"
	"github.com/mwantia/datenest/pkg/ingest"
	"github.com/spf13/cobra"
)

func NewScanCommand() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "scan [file...]",
		Short: "Scan the library for new images",
		Long: `Scan the library root for images and link their CSV files.

Without arguments the whole library is walked. Individual image files
below the library root can be passed to register only those.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.WithLibrary(cmd, func(ctx context.Context, lib *library.Library) error {
				var result *ingest.Result
				var err error

				if len(args) > 0 {
					result, err = lib.Ingest(ctx, args...)
				} else {
					result, err = lib.Reload(ctx)
				}
				if err != nil {
					return err
				}

				if verbose {
					for _, entry := range result.Entries {
						fmt.Fprintf(cmd.OutOrStdout(), "#%-6d %s  %s\n", entry.ImageID, entry.Digest[:12], entry.RelPath)
					}
				}
				printResult(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List every registered image")

	return cmd
}

func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the library and rescan on changes",
		Long: `Scan the library once and then keep watching it. Every time file-system
changes have settled the library is scanned again. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return cli.WithLibrary(cmd, func(ctx context.Context, lib *library.Library) error {
				result, err := lib.Reload(ctx)
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), result)

				return lib.Watch(ctx, func(result *ingest.Result) {
					printResult(cmd.OutOrStdout(), result)
				})
			})
		},
	}

	return cmd
}

func printResult(w io.Writer, result *ingest.Result) {
	fmt.Fprintf(w, "Scan complete: %d new, %d known, %d attachments linked, %d failures\n",
		result.Inserted, result.Duplicates, result.Attachments, result.Failures)
}
