package images

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/datenest/cmd/datenest/cli"
	"github.com/mwantia/datenest/internal/library"
	"github.com/mwantia/datenest/pkg/archive"
	"github.com/spf13/cobra"
)

func NewExportCommand() *cobra.Command {
	var queryText string
	var noImages bool
	var noAttachments bool

	cmd := &cobra.Command{
		Use:   "export <bundle.zip> [image...]",
		Short: "Export images into a bundle",
		Long: `Export images with their tags, votes and attachments into a zip bundle
that another library can import. Images are selected by id, by --query,
or both.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := cli.ParseImageIDs(args[1:])
			if err != nil {
				return err
			}

			return cli.WithLibrary(cmd, func(ctx context.Context, lib *library.Library) error {
				if cmd.Flags().Changed("query") {
					matched, err := lib.Search(ctx, queryText)
					if err != nil {
						return err
					}
					ids = append(ids, matched...)
				}
				if len(ids) == 0 {
					return fmt.Errorf("no images selected for export")
				}

				result, err := lib.Export(ctx, ids, args[0], archive.Options{
					IncludeImages:      !noImages,
					IncludeAttachments: !noAttachments,
				}, cli.Version().String())
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d images and %d attachments to %s (%s, %d skipped)\n",
					result.Images, result.Attachments, args[0], humanize.Bytes(uint64(result.Bytes)), result.Skipped)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&queryText, "query", "q", "", "Export every image matching the query")
	cmd.Flags().BoolVar(&noImages, "no-images", false, "Only export metadata, without image files")
	cmd.Flags().BoolVar(&noAttachments, "no-attachments", false, "Skip attachments")

	return cmd
}

func NewImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <bundle.zip...>",
		Short: "Import bundles into the library",
		Long: `Import bundles created by export. Images and attachments already present
are reused by content, tags and votes are merged per user. Importing the
same bundle twice changes nothing.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.WithLibrary(cmd, func(ctx context.Context, lib *library.Library) error {
				for _, path := range args {
					result, err := lib.Import(ctx, path)
					if err != nil {
						return fmt.Errorf("failed to import '%s': %w", path, err)
					}

					fmt.Fprintf(cmd.OutOrStdout(), "Imported %s\n", path)
					fmt.Fprintf(cmd.OutOrStdout(), "  images:      %d new, %d reused\n", result.ImagesCreated, result.ImagesReused)
					fmt.Fprintf(cmd.OutOrStdout(), "  attachments: %d new, %d reused\n", result.AttachmentsCreated, result.AttachmentsReused)
					fmt.Fprintf(cmd.OutOrStdout(), "  tags:        %d\n", result.Annotations)
					fmt.Fprintf(cmd.OutOrStdout(), "  votes:       %d\n", result.Votes)
					if result.Skipped > 0 {
						fmt.Fprintf(cmd.OutOrStdout(), "  skipped:     %s\n", humanize.Comma(int64(result.Skipped)))
					}
				}
				return nil
			})
		},
	}

	return cmd
}
