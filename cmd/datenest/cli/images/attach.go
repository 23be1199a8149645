package images

import (
	"context"
	"fmt"

	"github.com/mwantia/datenest/cmd/datenest/cli"
	"github.com/mwantia/datenest/internal/library"
	"github.com/spf13/cobra"
)

func NewAttachCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach <image> <file...>",
		Short: "Attach files to an image",
		Long: `Attach files to an image. Files outside the library are copied next to
the image first. Files already known by content are linked as they are.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			imageID, err := cli.ParseImageID(args[0])
			if err != nil {
				return err
			}

			return cli.WithLibrary(cmd, func(ctx context.Context, lib *library.Library) error {
				attachments, err := lib.Attach(ctx, imageID, args[1:]...)
				for _, attachment := range attachments {
					fmt.Fprintf(cmd.OutOrStdout(), "Attached %s (%s) to #%d\n", attachment.RelPath, attachment.Kind, imageID)
				}
				return err
			})
		},
	}

	return cmd
}

func NewDeleteCommand() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "rm <image>",
		Short: "Remove an image from the database",
		Long: `Removes an image together with its attachments, tags and votes from the
database. Files on disk are kept, so the next scan registers the image again.
Needs --confirm.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			imageID, err := cli.ParseImageID(args[0])
			if err != nil {
				return err
			}
			if !confirm {
				return fmt.Errorf("refusing to remove #%d without --confirm", imageID)
			}

			return cli.WithLibrary(cmd, func(ctx context.Context, lib *library.Library) error {
				if err := lib.DeleteImage(ctx, imageID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed #%d\n", imageID)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&confirm, "confirm", "c", false, "Confirms the removal")

	return cmd
}
