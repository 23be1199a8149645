package images

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/mwantia/datenest/cmd/datenest/cli"
	"github.com/mwantia/datenest/internal/library"
	"github.com/spf13/cobra"
)

func NewTagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage image tags",
		Long:  "Add or remove tags on images as the configured user, or list the tag vocabulary.",
	}

	cmd.AddCommand(NewTagAddCommand())
	cmd.AddCommand(NewTagRemoveCommand())
	cmd.AddCommand(NewTagListCommand())

	return cmd
}

func NewTagAddCommand() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "add <image> <tag>",
		Short: "Tag an image",
		Long:  "Tags an image as the configured user. At most five users can annotate the same image.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			imageID, err := cli.ParseImageID(args[0])
			if err != nil {
				return err
			}

			return cli.WithLibrary(cmd, func(ctx context.Context, lib *library.Library) error {
				if err := lib.AddTag(ctx, imageID, args[1], category); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tagged #%d with '%s'\n", imageID, args[1])
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "Tag category (condition, result, quality, date, method, people)")

	return cmd
}

func NewTagRemoveCommand() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "rm <image> <tag>",
		Short: "Remove a tag from an image",
		Long:  "Removes the configured user's tag from an image. Tags of other users are not touched.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			imageID, err := cli.ParseImageID(args[0])
			if err != nil {
				return err
			}

			return cli.WithLibrary(cmd, func(ctx context.Context, lib *library.Library) error {
				removed, err := lib.RemoveTag(ctx, imageID, args[1], category)
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintf(cmd.OutOrStdout(), "Image #%d has no active tag '%s' from you\n", imageID, args[1])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed '%s' from #%d\n", args[1], imageID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "Tag category")

	return cmd
}

func NewTagListCommand() *cobra.Command {
	var longFormat bool

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List known tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.WithLibrary(cmd, func(ctx context.Context, lib *library.Library) error {
				out := cmd.OutOrStdout()
				if !longFormat {
					names, err := lib.TagNames(ctx)
					if err != nil {
						return err
					}
					for _, name := range names {
						fmt.Fprintln(out, name)
					}
					return nil
				}

				tags, err := lib.Store().ListTags(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, tag := range tags {
					category := tag.Category
					if category == "" {
						category = "-"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", tag.Name, category, tag.Description)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVarP(&longFormat, "long", "l", false, "Display categories and descriptions")

	return cmd
}
