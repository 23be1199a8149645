package images

import (
	"context"
	"fmt"
	"strings"

	"github.com/mwantia/datenest/cmd/datenest/cli"
	"github.com/mwantia/datenest/internal/library"
	"github.com/spf13/cobra"
)

func NewQueryCommand() *cobra.Command {
	var idsOnly bool

	cmd := &cobra.Command{
		Use:   "query [token...]",
		Short: "Search the library",
		Long: `Search the library with space separated tokens. All tokens must match.

  #<text>         image carries a tag containing the text
  cat:<category>  image has a tag in the category
  user:<name>     image was tagged or voted on by the user
  label:<label>   image has a vote with the label (good, review, bad)
  has:csv         image has a CSV file attached
  date:<from..to> creation time in range, either side may be empty
  date:>=<date>   creation time on or after the date
  date:<=<date>   creation time on or before the date
  <text>          substring of the relative path

Without tokens every image is listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.WithLibrary(cmd, func(ctx context.Context, lib *library.Library) error {
				ids, err := lib.Search(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				for _, id := range ids {
					if idsOnly {
						fmt.Fprintln(out, id)
						continue
					}
					image, err := lib.Store().GetImage(ctx, id)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "#%-6d %s\n", image.ID, image.RelPath)
				}

				if !idsOnly {
					fmt.Fprintf(out, "%d matching images\n", len(ids))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&idsOnly, "quiet", "q", false, "Only print image ids")

	return cmd
}
