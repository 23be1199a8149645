package images

import (
	"context"
	"fmt"

	"github.com/mwantia/datenest/cmd/datenest/cli"
	"github.com/mwantia/datenest/internal/library"
	"github.com/spf13/cobra"
)

func NewVoteCommand() *cobra.Command {
	var score float64

	cmd := &cobra.Command{
		Use:   "vote <image> <good|review|bad>",
		Short: "Cast a quality vote",
		Long:  "Records the configured user's quality vote for an image, replacing any earlier vote by the same user.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			imageID, err := cli.ParseImageID(args[0])
			if err != nil {
				return err
			}

			var scorePtr *float64
			if cmd.Flags().Changed("score") {
				scorePtr = &score
			}

			return cli.WithLibrary(cmd, func(ctx context.Context, lib *library.Library) error {
				if err := lib.Vote(ctx, imageID, args[1], scorePtr); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Voted '%s' on #%d\n", args[1], imageID)
				return nil
			})
		},
	}

	cmd.Flags().Float64VarP(&score, "score", "s", 0, "Optional numeric score")

	return cmd
}
