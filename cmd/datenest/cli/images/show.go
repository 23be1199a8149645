package images

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/datenest/cmd/datenest/cli"
	"github.com/mwantia/datenest/internal/library"
	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04:05"

func NewShowCommand() *cobra.Command {
	var preview int

	cmd := &cobra.Command{
		Use:   "show <image>",
		Short: "Show an image with its tags, votes and CSV files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			imageID, err := cli.ParseImageID(args[0])
			if err != nil {
				return err
			}

			return cli.WithLibrary(cmd, func(ctx context.Context, lib *library.Library) error {
				detail, err := lib.Detail(ctx, imageID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Image #%d\n", detail.Image.ID)
				fmt.Fprintf(out, "  Path:     %s\n", detail.Image.RelPath)
				fmt.Fprintf(out, "  SHA-256:  %s\n", detail.Image.SHA256)
				fmt.Fprintf(out, "  Created:  %s\n", detail.Image.CreatedAt.Local().Format(timeLayout))
				if detail.Exists {
					fmt.Fprintf(out, "  Size:     %s\n", humanize.Bytes(uint64(detail.Size)))
					fmt.Fprintf(out, "  Modified: %s (%s)\n", detail.ModTime.Format(timeLayout), humanize.Time(detail.ModTime))
				} else {
					fmt.Fprintln(out, "  File is missing on disk")
				}

				fmt.Fprintf(out, "\nTags (%d)\n", len(detail.Tags))
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, tag := range detail.Tags {
					category := tag.Category
					if category == "" {
						category = "-"
					}
					fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", tag.Name, category, tag.Username, tag.CreatedAt.Local().Format(timeLayout))
				}
				tw.Flush()

				fmt.Fprintf(out, "\nQuality votes (%d)\n", len(detail.Votes))
				tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, vote := range detail.Votes {
					score := "-"
					if vote.Score != nil {
						score = fmt.Sprintf("%.2f", *vote.Score)
					}
					fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", vote.Label, score, vote.Username, vote.CreatedAt.Local().Format(timeLayout))
				}
				tw.Flush()

				fmt.Fprintf(out, "\nCSV files (%d)\n", len(detail.CSV))
				for _, attachment := range detail.CSV {
					size := "missing"
					if info, err := os.Stat(lib.Abs(attachment.RelPath)); err == nil {
						size = humanize.Bytes(uint64(info.Size()))
					}
					fmt.Fprintf(out, "  %s (%s)\n", attachment.RelPath, size)

					if preview <= 0 {
						continue
					}
					p, err := lib.Preview(attachment)
					if err != nil {
						lib.Logger().Warn("Unable to preview '%s': %v", attachment.RelPath, err)
						continue
					}

					tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
					fmt.Fprintf(tw, "    %s\n", strings.Join(p.Header, "\t"))
					for i, row := range p.Rows {
						if i >= preview {
							fmt.Fprintf(tw, "    ... %d more rows\n", len(p.Rows)-preview)
							break
						}
						fmt.Fprintf(tw, "    %s\n", strings.Join(row, "\t"))
					}
					tw.Flush()
				}

				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&preview, "preview", "p", 5, "Rows to preview per CSV file (0 disables the preview)")

	return cmd
}
