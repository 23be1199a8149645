package admin

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/mwantia/datenest/internal/library"
	"github.com/mwantia/datenest/pkg/db/migrations"
	"github.com/mwantia/datenest/pkg/db/store"
	"github.com/spf13/cobra"

	config "github.com/mwantia/datenest/internal/config/library"
)

func NewDatabaseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
		Long:  "Inspect the schema version of the library database, roll back migrations or print row counts.",
	}

	cmd.AddCommand(newDatabaseStatusCommand())
	cmd.AddCommand(newDatabaseMigrateCommand())
	cmd.AddCommand(newDatabaseRollbackCommand())
	cmd.AddCommand(newDatabaseStatsCommand())

	return cmd
}

func withDatabase(cmd *cobra.Command, fn func(ctx context.Context, s *store.SQLiteStore) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load library configuration: %w", err)
	}

	s, err := library.OpenDatabase(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(cmd.Context(), s)
}

func newDatabaseStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(ctx context.Context, s *store.SQLiteStore) error {
				status, err := migrations.NewMigrator(s.DB()).Status(ctx)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tAPPLIED\tDESCRIPTION")
				for _, st := range status {
					applied := "no"
					if st.Applied {
						applied = "yes"
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\n", st.Version, applied, st.Description)
				}
				return tw.Flush()
			})
		},
	}
}

func newDatabaseMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(ctx context.Context, s *store.SQLiteStore) error {
				migrator := migrations.NewMigrator(s.DB())
				if err := migrator.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Database is at version %d\n", migrator.Latest())
				return nil
			})
		},
	}
}

func newDatabaseRollbackCommand() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the latest migration",
		Long:  "Rolls back the most recently applied migration. Rolling back the initial schema drops all tables and needs --confirm.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(ctx context.Context, s *store.SQLiteStore) error {
				migrator := migrations.NewMigrator(s.DB())

				status, err := migrator.Status(ctx)
				if err != nil {
					return err
				}
				applied := 0
				for _, st := range status {
					if st.Applied {
						applied++
					}
				}
				if applied <= 1 && !confirm {
					return fmt.Errorf("rolling back the initial schema drops all data, use --confirm")
				}

				if err := migrator.Rollback(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Rolled back the latest migration")
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&confirm, "confirm", "c", false, "Confirms rolling back the initial schema")

	return cmd
}

func newDatabaseStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print row counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(ctx context.Context, s *store.SQLiteStore) error {
				counts, err := s.Counts(ctx)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "users\t%d\n", counts.Users)
				fmt.Fprintf(tw, "images\t%d\n", counts.Images)
				fmt.Fprintf(tw, "tags\t%d\n", counts.Tags)
				fmt.Fprintf(tw, "attachments\t%d\n", counts.Attachments)
				fmt.Fprintf(tw, "annotations\t%d (%d active)\n", counts.Annotations, counts.ActiveAnnotations)
				fmt.Fprintf(tw, "quality votes\t%d\n", counts.QualityVotes)
				return tw.Flush()
			})
		},
	}
}
