package app

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/iudanet/offlinesync/internal/server/config"
	"github.com/iudanet/offlinesync/internal/server/storage/sqlite"
)

func (a *app) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tool",
		Long:  `Database migration tool for managing schema versions. Use with 'up' or 'status' subcommands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending database migrations",
			Args:  cobra.NoArgs,
			RunE:  a.runMigrateUp,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE:  a.runMigrateStatus,
		},
	)
	return cmd
}

// openStore открывает базу без применения миграций
func (a *app) openStore(cmd *cobra.Command) (*sqlite.Storage, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Read(a.v, path)
	if err != nil {
		return nil, err
	}
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	store, err := sqlite.New(cmd.Context(), cfg.DBPath, sqlite.WithoutMigrations())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

func (a *app) runMigrateUp(cmd *cobra.Command, _ []string) error {
	store, err := a.openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	applied, err := store.Migrate(cmd.Context())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s)\n", applied)
	return err
}

func (a *app) runMigrateStatus(cmd *cobra.Command, _ []string) error {
	store, err := a.openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	status, err := store.MigrationStatus(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tSTATE\tFILE")
	for _, st := range status {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", st.Version, st.State, st.Path)
	}
	return w.Flush()
}
