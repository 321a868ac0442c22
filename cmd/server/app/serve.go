package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/iudanet/offlinesync/internal/server"
	"github.com/iudanet/offlinesync/internal/server/config"
	"github.com/iudanet/offlinesync/internal/server/storage/sqlite"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sync API server",
		Long: `Start the HTTP API server. Pending database migrations are applied on start.
The server stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: a.runServe,
	}

	flags := cmd.Flags()
	flags.String("address", config.DefaultAddress, "Address to listen on")
	flags.Bool("allow-anonymous", false, "Serve clients without a session in a shared anonymous namespace")
	a.bindFlags(flags, map[string]string{
		"address":         "address",
		"allow_anonymous": "allow-anonymous",
	})
	return cmd
}

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(a.v, path)
	if err != nil {
		return err
	}
	logger, err := a.newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("Starting offlinesync server",
		slog.String("version", a.build.Version),
		slog.String("address", cfg.Address),
		slog.String("db", cfg.DBPath),
		slog.Bool("allow_anonymous", cfg.AllowAnonymous))

	store, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close database", slog.Any("error", err))
		}
	}()

	return server.New(cfg, store, logger, a.build.Version).Run(ctx)
}
