package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iudanet/offlinesync/internal/client/api"
	"github.com/iudanet/offlinesync/internal/client/auth"
	"github.com/iudanet/offlinesync/internal/client/config"
	"github.com/iudanet/offlinesync/internal/client/iocli"
	"github.com/iudanet/offlinesync/internal/client/storage/boltdb"
	"github.com/iudanet/offlinesync/internal/client/sync"
	"github.com/iudanet/offlinesync/internal/client/sync/events"
	"github.com/iudanet/offlinesync/internal/client/sync/reachability"
	"github.com/iudanet/offlinesync/internal/client/telemetry"
)

// BuildInfo версия сборки, задаётся через ldflags
type BuildInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GitCommit string `json:"git_commit"`
}

// app держит зависимости, собранные перед выполнением команды
type app struct {
	v     *viper.Viper
	io    iocli.IO
	store *boltdb.Storage
	cli   *Cli
	build BuildInfo
}

// NewRootCmd creates the client command tree. Every command except version
// opens the local database and builds the sync engine before it runs.
func NewRootCmd(stdio iocli.IO, build BuildInfo) *cobra.Command {
	a := &app{v: viper.New(), io: stdio, build: build}

	root := &cobra.Command{
		Use:               "offlinesync",
		Short:             "Offline-first sync client",
		Long:              `offlinesync keeps a local database in sync with a remote backend. Changes are written locally first and sent when the server is reachable.`,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context(), cmd)
		},
	}
	root.SetOut(stdio)
	root.SetErr(os.Stderr)

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to configuration file (YAML)")
	flags.String("server", config.DefaultServerURL, "Server URL")
	flags.String("db", config.DefaultDBPath, "Path to local database")
	flags.String("log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	flags.StringSlice("models", config.DefaultModels, "Record types to synchronize")

	for key, name := range map[string]string{
		"server":      "server",
		"db":          "db",
		"log_level":   "log-level",
		"sync.models": "models",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			slog.Error("Error binding flag", "flag", name, "error", err)
		}
	}

	root.AddCommand(
		a.versionCmd(),
		a.registerCmd(),
		a.loginCmd(),
		a.logoutCmd(),
		a.statusCmd(),
		a.putCmd(),
		a.getCmd(),
		a.listCmd(),
		a.deleteCmd(),
		a.syncCmd(),
		a.runCmd(),
		a.resetCmd(),
	)

	// PersistentPostRunE не вызывается при ошибке команды, поэтому база
	// закрывается здесь
	for _, cmd := range root.Commands() {
		run := cmd.RunE
		cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
			defer func() {
				if cerr := a.close(); err == nil {
					err = cerr
				}
			}()
			return run(cmd, args)
		}
	}
	return root
}

func (a *app) setup(ctx context.Context, cmd *cobra.Command) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, err := config.Load(a.v, path)
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := boltdb.New(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.store = store
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	client := api.NewClient(cfg.ServerURL, api.WithPollWait(cfg.PollWait))
	authService := auth.NewService(client, store, logger.With("component", "auth"))
	hub := events.NewHub(logger.With("component", "events"))

	metrics, err := telemetry.NewGlobalSyncMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	monitor := reachability.New(client,
		reachability.WithInterval(cfg.Reachability.Interval),
		reachability.WithTimeout(cfg.Reachability.Timeout),
		reachability.WithHub(hub),
		reachability.WithLogger(logger.With("component", "reachability")))

	engine, err := sync.New(store, transportFactory(client, authService), cfg.Sync,
		sync.WithIdentity(authService),
		sync.WithReachability(monitor),
		sync.WithHub(hub),
		sync.WithMetrics(metrics),
		sync.WithLogger(logger.With("component", "engine")))
	if err != nil {
		return fmt.Errorf("failed to create sync engine: %w", err)
	}

	a.cli = New(a.io, authService, store, engine, hub, cfg.Sync.Models, logger)
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// transportFactory отдаёт анонимный клиент или клиент с токенами пользователя
func transportFactory(client *api.Client, tokens api.TokenSource) sync.TransportFactory {
	return func(_ context.Context, mode sync.AuthMode) (sync.Transport, error) {
		if mode == sync.AuthModeUser {
			return client.WithTokenSource(tokens), nil
		}
		return client, nil
	}
}

func (a *app) versionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// версия не требует базы данных
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}
			if format == "json" {
				out, err := json.MarshalIndent(a.build, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info: %w", err)
				}
				a.io.Printf("%s\n", out)
				return nil
			}
			a.io.Println("offlinesync client")
			a.io.Printf("Version:    %s\n", a.build.Version)
			a.io.Printf("Build Date: %s\n", a.build.BuildDate)
			a.io.Printf("Git Commit: %s\n", a.build.GitCommit)
			a.io.Printf("Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}

func (a *app) registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register a new user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.cli.runRegister(cmd.Context())
		},
	}
}

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.cli.runLogin(cmd.Context())
		},
	}
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.cli.runLogout(cmd.Context())
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session, pending changes and sync times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.cli.runStatus(cmd.Context())
		},
	}
}

func (a *app) putCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <model> <json|->",
		Short: "Create or update a record locally and queue it for sync",
		Example: `  offlinesync put note '{"title":"groceries"}'
  offlinesync put note --id 42 '{"title":"groceries","done":true}'
  echo '{"title":"from stdin"}' | offlinesync put note -`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cmd.Flags().GetString("id")
			if err != nil {
				return err
			}
			payload := args[1]
			if payload == "-" {
				if payload, err = a.io.ReadInput(""); err != nil {
					return fmt.Errorf("failed to read payload: %w", err)
				}
			}
			return a.cli.runPut(cmd.Context(), putOptions{model: args[0], id: id, payload: payload})
		},
	}
	cmd.Flags().String("id", "", "Record id; a new id is generated when empty")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <model> <id>",
		Short: "Show one local record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.cli.runGet(cmd.Context(), args[0], args[1])
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <model>",
		Short: "List local records of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.cli.runList(cmd.Context(), args[0])
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <model> <id>",
		Short: "Delete a record locally and queue the deletion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.cli.runDelete(cmd.Context(), args[0], args[1])
		},
	}
}

func (a *app) syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			timeout, err := cmd.Flags().GetDuration("timeout")
			if err != nil {
				return err
			}
			return a.cli.runSync(cmd.Context(), timeout)
		},
	}
	cmd.Flags().Duration("timeout", 2*time.Minute, "Give up if sync does not complete in time")
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep synchronizing until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.cli.runRun(cmd.Context())
		},
	}
}

func (a *app) resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			purge, err := cmd.Flags().GetBool("purge")
			if err != nil {
				return err
			}
			return a.cli.runReset(cmd.Context(), purge)
		},
	}
	cmd.Flags().Bool("purge", false, "Also remove local records and unsent changes")
	return cmd
}
