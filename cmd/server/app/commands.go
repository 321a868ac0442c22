// Package app содержит команды сервера offlinesync.
package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/iudanet/offlinesync/internal/server/config"
)

// BuildInfo версия сборки, задаётся через ldflags
type BuildInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// app общее состояние команд
type app struct {
	v      *viper.Viper
	stderr io.Writer
	build  BuildInfo
}

// NewRootCmd creates the server command tree. Logs go to stderr so that
// stdout stays clean for command output.
func NewRootCmd(stdout, stderr io.Writer, build BuildInfo) *cobra.Command {
	build.GoVersion = runtime.Version()
	build.Platform = runtime.GOOS + "/" + runtime.GOARCH
	a := &app{v: viper.New(), stderr: stderr, build: build}

	root := &cobra.Command{
		Use:               "offlinesync-server",
		Short:             "offlinesync backend server",
		Long:              `offlinesync-server stores synced records per user, accepts versioned mutations and streams changes to clients.`,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to configuration file (YAML)")
	flags.String("db", config.DefaultDBPath, "Path to SQLite database")
	flags.String("log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	flags.String("log-format", config.DefaultLogFormat, "Log format (json, text)")
	a.bindFlags(flags, map[string]string{
		"db":         "db",
		"log_level":  "log-level",
		"log_format": "log-format",
	})

	root.AddCommand(
		a.serveCmd(),
		a.migrateCmd(),
		a.versionCmd(),
	)
	return root
}

func (a *app) bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			slog.Error("Error binding flag", "flag", name, "error", err)
		}
	}
}

// newLogger создаёт логгер по настройкам cfg
func (a *app) newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(a.stderr, opts)
	} else {
		handler = slog.NewJSONHandler(a.stderr, opts)
	}
	return slog.New(handler), nil
}

func (a *app) versionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format == "json" {
				data, err := json.MarshalIndent(a.build, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info: %w", err)
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			}
			_, err = fmt.Fprintf(out, "offlinesync server\nVersion:    %s\nBuild Date: %s\nGit Commit: %s\nPlatform:   %s\n",
				a.build.Version, a.build.BuildDate, a.build.GitCommit, a.build.Platform)
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
