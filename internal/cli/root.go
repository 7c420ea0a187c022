// Package cli implements the indexctl command: offline ingestion, rebuild,
// consistency checks and ad-hoc queries against the configured backends.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"article-finder/internal/app"
	"article-finder/internal/config"
	"article-finder/internal/infra/vectorindex"
	"article-finder/internal/observability/logging"
)

// env carries the state shared by every subcommand.
type env struct {
	cfgFile string
	envFile string
	quiet   bool
	cfg     *config.Config
}

// NewRootCmd builds the indexctl command tree.
func NewRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:   "indexctl",
		Short: "Manage the article vector index and metadata store",
		Long: `indexctl ingests articles, rebuilds and verifies the vector index, and runs
queries against the backends configured through the environment or --config.

Example usage:
  indexctl ingest ./articles            # Ingest a directory of JSON files
  indexctl ingest feed.jsonl --force    # Re-embed every article in a JSONL file
  indexctl search "go scheduler" -k 3   # Query the index
  indexctl verify                       # Report consistency faults`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&e.cfgFile, "config", "", "YAML config file (overrides APP_CONFIG_FILE)")
	root.PersistentFlags().StringVar(&e.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	root.PersistentFlags().BoolVar(&e.quiet, "quiet", false, "hide progress bars and info logs")

	root.AddCommand(
		newIngestCmd(e),
		newRebuildCmd(e),
		newVerifyCmd(e),
		newStatsCmd(e),
		newSearchCmd(e),
		newCacheCmd(e),
	)
	return root
}

// Execute runs indexctl and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func (e *env) load(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(e.envFile); err != nil {
		return err
	}
	if e.cfgFile != "" {
		if err := os.Setenv("APP_CONFIG_FILE", e.cfgFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	e.cfg = cfg

	level := cfg.Log.Level
	if e.quiet {
		level = "warn"
	}
	slog.SetDefault(logging.New(cmd.ErrOrStderr(), level, "text"))
	return nil
}

// open wires the application. When the index file cannot be loaded and
// allowFresh is set, an empty index is started instead so that a rebuild can
// replace the file.
func (e *env) open(ctx context.Context, allowFresh bool) (*app.App, error) {
	a, err := app.New(ctx, e.cfg, app.Options{Process: "indexctl"})
	if err == nil || !allowFresh || !errors.Is(err, vectorindex.ErrNeedsRebuild) {
		return a, err
	}
	slog.Warn("Index file unusable, starting from an empty index", slog.Any("error", err))
	return app.New(ctx, e.cfg, app.Options{FreshIndex: true, Process: "indexctl"})
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		slog.Error("Failed to close application", slog.Any("error", err))
	}
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
