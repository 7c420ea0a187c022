package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newRebuildCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Re-embed every stored article into a new index generation",
		Long: `Rebuild reads every article from the metadata store, embeds it into a fresh
index generation and swaps that generation in. Use it after changing the
embedding model or dimension, or to clear consistency faults. An unreadable
index file is replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, true)
			if err != nil {
				return err
			}
			defer closeApp(a)

			total, err := a.Store.Count(ctx)
			if err != nil {
				return err
			}
			bar := newProgress(cmd.ErrOrStderr(), "Rebuilding", e.quiet)
			report, err := a.Ingest.Rebuild(ctx, func(done int) { bar.set(done, int(total)) })
			if err != nil {
				return fmt.Errorf("rebuild failed: %w", err)
			}

			printf(cmd, "Rebuild complete:\n")
			printf(cmd, "  Generation: %d\n", report.Generation)
			printf(cmd, "  Indexed:    %d\n", report.Indexed)
			printf(cmd, "  Failed:     %d\n", report.Failed)
			for _, f := range report.Failures {
				printf(cmd, "  - %s: %s\n", f.ID, f.Reason)
			}
			return nil
		},
	}
}

func newVerifyCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Cross-check the index against the metadata store",
		Long: `Verify reports bindings whose article is missing from the store, live
vectors without a binding, and stored articles without a live vector. Nothing
is repaired; run rebuild to clear the faults. Exits non-zero when faults exist.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			faults, err := a.Ingest.Verify(ctx)
			if err != nil {
				return err
			}
			if len(faults) == 0 {
				printf(cmd, "No consistency faults in generation %d\n", a.Catalog.Current().Number)
				return nil
			}
			for _, f := range faults {
				printf(cmd, "%-18s position=%-8d article=%q\n", f.Kind, f.Position, f.ArticleID)
			}
			return fmt.Errorf("%d consistency faults found", len(faults))
		},
	}
}

func newStatsCmd(e *env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index and store sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			stats, err := a.Query.Stats(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			printf(cmd, "Generation:   %d\n", stats.Generation)
			printf(cmd, "Dimension:    %d\n", stats.Dimension)
			printf(cmd, "Positions:    %d\n", stats.Positions)
			printf(cmd, "Live vectors: %d\n", stats.LiveVectors)
			printf(cmd, "Bindings:     %d\n", stats.Bindings)
			printf(cmd, "Articles:     %d\n", stats.Articles)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newCacheCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or purge the embedding cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Remove entries past their stale window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, true)
			if err != nil {
				return err
			}
			defer closeApp(a)

			removed, err := a.Cache.Purge(ctx)
			if err != nil {
				return err
			}
			printf(cmd, "Removed %d cache entries\n", removed)
			return nil
		},
	}, &cobra.Command{
		Use:   "stats",
		Short: "Show the number of cached embeddings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, true)
			if err != nil {
				return err
			}
			defer closeApp(a)

			n, err := a.Cache.Len(ctx)
			if err != nil {
				return err
			}
			printf(cmd, "Model:   %s\n", a.Cache.Model())
			printf(cmd, "Entries: %d\n", n)
			return nil
		},
	})
	return cmd
}
