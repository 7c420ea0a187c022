package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"article-finder/internal/domain/entity"
	"article-finder/internal/infra/source"
	"article-finder/internal/usecase/ingest"
)

type ingestFlags struct {
	force     bool
	deriveIDs bool
	include   []string
}

func newIngestCmd(e *env) *cobra.Command {
	f := &ingestFlags{}
	cmd := &cobra.Command{
		Use:   "ingest <dir|file.jsonl|->",
		Short: "Embed and store a batch of articles",
		Long: `Ingest reads articles from a directory of JSON files (one article per file),
a JSONL file, or standard input ("-", JSONL), and writes them to the index and
the metadata store. Unchanged articles are not re-embedded unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, e, f, args[0])
		},
	}
	cmd.Flags().BoolVar(&f.force, "force", false, "re-embed every article even when its content is unchanged")
	cmd.Flags().BoolVar(&f.deriveIDs, "derive-ids", false, "derive ids from url and content for articles without one")
	cmd.Flags().StringSliceVar(&f.include, "include", nil, "glob patterns selecting files in a directory (default **/*.json)")
	return cmd
}

func runIngest(cmd *cobra.Command, e *env, f *ingestFlags, input string) error {
	ctx := cmd.Context()
	batch, err := readInput(ctx, cmd.InOrStdin(), input, source.Options{DeriveIDs: f.deriveIDs, Include: f.include})
	if err != nil {
		return err
	}

	a, err := e.open(ctx, false)
	if err != nil {
		return err
	}
	defer closeApp(a)

	bar := newProgress(cmd.ErrOrStderr(), "Ingesting", e.quiet)
	report, err := a.Ingest.Ingest(ctx, batch.Records, ingest.Options{
		ForceReembed: f.force,
		Progress:     bar.set,
	})
	if report != nil {
		report.Failed += len(batch.Failures)
		report.Failures = append(batch.Failures, report.Failures...)
		printReport(cmd, report)
	}
	if err != nil {
		return fmt.Errorf("ingest aborted: %w", err)
	}
	return nil
}

// readInput dispatches on the shape of input: "-" is JSONL on stdin, a
// directory holds one JSON article per file, anything else is a JSONL file.
func readInput(ctx context.Context, stdin io.Reader, input string, opts source.Options) (*source.Batch, error) {
	if input == "-" {
		return source.ReadJSONL(ctx, stdin, opts)
	}

	info, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return source.ReadDir(ctx, input, opts)
	}

	file, err := os.Open(input)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()
	return source.ReadJSONL(ctx, file, opts)
}

func printReport(cmd *cobra.Command, r *entity.IngestionReport) {
	printf(cmd, "Ingestion complete:\n")
	printf(cmd, "  Inserted: %d\n", r.Inserted)
	printf(cmd, "  Updated:  %d\n", r.Updated)
	printf(cmd, "  Skipped:  %d (unchanged)\n", r.Skipped)
	printf(cmd, "  Failed:   %d\n", r.Failed)
	if len(r.Failures) > 0 {
		printf(cmd, "\nFailures:\n")
		for _, f := range r.Failures {
			printf(cmd, "  - %s: %s\n", f.ID, strings.TrimSpace(f.Reason))
		}
	}
}
