package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"article-finder/internal/domain/entity"
)

// SearchOutput is the JSON form of a search.
type SearchOutput struct {
	Query       string          `json:"query"`
	TotalLive   int             `json:"total_live"`
	ResultCount int             `json:"result_count"`
	Articles    []ArticleOutput `json:"articles"`
}

// ArticleOutput is one ranked article in SearchOutput.
type ArticleOutput struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	URL         string  `json:"url,omitempty"`
	PublishDate string  `json:"publish_date,omitempty"`
	Score       float32 `json:"score"`
	Excerpt     string  `json:"excerpt"`
}

func newSearchCmd(e *env) *cobra.Command {
	var (
		topK   int
		output string
	)
	cmd := &cobra.Command{
		Use:   "search <topic>",
		Short: "Find the articles most similar to a topic",
		Example: `  indexctl search "Go concurrency patterns"
  indexctl search "database" -k 10 --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "text" && output != "json" {
				return fmt.Errorf("unknown output format %q (expected text or json)", output)
			}
			if !cmd.Flags().Changed("top-k") {
				topK = e.cfg.Query.DefaultTopK
			}
			if topK > e.cfg.Query.MaxTopK {
				return fmt.Errorf("--top-k must not exceed %d", e.cfg.Query.MaxTopK)
			}

			ctx := cmd.Context()
			a, err := e.open(ctx, false)
			if err != nil {
				return err
			}
			defer closeApp(a)

			ranked, err := a.Query.Query(ctx, args[0], topK)
			if err != nil {
				return fmt.Errorf("search failed (%s): %w", entity.Kind(err), err)
			}

			live := a.Catalog.Current().Index.Live()
			if output == "json" {
				return outputJSON(cmd.OutOrStdout(), args[0], live, ranked)
			}
			outputText(cmd.OutOrStdout(), args[0], live, ranked)
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "number of results (default from QUERY_DEFAULT_TOP_K)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

// outputText prints search results in human-readable format.
func outputText(w io.Writer, query string, live int, ranked []entity.RankedArticle) {
	_, _ = fmt.Fprintf(w, "Search Results for: %q\n", query)
	_, _ = fmt.Fprintf(w, "Indexed: %d articles\n", live)
	_, _ = fmt.Fprintf(w, "Results: %d\n\n", len(ranked))

	if len(ranked) == 0 {
		_, _ = fmt.Fprintln(w, "No articles found matching your query.")
		return
	}

	for i, r := range ranked {
		_, _ = fmt.Fprintf(w, "%d. %s [%s]\n", i+1, r.Record.Title, r.Record.ID)
		_, _ = fmt.Fprintf(w, "   Score: %.4f\n", r.Score)
		if r.Record.URL != "" {
			_, _ = fmt.Fprintf(w, "   URL: %s\n", r.Record.URL)
		}
		if r.Excerpt != "" {
			_, _ = fmt.Fprintf(w, "   Excerpt: %s\n", r.Excerpt)
		}
		_, _ = fmt.Fprintln(w)
	}
}

// outputJSON prints search results in JSON format.
func outputJSON(w io.Writer, query string, live int, ranked []entity.RankedArticle) error {
	articles := make([]ArticleOutput, len(ranked))
	for i, r := range ranked {
		articles[i] = ArticleOutput{
			ID:      r.Record.ID,
			Title:   r.Record.Title,
			URL:     r.Record.URL,
			Score:   r.Score,
			Excerpt: r.Excerpt,
		}
		if !r.Record.PublishDate.IsZero() {
			articles[i].PublishDate = r.Record.PublishDate.Format("2006-01-02")
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(SearchOutput{
		Query:       query,
		TotalLive:   live,
		ResultCount: len(ranked),
		Articles:    articles,
	})
}
