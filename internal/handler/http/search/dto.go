package search

import (
	"article-finder/internal/domain/entity"
	"article-finder/internal/handler/http/respond"
)

// Request is the POST /search body.
type Request struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k,omitempty"`
}

// Response is the body of every /search answer, successful or not.
// Results is always present, empty on failure.
type Response struct {
	Status  string   `json:"status"`
	Results []Result `json:"results"`
	Error   string   `json:"error,omitempty"`
}

// Result is one ranked article.
type Result struct {
	ID          string                  `json:"id"`
	Title       string                  `json:"title"`
	URL         string                  `json:"url,omitempty"`
	PublishDate string                  `json:"publish_date,omitempty"`
	Score       float32                 `json:"score"`
	Excerpt     string                  `json:"excerpt"`
	Extra       map[string]entity.Value `json:"extra,omitempty"`
}

func toResults(ranked []entity.RankedArticle, withExtra bool) []Result {
	out := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		res := Result{
			ID:          r.Record.ID,
			Title:       r.Record.Title,
			URL:         r.Record.URL,
			PublishDate: respond.Date(r.Record.PublishDate),
			Score:       r.Score,
			Excerpt:     r.Excerpt,
		}
		if withExtra {
			res.Extra = r.Record.Extra
		}
		out = append(out, res)
	}
	return out
}
