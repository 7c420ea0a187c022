// Package search serves the query pipeline over HTTP.
//
//	GET  /search?q=<topic>&k=<top_k>[&extra=true]
//	POST /search {"query": "<topic>", "top_k": 5, "include_extra": false}
//	GET  /stats
package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"article-finder/internal/domain/entity"
	"article-finder/internal/handler/http/respond"
	"article-finder/internal/usecase/query"
)

// Searcher is the query pipeline as seen by the handlers.
type Searcher interface {
	Query(ctx context.Context, topic string, topK int) ([]entity.RankedArticle, error)
	Stats(ctx context.Context) (*query.Stats, error)
}

// Handler answers /search. Every response uses the Response envelope.
type Handler struct {
	Svc Searcher
	// DefaultTopK is used when the request carries no k. Default: 5
	DefaultTopK int
	// MaxTopK is the largest accepted k. Default and ceiling: query.MaxTopK
	MaxTopK int
}

type postRequest struct {
	Request
	IncludeExtra bool `json:"include_extra"`
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic, topK, withExtra, err := h.parse(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ranked, err := h.Svc.Query(r.Context(), topic, topK)
	if err != nil {
		writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, Response{
		Status:  entity.KindOK,
		Results: toResults(ranked, withExtra),
	})
}

func (h Handler) parse(r *http.Request) (topic string, topK int, withExtra bool, err error) {
	topK = h.defaultTopK()

	switch r.Method {
	case http.MethodPost:
		var body postRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return "", 0, false, &entity.InvalidInputError{Message: "request body too large"}
			}
			return "", 0, false, &entity.InvalidInputError{Message: "malformed JSON body"}
		}
		topic, withExtra = body.Query, body.IncludeExtra
		if body.TopK != nil {
			topK = *body.TopK
		}
	default:
		q := r.URL.Query()
		topic = q.Get("q")
		if raw := q.Get("k"); raw != "" {
			k, err := strconv.Atoi(raw)
			if err != nil {
				return "", 0, false, &entity.InvalidInputError{Field: "k", Message: "must be an integer"}
			}
			topK = k
		}
		withExtra, _ = strconv.ParseBool(q.Get("extra"))
	}

	if topK > h.maxTopK() {
		return "", 0, false, &entity.InvalidInputError{
			Field:   "top_k",
			Message: "must not exceed " + strconv.Itoa(h.maxTopK()),
		}
	}
	return topic, topK, withExtra, nil
}

func (h Handler) defaultTopK() int {
	if h.DefaultTopK > 0 {
		return min(h.DefaultTopK, h.maxTopK())
	}
	return min(5, h.maxTopK())
}

func (h Handler) maxTopK() int {
	if h.MaxTopK > 0 && h.MaxTopK < query.MaxTopK {
		return h.MaxTopK
	}
	return query.MaxTopK
}

func writeError(w http.ResponseWriter, err error) {
	respond.JSON(w, respond.StatusCode(err), Response{
		Status:  entity.Kind(err),
		Results: []Result{},
		Error:   respond.Message(err),
	})
}

// StatsHandler answers GET /stats with the sizes of the current index
// generation and the metadata store.
type StatsHandler struct {
	Svc Searcher
}

func (h StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		respond.SafeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, stats)
}

// Register mounts the search and stats routes on mux.
func Register(mux *http.ServeMux, h Handler) {
	mux.Handle("GET /search", h)
	mux.Handle("POST /search", h)
	mux.Handle("GET /stats", StatsHandler{Svc: h.Svc})
}
