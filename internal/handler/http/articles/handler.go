// Package articles serves read-only access to the metadata store.
//
//	GET /articles?page=<n>&limit=<n>
//	GET /articles/{id}
package articles

import (
	"context"
	"net/http"

	"article-finder/internal/common/pagination"
	"article-finder/internal/domain/entity"
	"article-finder/internal/handler/http/respond"
	"article-finder/internal/usecase/article"
)

// Reader is the article use case as seen by the handlers.
type Reader interface {
	Get(ctx context.Context, id string) (*entity.ArticleRecord, error)
	ListPaginated(ctx context.Context, params pagination.Params) (*article.PaginatedResult, error)
}

// DTO is the JSON form of a stored article.
type DTO struct {
	ID          string                  `json:"id"`
	Title       string                  `json:"title"`
	Content     string                  `json:"content"`
	URL         string                  `json:"url,omitempty"`
	PublishDate string                  `json:"publish_date,omitempty"`
	Extra       map[string]entity.Value `json:"extra,omitempty"`
}

func toDTO(rec *entity.ArticleRecord) DTO {
	return DTO{
		ID:          rec.ID,
		Title:       rec.Title,
		Content:     rec.Content,
		URL:         rec.URL,
		PublishDate: respond.Date(rec.PublishDate),
		Extra:       rec.Extra,
	}
}

// ListHandler answers GET /articles with one page of articles in id order.
type ListHandler struct {
	Svc    Reader
	Config pagination.Config
}

func (h ListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params, err := pagination.ParseQueryParams(r, h.Config)
	if err != nil {
		respond.SafeError(w, err)
		return
	}

	result, err := h.Svc.ListPaginated(r.Context(), params)
	if err != nil {
		respond.SafeError(w, err)
		return
	}

	data := make([]DTO, 0, len(result.Data))
	for _, rec := range result.Data {
		data = append(data, toDTO(rec))
	}
	respond.JSON(w, http.StatusOK, pagination.NewResponse(data, result.Pagination))
}

// GetHandler answers GET /articles/{id}.
type GetHandler struct {
	Svc Reader
}

func (h GetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respond.SafeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, toDTO(rec))
}

// Register mounts the article routes on mux. A zero cfg means pagination.DefaultConfig.
func Register(mux *http.ServeMux, svc Reader, cfg pagination.Config) {
	if cfg == (pagination.Config{}) {
		cfg = pagination.DefaultConfig()
	}
	mux.Handle("GET /articles", ListHandler{Svc: svc, Config: cfg})
	mux.Handle("GET /articles/{id}", GetHandler{Svc: svc})
}
