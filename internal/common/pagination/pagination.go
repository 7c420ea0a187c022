// Package pagination parses page/limit query parameters and builds the
// metadata returned alongside a page of results.
package pagination

import (
	"net/http"
	"strconv"

	"article-finder/internal/domain/entity"
)

// Config holds the defaults and bounds applied to page requests.
type Config struct {
	DefaultPage  int // typically 1
	DefaultLimit int // items per page when limit is absent
	MaxLimit     int // largest accepted limit
}

// DefaultConfig returns page=1, limit=20, max=100.
func DefaultConfig() Config {
	return Config{
		DefaultPage:  1,
		DefaultLimit: 20,
		MaxLimit:     100,
	}
}

// Params are the requested page (1-based) and page size.
type Params struct {
	Page  int
	Limit int
}

// Offset is the number of items before the first one on the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// ParseQueryParams reads page and limit from the query string, falling back to
// config defaults for absent values. Malformed or out-of-range values yield an
// *entity.InvalidInputError.
func ParseQueryParams(r *http.Request, config Config) (Params, error) {
	params := Params{
		Page:  config.DefaultPage,
		Limit: config.DefaultLimit,
	}

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil || page < 1 {
			return params, &entity.InvalidInputError{Field: "page", Message: "must be a positive integer"}
		}
		params.Page = page
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > config.MaxLimit {
			return params, &entity.InvalidInputError{
				Field:   "limit",
				Message: "must be between 1 and " + strconv.Itoa(config.MaxLimit),
			}
		}
		params.Limit = limit
	}

	return params, nil
}

// Metadata describes one page of a listing.
type Metadata struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

// NewMetadata computes the page count for total items. An empty listing still
// has one page.
func NewMetadata(params Params, total int64) Metadata {
	return Metadata{
		Total:      total,
		Page:       params.Page,
		Limit:      params.Limit,
		TotalPages: CalculateTotalPages(total, params.Limit),
	}
}

// CalculateTotalPages is ceil(total / limit), and at least 1.
func CalculateTotalPages(total int64, limit int) int {
	if total == 0 {
		return 1
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

// Response wraps a page of items with its metadata.
type Response[T any] struct {
	Data       []T      `json:"data"`
	Pagination Metadata `json:"pagination"`
}

// NewResponse creates a Response; a nil data slice is encoded as [].
func NewResponse[T any](data []T, metadata Metadata) Response[T] {
	if data == nil {
		data = []T{}
	}
	return Response[T]{
		Data:       data,
		Pagination: metadata,
	}
}
