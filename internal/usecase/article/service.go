// Package article serves read access to the metadata store: single-record
// lookup and id-ordered browsing.
package article

import (
	"context"
	"fmt"
	"slices"

	"article-finder/internal/common/pagination"
	"article-finder/internal/domain/entity"
	"article-finder/internal/repository"
)

// Service reads stored article records.
type Service struct {
	Repo repository.ArticleRepository
}

// PaginatedResult is one page of records in id order.
type PaginatedResult struct {
	Data       []*entity.ArticleRecord
	Pagination pagination.Metadata
}

// Get returns the record stored under id.
// Returns an InvalidInputError for an empty id and a NotFoundError when absent.
func (s *Service) Get(ctx context.Context, id string) (*entity.ArticleRecord, error) {
	if id == "" {
		return nil, &entity.InvalidInputError{Field: "id", Message: "must not be empty"}
	}
	rec, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	return rec, nil
}

// ListPaginated returns the requested page of records ordered by id.
//
// Not every backend lists in key order, so the page is cut from the sorted id
// set and then fetched in one GetMany.
func (s *Service) ListPaginated(ctx context.Context, params pagination.Params) (*PaginatedResult, error) {
	var ids []string
	if err := s.Repo.List(ctx, func(rec *entity.ArticleRecord) error {
		ids = append(ids, rec.ID)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	slices.Sort(ids)

	result := &PaginatedResult{
		Data:       []*entity.ArticleRecord{},
		Pagination: pagination.NewMetadata(params, int64(len(ids))),
	}
	offset := params.Offset()
	if offset >= len(ids) {
		return result, nil
	}
	pageIDs := ids[offset:min(offset+params.Limit, len(ids))]

	found, err := s.Repo.GetMany(ctx, pageIDs)
	if err != nil {
		return nil, fmt.Errorf("get article page: %w", err)
	}
	for _, id := range pageIDs {
		if rec, ok := found[id]; ok {
			result.Data = append(result.Data, rec)
		}
	}
	return result, nil
}
