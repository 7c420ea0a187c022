package vectorindex

import (
	"context"

	"article-finder/internal/domain/entity"
)

// RecordLister streams every stored article.
type RecordLister interface {
	List(ctx context.Context, fn func(*entity.ArticleRecord) error) error
}

// Verify cross-checks gen against the metadata store and returns every
// disagreement. It never repairs anything.
//
//   - FaultUnboundPosition: a live position without a binding
//   - FaultMissingMetadata: a binding whose article has no metadata record
//   - FaultUnindexedRecord: a metadata record with no live bound position
func Verify(ctx context.Context, gen *Generation, records RecordLister) ([]entity.ConsistencyFault, error) {
	var faults []entity.ConsistencyFault

	n := gen.Index.Len()
	for pos := 0; pos < n; pos++ {
		p := entity.IndexPosition(pos)
		if !gen.Index.IsLive(p) {
			continue
		}
		if _, ok := gen.Binding.ArticleID(p); !ok {
			faults = append(faults, entity.ConsistencyFault{Kind: entity.FaultUnboundPosition, Position: p})
		}
	}

	stored := make(map[string]struct{})
	err := records.List(ctx, func(rec *entity.ArticleRecord) error {
		stored[rec.ID] = struct{}{}
		pos, ok := gen.Binding.Position(rec.ID)
		if !ok || !gen.Index.IsLive(pos) {
			faults = append(faults, entity.ConsistencyFault{Kind: entity.FaultUnindexedRecord, Position: -1, ArticleID: rec.ID})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = gen.Binding.Each(func(pos entity.IndexPosition, id string) error {
		if _, ok := stored[id]; !ok {
			faults = append(faults, entity.ConsistencyFault{Kind: entity.FaultMissingMetadata, Position: pos, ArticleID: id})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return faults, nil
}
