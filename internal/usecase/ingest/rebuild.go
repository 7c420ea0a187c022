package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"article-finder/internal/domain/entity"
	"article-finder/internal/infra/vectorindex"
	"article-finder/internal/observability/metrics"
	"article-finder/internal/observability/tracing"
)

// RebuildReport summarizes a rebuild.
type RebuildReport struct {
	Generation uint64
	Indexed    int
	Failed     int
	Failures   []entity.RecordFailure
}

// Rebuild re-embeds every stored article into a fresh generation built off to
// the side, persists it and swaps it in. Queries keep using the previous
// generation until the swap and never observe a partial one.
//
// Articles rejected as invalid input are left out and reported. Any other
// failure, including an unreachable embedding upstream, abandons the new
// generation and leaves the current one active.
func (s *Service) Rebuild(ctx context.Context, progress func(done int)) (report *RebuildReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "ingest.Rebuild")
	defer func() { tracing.EndSpan(span, err) }()

	start := time.Now()
	next := s.catalog.Next()
	report = &RebuildReport{Generation: next.Number}
	slog.Info("Starting index rebuild", slog.Uint64("generation", next.Number))

	pending := make([]*entity.ArticleRecord, 0, s.chunkSize)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.rebuildChunk(ctx, next, pending, report); err != nil {
			return err
		}
		pending = pending[:0]
		if progress != nil {
			progress(report.Indexed + report.Failed)
		}
		return nil
	}

	err = s.store.List(ctx, func(rec *entity.ArticleRecord) error {
		pending = append(pending, rec)
		if len(pending) < s.chunkSize {
			return nil
		}
		return flush()
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		slog.Error("Index rebuild abandoned",
			slog.Uint64("generation", next.Number),
			slog.Int("indexed", report.Indexed),
			slog.Any("error", err))
		return report, err
	}

	if err := s.catalog.Publish(next); err != nil {
		slog.Error("Publishing rebuilt index failed",
			slog.Uint64("generation", next.Number),
			slog.Any("error", err))
		return report, err
	}
	metrics.UpdateIndexStats(next.Index.Len(), next.Index.Live(), next.Number)
	span.SetAttributes(attribute.Int("indexed", report.Indexed), attribute.Int("failed", report.Failed))

	slog.Info("Index rebuild completed",
		slog.Uint64("generation", next.Number),
		slog.Int("indexed", report.Indexed),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", time.Since(start)))
	return report, nil
}

func (s *Service) rebuildChunk(ctx context.Context, gen *vectorindex.Generation, chunk []*entity.ArticleRecord, report *RebuildReport) error {
	texts := make([]string, len(chunk))
	for i, rec := range chunk {
		texts[i] = rec.Content
	}

	vectors, batchErr := s.embedder.EmbedBatch(ctx, texts)
	for i, rec := range chunk {
		if err := recordError(batchErr, i); err != nil {
			if !errors.Is(err, entity.ErrInvalidInput) {
				return err
			}
			report.Failed++
			report.Failures = append(report.Failures, entity.RecordFailure{ID: rec.ID, Reason: err.Error()})
			continue
		}
		pos, err := gen.Index.Add(vectors[i])
		if err != nil {
			return err
		}
		prev, replaced, err := gen.Binding.Bind(pos, rec.ID)
		if err != nil {
			return &entity.StoreError{Op: "bind", Err: err}
		}
		if replaced {
			_ = gen.Index.Tombstone(prev)
			continue
		}
		report.Indexed++
	}
	return nil
}

// Verify cross-checks the current generation against the metadata store.
// Every fault is logged and counted; nothing is repaired. A rebuild resolves
// all three fault kinds.
func (s *Service) Verify(ctx context.Context) (faults []entity.ConsistencyFault, err error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.Verify")
	defer func() { tracing.EndSpan(span, err) }()

	gen := s.catalog.Current()
	faults, err = vectorindex.Verify(ctx, gen, s.store)
	if err != nil {
		return nil, err
	}

	for i := range faults {
		f := &faults[i]
		metrics.RecordConsistencyFault(f.Kind)
		slog.Warn("Consistency fault detected",
			slog.String("kind", f.Kind),
			slog.Int64("position", f.Position),
			slog.String("article_id", f.ArticleID),
			slog.Uint64("generation", gen.Number))
	}
	slog.Info("Consistency check completed",
		slog.Uint64("generation", gen.Number),
		slog.Int("faults", len(faults)))
	return faults, nil
}
