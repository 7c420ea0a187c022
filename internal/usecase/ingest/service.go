// Package ingest implements the ingestion pipeline: it turns batches of raw
// article records into vectors, positions, bindings and metadata, and owns every
// write to the vector index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"article-finder/internal/domain/entity"
	"article-finder/internal/infra/vectorindex"
	"article-finder/internal/observability/metrics"
	"article-finder/internal/observability/tracing"
	"article-finder/internal/repository"
)

// DefaultChunkSize is the number of records embedded and committed together.
const DefaultChunkSize = 64

// Embedder produces one vector per text. On partial failure it returns the
// vectors that succeeded together with an error exposing per-index failures
// through Err(i).
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([]entity.Vector, error)
}

// Options tune one Ingest call.
type Options struct {
	// ForceReembed embeds every record even when its content is unchanged.
	ForceReembed bool
	// Progress, when set, is called after each committed chunk.
	Progress func(done, total int)
}

// Service serializes all index writers: Ingest and Rebuild never run concurrently.
type Service struct {
	mu        sync.Mutex
	catalog   *vectorindex.Catalog
	embedder  Embedder
	store     repository.ArticleRepository
	chunkSize int
}

// NewService wires the pipeline. chunkSize <= 0 selects DefaultChunkSize.
func NewService(catalog *vectorindex.Catalog, embedder Embedder, store repository.ArticleRepository, chunkSize int) *Service {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Service{catalog: catalog, embedder: embedder, store: store, chunkSize: chunkSize}
}

type outcome int

const (
	outcomeInserted outcome = iota
	outcomeUpdated
	outcomeSkipped
)

// plan is the decision taken for one deduplicated record.
type plan struct {
	rec     *entity.ArticleRecord
	embed   bool
	outcome outcome
}

// Ingest writes batch into the index and the metadata store.
//
// Records are deduplicated by id with surrounding whitespace removed (the last
// occurrence wins, in first-seen order) and stored under the trimmed id. A record whose content hash matches the stored one only has its
// metadata rewritten unless opts.ForceReembed is set. For each chunk the vectors
// are added and bound, the index is persisted, and only then is metadata
// written, so an interrupted run leaves at worst bindings without metadata.
//
// Per-record problems are counted as failed in the report. A store or
// persistence failure aborts the batch and is returned together with the
// report of the work already committed.
func (s *Service) Ingest(ctx context.Context, batch []*entity.ArticleRecord, opts Options) (report *entity.IngestionReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runID := uuid.NewString()
	ctx, span := tracing.StartSpan(ctx, "ingest.Ingest",
		attribute.String("run_id", runID),
		attribute.Int("batch_size", len(batch)),
		attribute.Bool("force_reembed", opts.ForceReembed))
	defer func() { tracing.EndSpan(span, err) }()

	start := time.Now()
	report = &entity.IngestionReport{}

	// another process may have written the index since the last run
	if _, err := s.catalog.Reload(); err != nil {
		s.finish(runID, report, start, err)
		return report, err
	}
	records := dedupe(batch, report)

	slog.Info("Starting ingestion",
		slog.String("run_id", runID),
		slog.Int("records", len(batch)),
		slog.Int("distinct", len(records)),
		slog.Bool("force_reembed", opts.ForceReembed))

	done := 0
	for lo := 0; lo < len(records); lo += s.chunkSize {
		if err := ctx.Err(); err != nil {
			s.finish(runID, report, start, err)
			return report, err
		}
		chunk := records[lo:min(lo+s.chunkSize, len(records))]
		if err := s.ingestChunk(ctx, chunk, opts, report); err != nil {
			s.finish(runID, report, start, err)
			return report, err
		}
		done += len(chunk)
		if opts.Progress != nil {
			opts.Progress(done, len(records))
		}
	}

	s.finish(runID, report, start, nil)
	return report, nil
}

// dedupe trims ids, validates records and keeps the last occurrence of each id
// in first-seen order. Records without an id cannot be deduplicated and fail
// individually. Records whose id needed trimming are copied, never modified.
func dedupe(batch []*entity.ArticleRecord, report *entity.IngestionReport) []*entity.ArticleRecord {
	latest := make(map[string]*entity.ArticleRecord, len(batch))
	var order []string
	for i, rec := range batch {
		if rec == nil {
			report.Fail(fmt.Sprintf("#%d", i), errors.New("nil record"))
			continue
		}
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			report.Fail(fmt.Sprintf("#%d", i), rec.Validate())
			continue
		}
		if id != rec.ID {
			trimmed := *rec
			trimmed.ID = id
			rec = &trimmed
		}
		if _, seen := latest[id]; !seen {
			order = append(order, id)
		}
		latest[id] = rec
	}

	out := make([]*entity.ArticleRecord, 0, len(order))
	for _, id := range order {
		rec := latest[id]
		if err := rec.Validate(); err != nil {
			report.Fail(id, err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (s *Service) ingestChunk(ctx context.Context, chunk []*entity.ArticleRecord, opts Options, report *entity.IngestionReport) error {
	gen := s.catalog.Current()

	plans := make([]plan, 0, len(chunk))
	for _, rec := range chunk {
		p, err := s.classify(ctx, gen, rec, opts.ForceReembed)
		if err != nil {
			return err
		}
		plans = append(plans, p)
	}

	var (
		texts   []string
		targets []int
	)
	for i, p := range plans {
		if p.embed {
			texts = append(texts, p.rec.Content)
			targets = append(targets, i)
		}
	}

	failed := make(map[int]error)
	vectors := make(map[int]entity.Vector, len(targets))
	if len(texts) > 0 {
		embedded, err := s.embedder.EmbedBatch(ctx, texts)
		for j, i := range targets {
			if recErr := recordError(err, j); recErr != nil {
				failed[i] = recErr
				continue
			}
			vectors[i] = embedded[j]
		}
	}

	// index and binding first
	added := 0
	for i, p := range plans {
		if !p.embed {
			continue
		}
		if err, ok := failed[i]; ok {
			slog.Warn("Embedding failed for article",
				slog.String("article_id", p.rec.ID),
				slog.Any("error", err))
			continue
		}
		pos, err := gen.Index.Add(vectors[i])
		if err != nil {
			failed[i] = err
			continue
		}
		prev, replaced, err := gen.Binding.Bind(pos, p.rec.ID)
		if err != nil {
			// a fresh position is never bound; this means the binding is corrupt
			_ = gen.Index.Tombstone(pos)
			return &entity.StoreError{Op: "bind", Err: err}
		}
		if replaced {
			if err := gen.Index.Tombstone(prev); err != nil {
				return &entity.StoreError{Op: "tombstone", Err: err}
			}
		}
		added++
	}

	if added > 0 {
		if err := s.catalog.Persist(); err != nil {
			return err
		}
		metrics.UpdateIndexStats(gen.Index.Len(), gen.Index.Live(), gen.Number)
	}

	// then metadata
	for i, p := range plans {
		if err, ok := failed[i]; ok {
			report.Fail(p.rec.ID, err)
			continue
		}
		if p.outcome != outcomeSkipped {
			if err := s.store.Put(ctx, p.rec); err != nil {
				return err
			}
		}
		switch p.outcome {
		case outcomeInserted:
			report.Inserted++
		case outcomeUpdated:
			report.Updated++
		case outcomeSkipped:
			report.Skipped++
		}
	}
	return nil
}

// classify decides whether rec needs a new vector and how it will be counted.
func (s *Service) classify(ctx context.Context, gen *vectorindex.Generation, rec *entity.ArticleRecord, force bool) (plan, error) {
	storedHash, err := s.store.ContentHash(ctx, rec.ID)
	exists := err == nil
	if err != nil && !errors.Is(err, entity.ErrNotFound) {
		return plan{}, err
	}
	if !exists {
		return plan{rec: rec, embed: true, outcome: outcomeInserted}, nil
	}

	pos, bound := gen.Binding.Position(rec.ID)
	indexed := bound && gen.Index.IsLive(pos)
	if force || !indexed || storedHash != rec.ContentHash() {
		return plan{rec: rec, embed: true, outcome: outcomeUpdated}, nil
	}

	current, err := s.store.Get(ctx, rec.ID)
	if err != nil {
		return plan{}, err
	}
	if current.SameMetadata(rec) {
		return plan{rec: rec, outcome: outcomeSkipped}, nil
	}
	return plan{rec: rec, outcome: outcomeUpdated}, nil
}

// recordError extracts the failure of text j from an EmbedBatch error. An error
// without per-index detail fails every text.
func recordError(err error, j int) error {
	if err == nil {
		return nil
	}
	var perIndex interface{ Err(int) error }
	if errors.As(err, &perIndex) {
		return perIndex.Err(j)
	}
	return err
}

func (s *Service) finish(runID string, report *entity.IngestionReport, start time.Time, err error) {
	elapsed := time.Since(start)
	metrics.RecordIngestBatch(report.Inserted, report.Updated, report.Skipped, report.Failed, elapsed)

	attrs := []any{
		slog.String("run_id", runID),
		slog.Int("inserted", report.Inserted),
		slog.Int("updated", report.Updated),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", elapsed),
	}
	if err != nil {
		slog.Error("Ingestion aborted", append(attrs, slog.Any("error", err))...)
		return
	}
	slog.Info("Ingestion completed", attrs...)
}
