package embedder

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"article-finder/internal/domain/entity"
	"article-finder/internal/utils/text"
)

// Over-length input policies.
const (
	PolicyTruncate = "truncate"
	PolicyReject   = "reject"
)

// VectorSource resolves one prepared text to its vector, normally through the
// embedding cache.
type VectorSource interface {
	GetOrCompute(ctx context.Context, text string) (entity.Vector, error)
}

// Options configures a Client.
type Options struct {
	// MaxInputRunes is the model's input limit. 0 disables the check.
	MaxInputRunes int

	// OverlengthPolicy is PolicyTruncate or PolicyReject.
	OverlengthPolicy string

	// Parallelism caps concurrent lookups in EmbedBatch.
	Parallelism int
}

// Client embeds article and query text.
type Client struct {
	source VectorSource
	opts   Options
}

// NewClient creates a client reading vectors from source.
func NewClient(source VectorSource, opts Options) *Client {
	if opts.OverlengthPolicy == "" {
		opts.OverlengthPolicy = PolicyTruncate
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	return &Client{source: source, opts: opts}
}

// Embed returns the vector for text.
// Empty text, and over-length text under PolicyReject, fail with *entity.InvalidInputError.
func (c *Client) Embed(ctx context.Context, input string) (entity.Vector, error) {
	prepared, err := c.prepare(input)
	if err != nil {
		return nil, err
	}
	return c.source.GetOrCompute(ctx, prepared)
}

// EmbedBatch embeds texts concurrently. The result is index-aligned with texts.
// Identical texts are looked up once. When some texts fail, the vectors of the
// others are still returned together with a *BatchError.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]entity.Vector, error) {
	out := make([]entity.Vector, len(texts))
	errs := make([]error, len(texts))

	positions := make(map[string][]int, len(texts))
	var order []string
	for i, t := range texts {
		prepared, err := c.prepare(t)
		if err != nil {
			errs[i] = err
			continue
		}
		if _, seen := positions[prepared]; !seen {
			order = append(order, prepared)
		}
		positions[prepared] = append(positions[prepared], i)
	}

	vectors := make([]entity.Vector, len(order))
	lookupErrs := make([]error, len(order))

	var g errgroup.Group
	g.SetLimit(c.opts.Parallelism)
	for j, prepared := range order {
		g.Go(func() error {
			vectors[j], lookupErrs[j] = c.source.GetOrCompute(ctx, prepared)
			return nil
		})
	}
	_ = g.Wait()

	for j, prepared := range order {
		for _, i := range positions[prepared] {
			if lookupErrs[j] != nil {
				errs[i] = lookupErrs[j]
				continue
			}
			out[i] = vectors[j]
		}
	}

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		return out, &BatchError{Errs: errs, Failed: failed}
	}
	return out, nil
}

func (c *Client) prepare(input string) (string, error) {
	if text.IsBlank(input) {
		return "", &entity.InvalidInputError{Field: "text", Message: "text is empty"}
	}
	if c.opts.MaxInputRunes <= 0 {
		return input, nil
	}

	n := text.CountRunes(input)
	if n <= c.opts.MaxInputRunes {
		return input, nil
	}
	if c.opts.OverlengthPolicy == PolicyReject {
		return "", &entity.InvalidInputError{
			Field:   "text",
			Message: fmt.Sprintf("text has %d characters, limit is %d", n, c.opts.MaxInputRunes),
		}
	}

	truncated, _ := text.TruncateRunes(input, c.opts.MaxInputRunes)
	slog.Debug("Truncated over-length embedding input",
		slog.Int("original_length", n),
		slog.Int("truncated_length", c.opts.MaxInputRunes))
	return truncated, nil
}

// BatchError reports the per-text failures of EmbedBatch.
type BatchError struct {
	// Errs is index-aligned with the input; nil entries succeeded.
	Errs   []error
	Failed int
}

func (e *BatchError) Error() string {
	for _, err := range e.Errs {
		if err != nil {
			return fmt.Sprintf("%d of %d texts failed to embed, first: %v", e.Failed, len(e.Errs), err)
		}
	}
	return "embed batch failed"
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	out := make([]error, 0, e.Failed)
	for _, err := range e.Errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// Err returns the failure for input i, or nil.
func (e *BatchError) Err(i int) error {
	if i < 0 || i >= len(e.Errs) {
		return nil
	}
	return e.Errs[i]
}
