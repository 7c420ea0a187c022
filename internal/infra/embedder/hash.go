package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"article-finder/internal/utils/text"
)

// HashModel is the model name reported by HashUpstream.
const HashModel = "feature-hash-v1"

// HashUpstream is a deterministic in-process embedder. Every word (and every Han
// character) plus every pair of adjacent tokens is hashed into one of dim
// buckets with a hashed sign, and the result is L2-normalized. Texts sharing
// vocabulary get a positive cosine similarity, which is enough for tests and for
// running the pipeline without network access.
type HashUpstream struct {
	dim int
}

// NewHashUpstream creates a hashing embedder producing vectors of length dim.
func NewHashUpstream(dim int) *HashUpstream {
	if dim <= 0 {
		dim = 1024
	}
	return &HashUpstream{dim: dim}
}

func (h *HashUpstream) Model() string { return HashModel }

func (h *HashUpstream) Embed(ctx context.Context, input string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := tokenize(input)
	if len(tokens) == 0 {
		// punctuation-only text still gets a stable vector
		tokens = []string{text.Normalize(input)}
	}

	vec := make([]float32, h.dim)
	for i, tok := range tokens {
		h.add(vec, tok, 1.0)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func (h *HashUpstream) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// tokenize lower-cases input and splits it into runs of letters and digits.
// Han characters are emitted one per token since the script has no spaces.
func tokenize(input string) []string {
	var (
		tokens []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text.Normalize(input)) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
