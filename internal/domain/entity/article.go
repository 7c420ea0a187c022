// Package entity defines the core domain types of the article retrieval system:
// article records with their tagged extra metadata, embedding vectors, ranked
// query results, ingestion reports and the error kinds shared by every layer.
package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"article-finder/internal/utils/text"
)

// IndexPosition is the slot number a vector occupies in the vector index.
// Positions are assigned sequentially from 0 and never reused.
type IndexPosition = int64

// ExcerptRunes is the maximum length of a result excerpt before "..." is appended.
const ExcerptRunes = 300

// ArticleRecord is one ingested article. Re-ingesting a record with the same ID
// overwrites the previous version.
type ArticleRecord struct {
	ID          string
	Title       string
	Content     string
	PublishDate time.Time
	URL         string
	Extra       map[string]Value
}

// Validate checks the fields required for ingestion.
func (a *ArticleRecord) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return &ValidationError{Field: "id", Message: "id is required"}
	}
	if text.IsBlank(a.Title) {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if text.IsBlank(a.Content) {
		return &ValidationError{Field: "content", Message: "content is required"}
	}
	if a.URL != "" {
		if err := ValidateURL(a.URL); err != nil {
			return err
		}
	}
	return nil
}

// ContentHash returns the hex SHA-256 of the normalized content. Ingestion uses it
// to decide whether an existing article must be re-embedded.
func (a *ArticleRecord) ContentHash() string {
	return ContentHash(a.Content)
}

// ContentHash returns the hex SHA-256 of normalized content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(text.Normalize(content)))
	return hex.EncodeToString(sum[:])
}

// DeriveID builds a stable article id for input that carries none: the source URL
// when present, otherwise the content.
func DeriveID(url, content string) string {
	seed := strings.TrimSpace(url)
	if seed == "" {
		seed = text.Normalize(content)
	}
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:8])
}

// SameMetadata reports whether two records agree on every field except Content.
func (a *ArticleRecord) SameMetadata(b *ArticleRecord) bool {
	return a.ID == b.ID &&
		a.Title == b.Title &&
		a.URL == b.URL &&
		a.PublishDate.Equal(b.PublishDate) &&
		ExtraEqual(a.Extra, b.Extra)
}

// Excerpt returns the preview text shown with a search result: the "desc" field
// of the "row" extra entry when present, otherwise the content. The result is cut
// to ExcerptRunes runes.
func (a *ArticleRecord) Excerpt() string {
	if row, ok := a.Extra["row"]; ok {
		if desc, ok := rowDescription(row); ok && !text.IsBlank(desc) {
			return text.Excerpt(desc, ExcerptRunes)
		}
	}
	return text.Excerpt(a.Content, ExcerptRunes)
}

// rowDescription reads row.desc; row may be a map or a JSON object string.
func rowDescription(row Value) (string, bool) {
	if s, ok := row.Str(); ok {
		var parsed Value
		if err := parsed.UnmarshalJSON([]byte(s)); err != nil {
			return "", false
		}
		row = parsed
	}
	desc, ok := row.Get("desc")
	if !ok {
		return "", false
	}
	return desc.Str()
}

// Vector is a dense embedding produced by the embedding client.
type Vector []float32

// RankedArticle is one query result.
type RankedArticle struct {
	Record   ArticleRecord
	Score    float32
	Position IndexPosition
	Excerpt  string
}

// RecordFailure names a record that could not be ingested and why.
type RecordFailure struct {
	ID     string
	Reason string
}

// IngestionReport summarizes one ingestion batch. Every distinct input record is
// counted exactly once.
type IngestionReport struct {
	Inserted int
	Updated  int
	Skipped  int
	Failed   int
	Failures []RecordFailure
}

// Total returns the number of records accounted for.
func (r *IngestionReport) Total() int {
	return r.Inserted + r.Updated + r.Skipped + r.Failed
}

// Fail records a per-record failure.
func (r *IngestionReport) Fail(id string, err error) {
	r.Failed++
	r.Failures = append(r.Failures, RecordFailure{ID: id, Reason: err.Error()})
}
