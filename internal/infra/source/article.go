// Package source reads raw articles for ingestion: a directory of JSON files,
// one article per file, or a JSONL stream with one article per line.
//
// Every top-level field other than id, title, content, publish_date and url is
// kept in the record's extra metadata.
package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"article-finder/internal/domain/entity"
)

var (
	// ErrMissingID is returned for an article without an id when ids are not derived.
	ErrMissingID = errors.New("missing 'id'")
	// ErrMissingContent is returned for an article without content.
	ErrMissingContent = errors.New("missing 'content'")
)

// Options control how raw articles are turned into records.
type Options struct {
	// DeriveIDs assigns entity.DeriveID(url, content) to articles that carry no id
	// instead of rejecting them.
	DeriveIDs bool
	// Include lists doublestar patterns, relative to the directory, selecting
	// the files ReadDir parses. Empty means "**/*.json".
	Include []string
}

// Batch is the outcome of reading one input: the parsed records in input order
// and the inputs that could not be parsed.
type Batch struct {
	Records  []*entity.ArticleRecord
	Failures []entity.RecordFailure
}

func (b *Batch) fail(where string, err error) {
	b.Failures = append(b.Failures, entity.RecordFailure{ID: where, Reason: err.Error()})
}

var knownFields = map[string]bool{
	"id": true, "title": true, "content": true, "publish_date": true, "url": true,
}

// ParseArticle decodes one JSON object into a record.
func ParseArticle(data []byte, opts Options) (*entity.ArticleRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if raw == nil {
		return nil, errors.New("invalid JSON: expected an object")
	}

	rec := &entity.ArticleRecord{}
	var err error
	if rec.ID, err = stringField(raw, "id"); err != nil {
		return nil, err
	}
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.Title, err = stringField(raw, "title"); err != nil {
		return nil, err
	}
	if rec.Content, err = stringField(raw, "content"); err != nil {
		return nil, err
	}
	if rec.URL, err = stringField(raw, "url"); err != nil {
		return nil, err
	}
	date, err := stringField(raw, "publish_date")
	if err != nil {
		return nil, err
	}
	if rec.PublishDate, err = ParseDate(date); err != nil {
		return nil, fmt.Errorf("publish_date: %w", err)
	}

	if strings.TrimSpace(rec.Content) == "" {
		return nil, ErrMissingContent
	}
	if rec.ID == "" {
		if !opts.DeriveIDs {
			return nil, ErrMissingID
		}
		rec.ID = entity.DeriveID(rec.URL, rec.Content)
	}

	for key, v := range raw {
		if knownFields[key] {
			continue
		}
		value, err := entity.FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]entity.Value)
		}
		rec.Extra[key] = value
	}
	return rec, nil
}

// stringField reads an optional string field. Numbers are accepted for ids.
func stringField(raw map[string]any, key string) (string, error) {
	switch v := raw[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		if key == "id" {
			return v.String(), nil
		}
	}
	return "", fmt.Errorf("field %q: expected a string, got %T", key, raw[key])
}

// ParseDate accepts "", a calendar date (2024-01-01) or an RFC 3339 timestamp.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	}
	return t.UTC(), nil
}
