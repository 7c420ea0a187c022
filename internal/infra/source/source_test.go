package source_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"article-finder/internal/domain/entity"
	"article-finder/internal/infra/source"
)

func TestParseArticle(t *testing.T) {
	rec, err := source.ParseArticle([]byte(`{
		"id": "dummy_001",
		"title": "示例文章标题",
		"content": "这是一段示例文本内容",
		"publish_date": "2024-01-01",
		"url": "http://example.com/dummy",
		"row": {"desc": "short", "views": 12},
		"tags": ["a", "b"]
	}`), source.Options{})
	require.NoError(t, err)

	assert.Equal(t, "dummy_001", rec.ID)
	assert.Equal(t, "示例文章标题", rec.Title)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), rec.PublishDate)
	assert.Equal(t, "http://example.com/dummy", rec.URL)
	require.Len(t, rec.Extra, 2)
	assert.True(t, rec.Extra["tags"].Equal(entity.List(entity.String("a"), entity.String("b"))))
	assert.Equal(t, "short", rec.Excerpt())
}

func TestParseArticle_Failures(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "missing id", input: `{"title":"t","content":"c"}`, wantErr: "missing 'id'"},
		{name: "missing content", input: `{"id":"a","title":"t"}`, wantErr: "missing 'content'"},
		{name: "blank content", input: `{"id":"a","content":"  "}`, wantErr: "missing 'content'"},
		{name: "not json", input: `{`, wantErr: "invalid JSON"},
		{name: "array", input: `[1]`, wantErr: "invalid JSON"},
		{name: "title not string", input: `{"id":"a","title":3,"content":"c"}`, wantErr: `field "title"`},
		{name: "bad date", input: `{"id":"a","content":"c","publish_date":"yesterday"}`, wantErr: "publish_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := source.ParseArticle([]byte(tt.input), source.Options{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseArticle_DeriveIDs(t *testing.T) {
	input := []byte(`{"title":"t","content":"c","url":"http://x/1"}`)
	rec, err := source.ParseArticle(input, source.Options{DeriveIDs: true})
	require.NoError(t, err)
	assert.Equal(t, entity.DeriveID("http://x/1", "c"), rec.ID)

	numeric, err := source.ParseArticle([]byte(`{"id":42,"content":"c"}`), source.Options{})
	require.NoError(t, err)
	assert.Equal(t, "42", numeric.ID)
}

func TestParseArticle_TrimsID(t *testing.T) {
	rec, err := source.ParseArticle([]byte(`{"id":"  a1\t","content":"c"}`), source.Options{})
	require.NoError(t, err)
	assert.Equal(t, "a1", rec.ID)

	_, err = source.ParseArticle([]byte(`{"id":"   ","content":"c"}`), source.Options{})
	assert.ErrorIs(t, err, source.ErrMissingID)
}

func TestParseArticle_LargeIntegerExtra(t *testing.T) {
	rec, err := source.ParseArticle([]byte(`{"id":"a","content":"c","msg_id":9007199254740993}`), source.Options{})
	require.NoError(t, err)

	literal, ok := rec.Extra["msg_id"].Literal()
	require.True(t, ok)
	assert.Equal(t, "9007199254740993", literal)
}

func TestReadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	write("b.json", `{"id":"b","title":"B","content":"bee"}`)
	write("a.json", `{"id":"a","title":"A","content":"ay"}`)
	write("nested/c.json", `{"id":"c","title":"C","content":"sea"}`)
	write("broken.json", `{"id":`)
	write("notes.txt", `ignored`)

	batch, err := source.ReadDir(context.Background(), dir, source.Options{})
	require.NoError(t, err)

	var ids []string
	for _, rec := range batch.Records {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	require.Len(t, batch.Failures, 1)
	assert.Equal(t, "broken.json", batch.Failures[0].ID)

	top, err := source.ReadDir(context.Background(), dir, source.Options{Include: []string{"*.json"}})
	require.NoError(t, err)
	assert.Len(t, top.Records, 2)

	_, err = source.ReadDir(context.Background(), filepath.Join(dir, "missing"), source.Options{})
	assert.Error(t, err)
}

func TestReadJSONL(t *testing.T) {
	input := strings.Join([]string{
		`{"id":"1","title":"one","content":"first"}`,
		``,
		`{"title":"no id","content":"x"}`,
		`{"id":"1","title":"one again","content":"first, edited"}`,
	}, "\n")

	batch, err := source.ReadJSONL(context.Background(), strings.NewReader(input), source.Options{})
	require.NoError(t, err)

	require.Len(t, batch.Records, 2)
	assert.Equal(t, "one again", batch.Records[1].Title)
	require.Len(t, batch.Failures, 1)
	assert.Equal(t, "line 3", batch.Failures[0].ID)
}
