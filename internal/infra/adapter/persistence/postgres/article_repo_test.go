package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	"article-finder/internal/domain/entity"
	pg "article-finder/internal/infra/adapter/persistence/postgres"
)

/* ─────────────────────────── helpers ─────────────────────────── */

var columns = []string{"article_id", "title", "content", "publish_date", "url", "extra"}

var valueComparer = cmp.Comparer(func(a, b entity.Value) bool { return a.Equal(b) })

func sampleRecord() *entity.ArticleRecord {
	return &entity.ArticleRecord{
		ID:          "a1",
		Title:       "T1",
		Content:     "AI ethics discussion",
		PublishDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		URL:         "http://x/1",
		Extra: map[string]entity.Value{
			"row":  entity.Map(map[string]entity.Value{"desc": entity.String("short description")}),
			"tags": entity.List(entity.String("ai"), entity.Number(2)),
		},
	}
}

func recordRow(rows *sqlmock.Rows, rec *entity.ArticleRecord) *sqlmock.Rows {
	extra, _ := entity.EncodeExtra(rec.Extra)
	var publish any
	if !rec.PublishDate.IsZero() {
		publish = rec.PublishDate
	}
	return rows.AddRow(rec.ID, rec.Title, rec.Content, publish, rec.URL, extra)
}

/* ─────────────────────────── 1. Put ─────────────────────────── */

func TestArticleRepo_Put(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	rec := sampleRecord()
	extra, _ := entity.EncodeExtra(rec.Extra)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO articles")).
		WithArgs(rec.ID, rec.Title, rec.Content, rec.PublishDate, rec.URL, rec.ContentHash(), extra).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := pg.NewArticleRepo(db).Put(context.Background(), rec); err != nil {
		t.Fatalf("Put err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestArticleRepo_Put_NoDateNoExtra(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	rec := &entity.ArticleRecord{ID: "b", Title: "t", Content: "c"}
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (article_id) DO UPDATE")).
		WithArgs("b", "t", "c", nil, "", rec.ContentHash(), "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := pg.NewArticleRepo(db).Put(context.Background(), rec); err != nil {
		t.Fatalf("Put err=%v", err)
	}
}

func TestArticleRepo_Put_Error(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO articles").WillReturnError(errors.New("connection reset"))

	err := pg.NewArticleRepo(db).Put(context.Background(), sampleRecord())
	if !errors.Is(err, entity.ErrStore) {
		t.Fatalf("want StoreError, got %v", err)
	}
}

/* ─────────────────────────── 2. Get ─────────────────────────── */

func TestArticleRepo_Get(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	want := sampleRecord()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT article_id")).
		WithArgs("a1").
		WillReturnRows(recordRow(sqlmock.NewRows(columns), want))

	got, err := pg.NewArticleRepo(db).Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Get err=%v", err)
	}
	if diff := cmp.Diff(want, got, valueComparer); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestArticleRepo_Get_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("FROM articles").WithArgs("nope").WillReturnRows(sqlmock.NewRows(columns))

	_, err := pg.NewArticleRepo(db).Get(context.Background(), "nope")
	var notFound *entity.NotFoundError
	if !errors.As(err, &notFound) || notFound.ID != "nope" {
		t.Fatalf("want NotFoundError, got %v", err)
	}
}

func TestArticleRepo_Get_CorruptExtra(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("FROM articles").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("a1", "t", "c", nil, "", "{broken"))

	_, err := pg.NewArticleRepo(db).Get(context.Background(), "a1")
	if !errors.Is(err, entity.ErrStore) {
		t.Fatalf("want StoreError, got %v", err)
	}
}

/* ─────────────────────────── 3. GetMany ─────────────────────────── */

func TestArticleRepo_GetMany_PartialMisses(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	a := sampleRecord()
	c := &entity.ArticleRecord{ID: "c", Title: "C", Content: "cc"}
	rows := recordRow(recordRow(sqlmock.NewRows(columns), a), c)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE article_id IN ($1, $2, $3)")).
		WithArgs("a1", "missing", "c").
		WillReturnRows(rows)

	got, err := pg.NewArticleRepo(db).GetMany(context.Background(), []string{"a1", "missing", "c"})
	if err != nil {
		t.Fatalf("GetMany err=%v", err)
	}
	want := map[string]*entity.ArticleRecord{"a1": a, "c": c}
	if diff := cmp.Diff(want, got, valueComparer); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestArticleRepo_GetMany_Empty(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	got, err := pg.NewArticleRepo(db).GetMany(context.Background(), nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("GetMany err=%v len=%d", err, len(got))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestArticleRepo_GetMany_Error(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("FROM articles").WillReturnError(context.DeadlineExceeded)

	_, err := pg.NewArticleRepo(db).GetMany(context.Background(), []string{"a"})
	if !errors.Is(err, entity.ErrStore) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want StoreError wrapping deadline, got %v", err)
	}
}

/* ─────────────────────────── 4. ContentHash ─────────────────────────── */

func TestArticleRepo_ContentHash(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT content_hash")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"content_hash"}).AddRow("abc"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT content_hash")).
		WithArgs("zz").
		WillReturnRows(sqlmock.NewRows([]string{"content_hash"}))

	repo := pg.NewArticleRepo(db)
	hash, err := repo.ContentHash(context.Background(), "a1")
	if err != nil || hash != "abc" {
		t.Fatalf("ContentHash = %q, %v", hash, err)
	}
	if _, err := repo.ContentHash(context.Background(), "zz"); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("want NotFoundError, got %v", err)
	}
}

/* ─────────────────────────── 5. List / Count ─────────────────────────── */

func TestArticleRepo_List(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows(columns).
		AddRow("a", "A", "x", nil, "", "").
		AddRow("b", "B", "y", nil, "", "")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE article_id > $1")).
		WithArgs("", 500).
		WillReturnRows(rows)

	var ids []string
	err := pg.NewArticleRepo(db).List(context.Background(), func(rec *entity.ArticleRecord) error {
		ids = append(ids, rec.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("List err=%v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestArticleRepo_List_StopsOnCallbackError(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("FROM articles").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("a", "A", "x", nil, "", "").AddRow("b", "B", "y", nil, "", ""))

	stop := errors.New("stop")
	calls := 0
	err := pg.NewArticleRepo(db).List(context.Background(), func(*entity.ArticleRecord) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("List err=%v calls=%d", err, calls)
	}
}

func TestArticleRepo_Count(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM articles")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	n, err := pg.NewArticleRepo(db).Count(context.Background())
	if err != nil || n != 7 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}
