package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/solovyov/newswire/internal/news"
)

func sampleRecord() news.NewsRecord {
	url := "https://news.example.edu/news/stories/101/"
	return news.NewsRecord{
		ID:          news.RecordID(url),
		Title:       "Открытие новой лаборатории",
		Category:    "Наука",
		PublishedAt: time.Date(2025, time.May, 15, 0, 0, 0, 0, time.UTC),
		Summary:     "Краткое описание.",
		Body:        "Полный текст новости.",
		URL:         url,
		ScrapedAt:   time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestUpsertInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "news_records")
	require.NoError(t, err)

	rec := sampleRecord()
	mock.ExpectExec("INSERT INTO news_records").
		WithArgs(
			rec.ID,
			rec.Title,
			rec.Category,
			rec.PublishedAt,
			rec.Summary,
			rec.Body,
			rec.URL,
			rec.ScrapedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRejectsPartialRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "news_records")
	require.NoError(t, err)

	rec := sampleRecord()
	rec.Body = ""

	require.Error(t, store.Upsert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet(), "no SQL may run for a partial record")
}

func TestQueryAppliesFilters(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "news_records")
	require.NoError(t, err)

	rec := sampleRecord()
	from := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, time.May, 31, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"id", "title", "category", "published_at", "summary", "body", "url", "scraped_at",
	}).AddRow(rec.ID, rec.Title, rec.Category, rec.PublishedAt, rec.Summary, rec.Body, rec.URL, rec.ScrapedAt)

	mock.ExpectQuery("SELECT id, title, category, published_at, summary, body, url, scraped_at FROM news_records").
		WithArgs("%Наука%", from, to, 5, 0).
		WillReturnRows(rows)

	got, err := store.Query(context.Background(), news.RecordFilter{
		Category: "Наука",
		From:     from,
		To:       to,
		Limit:    5,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, rec, got[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryDefaultLimit(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "news_records")
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{
		"id", "title", "category", "published_at", "summary", "body", "url", "scraped_at",
	})
	mock.ExpectQuery("SELECT id, title, category, published_at, summary, body, url, scraped_at FROM news_records").
		WithArgs(defaultQueryLimit, 0).
		WillReturnRows(rows)

	got, err := store.Query(context.Background(), news.RecordFilter{})
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCount(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "news_records")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("%наука%").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	count, err := store.Count(context.Background(), news.RecordFilter{Category: "наука"})
	require.NoError(t, err)
	require.Equal(t, 7, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRecordStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRecordStoreWithPool(mock, "news; DROP TABLE users")
	require.Error(t, err)
}
