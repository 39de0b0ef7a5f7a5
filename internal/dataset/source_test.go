package dataset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/hyprec/internal/preprocessing"
	"github.com/temcen/hyprec/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestPostgresSource_LoadArticles(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	source := NewPostgresSource(mockDB, testLogger())

	rows := pgxmock.NewRows([]string{"id", "abstract"}).
		AddRow(int64(10), "the structure of dna").
		AddRow(int64(42), "protein folding")
	mockDB.ExpectQuery("SELECT id, abstract FROM articles").WillReturnRows(rows)

	articles, err := source.LoadArticles(context.Background())
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, Article{ID: 10, Abstract: "the structure of dna"}, articles[0])
	assert.Equal(t, int64(42), articles[1].ID)

	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestPostgresSource_LoadRatings(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	source := NewPostgresSource(mockDB, testLogger())

	t.Run("rows are read", func(t *testing.T) {
		rows := pgxmock.NewRows([]string{"user_id", "article_id"}).
			AddRow(int64(1), int64(10)).
			AddRow(int64(1), int64(42)).
			AddRow(int64(7), int64(10))
		mockDB.ExpectQuery("SELECT user_id, article_id FROM ratings").WillReturnRows(rows)

		ratings, err := source.LoadRatings(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []RatingRecord{{1, 10}, {1, 42}, {7, 10}}, ratings)
	})

	t.Run("query error is wrapped", func(t *testing.T) {
		mockDB.ExpectQuery("SELECT user_id, article_id FROM ratings").
			WillReturnError(errors.New("relation \"ratings\" does not exist"))

		_, err := source.LoadRatings(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to query ratings")
	})

	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestPostgresSource_InsertRating(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	source := NewPostgresSource(mockDB, testLogger())
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rating := models.Rating{UserID: 3, DocumentID: 42, Timestamp: &at}

	mockDB.ExpectExec("INSERT INTO ratings").
		WithArgs(int64(3), int64(42), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	inserted, err := source.InsertRating(context.Background(), rating)
	require.NoError(t, err)
	assert.True(t, inserted)

	mockDB.ExpectExec("INSERT INTO ratings").
		WithArgs(int64(3), int64(42), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	inserted, err = source.InsertRating(context.Background(), rating)
	require.NoError(t, err)
	assert.False(t, inserted)

	mockDB.ExpectExec("INSERT INTO ratings").
		WithArgs(int64(3), int64(42), at).
		WillReturnError(&pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"})
	_, err = source.InsertRating(context.Background(), rating)
	assert.ErrorIs(t, err, ErrUnknownArticle)

	mockDB.ExpectExec("INSERT INTO ratings").
		WithArgs(int64(3), int64(42), at).
		WillReturnError(errors.New("connection reset"))
	_, err = source.InsertRating(context.Background(), rating)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownArticle)

	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestParser_Process(t *testing.T) {
	source := NewMemorySource(
		[]Article{
			{ID: 42, Abstract: "Protein folding dynamics"},
			{ID: 10, Abstract: "The structure of DNA"},
			{ID: 17, Abstract: "DNA repair and protein"},
		},
		[]RatingRecord{
			{UserID: 9, ArticleID: 42},
			{UserID: 2, ArticleID: 10},
			{UserID: 2, ArticleID: 17},
			{UserID: 9, ArticleID: 42},
			{UserID: 5, ArticleID: 99},
		},
	)

	d, err := NewParser(source, preprocessing.NewTokenizer(false), testLogger()).Process(context.Background())
	require.NoError(t, err)

	// User 5 only rated an unknown article.
	assert.Equal(t, []int64{2, 9}, d.UserIDs)
	assert.Equal(t, []int64{10, 17, 42}, d.DocumentIDs)
	assert.Equal(t, 2, d.NumUsers())
	assert.Equal(t, 3, d.NumDocuments())

	rows, cols := d.Ratings.Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 3, cols)
	assert.Equal(t, []float64{1, 1, 0}, d.Ratings.RawRowView(0))
	assert.Equal(t, []float64{0, 0, 1}, d.Ratings.RawRowView(1))

	assert.Equal(t, "The structure of DNA", d.Abstracts[0])
	assert.Equal(t, 3, d.Preprocessor.NumItems())

	i, ok := d.UserIndex(9)
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	_, ok = d.UserIndex(5)
	assert.False(t, ok)

	j, ok := d.DocumentIndex(17)
	assert.True(t, ok)
	assert.Equal(t, 1, j)
}

func TestParser_ProcessErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewParser(NewMemorySource(nil, nil), nil, testLogger()).Process(ctx)
	assert.ErrorIs(t, err, ErrNoArticles)

	articles := []Article{{ID: 1, Abstract: "graph theory"}}
	_, err = NewParser(NewMemorySource(articles, nil), nil, testLogger()).Process(ctx)
	assert.ErrorIs(t, err, ErrNoRatings)

	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()
	mockDB.ExpectQuery("SELECT id, abstract FROM articles").WillReturnError(errors.New("timeout"))

	_, err = NewParser(NewPostgresSource(mockDB, testLogger()), nil, testLogger()).Process(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}

func TestMemorySource_InsertRating(t *testing.T) {
	ctx := context.Background()
	source := NewMemorySource([]Article{{ID: 1, Abstract: "graph theory"}}, nil)

	inserted, err := source.InsertRating(ctx, models.Rating{UserID: 4, DocumentID: 1})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = source.InsertRating(ctx, models.Rating{UserID: 4, DocumentID: 1})
	require.NoError(t, err)
	assert.False(t, inserted)

	_, err = source.InsertRating(ctx, models.Rating{UserID: 4, DocumentID: 2})
	assert.ErrorIs(t, err, ErrUnknownArticle)

	ratings, err := source.LoadRatings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []RatingRecord{{UserID: 4, ArticleID: 1}}, ratings)
}
