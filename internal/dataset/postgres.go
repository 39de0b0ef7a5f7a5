package dataset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hyprec/pkg/models"
)

// DatabaseQuerier is the subset of pgxpool.Pool the Postgres source needs.
type DatabaseQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

const (
	selectArticlesQuery = `SELECT id, abstract FROM articles ORDER BY id`
	selectRatingsQuery  = `SELECT user_id, article_id FROM ratings ORDER BY user_id, article_id`
	insertRatingQuery   = `
		INSERT INTO ratings (user_id, article_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, article_id) DO NOTHING`

	foreignKeyViolation = "23503"
)

type PostgresSource struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewPostgresSource(db DatabaseQuerier, logger *logrus.Logger) *PostgresSource {
	return &PostgresSource{
		db:     db,
		logger: logger,
	}
}

func (s *PostgresSource) Name() string { return "postgres" }

func (s *PostgresSource) LoadArticles(ctx context.Context) ([]Article, error) {
	rows, err := s.db.Query(ctx, selectArticlesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		var article Article
		if err := rows.Scan(&article.ID, &article.Abstract); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read articles: %w", err)
	}

	return articles, nil
}

func (s *PostgresSource) LoadRatings(ctx context.Context) ([]RatingRecord, error) {
	rows, err := s.db.Query(ctx, selectRatingsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query ratings: %w", err)
	}
	defer rows.Close()

	var ratings []RatingRecord
	for rows.Next() {
		var r RatingRecord
		if err := rows.Scan(&r.UserID, &r.ArticleID); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		ratings = append(ratings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ratings: %w", err)
	}

	return ratings, nil
}

func (s *PostgresSource) InsertRating(ctx context.Context, rating models.Rating) (bool, error) {
	createdAt := time.Now().UTC()
	if rating.Timestamp != nil {
		createdAt = rating.Timestamp.UTC()
	}

	tag, err := s.db.Exec(ctx, insertRatingQuery, rating.UserID, rating.DocumentID, createdAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return false, fmt.Errorf("article %d: %w", rating.DocumentID, ErrUnknownArticle)
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert rating: %w", err)
	}

	inserted := tag.RowsAffected() > 0
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"user_id":     rating.UserID,
			"document_id": rating.DocumentID,
			"inserted":    inserted,
		}).Debug("Rating stored")
	}
	return inserted, nil
}
