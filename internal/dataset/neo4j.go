package dataset

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hyprec/pkg/models"
)

// Neo4jSource reads the corpus from a graph of
// (:User)-[:RATED]->(:Article {id, abstract}) nodes.
type Neo4jSource struct {
	driver neo4j.DriverWithContext
	logger *logrus.Logger
}

func NewNeo4jSource(driver neo4j.DriverWithContext, logger *logrus.Logger) *Neo4jSource {
	return &Neo4jSource{
		driver: driver,
		logger: logger,
	}
}

func (s *Neo4jSource) Name() string { return "neo4j" }

func (s *Neo4jSource) LoadArticles(ctx context.Context) ([]Article, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (a:Article)
		RETURN a.id AS id, coalesce(a.abstract, '') AS abstract
		ORDER BY id`

	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}

	var articles []Article
	for result.Next(ctx) {
		record := result.Record()
		id, ok := record.Values[0].(int64)
		if !ok {
			return nil, fmt.Errorf("article id has type %T, expected integer", record.Values[0])
		}
		abstract, _ := record.Values[1].(string)
		articles = append(articles, Article{ID: id, Abstract: abstract})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read articles: %w", err)
	}

	return articles, nil
}

func (s *Neo4jSource) LoadRatings(ctx context.Context) ([]RatingRecord, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (u:User)-[:RATED]->(a:Article)
		RETURN u.id AS user_id, a.id AS article_id
		ORDER BY user_id, article_id`

	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query ratings: %w", err)
	}

	var ratings []RatingRecord
	for result.Next(ctx) {
		record := result.Record()
		userID, ok := record.Values[0].(int64)
		if !ok {
			return nil, fmt.Errorf("user id has type %T, expected integer", record.Values[0])
		}
		articleID, ok := record.Values[1].(int64)
		if !ok {
			return nil, fmt.Errorf("article id has type %T, expected integer", record.Values[1])
		}
		ratings = append(ratings, RatingRecord{UserID: userID, ArticleID: articleID})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ratings: %w", err)
	}

	return ratings, nil
}

func (s *Neo4jSource) InsertRating(ctx context.Context, rating models.Rating) (bool, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	createdAt := time.Now().UTC()
	if rating.Timestamp != nil {
		createdAt = rating.Timestamp.UTC()
	}

	// ON CREATE only fires for a new relationship, so created tells us
	// whether the rating was already there.
	query := `
		MATCH (a:Article {id: $articleId})
		MERGE (u:User {id: $userId})
		MERGE (u)-[r:RATED]->(a)
		ON CREATE SET r.created_at = $createdAt, r.new = true
		WITH r, coalesce(r.new, false) AS created
		REMOVE r.new
		RETURN created`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userId":    rating.UserID,
		"articleId": rating.DocumentID,
		"createdAt": createdAt,
	})
	if err != nil {
		return false, fmt.Errorf("failed to insert rating: %w", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return false, fmt.Errorf("failed to insert rating: %w", err)
		}
		return false, fmt.Errorf("article %d: %w", rating.DocumentID, ErrUnknownArticle)
	}

	created, _ := result.Record().Values[0].(bool)
	return created, nil
}
