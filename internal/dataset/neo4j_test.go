package dataset

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/hyprec/pkg/models"
)

const neo4jTestBase = int64(9_000_000)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func testNeo4j(t *testing.T) neo4j.DriverWithContext {
	t.Helper()

	driver, err := neo4j.NewDriverWithContext(
		getenv("NEO4J_URI", "bolt://localhost:7687"),
		neo4j.BasicAuth(getenv("NEO4J_USERNAME", "neo4j"), getenv("NEO4J_PASSWORD", "password"), ""),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(context.Background())
		t.Skipf("Neo4j not available: %v", err)
	}

	cleanup := func() {
		_, err := neo4j.ExecuteQuery(context.Background(), driver,
			`MATCH (n) WHERE (n:Article OR n:User) AND n.id >= $base DETACH DELETE n`,
			map[string]any{"base": neo4jTestBase}, neo4j.EagerResultTransformer)
		require.NoError(t, err)
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		driver.Close(context.Background())
	})
	return driver
}

func TestNeo4jSource(t *testing.T) {
	driver := testNeo4j(t)
	ctx := context.Background()

	_, err := neo4j.ExecuteQuery(ctx, driver, `
		CREATE (a1:Article {id: $a1, abstract: 'sparse topic models'})
		CREATE (a2:Article {id: $a2, abstract: 'graph embeddings'})
		CREATE (u:User {id: $u})-[:RATED]->(a1)`,
		map[string]any{"a1": neo4jTestBase + 1, "a2": neo4jTestBase + 2, "u": neo4jTestBase + 10},
		neo4j.EagerResultTransformer)
	require.NoError(t, err)

	source := NewNeo4jSource(driver, testLogger())
	assert.Equal(t, "neo4j", source.Name())

	articles, err := source.LoadArticles(ctx)
	require.NoError(t, err)
	assert.Contains(t, articles, Article{ID: neo4jTestBase + 1, Abstract: "sparse topic models"})
	assert.Contains(t, articles, Article{ID: neo4jTestBase + 2, Abstract: "graph embeddings"})

	ratings, err := source.LoadRatings(ctx)
	require.NoError(t, err)
	assert.Contains(t, ratings, RatingRecord{UserID: neo4jTestBase + 10, ArticleID: neo4jTestBase + 1})

	rating := models.Rating{UserID: neo4jTestBase + 10, DocumentID: neo4jTestBase + 2}
	inserted, err := source.InsertRating(ctx, rating)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = source.InsertRating(ctx, rating)
	require.NoError(t, err)
	assert.False(t, inserted)

	_, err = source.InsertRating(ctx, models.Rating{UserID: neo4jTestBase + 10, DocumentID: neo4jTestBase + 99})
	assert.ErrorIs(t, err, ErrUnknownArticle)

	ratings, err = source.LoadRatings(ctx)
	require.NoError(t, err)
	assert.Contains(t, ratings, RatingRecord{UserID: neo4jTestBase + 10, ArticleID: neo4jTestBase + 2})
}
