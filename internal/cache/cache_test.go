package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/hyprec/internal/config"
	"github.com/temcen/hyprec/internal/recommender"
	"github.com/temcen/hyprec/pkg/models"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   1, // Use test database
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	require.NoError(t, client.FlushDB(context.Background()).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestRedisMatrixStore(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	store := NewRedisMatrixStore(client, time.Minute, testLogger())

	var _ recommender.MatrixStore = store

	_, err := store.LoadMatrix(ctx, "item_factors:abc")
	assert.ErrorIs(t, err, recommender.ErrMatrixNotFound)

	m := mat.NewDense(2, 3, []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6})
	require.NoError(t, store.SaveMatrix(ctx, "item_factors:abc", m))

	loaded, err := store.LoadMatrix(ctx, "item_factors:abc")
	require.NoError(t, err)
	assert.True(t, mat.Equal(m, loaded))

	ttl, err := client.TTL(ctx, matrixKeyPrefix+"item_factors:abc").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, client.Set(ctx, matrixKeyPrefix+"broken", "not a matrix", 0).Err())
	_, err = store.LoadMatrix(ctx, "broken")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, recommender.ErrMatrixNotFound)
}

func TestRedisMatrixStore_WithInitializer(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	store := NewRedisMatrixStore(client, time.Minute, testLogger())

	initializer := recommender.NewModelInitializer(config.DefaultHyperparameters(), 5, recommender.WithStore(store), recommender.WithLoadMatrices(true))
	saved := initializer.RandomMatrix(4, 2)
	require.NoError(t, initializer.SaveMatrix(ctx, "user_factors", saved))

	loaded, ok := initializer.LoadMatrix(ctx, "user_factors", 4, 2)
	assert.True(t, ok)
	assert.True(t, mat.Equal(saved, loaded))
}

func TestRecommendationCache(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	cache := NewRecommendationCache(client, time.Minute, testLogger())

	_, ok := cache.Get(ctx, "v1", 7, 3)
	assert.False(t, ok)

	recs := []models.Recommendation{
		{DocumentID: 42, Score: 0.9, Algorithm: "hybrid", Position: 1},
		{DocumentID: 10, Score: 0.4, Algorithm: "hybrid", Position: 2},
	}
	require.NoError(t, cache.Set(ctx, "v1", 7, 3, recs))
	require.NoError(t, cache.Set(ctx, "v0", 7, 3, recs[:1]))

	got, ok := cache.Get(ctx, "v1", 7, 3)
	assert.True(t, ok)
	assert.Equal(t, recs, got)

	_, ok = cache.Get(ctx, "v1", 7, 5)
	assert.False(t, ok)

	purged, err := cache.Purge(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, ok = cache.Get(ctx, "v0", 7, 3)
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "v1", 7, 3)
	assert.True(t, ok)
}

func TestRedisJobStore(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	store := NewRedisJobStore(client, time.Hour)

	_, err := store.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)

	job := &models.TrainingJob{ID: uuid.New(), Status: models.JobStatusRunning, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.SaveJob(ctx, job))

	ttl, err := client.TTL(ctx, jobKey(job.ID)).Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl, "active jobs do not expire")

	job.Status = models.JobStatusCompleted
	require.NoError(t, store.SaveJob(ctx, job))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))

	ttl, err = client.TTL(ctx, jobKey(job.ID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestMemoryJobStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryJobStore()

	_, err := store.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)

	job := &models.TrainingJob{ID: uuid.New(), Status: models.JobStatusQueued}
	require.NoError(t, store.SaveJob(ctx, job))

	job.Status = models.JobStatusFailed
	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status, "stored jobs are copies")
}
