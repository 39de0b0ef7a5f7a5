package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hyprec/pkg/models"
)

const topNKeyPrefix = "topn:"

// RecommendationCache stores top-n lists per user. Entries are scoped to
// a model version so a retrain never serves stale lists.
type RecommendationCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRecommendationCache(client redis.Cmdable, ttl time.Duration, logger *logrus.Logger) *RecommendationCache {
	return &RecommendationCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func topNKey(version string, userID int64, count int) string {
	return fmt.Sprintf("%s%s:%d:%d", topNKeyPrefix, version, userID, count)
}

// Get returns the cached list and whether it was found. Redis errors are
// logged and reported as a miss.
func (c *RecommendationCache) Get(ctx context.Context, version string, userID int64, count int) ([]models.Recommendation, bool) {
	data, err := c.client.Get(ctx, topNKey(version, userID, count)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("user_id", userID).Warn("Failed to read cached recommendations")
		}
		return nil, false
	}

	var recommendations []models.Recommendation
	if err := json.Unmarshal(data, &recommendations); err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Warn("Failed to decode cached recommendations")
		return nil, false
	}
	return recommendations, true
}

func (c *RecommendationCache) Set(ctx context.Context, version string, userID int64, count int, recommendations []models.Recommendation) error {
	data, err := json.Marshal(recommendations)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendations: %w", err)
	}

	if err := c.client.Set(ctx, topNKey(version, userID, count), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache recommendations: %w", err)
	}
	return nil
}

// Purge removes every cached list that does not belong to keep.
func (c *RecommendationCache) Purge(ctx context.Context, keep string) (int, error) {
	iter := c.client.Scan(ctx, 0, topNKeyPrefix+"*", 100).Iterator()
	current := topNKeyPrefix + keep + ":"

	var stale []string
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasPrefix(key, current) {
			continue
		}
		stale = append(stale, key)
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan cached recommendations: %w", err)
	}

	if len(stale) == 0 {
		return 0, nil
	}
	if err := c.client.Del(ctx, stale...).Err(); err != nil {
		return 0, fmt.Errorf("failed to purge cached recommendations: %w", err)
	}
	return len(stale), nil
}
