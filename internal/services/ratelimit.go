package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hyprec/internal/config"
	"github.com/temcen/hyprec/pkg/models"
)

// RateLimitService counts requests per client in a Redis sorted set, one
// member per request scored by its arrival time.
type RateLimitService struct {
	config      config.RateLimitConfig
	logger      *logrus.Logger
	redisClient redis.Cmdable
}

func NewRateLimitService(cfg config.RateLimitConfig, logger *logrus.Logger, redisClient redis.Cmdable) *RateLimitService {
	return &RateLimitService{
		config:      cfg,
		logger:      logger,
		redisClient: redisClient,
	}
}

func rateLimitKey(client string) string {
	return fmt.Sprintf("rate_limit:client:%s", client)
}

// CheckLimit records one request for client and reports how many remain in
// the current window. Redis failures are logged and let the request through.
func (s *RateLimitService) CheckLimit(ctx context.Context, client string) (*models.RateLimitInfo, error) {
	limit := s.config.Requests
	window := s.config.Window
	now := time.Now()
	windowStart := now.Add(-window)

	key := rateLimitKey(client)

	pipe := s.redisClient.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).WithField("client", client).Error("Failed to execute rate limit pipeline")
		return &models.RateLimitInfo{
			Limit:     limit,
			Remaining: limit - 1,
			ResetTime: now.Add(window).Unix(),
		}, nil
	}

	remaining := limit - int(countCmd.Val()) - 1
	if remaining < 0 {
		remaining = -1
	}

	return &models.RateLimitInfo{
		Limit:     limit,
		Remaining: remaining,
		ResetTime: now.Add(window).Unix(),
	}, nil
}

// IsAllowed reports whether client may make another request. A limit of
// zero allows everything.
func (s *RateLimitService) IsAllowed(ctx context.Context, client string) (bool, *models.RateLimitInfo, error) {
	if s.config.Requests <= 0 {
		return true, nil, nil
	}
	info, err := s.CheckLimit(ctx, client)
	if err != nil {
		return false, nil, err
	}

	allowed := info.Remaining >= 0
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	return allowed, info, nil
}
