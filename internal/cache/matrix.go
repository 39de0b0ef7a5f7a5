package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/hyprec/internal/recommender"
)

const matrixKeyPrefix = "matrix:"

// RedisMatrixStore keeps factor matrices in Redis using gonum's binary
// encoding. It satisfies recommender.MatrixStore.
type RedisMatrixStore struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRedisMatrixStore(client redis.Cmdable, ttl time.Duration, logger *logrus.Logger) *RedisMatrixStore {
	return &RedisMatrixStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (s *RedisMatrixStore) LoadMatrix(ctx context.Context, key string) (*mat.Dense, error) {
	data, err := s.client.Get(ctx, matrixKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, recommender.ErrMatrixNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get matrix %s: %w", key, err)
	}

	var m mat.Dense
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to decode matrix %s: %w", key, err)
	}
	return &m, nil
}

func (s *RedisMatrixStore) SaveMatrix(ctx context.Context, key string, m *mat.Dense) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode matrix %s: %w", key, err)
	}

	if err := s.client.Set(ctx, matrixKeyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store matrix %s: %w", key, err)
	}

	if s.logger != nil {
		rows, cols := m.Dims()
		s.logger.WithFields(logrus.Fields{
			"key":   key,
			"rows":  rows,
			"cols":  cols,
			"bytes": len(data),
		}).Debug("Matrix stored")
	}
	return nil
}
