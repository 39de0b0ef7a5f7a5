package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/temcen/hyprec/pkg/models"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore tracks training jobs.
type JobStore interface {
	SaveJob(ctx context.Context, job *models.TrainingJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.TrainingJob, error)
}

// RedisJobStore keeps jobs as JSON. Active jobs never expire; finished
// jobs live for ttl.
type RedisJobStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisJobStore(client redis.Cmdable, ttl time.Duration) *RedisJobStore {
	return &RedisJobStore{
		client: client,
		ttl:    ttl,
	}
}

func jobKey(id uuid.UUID) string {
	return fmt.Sprintf("job:%s", id.String())
}

func (s *RedisJobStore) SaveJob(ctx context.Context, job *models.TrainingJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ttl := time.Duration(0)
	if job.Status == models.JobStatusCompleted || job.Status == models.JobStatusFailed {
		ttl = s.ttl
	}

	if err := s.client.Set(ctx, jobKey(job.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store job in Redis: %w", err)
	}
	return nil
}

func (s *RedisJobStore) GetJob(ctx context.Context, id uuid.UUID) (*models.TrainingJob, error) {
	data, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job from Redis: %w", err)
	}

	var job models.TrainingJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// MemoryJobStore is used when Redis is not configured.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]models.TrainingJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID]models.TrainingJob)}
}

func (s *MemoryJobStore) SaveJob(ctx context.Context, job *models.TrainingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryJobStore) GetJob(ctx context.Context, id uuid.UUID) (*models.TrainingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}
