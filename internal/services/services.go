package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/temcen/hyprec/internal/cache"
	"github.com/temcen/hyprec/internal/config"
	"github.com/temcen/hyprec/internal/database"
	"github.com/temcen/hyprec/internal/dataset"
	"github.com/temcen/hyprec/internal/messaging"
)

type Services struct {
	Auth           *AuthService
	Health         *HealthService
	RateLimit      *RateLimitService
	Metrics        *Metrics
	MessageBus     *messaging.MessageBus
	Recommender    *RecommenderService
	RatingConsumer *RatingConsumer
}

// NewDataStore returns the store abstracts and ratings are read from,
// selected by data.source.
func NewDataStore(cfg *config.Config, db *database.Database, logger *logrus.Logger) (dataset.Store, error) {
	switch cfg.Data.Source {
	case "postgres", "":
		return dataset.NewPostgresSource(db.PG, logger), nil
	case "neo4j":
		if db.Neo4j == nil {
			return nil, fmt.Errorf("neo4j data source selected but no Neo4j connection is open")
		}
		return dataset.NewNeo4jSource(db.Neo4j, logger), nil
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
	}
}

func New(cfg *config.Config, recConfig *config.RecommenderConfig, logger *logrus.Logger, db *database.Database) (*Services, error) {
	metrics := NewMetrics()

	store, err := NewDataStore(cfg, db, logger)
	if err != nil {
		return nil, err
	}

	opts := []ServiceOption{
		WithMetrics(metrics),
		WithMatrixStore(cache.NewRedisMatrixStore(db.Redis, cfg.Redis.MatrixTTL, logger)),
		WithRecommendationCache(cache.NewRecommendationCache(db.Redis, cfg.Redis.TopNTTL, logger)),
		WithJobStore(cache.NewRedisJobStore(db.Redis, cfg.Redis.JobTTL)),
	}

	var messageBus *messaging.MessageBus
	if cfg.Kafka.Enabled {
		messageBus, err = messaging.NewMessageBus(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize message bus: %w", err)
		}
		opts = append(opts, WithPublisher(messageBus))
	}

	recommenderService := NewRecommenderService(cfg, recConfig, store, logger, opts...)

	healthService := NewHealthService(logger, metrics)
	healthService.AddCheck("postgres", cfg.Data.Source != "neo4j", func(ctx context.Context) error {
		return db.PG.Ping(ctx)
	})
	healthService.AddCheck("redis", false, func(ctx context.Context) error {
		return db.Redis.Ping(ctx).Err()
	})
	if db.Neo4j != nil {
		healthService.AddCheck("neo4j", true, func(ctx context.Context) error {
			return db.Neo4j.VerifyConnectivity(ctx)
		})
	}

	s := &Services{
		Auth:        NewAuthService(cfg, logger, db.Redis),
		Health:      healthService,
		RateLimit:   NewRateLimitService(cfg.Security.RateLimit, logger, db.Redis),
		Metrics:     metrics,
		Recommender: recommenderService,
	}

	if messageBus != nil {
		s.MessageBus = messageBus
		s.RatingConsumer = NewRatingConsumer(messageBus, recommenderService, logger)
		healthService.AddCheck("kafka", false, messageBus.Ping)
	}

	return s, nil
}

// Close stops in-flight training and releases the message bus.
func (s *Services) Close() error {
	s.Recommender.Shutdown()
	if s.MessageBus != nil {
		return s.MessageBus.Close()
	}
	return nil
}
