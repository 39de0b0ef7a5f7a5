package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/temcen/hyprec/internal/config"
	"github.com/temcen/hyprec/internal/services"
	"github.com/temcen/hyprec/pkg/models"
)

// MockRecommenderService is a mock implementation of
// services.RecommenderServiceInterface.
type MockRecommenderService struct {
	mock.Mock
}

func (m *MockRecommenderService) Recommend(ctx context.Context, userID int64, count int) (*models.RecommendationResponse, error) {
	args := m.Called(ctx, userID, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RecommendationResponse), args.Error(1)
}

func (m *MockRecommenderService) Predictions(ctx context.Context, userID int64) (*models.PredictionResponse, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PredictionResponse), args.Error(1)
}

func (m *MockRecommenderService) DocumentTopics(ctx context.Context, documentID int64, nWords int) (*models.DocumentTopicsResponse, error) {
	args := m.Called(ctx, documentID, nWords)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DocumentTopicsResponse), args.Error(1)
}

func (m *MockRecommenderService) RecordRating(ctx context.Context, rating models.Rating) (*models.RatingResponse, error) {
	args := m.Called(ctx, rating)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RatingResponse), args.Error(1)
}

func (m *MockRecommenderService) StartTraining(ctx context.Context, req models.TrainingRequest) (*models.TrainingJob, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TrainingJob), args.Error(1)
}

func (m *MockRecommenderService) GetJob(ctx context.Context, id uuid.UUID) (*models.TrainingJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TrainingJob), args.Error(1)
}

func (m *MockRecommenderService) LastEvaluation() (*models.EvaluationReport, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EvaluationReport), args.Error(1)
}

func (m *MockRecommenderService) Status() services.ModelStatus {
	args := m.Called()
	return args.Get(0).(services.ModelStatus)
}

func (m *MockRecommenderService) RecommenderConfig() *config.RecommenderConfig {
	args := m.Called()
	return args.Get(0).(*config.RecommenderConfig)
}

type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Authenticate(ctx context.Context, apiKey string) (*models.AuthResponse, error) {
	args := m.Called(ctx, apiKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuthResponse), args.Error(1)
}

func (m *MockAuthService) ValidateToken(ctx context.Context, token string) (*models.JWTClaims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.JWTClaims), args.Error(1)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}
