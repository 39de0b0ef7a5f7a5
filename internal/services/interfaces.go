package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/temcen/hyprec/internal/config"
	"github.com/temcen/hyprec/pkg/models"
)

// RecommenderServiceInterface is what the HTTP layer needs from the
// recommender service.
type RecommenderServiceInterface interface {
	Recommend(ctx context.Context, userID int64, count int) (*models.RecommendationResponse, error)
	Predictions(ctx context.Context, userID int64) (*models.PredictionResponse, error)
	DocumentTopics(ctx context.Context, documentID int64, nWords int) (*models.DocumentTopicsResponse, error)
	RecordRating(ctx context.Context, rating models.Rating) (*models.RatingResponse, error)
	StartTraining(ctx context.Context, req models.TrainingRequest) (*models.TrainingJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.TrainingJob, error)
	LastEvaluation() (*models.EvaluationReport, error)
	Status() ModelStatus
	RecommenderConfig() *config.RecommenderConfig
}

// AuthServiceInterface issues and checks API tokens.
type AuthServiceInterface interface {
	Authenticate(ctx context.Context, apiKey string) (*models.AuthResponse, error)
	ValidateToken(ctx context.Context, token string) (*models.JWTClaims, error)
}

var (
	_ RecommenderServiceInterface = (*RecommenderService)(nil)
	_ AuthServiceInterface        = (*AuthService)(nil)
)
