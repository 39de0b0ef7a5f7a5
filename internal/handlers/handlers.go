package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hyprec/internal/cache"
	"github.com/temcen/hyprec/internal/dataset"
	"github.com/temcen/hyprec/internal/recommender"
	"github.com/temcen/hyprec/internal/services"
)

type Handlers struct {
	Health         *HealthHandler
	Metrics        *MetricsHandler
	Recommendation *RecommendationHandler
	Rating         *RatingHandler
	Document       *DocumentHandler
	Admin          *AdminHandler
	Auth           *AuthHandler
}

func New(
	logger *logrus.Logger,
	recommenderService services.RecommenderServiceInterface,
	authService services.AuthServiceInterface,
	healthService *services.HealthService,
	metrics *services.Metrics,
) *Handlers {
	return &Handlers{
		Health:         NewHealthHandler(logger, healthService),
		Metrics:        NewMetricsHandler(metrics),
		Recommendation: NewRecommendationHandler(recommenderService, logger),
		Rating:         NewRatingHandler(recommenderService, logger),
		Document:       NewDocumentHandler(recommenderService, logger),
		Admin:          NewAdminHandler(recommenderService, logger),
		Auth:           NewAuthHandler(authService, logger),
	}
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// respondServiceError maps the service layer's sentinel errors onto HTTP
// statuses. Anything unrecognised is logged and reported as a 500.
func respondServiceError(c *gin.Context, logger *logrus.Logger, err error, fields logrus.Fields) {
	switch {
	case errors.Is(err, recommender.ErrNotTrained):
		respondError(c, http.StatusServiceUnavailable, "MODEL_NOT_TRAINED", "No trained model is available yet")
	case errors.Is(err, recommender.ErrUnknownUser):
		respondError(c, http.StatusNotFound, "USER_NOT_FOUND", err.Error())
	case errors.Is(err, services.ErrUnknownDocument), errors.Is(err, dataset.ErrUnknownArticle):
		respondError(c, http.StatusNotFound, "DOCUMENT_NOT_FOUND", err.Error())
	case errors.Is(err, cache.ErrJobNotFound):
		respondError(c, http.StatusNotFound, "JOB_NOT_FOUND", "Training job not found")
	case errors.Is(err, services.ErrNoEvaluation):
		respondError(c, http.StatusNotFound, "EVALUATION_NOT_FOUND", "No evaluation has been run yet")
	case errors.Is(err, services.ErrTrainingInProgress):
		respondError(c, http.StatusConflict, "TRAINING_IN_PROGRESS", "A training job is already running")
	default:
		logger.WithError(err).WithFields(fields).Error("Request failed")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
