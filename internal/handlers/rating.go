package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hyprec/internal/services"
	"github.com/temcen/hyprec/pkg/models"
)

type RatingHandler struct {
	recommender services.RecommenderServiceInterface
	logger      *logrus.Logger
}

func NewRatingHandler(recommender services.RecommenderServiceInterface, logger *logrus.Logger) *RatingHandler {
	return &RatingHandler{
		recommender: recommender,
		logger:      logger,
	}
}

// Create stores a rating. A rating the user already had is answered with
// 200 rather than 201.
func (h *RatingHandler) Create(c *gin.Context) {
	var rating models.Rating
	if err := c.ShouldBindJSON(&rating); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if rating.UserID < 0 || rating.DocumentID < 0 {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "user_id and document_id must be non-negative")
		return
	}

	response, err := h.recommender.RecordRating(c.Request.Context(), rating)
	if err != nil {
		respondServiceError(c, h.logger, err, logrus.Fields{
			"user_id":     rating.UserID,
			"document_id": rating.DocumentID,
		})
		return
	}

	status := http.StatusCreated
	if response.Status == "duplicate" {
		status = http.StatusOK
	}
	c.JSON(status, response)
}
