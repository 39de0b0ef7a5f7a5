package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hyprec/internal/services"
)

const maxRecommendations = 100

type RecommendationHandler struct {
	recommender services.RecommenderServiceInterface
	logger      *logrus.Logger
}

func NewRecommendationHandler(recommender services.RecommenderServiceInterface, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		recommender: recommender,
		logger:      logger,
	}
}

// Get returns the top documents for a user. Without a count the configured
// n_recommendations is used.
func (h *RecommendationHandler) Get(c *gin.Context) {
	userID, ok := parseID(c, "userId")
	if !ok {
		return
	}

	count := 0
	if countStr := c.Query("count"); countStr != "" {
		n, err := strconv.Atoi(countStr)
		if err != nil || n < 1 || n > maxRecommendations {
			respondError(c, http.StatusBadRequest, "INVALID_COUNT", "Count must be an integer between 1 and 100")
			return
		}
		count = n
	}

	response, err := h.recommender.Recommend(c.Request.Context(), userID, count)
	if err != nil {
		respondServiceError(c, h.logger, err, logrus.Fields{"user_id": userID, "count": count})
		return
	}

	c.JSON(http.StatusOK, response)
}

// Predictions returns the user's full prediction row.
func (h *RecommendationHandler) Predictions(c *gin.Context) {
	userID, ok := parseID(c, "userId")
	if !ok {
		return
	}

	response, err := h.recommender.Predictions(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, h.logger, err, logrus.Fields{"user_id": userID})
		return
	}

	c.JSON(http.StatusOK, response)
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id < 0 {
		respondError(c, http.StatusBadRequest, "INVALID_ID", param+" must be a non-negative integer")
		return 0, false
	}
	return id, true
}
