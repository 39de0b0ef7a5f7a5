package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hyprec/internal/services"
	"github.com/temcen/hyprec/pkg/models"
)

type AuthHandler struct {
	auth   services.AuthServiceInterface
	logger *logrus.Logger
}

func NewAuthHandler(auth services.AuthServiceInterface, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		logger: logger,
	}
}

// Token exchanges an API key for a JWT.
func (h *AuthHandler) Token(c *gin.Context) {
	var req models.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.APIKey == "" {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "api_key is required")
		return
	}

	response, err := h.auth.Authenticate(c.Request.Context(), req.APIKey)
	if err != nil {
		if errors.Is(err, services.ErrInvalidAPIKey) {
			respondError(c, http.StatusUnauthorized, "INVALID_API_KEY", "Invalid API key")
			return
		}
		h.logger.WithError(err).Error("Failed to issue token")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}

	c.JSON(http.StatusOK, response)
}
