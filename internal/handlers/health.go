package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hyprec/internal/services"
)

type HealthHandler struct {
	logger        *logrus.Logger
	healthService *services.HealthService
}

func NewHealthHandler(logger *logrus.Logger, healthService *services.HealthService) *HealthHandler {
	return &HealthHandler{
		logger:        logger,
		healthService: healthService,
	}
}

// Check reports every dependency with its criticality. Only a failing
// critical dependency turns the response into a 503.
func (h *HealthHandler) Check(c *gin.Context) {
	status := h.healthService.CheckHealth(c.Request.Context())

	httpStatus := healthHTTPStatus(status.Status)
	if httpStatus != http.StatusOK {
		h.logger.WithFields(logrus.Fields{
			"status":            status.Status,
			"critical_failures": status.Critical,
		}).Warn("Health check failed")
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(httpStatus, status)
}

func healthHTTPStatus(status string) int {
	switch status {
	case "healthy", "degraded":
		return http.StatusOK
	case "unhealthy":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
