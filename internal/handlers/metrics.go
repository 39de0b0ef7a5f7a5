package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/temcen/hyprec/internal/services"
)

// MetricsHandler serves the service's Prometheus registry.
type MetricsHandler struct {
	handler gin.HandlerFunc
}

func NewMetricsHandler(metrics *services.Metrics) *MetricsHandler {
	return &MetricsHandler{
		handler: gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{
			Registry: metrics.Registry,
		})),
	}
}

func (h *MetricsHandler) Serve(c *gin.Context) {
	h.handler(c)
}
