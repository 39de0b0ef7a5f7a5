package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hyprec/internal/services"
	"github.com/temcen/hyprec/pkg/models"
)

// AdminHandler drives training and exposes model state.
type AdminHandler struct {
	recommender services.RecommenderServiceInterface
	logger      *logrus.Logger
}

func NewAdminHandler(recommender services.RecommenderServiceInterface, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		recommender: recommender,
		logger:      logger,
	}
}

// Train queues a training job. The body is optional.
func (h *AdminHandler) Train(c *gin.Context) {
	var req models.TrainingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}
	if req.NFactors != nil && *req.NFactors < 1 {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "n_factors must be at least 1")
		return
	}

	job, err := h.recommender.StartTraining(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, h.logger, err, logrus.Fields{"evaluate": req.Evaluate})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"evaluate": job.Evaluate,
	}).Info("Training job queued")

	c.JSON(http.StatusAccepted, job)
}

func (h *AdminHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_JOB_ID", "Job ID must be a valid UUID")
		return
	}

	job, err := h.recommender.GetJob(c.Request.Context(), jobID)
	if err != nil {
		respondServiceError(c, h.logger, err, logrus.Fields{"job_id": jobID})
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *AdminHandler) Evaluation(c *gin.Context) {
	report, err := h.recommender.LastEvaluation()
	if err != nil {
		respondServiceError(c, h.logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *AdminHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.recommender.Status())
}

// GetConfig returns the recommender configuration the next training run
// will use.
func (h *AdminHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.recommender.RecommenderConfig())
}
