package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hyprec/internal/services"
)

const (
	defaultTopicWords = 10
	maxTopicWords     = 50
)

type DocumentHandler struct {
	recommender services.RecommenderServiceInterface
	logger      *logrus.Logger
}

func NewDocumentHandler(recommender services.RecommenderServiceInterface, logger *logrus.Logger) *DocumentHandler {
	return &DocumentHandler{
		recommender: recommender,
		logger:      logger,
	}
}

// Topics returns a document's topic distribution. The words query
// parameter sets how many top words to list per topic; 0 omits them.
func (h *DocumentHandler) Topics(c *gin.Context) {
	docID, ok := parseID(c, "docId")
	if !ok {
		return
	}

	words := defaultTopicWords
	if wordsStr := c.Query("words"); wordsStr != "" {
		n, err := strconv.Atoi(wordsStr)
		if err != nil || n < 0 || n > maxTopicWords {
			respondError(c, http.StatusBadRequest, "INVALID_WORDS", "words must be an integer between 0 and 50")
			return
		}
		words = n
	}

	response, err := h.recommender.DocumentTopics(c.Request.Context(), docID, words)
	if err != nil {
		respondServiceError(c, h.logger, err, logrus.Fields{"document_id": docID})
		return
	}

	c.JSON(http.StatusOK, response)
}
