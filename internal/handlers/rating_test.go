package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/temcen/hyprec/internal/dataset"
	"github.com/temcen/hyprec/pkg/models"
)

func TestRatingHandler_Create(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockService := new(MockRecommenderService)
	handler := NewRatingHandler(mockService, testLogger())

	mockService.On("RecordRating", mock.Anything, mock.MatchedBy(func(r models.Rating) bool {
		return r.UserID == 1 && r.DocumentID == 10
	})).Return(&models.RatingResponse{EventID: uuid.New(), Status: "recorded", Published: true}, nil)
	mockService.On("RecordRating", mock.Anything, mock.MatchedBy(func(r models.Rating) bool {
		return r.UserID == 1 && r.DocumentID == 11
	})).Return(&models.RatingResponse{EventID: uuid.New(), Status: "duplicate"}, nil)
	mockService.On("RecordRating", mock.Anything, mock.MatchedBy(func(r models.Rating) bool {
		return r.UserID == 1 && r.DocumentID == 12
	})).Return(nil, errors.New("connection refused"))
	mockService.On("RecordRating", mock.Anything, mock.MatchedBy(func(r models.Rating) bool {
		return r.UserID == 1 && r.DocumentID == 99
	})).Return(nil, fmt.Errorf("failed to record rating: article 99: %w", dataset.ErrUnknownArticle))

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "New rating",
			body:           `{"user_id": 1, "document_id": 10}`,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Duplicate rating",
			body:           `{"user_id": 1, "document_id": 11}`,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Store failure",
			body:           `{"user_id": 1, "document_id": 12}`,
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "Unknown document",
			body:           `{"user_id": 1, "document_id": 99}`,
			expectedStatus: http.StatusNotFound,
			expectedCode:   "DOCUMENT_NOT_FOUND",
		},
		{
			name:           "Negative identifier",
			body:           `{"user_id": -1, "document_id": 10}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Malformed JSON",
			body:           `{"user_id": `,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.POST("/api/v1/ratings", handler.Create)

			req, _ := http.NewRequest("POST", "/api/v1/ratings", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if w.Code == http.StatusCreated {
				var response models.RatingResponse
				assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, "recorded", response.Status)
				assert.True(t, response.Published)
			}
			if tt.expectedCode != "" {
				var response map[string]map[string]string
				assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, tt.expectedCode, response["error"]["code"])
			}
		})
	}

	mockService.AssertExpectations(t)
}
