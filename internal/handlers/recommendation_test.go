package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/hyprec/internal/recommender"
	"github.com/temcen/hyprec/pkg/models"
)

func TestRecommendationHandler_Get(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockService := new(MockRecommenderService)
	handler := NewRecommendationHandler(mockService, testLogger())

	userID := int64(42)
	mockResult := &models.RecommendationResponse{
		UserID: userID,
		Recommendations: []models.Recommendation{
			{DocumentID: 7, Score: 0.95, Algorithm: "hybrid", Position: 1},
			{DocumentID: 3, Score: 0.87, Algorithm: "hybrid", Position: 2},
		},
		GeneratedAt: time.Now(),
	}

	mockService.On("Recommend", mock.Anything, userID, 0).Return(mockResult, nil)
	mockService.On("Recommend", mock.Anything, userID, 5).Return(mockResult, nil)
	mockService.On("Recommend", mock.Anything, int64(99), 0).Return(nil, recommender.ErrNotTrained)

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expectedCount  int
	}{
		{
			name:           "Valid request with default count",
			path:           "/api/v1/recommendations/42",
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name:           "Valid request with custom count",
			path:           "/api/v1/recommendations/42?count=5",
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name:           "Invalid user ID",
			path:           "/api/v1/recommendations/abc",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Negative user ID",
			path:           "/api/v1/recommendations/-1",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Count out of range",
			path:           "/api/v1/recommendations/42?count=500",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Model not trained",
			path:           "/api/v1/recommendations/99",
			expectedStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/api/v1/recommendations/:userId", handler.Get)

			req, _ := http.NewRequest("GET", tt.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK {
				var response models.RecommendationResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, userID, response.UserID)
				assert.Len(t, response.Recommendations, tt.expectedCount)
				assert.Equal(t, int64(7), response.Recommendations[0].DocumentID)
			}
		})
	}

	mockService.AssertExpectations(t)
}

func TestRecommendationHandler_Predictions(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockService := new(MockRecommenderService)
	handler := NewRecommendationHandler(mockService, testLogger())

	mockService.On("Predictions", mock.Anything, int64(1)).Return(&models.PredictionResponse{
		UserID:      1,
		DocumentIDs: []int64{10, 20},
		Predictions: []float64{0.2, 0.8},
	}, nil)
	mockService.On("Predictions", mock.Anything, int64(2)).
		Return(nil, fmt.Errorf("%w: %d", recommender.ErrUnknownUser, 2))

	router := gin.New()
	router.GET("/api/v1/predictions/:userId", handler.Predictions)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/predictions/1", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var response models.PredictionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, []int64{10, 20}, response.DocumentIDs)
	assert.Equal(t, []float64{0.2, 0.8}, response.Predictions)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/v1/predictions/2", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var errResponse map[string]map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResponse))
	assert.Equal(t, "USER_NOT_FOUND", errResponse["error"]["code"])

	mockService.AssertExpectations(t)
}
