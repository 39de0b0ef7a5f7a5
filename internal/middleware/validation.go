package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/temcen/hyprec/internal/validation"
)

const (
	maxCount = 100

	// MaxRatingBodyBytes bounds the rating request body.
	MaxRatingBodyBytes = 64 << 10
)

// ValidationMiddleware checks request bodies against the embedded JSON
// schemas and path/query parameters against their formats.
type ValidationMiddleware struct {
	validator *validation.SchemaValidator
}

func NewValidationMiddleware(validator *validation.SchemaValidator) *ValidationMiddleware {
	return &ValidationMiddleware{
		validator: validator,
	}
}

func (vm *ValidationMiddleware) ValidateRating() gin.HandlerFunc {
	return func(c *gin.Context) {
		bodyBytes, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxRatingBodyBytes))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, map[string]interface{}{
				"error": map[string]interface{}{
					"code":    "BODY_TOO_LARGE",
					"message": "Request body exceeds " + strconv.Itoa(MaxRatingBodyBytes) + " bytes",
				},
			})
			return
		}
		if err != nil {
			vm.sendValidationError(c, "BODY_READ_ERROR", "Failed to read request body", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		// Restore request body for downstream handlers
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		if len(bodyBytes) == 0 {
			vm.sendValidationError(c, "EMPTY_BODY", "Request body is required", nil)
			return
		}

		var jsonData interface{}
		if err := json.Unmarshal(bodyBytes, &jsonData); err != nil {
			vm.sendValidationError(c, "INVALID_JSON", "Request body must be valid JSON", map[string]interface{}{
				"parseError": err.Error(),
			})
			return
		}

		result := vm.validator.ValidateRating(jsonData)
		if !result.Valid {
			vm.sendValidationErrors(c, result.Errors)
			return
		}

		c.Next()
	}
}

// ValidateParams checks the count query parameter and the userId, docId and
// jobId path parameters when present.
func (vm *ValidationMiddleware) ValidateParams() gin.HandlerFunc {
	return func(c *gin.Context) {
		var errs []validation.ValidationError

		if count := c.Query("count"); count != "" {
			if n, err := strconv.Atoi(count); err != nil || n < 1 || n > maxCount {
				errs = append(errs, validation.ValidationError{
					Field:   "count",
					Message: "Count must be an integer between 1 and 100",
					Code:    "INVALID_QUERY_PARAM",
					Value:   count,
				})
			}
		}

		for _, param := range []string{"userId", "docId"} {
			value := c.Param(param)
			if value == "" {
				continue
			}
			if id, err := strconv.ParseInt(value, 10, 64); err != nil || id < 0 {
				errs = append(errs, validation.ValidationError{
					Field:   param,
					Message: "Identifier must be a non-negative integer",
					Code:    "INVALID_PATH_PARAM",
					Value:   value,
				})
			}
		}

		if jobID := c.Param("jobId"); jobID != "" {
			if _, err := uuid.Parse(jobID); err != nil {
				errs = append(errs, validation.ValidationError{
					Field:   "jobId",
					Message: "Job ID must be a valid UUID",
					Code:    "INVALID_PATH_PARAM",
					Value:   jobID,
				})
			}
		}

		if len(errs) > 0 {
			vm.sendValidationErrors(c, errs)
			return
		}
		c.Next()
	}
}

func (vm *ValidationMiddleware) sendValidationError(c *gin.Context, code, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusBadRequest, map[string]interface{}{
		"error": map[string]interface{}{
			"code":      code,
			"message":   message,
			"details":   details,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"requestId": GetRequestID(c),
			"path":      c.Request.URL.Path,
			"method":    c.Request.Method,
		},
	})
}

func (vm *ValidationMiddleware) sendValidationErrors(c *gin.Context, errs []validation.ValidationError) {
	result := &validation.ValidationResult{Valid: false, Errors: errs}
	apiError := result.ToAPIError()
	if errorObj, ok := apiError["error"].(map[string]interface{}); ok {
		errorObj["timestamp"] = time.Now().UTC().Format(time.RFC3339)
		errorObj["requestId"] = GetRequestID(c)
		errorObj["path"] = c.Request.URL.Path
		errorObj["method"] = c.Request.Method
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, apiError)
}
