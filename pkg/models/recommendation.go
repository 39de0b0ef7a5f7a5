package models

import (
	"time"
)

// Recommendation is a document suggested to a user.
type Recommendation struct {
	DocumentID int64   `json:"document_id"`
	Score      float64 `json:"score"`
	Algorithm  string  `json:"algorithm"`
	Position   int     `json:"position"`
	Abstract   string  `json:"abstract,omitempty"`
}

type RecommendationRequest struct {
	UserID int64 `json:"user_id" validate:"min=0"`
	Count  int   `json:"count" validate:"min=1,max=100"`
}

type RecommendationResponse struct {
	UserID          int64            `json:"user_id"`
	Recommendations []Recommendation `json:"recommendations"`
	ColdStart       bool             `json:"cold_start"`
	GeneratedAt     time.Time        `json:"generated_at"`
	CacheHit        bool             `json:"cache_hit"`
}

// ScoredItem scores a document by its dense index in the ratings matrix.
type ScoredItem struct {
	DocumentID int     `json:"document_id"`
	Score      float64 `json:"score"`
}

// PredictionResponse is one row of the users × documents prediction matrix.
type PredictionResponse struct {
	UserID      int64     `json:"user_id"`
	DocumentIDs []int64   `json:"document_ids"`
	Predictions []float64 `json:"predictions"`
}

type TopicWeight struct {
	Topic    int      `json:"topic"`
	Weight   float64  `json:"weight"`
	TopWords []string `json:"top_words,omitempty"`
}

type DocumentTopicsResponse struct {
	DocumentID int64         `json:"document_id"`
	Algorithm  string        `json:"algorithm"`
	Topics     []TopicWeight `json:"topics"`
}
